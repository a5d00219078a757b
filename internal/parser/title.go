package parser

import "strings"

// Title returns the front matter "title" if present, otherwise heading
// (the document's first level-1 heading text), otherwise "".
func Title(fm map[string]any, heading string) string {
	if fm != nil {
		if s, ok := fm["title"].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return strings.TrimSpace(heading)
}

// Aliases returns the front matter "aliases" entries. Both a single string
// and a list are accepted.
func Aliases(fm map[string]any) []string {
	if fm == nil {
		return nil
	}
	var out []string
	switch v := fm["aliases"].(type) {
	case string:
		if s := strings.TrimSpace(v); s != "" {
			out = append(out, s)
		}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
			}
		}
	case []string:
		for _, s := range v {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
