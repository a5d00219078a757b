package parser

import (
	"net/url"
	"path"
	"regexp"
	"strings"
)

var (
	wikilinkRe = regexp.MustCompile(`(!?)\[\[(.*?)\]\]`)
	mdLinkRe   = regexp.MustCompile(`\[[^\[\]]*\]\(\s*<?([^)\s>]+)>?(?:\s+"[^"]*")?\s*\)`)
	schemeRe   = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.-]*:`)
)

// Ref is one link marker found in a block body.
type Ref struct {
	// Target is the identifier the marker points at, with aliases and
	// anchors stripped.
	Target string
	Embed  bool
}

// ExtractRefs returns the link markers in body, deduplicated by normalized
// target and kept in order of first appearance. It recognises wikilinks
// ([[Target]], [[Target|alias]], [[Target#heading]], ![[Embed]]) and
// inline markdown links to relative paths. Images and URLs with a scheme
// are ignored.
func ExtractRefs(body string) []Ref {
	type hit struct {
		pos int
		ref Ref
	}
	var hits []hit

	for _, m := range wikilinkRe.FindAllStringSubmatchIndex(body, -1) {
		raw := body[m[4]:m[5]]
		if i := strings.Index(raw, "|"); i >= 0 {
			raw = raw[:i]
		}
		if i := strings.Index(raw, "#"); i >= 0 {
			raw = raw[:i]
		}
		hits = append(hits, hit{pos: m[0], ref: Ref{Target: strings.TrimSpace(raw), Embed: m[3] > m[2]}})
	}

	for _, m := range mdLinkRe.FindAllStringSubmatchIndex(body, -1) {
		if m[0] > 0 && body[m[0]-1] == '!' {
			continue
		}
		// Skip the inner part of a wikilink such as [[a]](b).
		if m[0] > 0 && body[m[0]-1] == '[' {
			continue
		}
		if target, ok := relativeTarget(body[m[2]:m[3]]); ok {
			hits = append(hits, hit{pos: m[0], ref: Ref{Target: target}})
		}
	}

	// Merge both marker kinds back into source order.
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].pos < hits[j-1].pos; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}

	seen := make(map[string]struct{}, len(hits))
	var out []Ref
	for _, h := range hits {
		if h.ref.Target == "" {
			continue
		}
		key := NormalizeName(h.ref.Target)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, h.ref)
	}
	return out
}

// relativeTarget turns a markdown link destination into a path identifier.
func relativeTarget(dest string) (string, bool) {
	if schemeRe.MatchString(dest) || strings.HasPrefix(dest, "//") {
		return "", false
	}
	if i := strings.IndexAny(dest, "#?"); i >= 0 {
		dest = dest[:i]
	}
	if dest == "" {
		return "", false
	}
	if unescaped, err := url.PathUnescape(dest); err == nil {
		dest = unescaped
	}
	dest = strings.TrimPrefix(path.Clean(strings.ReplaceAll(dest, "\\", "/")), "/")
	return dest, dest != "" && dest != "."
}

// NormalizeName folds an identifier for comparison: trimmed, lowercase,
// forward slashes.
func NormalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(strings.ReplaceAll(s, "\\", "/")))
}
