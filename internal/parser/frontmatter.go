package parser

import (
	"bytes"

	"github.com/adrg/frontmatter"
)

// SplitFrontMatter separates leading YAML or TOML front matter from the
// markdown body. Input without front matter, or with front matter that does
// not decode, is returned whole as body with a nil map.
func SplitFrontMatter(data []byte) (map[string]any, []byte) {
	var fm map[string]any
	body, err := frontmatter.Parse(bytes.NewReader(data), &fm)
	if err != nil {
		return nil, data
	}
	if len(fm) == 0 {
		fm = nil
	}
	return fm, body
}
