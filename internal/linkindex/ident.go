package linkindex

import (
	"path/filepath"
	"strings"

	"github.com/starford/blockbase/internal/block"
	"github.com/starford/blockbase/internal/parser"
)

// ownerOf returns the block that owns links found in b's body: the nearest
// unit ancestor-or-self, or the root when the chain holds no unit.
func ownerOf(b *block.Block) *block.Block {
	n := b
	for {
		if n.Kind().IsUnit() || n.Parent() == nil {
			return n
		}
		n = n.Parent()
	}
}

// DocumentTitle returns a Document's title: front matter "title", else the
// text of its first level-1 heading.
func DocumentTitle(doc *block.Block) string {
	return parser.Title(frontMatter(doc), firstHeading(doc))
}

func frontMatter(doc *block.Block) map[string]any {
	v, _ := doc.Meta(block.MetaFrontmatter)
	fm, _ := v.(map[string]any)
	return fm
}

func firstHeading(doc *block.Block) string {
	for i := 0; i < doc.ChildCount(); i++ {
		c := doc.Child(i)
		if c.Kind() != block.KindHeading {
			continue
		}
		if lvl, _ := c.Meta(block.MetaLevel); lvl == 1 {
			return c.Body()
		}
	}
	return ""
}

// Identifiers returns the normalized names a unit can be linked by.
// Non-unit blocks have none.
func Identifiers(u *block.Block) []string {
	var raw []string
	switch u.Kind() {
	case block.KindDocument:
		raw = append(raw, DocumentTitle(u))
		raw = append(raw, parser.Aliases(frontMatter(u))...)
	case block.KindFile:
		name := u.Name()
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		raw = append(raw, name, stem)
		if rel, ok := forestRelative(u); ok {
			raw = append(raw, rel, strings.TrimSuffix(rel, filepath.Ext(rel)))
		}
	case block.KindFolder:
		raw = append(raw, u.Name())
		if rel, ok := forestRelative(u); ok {
			raw = append(raw, rel)
		}
	}

	seen := make(map[string]struct{}, len(raw))
	var out []string
	for _, r := range raw {
		key := parser.NormalizeName(r)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

// forestRelative returns u's path relative to its root's path, using
// forward slashes.
func forestRelative(u *block.Block) (string, bool) {
	own, ok := u.OwnPath()
	if !ok {
		return "", false
	}
	base, ok := u.Root().OwnPath()
	if !ok {
		return "", false
	}
	rel, err := filepath.Rel(base, own)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func sameNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
