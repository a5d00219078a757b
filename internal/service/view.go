package service

import (
	"fmt"
	"maps"
	"path/filepath"
	"slices"

	"github.com/starford/blockbase/internal/block"
	"github.com/starford/blockbase/internal/linkindex"
)

// BlockRef identifies a block in responses.
type BlockRef struct {
	Path  string `json:"path,omitempty"`
	Title string `json:"title,omitempty"`
	Kind  string `json:"kind"`
}

// BrokenLink is an unresolved link marker.
type BrokenLink struct {
	Source BlockRef `json:"source"`
	Target string   `json:"target"`
	Embed  bool     `json:"embed,omitempty"`
}

// BlockDetail is the full representation of a block.
type BlockDetail struct {
	BlockRef
	Content   string         `json:"content"`
	Checksum  string         `json:"checksum,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Children  []BlockRef     `json:"children"`
	Links     []BlockRef     `json:"links"`
	Backlinks []BlockRef     `json:"backlinks"`
	Broken    []BrokenLink   `json:"broken"`
}

// TreeNode is one node of a rendered block tree.
type TreeNode struct {
	BlockRef
	Body     string     `json:"body,omitempty"`
	Children []TreeNode `json:"children,omitempty"`
}

// Change reports a block added, replaced or removed by a sync.
type Change struct {
	Kind string `json:"kind"` // created, updated or deleted
	Path string `json:"path"`
}

const (
	ChangeCreated = "created"
	ChangeUpdated = "updated"
	ChangeDeleted = "deleted"
)

func (s *Service) rel(abs string) string {
	r, err := filepath.Rel(s.store.Abs(""), abs)
	if err != nil || r == "." {
		return ""
	}
	return filepath.ToSlash(r)
}

func (s *Service) ref(b *block.Block) BlockRef {
	r := BlockRef{Kind: b.Kind().String()}
	if p, ok := b.Path(); ok {
		r.Path = s.rel(p)
	}
	switch b.Kind() {
	case block.KindDocument:
		r.Title = linkindex.DocumentTitle(b)
	case block.KindFile:
		if d := document(b); d != nil {
			r.Title = linkindex.DocumentTitle(d)
		}
	}
	return r
}

func (s *Service) refs(bs []*block.Block) []BlockRef {
	out := make([]BlockRef, 0, len(bs))
	for _, b := range bs {
		out = append(out, s.ref(b))
	}
	return out
}

// document returns the Document a File wraps.
func document(file *block.Block) *block.Block {
	for i := 0; i < file.ChildCount(); i++ {
		if c := file.Child(i); c.Kind() == block.KindDocument {
			return c
		}
	}
	return nil
}

// units returns the link owners standing for b: a File answers for its
// Document as well.
func units(b *block.Block) []*block.Block {
	out := []*block.Block{b}
	if b.Kind() == block.KindFile {
		if d := document(b); d != nil {
			out = append(out, d)
		}
	}
	return out
}

func union(lists ...[]*block.Block) []*block.Block {
	var out []*block.Block
	for _, l := range lists {
		for _, b := range l {
			if !slices.Contains(out, b) {
				out = append(out, b)
			}
		}
	}
	return out
}

func (s *Service) linksOf(b *block.Block) []*block.Block {
	var all [][]*block.Block
	for _, u := range units(b) {
		all = append(all, s.base.Links(u))
	}
	return union(all...)
}

func (s *Service) backlinksOf(b *block.Block) []*block.Block {
	us := units(b)
	var all [][]*block.Block
	for _, u := range us {
		all = append(all, s.base.Backlinks(u))
	}
	// A file linking to its own title is not a backlink worth reporting.
	return slices.DeleteFunc(union(all...), func(x *block.Block) bool {
		return slices.Contains(us, x)
	})
}

func (s *Service) brokenOf(b *block.Block) []BrokenLink {
	var out []BrokenLink
	for _, u := range units(b) {
		out = append(out, s.broken(s.base.BrokenFrom(u))...)
	}
	return nonNilSlice(out)
}

func (s *Service) broken(in []linkindex.BrokenLink) []BrokenLink {
	out := make([]BrokenLink, 0, len(in))
	for _, l := range in {
		out = append(out, BrokenLink{Source: s.ref(l.Source), Target: l.Target, Embed: l.Embed})
	}
	return out
}

func (s *Service) detail(b *block.Block) *BlockDetail {
	d := &BlockDetail{
		BlockRef:  s.ref(b),
		Content:   b.Render(),
		Metadata:  jsonSafeMap(b.Metadata()),
		Children:  s.refs(b.Children()),
		Links:     s.refs(s.linksOf(b)),
		Backlinks: s.refs(s.backlinksOf(b)),
		Broken:    s.brokenOf(b),
	}
	if cs, ok := b.Meta(block.MetaChecksum); ok {
		d.Checksum, _ = cs.(string)
	}
	return d
}

func (s *Service) tree(b *block.Block, depth int) TreeNode {
	n := TreeNode{BlockRef: s.ref(b), Body: b.Body()}
	if depth == 0 {
		return n
	}
	for _, c := range b.Children() {
		n.Children = append(n.Children, s.tree(c, depth-1))
	}
	return n
}

// jsonSafeMap converts the nested map[any]any values YAML front matter can
// carry into string-keyed maps.
func jsonSafeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		out[k] = jsonSafe(m[k])
	}
	return out
}

func jsonSafe(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return jsonSafeMap(t)
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = jsonSafe(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = jsonSafe(val)
		}
		return out
	}
	return v
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
