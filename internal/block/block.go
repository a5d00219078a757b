// Package block defines the knowledge block tree: folders, files, parsed
// markdown constructs and raw string leaves under one node type.
package block

import (
	"path/filepath"
	"strings"
)

// KnowledgeBlock is the read-only capability set every block exposes.
// Link and backlink queries live on the link index, not on the block.
type KnowledgeBlock interface {
	Body() string
	Kind() Kind
	Metadata() Metadata
	Children() []*Block
	Parent() *Block
	Path() (string, bool)
}

var _ KnowledgeBlock = (*Block)(nil)

// Block is a node of the knowledge base tree.
//
// Ownership flows from parent to children. The parent field is a plain
// back-reference kept in sync by InsertChild and DelChild.
type Block struct {
	body     string
	kind     Kind
	meta     Metadata
	children []*Block
	parent   *Block
	path     string
}

// New creates a detached block. meta is copied and its "type" key is forced
// to match kind.
func New(kind Kind, body string, meta Metadata) *Block {
	m := meta.Clone()
	m[MetaType] = string(kind)
	return &Block{body: body, kind: kind, meta: m}
}

// NewFolder creates a Folder block backed by a directory.
func NewFolder(path string) *Block {
	b := New(KindFolder, "", nil)
	b.path = path
	return b
}

// NewFile creates a File block backed by a regular file.
func NewFile(path string, meta Metadata) *Block {
	b := New(KindFile, "", meta)
	b.path = path
	return b
}

// NewDocument creates an empty Document block.
func NewDocument(meta Metadata) *Block {
	return New(KindDocument, "", meta)
}

// NewString creates a StringLeaf holding raw text.
func NewString(text string) *Block {
	return New(KindStringLeaf, text, nil)
}

// NewError creates a placeholder for a directory entry that could not be built.
func NewError(path string, err error) *Block {
	b := New(KindError, "", Metadata{MetaError: err.Error()})
	b.path = path
	return b
}

// Body returns the block's own text, excluding its descendants.
func (b *Block) Body() string { return b.body }

// SetBody replaces the block's own text. Callers holding a link index must
// go through kb.Base.SetBody so the index is refreshed.
func (b *Block) SetBody(text string) { b.body = text }

// Kind returns the block's kind.
func (b *Block) Kind() Kind { return b.kind }

// Metadata returns a copy of the block's metadata.
func (b *Block) Metadata() Metadata { return b.meta.Clone() }

// Meta returns one metadata value.
func (b *Block) Meta(key string) (any, bool) {
	v, ok := b.meta[key]
	return v, ok
}

// Children returns a copy of the ordered child list.
func (b *Block) Children() []*Block {
	out := make([]*Block, len(b.children))
	copy(out, b.children)
	return out
}

// ChildCount returns the number of direct children.
func (b *Block) ChildCount() int { return len(b.children) }

// Child returns the i-th child.
func (b *Block) Child(i int) *Block { return b.children[i] }

// Parent returns the block this one is attached to, or nil.
func (b *Block) Parent() *Block { return b.parent }

// OwnPath returns the filesystem path stored on the block itself.
func (b *Block) OwnPath() (string, bool) {
	return b.path, b.path != ""
}

// Path returns the block's filesystem location. Blocks without a path of
// their own report the path of the nearest Folder or File ancestor, so a
// heading inside a file resolves to that file. Purely in-memory blocks
// return false.
func (b *Block) Path() (string, bool) {
	for n := b; n != nil; n = n.parent {
		if n.path != "" {
			return n.path, true
		}
	}
	return "", false
}

// Name returns the base name of the block's own path, or "".
func (b *Block) Name() string {
	if b.path == "" {
		return ""
	}
	return filepath.Base(b.path)
}

// Root returns the topmost ancestor of b (b itself when detached).
func (b *Block) Root() *Block {
	n := b
	for n.parent != nil {
		n = n.parent
	}
	return n
}

// Depth returns the number of edges between b and its root.
func (b *Block) Depth() int {
	d := 0
	for n := b.parent; n != nil; n = n.parent {
		d++
	}
	return d
}

// IsAncestorOf reports whether b is a strict ancestor of other.
func (b *Block) IsAncestorOf(other *Block) bool {
	for n := other.parent; n != nil; n = n.parent {
		if n == b {
			return true
		}
	}
	return false
}

// IndexOf returns the position of child among b's children, or -1.
func (b *Block) IndexOf(child *Block) int {
	for i, c := range b.children {
		if c == child {
			return i
		}
	}
	return -1
}

// Walk visits b and its descendants in document order. Returning false from
// fn skips the visited block's subtree.
func (b *Block) Walk(fn func(*Block) bool) {
	if !fn(b) {
		return
	}
	for _, c := range b.children {
		c.Walk(fn)
	}
}

// Render concatenates the non-empty bodies of b's subtree in document order,
// separated by blank lines.
func (b *Block) Render() string {
	var parts []string
	b.Walk(func(n *Block) bool {
		if n.body != "" {
			parts = append(parts, n.body)
		}
		return true
	})
	return strings.Join(parts, "\n\n")
}
