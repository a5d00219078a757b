// Package kb holds a forest of knowledge blocks together with its link
// index. Every structural or body change goes through Base so the index is
// updated in the same call.
package kb

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/starford/blockbase/internal/apperr"
	"github.com/starford/blockbase/internal/block"
	"github.com/starford/blockbase/internal/linkindex"
)

// Base is a knowledge base: an ordered list of root blocks and the link
// relation over them. It is not safe for concurrent use.
type Base struct {
	roots []*block.Block
	index *linkindex.Index
}

// New returns an empty Base.
func New() *Base {
	b := &Base{}
	b.index = linkindex.New(func() []*block.Block { return b.roots })
	return b
}

// FromRoots returns a Base with the given roots already indexed. A nil or
// repeated root fails the whole call.
func FromRoots(roots ...*block.Block) (*Base, error) {
	b := New()
	for _, r := range roots {
		if err := b.AddRoot(r); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Roots returns the roots in order.
func (b *Base) Roots() []*block.Block {
	return slices.Clone(b.roots)
}

// Contains reports whether blk is part of the forest.
func (b *Base) Contains(blk *block.Block) bool {
	return blk != nil && slices.Contains(b.roots, blk.Root())
}

// AddRoot appends r as a new root, detaching it from its parent first.
func (b *Base) AddRoot(r *block.Block) error {
	if r == nil {
		return fmt.Errorf("kb: add root: %w", apperr.ErrNotFound)
	}
	if slices.Contains(b.roots, r) {
		return fmt.Errorf("kb: add root: %w", apperr.ErrAlreadyExists)
	}
	b.detach(r)
	b.roots = append(b.roots, r)
	b.index.Attached(r)
	return nil
}

// RemoveRoot drops r from the forest.
func (b *Base) RemoveRoot(r *block.Block) error {
	if !slices.Contains(b.roots, r) {
		return fmt.Errorf("kb: remove root: %w", apperr.ErrNotFound)
	}
	b.detach(r)
	return nil
}

// AddChild appends child under parent. A child already in the forest is
// moved.
func (b *Base) AddChild(parent, child *block.Block) error {
	n := parent.ChildCount()
	if child != nil && child.Parent() == parent {
		n--
	}
	return b.InsertChild(parent, child, n)
}

// InsertChild inserts child under parent at index i, with the same
// semantics as block.InsertChild. On error neither the tree nor the index
// changes.
func (b *Base) InsertChild(parent, child *block.Block, i int) error {
	if err := parent.CheckInsert(child, i); err != nil {
		return fmt.Errorf("kb: %w", err)
	}
	b.detach(child)
	if err := parent.InsertChild(child, i); err != nil {
		return fmt.Errorf("kb: %w", err)
	}
	b.index.Attached(child)
	return nil
}

// DelChild detaches child from parent.
func (b *Base) DelChild(parent, child *block.Block) error {
	if child == nil || child.Parent() != parent {
		return fmt.Errorf("kb: delete child: %w", apperr.ErrNotAChild)
	}
	b.detach(child)
	return nil
}

// Replace puts next where old is, whether old is a root or a child.
func (b *Base) Replace(old, next *block.Block) error {
	if old == nil || next == nil {
		return fmt.Errorf("kb: replace: %w", apperr.ErrNotFound)
	}
	if old == next {
		return nil
	}
	if parent := old.Parent(); parent != nil {
		if next == parent || next.IsAncestorOf(parent) {
			return fmt.Errorf("kb: replace: %w", apperr.ErrCycle)
		}
		i := parent.IndexOf(old)
		if next.Parent() == parent && parent.IndexOf(next) < i {
			i--
		}
		b.detach(old)
		return b.InsertChild(parent, next, i)
	}
	if !slices.Contains(b.roots, old) {
		return fmt.Errorf("kb: replace: %w", apperr.ErrNotFound)
	}
	if next.IsAncestorOf(old) {
		return fmt.Errorf("kb: replace: %w", apperr.ErrCycle)
	}
	b.detach(next)
	i := slices.Index(b.roots, old)
	b.detach(old)
	b.roots = slices.Insert(b.roots, i, next)
	b.index.Attached(next)
	return nil
}

// SetBody replaces blk's text.
func (b *Base) SetBody(blk *block.Block, text string) {
	blk.SetBody(text)
	b.index.BodyChanged(blk)
}

// AppendText adds a StringLeaf holding text under parent.
func (b *Base) AppendText(parent *block.Block, text string) (*block.Block, error) {
	leaf := block.NewString(text)
	if err := b.AddChild(parent, leaf); err != nil {
		return nil, err
	}
	return leaf, nil
}

// detach removes blk from wherever it sits, keeping the index current.
func (b *Base) detach(blk *block.Block) {
	parent := blk.Parent()
	root := slices.Index(b.roots, blk)
	if parent == nil && root < 0 {
		return
	}
	p := b.index.BeginDetach(blk)
	if parent != nil {
		_ = parent.DelChild(blk)
	} else {
		b.roots = slices.Delete(b.roots, root, root+1)
	}
	b.index.EndDetach(p)
}

// Resolve rebuilds the link index from scratch.
func (b *Base) Resolve(ctx context.Context) error {
	return b.index.Rebuild(ctx)
}

// Links returns the units blk links to.
func (b *Base) Links(blk *block.Block) []*block.Block {
	return b.index.Links(blk)
}

// Backlinks returns the units linking to blk.
func (b *Base) Backlinks(blk *block.Block) []*block.Block {
	return b.index.Backlinks(blk)
}

// Broken returns every unresolved link in the forest.
func (b *Base) Broken() []linkindex.BrokenLink {
	return b.index.Broken()
}

// BrokenFrom returns the unresolved links owned by blk.
func (b *Base) BrokenFrom(blk *block.Block) []linkindex.BrokenLink {
	return b.index.BrokenFrom(blk)
}

// Find returns the first unit carrying name.
func (b *Base) Find(name string) (*block.Block, bool) {
	return b.index.Find(name)
}

// ResolveFrom resolves name as a link written inside from would.
func (b *Base) ResolveFrom(from *block.Block, name string) (*block.Block, bool) {
	return b.index.ResolveFrom(from, name)
}

// FindPath returns the block whose own path is path.
func (b *Base) FindPath(path string) (*block.Block, bool) {
	var found *block.Block
	for _, r := range b.roots {
		r.Walk(func(n *block.Block) bool {
			if found != nil {
				return false
			}
			p, ok := n.OwnPath()
			if !ok {
				return true
			}
			if p == path {
				found = n
				return false
			}
			return isWithin(path, p)
		})
		if found != nil {
			return found, true
		}
	}
	return nil, false
}

func isWithin(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Snapshot exposes the index contents for comparison.
func (b *Base) Snapshot() linkindex.Snapshot {
	return b.index.Snapshot()
}
