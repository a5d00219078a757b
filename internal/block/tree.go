package block

import (
	"fmt"

	"github.com/starford/blockbase/internal/apperr"
)

// AddChild appends child to b's children.
func (b *Block) AddChild(child *Block) error {
	n := len(b.children)
	if child != nil && child.parent == b {
		n--
	}
	return b.InsertChild(child, n)
}

// InsertChild inserts child at index i. A child attached to another parent
// (or elsewhere in b) is detached first and i is taken relative to the
// children list after that detach. On error the tree is left unchanged.
func (b *Block) InsertChild(child *Block, i int) error {
	if err := b.CheckInsert(child, i); err != nil {
		return err
	}

	if old := child.parent; old != nil {
		old.removeAt(old.IndexOf(child))
	}
	b.children = append(b.children, nil)
	copy(b.children[i+1:], b.children[i:])
	b.children[i] = child
	child.parent = b
	return nil
}

// CheckInsert reports the error InsertChild(child, i) would return without
// changing the tree.
func (b *Block) CheckInsert(child *Block, i int) error {
	if child == nil {
		return fmt.Errorf("block: insert child: %w", apperr.ErrNotAChild)
	}
	if child == b || child.IsAncestorOf(b) {
		return fmt.Errorf("block: insert %s under %s: %w", child.kind, b.kind, apperr.ErrCycle)
	}
	limit := len(b.children)
	if child.parent == b {
		limit--
	}
	if i < 0 || i > limit {
		return fmt.Errorf("block: insert at %d of %d: %w", i, limit, apperr.ErrIndexOutOfRange)
	}
	return nil
}

// DelChild detaches child from b.
func (b *Block) DelChild(child *Block) error {
	i := b.IndexOf(child)
	if child == nil || i < 0 {
		return fmt.Errorf("block: delete child of %s: %w", b.kind, apperr.ErrNotAChild)
	}
	b.removeAt(i)
	return nil
}

func (b *Block) removeAt(i int) {
	child := b.children[i]
	copy(b.children[i:], b.children[i+1:])
	b.children[len(b.children)-1] = nil
	b.children = b.children[:len(b.children)-1]
	child.parent = nil
}
