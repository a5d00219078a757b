// Package linkindex keeps the bidirectional link relation over a forest of
// knowledge blocks.
//
// Links are attributed to units (Document, File, Folder and StringLeaf
// blocks): a marker in any block belongs to the nearest unit
// ancestor-or-self, its owner. Targets are units too, matched by their
// identifiers. When several units share an identifier the one closest to
// the owner in the tree wins, ties broken by document order.
//
// The index is updated incrementally by the caller after every mutation and
// always equals what Rebuild would compute from scratch.
package linkindex

import (
	"context"
	"fmt"
	"slices"

	"github.com/starford/blockbase/internal/apperr"
	"github.com/starford/blockbase/internal/block"
	"github.com/starford/blockbase/internal/parser"
)

// BrokenLink is a marker whose target matches no unit in the forest.
type BrokenLink struct {
	Source *block.Block
	Target string
	Embed  bool
	Err    error
}

type set map[*block.Block]struct{}

func (s set) add(b *block.Block) { s[b] = struct{}{} }

func (s set) addAll(o set) {
	for b := range o {
		s[b] = struct{}{}
	}
}

// Index is the link relation over a forest. It is not safe for concurrent
// use; the host serialises access.
type Index struct {
	roots func() []*block.Block

	links     map[*block.Block]set
	backlinks map[*block.Block]set
	broken    map[*block.Block][]BrokenLink

	// names maps an identifier to the units carrying it; idents is the
	// reverse, as registered.
	names  map[string]set
	idents map[*block.Block][]string

	// owners holds the markers each resolved owner carried; refs maps a
	// normalized target to the owners mentioning it.
	owners map[*block.Block][]parser.Ref
	refs   map[string]set
}

// New returns an empty index over the forest reported by roots.
func New(roots func() []*block.Block) *Index {
	x := &Index{roots: roots}
	x.reset()
	return x
}

func (x *Index) reset() {
	x.links = make(map[*block.Block]set)
	x.backlinks = make(map[*block.Block]set)
	x.broken = make(map[*block.Block][]BrokenLink)
	x.names = make(map[string]set)
	x.idents = make(map[*block.Block][]string)
	x.owners = make(map[*block.Block][]parser.Ref)
	x.refs = make(map[string]set)
}

// Rebuild discards the index and rescans the whole forest. On cancellation
// the previous state is kept and ctx's error returned.
func (x *Index) Rebuild(ctx context.Context) error {
	fresh := New(x.roots)
	roots := x.roots()
	for _, r := range roots {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("linkindex: rebuild: %w", err)
		}
		r.Walk(func(n *block.Block) bool {
			if n.Kind().IsUnit() {
				fresh.registerUnit(n)
			}
			return true
		})
	}
	for _, r := range roots {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("linkindex: rebuild: %w", err)
		}
		r.Walk(func(n *block.Block) bool {
			if n.Kind().IsUnit() || n == r {
				fresh.resolveOwner(n)
			}
			return true
		})
	}
	*x = *fresh
	return nil
}

// BodyChanged updates the index after b's body was replaced.
func (x *Index) BodyChanged(b *block.Block) {
	if !x.live(b) {
		return
	}
	affected := set{}
	affected.add(ownerOf(b))
	x.refreshIdents(b, affected)
	if p := b.Parent(); p != nil {
		x.refreshIdents(p, affected)
	}
	x.resolveAll(affected)
}

// Attached updates the index after child was inserted into the forest,
// either under a parent or as a new root.
func (x *Index) Attached(child *block.Block) {
	if !x.live(child) {
		return
	}
	affected := set{}
	child.Walk(func(n *block.Block) bool {
		if n.Kind().IsUnit() {
			x.registerUnit(n)
			affected.add(n)
			for _, name := range x.idents[n] {
				affected.addAll(x.refs[name])
			}
		}
		return true
	})
	if p := child.Parent(); p != nil {
		x.refreshIdents(p, affected)
	}
	affected.add(ownerOf(child))
	x.resolveAll(affected)
}

// Pending carries the owners a detach invalidated until EndDetach.
type Pending struct {
	parent   *block.Block
	affected set
}

// BeginDetach removes child's subtree from the index. It must be called
// while child is still attached; the returned Pending is passed to
// EndDetach once the tree has been changed.
func (x *Index) BeginDetach(child *block.Block) Pending {
	p := Pending{parent: child.Parent(), affected: set{}}
	if !x.live(child) {
		return p
	}
	child.Walk(func(n *block.Block) bool {
		if n.Kind().IsUnit() {
			for _, name := range x.idents[n] {
				p.affected.addAll(x.refs[name])
			}
			x.unregisterUnit(n)
		}
		if _, ok := x.owners[n]; ok {
			x.clearOwner(n)
		}
		return true
	})
	if p.parent != nil {
		p.affected.add(ownerOf(p.parent))
	}
	return p
}

// EndDetach finishes a detach started with BeginDetach.
func (x *Index) EndDetach(p Pending) {
	if p.parent != nil && x.live(p.parent) {
		x.refreshIdents(p.parent, p.affected)
	}
	x.resolveAll(p.affected)
}

// Links returns the units b links to, in document order.
func (x *Index) Links(b *block.Block) []*block.Block {
	return x.ordered(x.links[b])
}

// Backlinks returns the units linking to b, in document order.
func (x *Index) Backlinks(b *block.Block) []*block.Block {
	return x.ordered(x.backlinks[b])
}

// BrokenFrom returns the unresolved markers owned by b.
func (x *Index) BrokenFrom(b *block.Block) []BrokenLink {
	return slices.Clone(x.broken[b])
}

// Broken returns every unresolved marker, ordered by source.
func (x *Index) Broken() []BrokenLink {
	sources := make(set, len(x.broken))
	for src := range x.broken {
		sources.add(src)
	}
	var out []BrokenLink
	for _, src := range x.ordered(sources) {
		out = append(out, x.broken[src]...)
	}
	return out
}

// Find returns the first unit, in document order, carrying name.
func (x *Index) Find(name string) (*block.Block, bool) {
	c := x.ordered(x.names[parser.NormalizeName(name)])
	if len(c) == 0 {
		return nil, false
	}
	return c[0], true
}

// ResolveFrom resolves name the way a marker owned by from would.
func (x *Index) ResolveFrom(from *block.Block, name string) (*block.Block, bool) {
	t := x.pick(ownerOf(from), parser.NormalizeName(name))
	return t, t != nil
}

// Snapshot is a comparable copy of the index contents.
type Snapshot struct {
	Links     map[*block.Block][]*block.Block
	Backlinks map[*block.Block][]*block.Block
	Broken    map[*block.Block][]string
}

// Snapshot copies the relation for comparison.
func (x *Index) Snapshot() Snapshot {
	s := Snapshot{
		Links:     make(map[*block.Block][]*block.Block, len(x.links)),
		Backlinks: make(map[*block.Block][]*block.Block, len(x.backlinks)),
		Broken:    make(map[*block.Block][]string, len(x.broken)),
	}
	for b, ts := range x.links {
		s.Links[b] = x.ordered(ts)
	}
	for b, ss := range x.backlinks {
		s.Backlinks[b] = x.ordered(ss)
	}
	for b, bl := range x.broken {
		for _, l := range bl {
			s.Broken[b] = append(s.Broken[b], l.Target)
		}
	}
	return s
}

func (x *Index) registerUnit(u *block.Block) {
	names := Identifiers(u)
	x.idents[u] = names
	for _, n := range names {
		if x.names[n] == nil {
			x.names[n] = set{}
		}
		x.names[n].add(u)
	}
}

func (x *Index) unregisterUnit(u *block.Block) {
	for _, n := range x.idents[u] {
		delete(x.names[n], u)
		if len(x.names[n]) == 0 {
			delete(x.names, n)
		}
	}
	delete(x.idents, u)
}

// refreshIdents re-registers u when its identifiers changed and marks the
// owners mentioning either the old or the new names.
func (x *Index) refreshIdents(u *block.Block, affected set) {
	old, ok := x.idents[u]
	if !ok {
		return
	}
	next := Identifiers(u)
	if sameNames(old, next) {
		return
	}
	for _, n := range old {
		affected.addAll(x.refs[n])
	}
	for _, n := range next {
		affected.addAll(x.refs[n])
	}
	x.unregisterUnit(u)
	x.registerUnit(u)
}

func (x *Index) clearOwner(o *block.Block) {
	for t := range x.links[o] {
		delete(x.backlinks[t], o)
		if len(x.backlinks[t]) == 0 {
			delete(x.backlinks, t)
		}
	}
	delete(x.links, o)
	delete(x.broken, o)
	for _, r := range x.owners[o] {
		key := parser.NormalizeName(r.Target)
		delete(x.refs[key], o)
		if len(x.refs[key]) == 0 {
			delete(x.refs, key)
		}
	}
	delete(x.owners, o)
}

func (x *Index) resolveAll(owners set) {
	for o := range owners {
		x.resolveOwner(o)
	}
}

// resolveOwner recomputes the outgoing links of o from the markers in its
// region.
func (x *Index) resolveOwner(o *block.Block) {
	x.clearOwner(o)
	if !x.live(o) || ownerOf(o) != o {
		return
	}
	refs := collect(o)
	x.owners[o] = refs
	for _, r := range refs {
		key := parser.NormalizeName(r.Target)
		if x.refs[key] == nil {
			x.refs[key] = set{}
		}
		x.refs[key].add(o)

		t := x.pick(o, key)
		if t == nil {
			x.broken[o] = append(x.broken[o], BrokenLink{
				Source: o,
				Target: r.Target,
				Embed:  r.Embed,
				Err:    fmt.Errorf("linkindex: %q: %w", r.Target, apperr.ErrUnresolvedLink),
			})
			continue
		}
		if x.links[o] == nil {
			x.links[o] = set{}
		}
		x.links[o].add(t)
		if x.backlinks[t] == nil {
			x.backlinks[t] = set{}
		}
		x.backlinks[t].add(o)
	}
}

// collect gathers the markers of o's region: o and its descendants down to,
// but excluding, nested units.
func collect(o *block.Block) []parser.Ref {
	var out []parser.Ref
	seen := map[string]struct{}{}
	o.Walk(func(n *block.Block) bool {
		if n != o && n.Kind().IsUnit() {
			return false
		}
		for _, r := range parser.ExtractRefs(n.Body()) {
			key := parser.NormalizeName(r.Target)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, r)
		}
		return true
	})
	return out
}

// pick chooses among the units named key the one nearest to src.
func (x *Index) pick(src *block.Block, key string) *block.Block {
	var best *block.Block
	bestDist := 0
	for c := range x.names[key] {
		d := distance(src, c)
		if best == nil || d < bestDist || (d == bestDist && x.before(c, best)) {
			best, bestDist = c, d
		}
	}
	return best
}

// distance counts the edges between a and b. Blocks in different trees are
// measured through a virtual common root.
func distance(a, b *block.Block) int {
	up := map[*block.Block]int{}
	da := 0
	for n := a; n != nil; n = n.Parent() {
		up[n] = da
		da++
	}
	db := 0
	for n := b; n != nil; n = n.Parent() {
		if d, ok := up[n]; ok {
			return d + db
		}
		db++
	}
	return da + db
}

func (x *Index) live(b *block.Block) bool {
	return slices.Contains(x.roots(), b.Root())
}

// position is b's document-order key: root index followed by child indexes.
func (x *Index) position(b *block.Block) []int {
	var path []int
	n := b
	for p := n.Parent(); p != nil; n, p = p, p.Parent() {
		path = append(path, p.IndexOf(n))
	}
	path = append(path, slices.Index(x.roots(), n))
	slices.Reverse(path)
	return path
}

func (x *Index) before(a, b *block.Block) bool {
	return slices.Compare(x.position(a), x.position(b)) < 0
}

func (x *Index) ordered(s set) []*block.Block {
	if len(s) == 0 {
		return nil
	}
	out := make([]*block.Block, 0, len(s))
	keys := make(map[*block.Block][]int, len(s))
	for b := range s {
		out = append(out, b)
		keys[b] = x.position(b)
	}
	slices.SortFunc(out, func(a, b *block.Block) int {
		return slices.Compare(keys[a], keys[b])
	})
	return out
}
