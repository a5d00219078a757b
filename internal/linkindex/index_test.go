package linkindex

import (
	"context"
	"errors"
	"reflect"
	"slices"
	"testing"

	"github.com/starford/blockbase/internal/apperr"
	"github.com/starford/blockbase/internal/block"
	"github.com/starford/blockbase/internal/factory"
)

type forest struct {
	roots []*block.Block
}

func (f *forest) get() []*block.Block { return f.roots }

func (f *forest) addRoot(x *Index, r *block.Block) {
	f.roots = append(f.roots, r)
	x.Attached(r)
}

func (f *forest) removeRoot(x *Index, r *block.Block) {
	p := x.BeginDetach(r)
	f.roots = slices.DeleteFunc(f.roots, func(b *block.Block) bool { return b == r })
	x.EndDetach(p)
}

func move(t *testing.T, x *Index, parent, child *block.Block) {
	t.Helper()
	p := x.BeginDetach(child)
	if old := child.Parent(); old != nil {
		if err := old.DelChild(child); err != nil {
			t.Fatal(err)
		}
	}
	x.EndDetach(p)
	if err := parent.AddChild(child); err != nil {
		t.Fatal(err)
	}
	x.Attached(child)
}

func setBody(x *Index, b *block.Block, text string) {
	b.SetBody(text)
	x.BodyChanged(b)
}

func doc(t *testing.T, text string) *block.Block {
	t.Helper()
	d, err := factory.New(nil).FromText(text)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func newIndex(t *testing.T, roots ...*block.Block) (*forest, *Index) {
	t.Helper()
	f := &forest{roots: roots}
	x := New(f.get)
	if err := x.Rebuild(context.Background()); err != nil {
		t.Fatal(err)
	}
	return f, x
}

// assertConsistent compares the incrementally maintained index with a fresh
// rebuild and checks links and backlinks mirror each other.
func assertConsistent(t *testing.T, f *forest, x *Index) {
	t.Helper()
	fresh := New(f.get)
	if err := fresh.Rebuild(context.Background()); err != nil {
		t.Fatal(err)
	}
	got, want := x.Snapshot(), fresh.Snapshot()
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("incremental index diverged from rebuild:\n got  %+v\n want %+v", got, want)
	}
	for src, targets := range got.Links {
		for _, tgt := range targets {
			if !slices.Contains(got.Backlinks[tgt], src) {
				t.Errorf("link %s -> %s has no backlink", src.Kind(), tgt.Kind())
			}
		}
	}
	for tgt, sources := range got.Backlinks {
		for _, src := range sources {
			if !slices.Contains(got.Links[src], tgt) {
				t.Errorf("backlink %s <- %s has no link", tgt.Kind(), src.Kind())
			}
		}
	}
}

func TestLinksAndBacklinks(t *testing.T) {
	a := doc(t, "# Title\n\nSee [[Other]].")
	b := doc(t, "# Other\n\nNothing here.")
	_, x := newIndex(t, a, b)

	if got := x.Links(a); len(got) != 1 || got[0] != b {
		t.Fatalf("Links(a) = %v", got)
	}
	if got := x.Backlinks(b); len(got) != 1 || got[0] != a {
		t.Fatalf("Backlinks(b) = %v", got)
	}
	if len(x.Links(b)) != 0 || len(x.Backlinks(a)) != 0 {
		t.Error("unexpected reverse relation")
	}
	if len(x.Broken()) != 0 {
		t.Errorf("broken = %v", x.Broken())
	}
}

func TestMarkdownLinkToFile(t *testing.T) {
	root := block.NewFolder("/v")
	src := block.NewFile("/v/a.md", nil)
	_ = src.AddChild(doc(t, "Read [the guide](docs/guide.md#setup)."))
	docs := block.NewFolder("/v/docs")
	guide := block.NewFile("/v/docs/guide.md", nil)
	_ = docs.AddChild(guide)
	_ = root.AddChild(src)
	_ = root.AddChild(docs)

	_, x := newIndex(t, root)
	// Markers inside a file belong to its Document.
	if got := x.Links(src.Child(0)); len(got) != 1 || got[0] != guide {
		t.Fatalf("Links(a.md) = %v", got)
	}
}

func TestBrokenLink(t *testing.T) {
	a := doc(t, "Points at [[Nowhere]] and ![[Missing]].")
	_, x := newIndex(t, a)

	broken := x.Broken()
	if len(broken) != 2 {
		t.Fatalf("broken = %d, want 2", len(broken))
	}
	if broken[0].Source != a || broken[0].Target != "Nowhere" || broken[0].Embed {
		t.Errorf("first broken = %+v", broken[0])
	}
	if !broken[1].Embed {
		t.Error("embed flag lost")
	}
	if !errors.Is(broken[0].Err, apperr.ErrUnresolvedLink) {
		t.Errorf("err = %v", broken[0].Err)
	}
	if len(x.Links(a)) != 0 {
		t.Error("broken link must not appear in Links")
	}
}

func TestAmbiguousTargetPrefersNearest(t *testing.T) {
	root := block.NewFolder("/v")
	one := block.NewFolder("/v/one")
	two := block.NewFolder("/v/two")
	noteOne := block.NewFile("/v/one/note.md", nil)
	noteTwo := block.NewFile("/v/two/note.md", nil)
	src := block.NewFile("/v/two/src.md", nil)
	top := block.NewFile("/v/top.md", nil)
	_ = src.AddChild(doc(t, "[[note]]"))
	_ = top.AddChild(doc(t, "[[note]]"))
	_ = one.AddChild(noteOne)
	_ = two.AddChild(noteTwo)
	_ = two.AddChild(src)
	_ = root.AddChild(one)
	_ = root.AddChild(two)
	_ = root.AddChild(top)

	_, x := newIndex(t, root)
	if got := x.Links(src.Child(0)); len(got) != 1 || got[0] != noteTwo {
		t.Errorf("sibling note not preferred: %v", got)
	}
	// Equidistant candidates fall back to document order.
	for i := 0; i < 5; i++ {
		if got := x.Links(top.Child(0)); len(got) != 1 || got[0] != noteOne {
			t.Fatalf("tie not broken by document order: %v", got)
		}
	}
	if got, _ := x.ResolveFrom(src, "one/note"); got != noteOne {
		t.Error("qualified path did not resolve")
	}
}

func TestIdentifiers(t *testing.T) {
	root := block.NewFolder("/v")
	sub := block.NewFolder("/v/sub")
	file := block.NewFile("/v/sub/Page.md", nil)
	_ = sub.AddChild(file)
	_ = root.AddChild(sub)

	want := []string{"page.md", "page", "sub/page.md", "sub/page"}
	if got := Identifiers(file); !reflect.DeepEqual(got, want) {
		t.Errorf("file identifiers = %v, want %v", got, want)
	}
	if got := Identifiers(sub); !reflect.DeepEqual(got, []string{"sub"}) {
		t.Errorf("folder identifiers = %v", got)
	}
	if got := Identifiers(block.NewString("x")); len(got) != 0 {
		t.Errorf("string leaf identifiers = %v", got)
	}

	d := doc(t, "---\ntitle: Front\naliases: [Alt]\n---\n# Heading\n")
	if got := Identifiers(d); !reflect.DeepEqual(got, []string{"front", "alt"}) {
		t.Errorf("document identifiers = %v", got)
	}
}

func TestFind(t *testing.T) {
	a := doc(t, "# Same")
	b := doc(t, "# Same")
	_, x := newIndex(t, a, b)
	if got, ok := x.Find("same"); !ok || got != a {
		t.Error("Find should return the first unit in document order")
	}
	if _, ok := x.Find("absent"); ok {
		t.Error("Find(absent) succeeded")
	}
}

func TestIncremental_BodyChange(t *testing.T) {
	a := doc(t, "# Title\n\nSee [[Other]].")
	b := doc(t, "# Other\n\ntext")
	f, x := newIndex(t, a, b)

	// Renaming the target breaks the link.
	setBody(x, b.Child(0), "Renamed")
	assertConsistent(t, f, x)
	if len(x.Links(a)) != 0 || len(x.Broken()) != 1 {
		t.Fatalf("after rename: links %v broken %v", x.Links(a), x.Broken())
	}

	// Pointing the source at the new name restores it.
	setBody(x, a.Child(1), "See [[Renamed]].")
	assertConsistent(t, f, x)
	if got := x.Links(a); len(got) != 1 || got[0] != b {
		t.Fatalf("after retarget: %v", got)
	}

	// Removing the marker drops the link and the backlink.
	setBody(x, a.Child(1), "No links.")
	assertConsistent(t, f, x)
	if len(x.Backlinks(b)) != 0 {
		t.Error("stale backlink")
	}
}

func TestIncremental_StructureChanges(t *testing.T) {
	root := block.NewFolder("/v")
	one := block.NewFolder("/v/one")
	two := block.NewFolder("/v/two")
	noteOne := block.NewFile("/v/one/note.md", nil)
	noteTwo := block.NewFile("/v/two/note.md", nil)
	src := block.NewFile("/v/one/src.md", nil)
	srcDoc := doc(t, "[[note]] and [[Later]]")
	_ = src.AddChild(srcDoc)
	_ = one.AddChild(noteOne)
	_ = one.AddChild(src)
	_ = two.AddChild(noteTwo)
	_ = root.AddChild(one)
	_ = root.AddChild(two)
	f, x := newIndex(t, root)
	assertConsistent(t, f, x)

	// Moving the source next to the other note switches its target.
	move(t, x, two, src)
	assertConsistent(t, f, x)
	if got := x.Links(srcDoc); len(got) != 1 || got[0] != noteTwo {
		t.Fatalf("after move: %v", got)
	}

	// A new root supplies the missing target.
	later := doc(t, "# Later")
	f.addRoot(x, later)
	assertConsistent(t, f, x)
	if got := x.Backlinks(later); len(got) != 1 || got[0] != srcDoc {
		t.Fatalf("backlinks(later) = %v", got)
	}

	// Adding a heading under a document retitles it.
	heading := block.New(block.KindHeading, "Later", block.Metadata{block.MetaLevel: 1})
	d := doc(t, "[[note]]")
	f.addRoot(x, d)
	move(t, x, d, heading)
	assertConsistent(t, f, x)

	// Deleting the nearer note falls back to the farther one.
	p := x.BeginDetach(noteTwo)
	_ = two.DelChild(noteTwo)
	x.EndDetach(p)
	assertConsistent(t, f, x)
	if got := x.Links(srcDoc); !slices.Contains(got, noteOne) || slices.Contains(got, noteTwo) {
		t.Fatalf("after delete: %v", got)
	}

	// A root moved under another block stops owning its own links.
	orphan := doc(t, "plain [[note]]")
	para := orphan.Child(0)
	_ = orphan.DelChild(para)
	f.addRoot(x, para)
	assertConsistent(t, f, x)
	if len(x.Links(para)) != 1 {
		t.Fatalf("root paragraph links = %v", x.Links(para))
	}
	f.removeRoot(x, para)
	_ = orphan.AddChild(para)
	f.addRoot(x, orphan)
	assertConsistent(t, f, x)
	if len(x.Links(para)) != 0 || len(x.Links(orphan)) != 1 {
		t.Fatal("links should move to the new owner")
	}

	// With the first "Later" gone the retitled document takes over.
	f.removeRoot(x, later)
	assertConsistent(t, f, x)
	if !slices.Contains(x.Links(srcDoc), d) {
		t.Errorf("links(src) = %v", x.Links(srcDoc))
	}
}

func TestRebuild_Cancelled(t *testing.T) {
	a := doc(t, "# A\n\n[[B]]")
	b := doc(t, "# B")
	f, x := newIndex(t, a, b)
	before := x.Snapshot()

	f.roots = append(f.roots, doc(t, "[[A]]"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := x.Rebuild(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if !reflect.DeepEqual(x.Snapshot(), before) {
		t.Error("cancelled rebuild changed the index")
	}
}

func TestDistance(t *testing.T) {
	root := block.NewFolder("/r")
	a := block.NewFolder("/r/a")
	b := block.NewFolder("/r/b")
	leaf := block.NewString("x")
	_ = root.AddChild(a)
	_ = root.AddChild(b)
	_ = a.AddChild(leaf)
	other := block.NewString("y")

	cases := []struct {
		from, to *block.Block
		want     int
	}{
		{leaf, leaf, 0},
		{leaf, a, 1},
		{leaf, b, 3},
		{leaf, other, 4},
	}
	for _, tc := range cases {
		if got := distance(tc.from, tc.to); got != tc.want {
			t.Errorf("distance = %d, want %d", got, tc.want)
		}
	}
}
