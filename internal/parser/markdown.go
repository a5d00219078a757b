package parser

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	"github.com/starford/blockbase/internal/block"
)

// Markdown is a TokenSource backed by goldmark with GFM and footnotes.
// It holds no per-parse state and is safe to share.
type Markdown struct {
	engine goldmark.Markdown
}

// NewMarkdown constructs the goldmark engine.
func NewMarkdown() *Markdown {
	return &Markdown{
		engine: goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
				extension.Footnote,
			),
		),
	}
}

// Parse splits off front matter and tokenizes the remaining body.
func (m *Markdown) Parse(src []byte) (Token, error) {
	fm, body := SplitFrontMatter(src)
	root := m.engine.Parser().Parse(text.NewReader(body))
	return &node{n: root, src: body, fm: fm}, nil
}

// kindNames maps goldmark kinds whose names differ from ours.
var kindNames = map[string]block.Kind{
	ast.KindFencedCodeBlock.String(): block.KindCodeFence,
}

// containers render no text of their own; their children carry it.
var containers = map[block.Kind]bool{
	block.KindDocument:     true,
	block.KindList:         true,
	block.KindListItem:     true,
	block.KindBlockquote:   true,
	block.KindTable:        true,
	block.KindTableHeader:  true,
	block.KindTableRow:     true,
	block.KindFootnoteList: true,
	block.KindFootnote:     true,
}

type node struct {
	n   ast.Node
	src []byte
	fm  map[string]any
}

func (t *node) Kind() block.Kind {
	name := t.n.Kind().String()
	if k, ok := kindNames[name]; ok {
		return k
	}
	return block.Kind(name)
}

func (t *node) IsBlock() bool {
	return t.n.Type() != ast.TypeInline
}

func (t *node) Children() []Token {
	var out []Token
	for c := t.n.FirstChild(); c != nil; c = c.NextSibling() {
		out = append(out, &node{n: c, src: t.src})
	}
	return out
}

func (t *node) Render() string {
	if !t.IsBlock() {
		var buf bytes.Buffer
		writeInline(&buf, t.n, t.src)
		return buf.String()
	}
	if containers[t.Kind()] {
		return ""
	}
	return renderLeaf(t.n, t.src)
}

func (t *node) Attr(name string) (any, bool) {
	switch n := t.n.(type) {
	case *ast.Document:
		switch name {
		case block.MetaFrontmatter:
			if len(t.fm) == 0 {
				return nil, false
			}
			return t.fm, true
		case block.MetaFootnotes:
			refs := footnoteRefs(n)
			return refs, len(refs) > 0
		}
	case *ast.Heading:
		if name == block.MetaLevel {
			return n.Level, true
		}
	case *ast.FencedCodeBlock:
		switch name {
		case block.MetaLanguage:
			return string(n.Language(t.src)), true
		case block.MetaInfo:
			if n.Info == nil {
				return nil, false
			}
			return string(n.Info.Segment.Value(t.src)), true
		}
	case *ast.List:
		switch name {
		case block.MetaLoose:
			return !n.IsTight, true
		case block.MetaOrdered:
			return n.IsOrdered(), true
		case block.MetaStart:
			return n.Start, n.IsOrdered()
		case block.MetaLeader:
			return string(n.Marker), true
		}
	case *ast.ListItem:
		return t.listItemAttr(n, name)
	case *east.Table:
		switch name {
		case block.MetaHeader:
			return t.tableHeader(n)
		case block.MetaColumnAlign:
			return alignments(n.Alignments), true
		}
	case *east.TableHeader:
		if name == block.MetaRowAlign {
			return alignments(n.Alignments), true
		}
	case *east.TableRow:
		if name == block.MetaRowAlign {
			return alignments(n.Alignments), true
		}
	case *east.TableCell:
		if name == block.MetaAlign {
			return n.Alignment.String(), true
		}
	case *east.Footnote:
		if name == block.MetaRef {
			return string(n.Ref), true
		}
	}
	return nil, false
}

func (t *node) listItemAttr(item *ast.ListItem, name string) (any, bool) {
	list, _ := item.Parent().(*ast.List)
	switch name {
	case block.MetaPrepend:
		return item.Offset, true
	case block.MetaLoose:
		if list == nil {
			return nil, false
		}
		return !list.IsTight, true
	case block.MetaLeader:
		if list == nil {
			return nil, false
		}
		if !list.IsOrdered() {
			return string(list.Marker), true
		}
		pos := 0
		for s := item.PreviousSibling(); s != nil; s = s.PreviousSibling() {
			pos++
		}
		return strconv.Itoa(list.Start+pos) + string(list.Marker), true
	case block.MetaIndentation:
		start, ok := firstLineStart(item)
		if !ok {
			return nil, false
		}
		lineStart := bytes.LastIndexByte(t.src[:start], '\n') + 1
		indent := 0
		for _, c := range t.src[lineStart:start] {
			if c != ' ' {
				break
			}
			indent++
		}
		return indent, true
	case block.MetaChecked:
		first := item.FirstChild()
		if first == nil {
			return nil, false
		}
		if box, ok := first.FirstChild().(*east.TaskCheckBox); ok {
			return box.IsChecked, true
		}
	}
	return nil, false
}

func (t *node) tableHeader(table *east.Table) (any, bool) {
	head, ok := table.FirstChild().(*east.TableHeader)
	if !ok {
		return nil, false
	}
	var cells []string
	for c := head.FirstChild(); c != nil; c = c.NextSibling() {
		cells = append(cells, renderLeaf(c, t.src))
	}
	return cells, true
}

func alignments(in []east.Alignment) []string {
	out := make([]string, len(in))
	for i, a := range in {
		out[i] = a.String()
	}
	return out
}

func footnoteRefs(doc ast.Node) []string {
	var refs []string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if fn, ok := n.(*east.Footnote); ok {
			refs = append(refs, string(fn.Ref))
			return ast.WalkSkipChildren, nil
		}
		if n.Type() == ast.TypeInline {
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return refs
}

// firstLineStart returns the source offset of the first line held by any
// block descendant of n.
func firstLineStart(n ast.Node) (int, bool) {
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if c.Type() == ast.TypeInline {
			continue
		}
		if lines := c.Lines(); lines.Len() > 0 {
			return lines.At(0).Start, true
		}
		if start, ok := firstLineStart(c); ok {
			return start, true
		}
	}
	return 0, false
}

func renderLeaf(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		buf.Write(seg.Value(src))
	}
	if h, ok := n.(*ast.HTMLBlock); ok && h.HasClosure() {
		buf.Write(h.ClosureLine.Value(src))
	}
	if buf.Len() == 0 {
		writeInline(&buf, n, src)
	}
	switch n.(type) {
	case *ast.CodeBlock, *ast.FencedCodeBlock:
		return strings.TrimSuffix(buf.String(), "\n")
	}
	return strings.TrimSpace(buf.String())
}

func writeInline(buf *bytes.Buffer, n ast.Node, src []byte) {
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch v := c.(type) {
		case *ast.Text:
			buf.Write(v.Segment.Value(src))
			if v.SoftLineBreak() || v.HardLineBreak() {
				buf.WriteByte('\n')
			}
		case *ast.String:
			buf.Write(v.Value)
		default:
			if c.Type() == ast.TypeInline {
				writeInline(buf, c, src)
			}
		}
	}
}
