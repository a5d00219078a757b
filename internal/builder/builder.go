// Package builder turns parsed tokens into knowledge block trees.
package builder

import (
	"github.com/starford/blockbase/internal/block"
	"github.com/starford/blockbase/internal/parser"
)

// fieldsByKind lists the metadata fields extracted for each token kind.
// Kinds not listed carry only their "type".
var fieldsByKind = map[block.Kind][]string{
	block.KindDocument:    {block.MetaFootnotes, block.MetaFrontmatter},
	block.KindHeading:     {block.MetaLevel},
	block.KindCodeFence:   {block.MetaLanguage, block.MetaInfo},
	block.KindList:        {block.MetaLoose, block.MetaOrdered, block.MetaStart, block.MetaLeader},
	block.KindListItem:    {block.MetaIndentation, block.MetaLoose, block.MetaLeader, block.MetaPrepend, block.MetaChecked},
	block.KindTable:       {block.MetaHeader, block.MetaColumnAlign},
	block.KindTableHeader: {block.MetaRowAlign},
	block.KindTableRow:    {block.MetaRowAlign},
	block.KindTableCell:   {block.MetaAlign},
	block.KindFootnote:    {block.MetaRef},
}

// Extract renders tok's body, collects the metadata relevant to its kind and
// returns its block-level children. Inline children are left to the body.
func Extract(tok parser.Token) (string, []parser.Token, block.Metadata) {
	kind := tok.Kind()
	meta := block.Metadata{block.MetaType: string(kind)}
	for _, field := range fieldsByKind[kind] {
		if v, ok := tok.Attr(field); ok {
			meta[field] = v
		}
	}

	var children []parser.Token
	for _, c := range tok.Children() {
		if c.IsBlock() {
			children = append(children, c)
		}
	}
	return tok.Render(), children, meta
}

// Build converts tok and its block-level descendants into a detached block
// tree, preserving child order.
func Build(tok parser.Token) *block.Block {
	body, children, meta := Extract(tok)
	b := block.New(tok.Kind(), body, meta)
	for _, c := range children {
		// Freshly built children are detached and never ancestors of b.
		_ = b.AddChild(Build(c))
	}
	return b
}
