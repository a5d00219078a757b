// Package parser is the markdown token source: it turns text into a tree of
// typed tokens and extracts link markers and titles from rendered bodies.
package parser

import "github.com/starford/blockbase/internal/block"

// Token is one parsed syntactic unit. Block-level and inline children are
// intermixed in Children; IsBlock tells them apart.
type Token interface {
	Kind() block.Kind
	IsBlock() bool
	// Attr returns a kind-specific attribute keyed by a block.Meta* name.
	Attr(name string) (any, bool)
	Children() []Token
	// Render returns the token's own text in canonical form.
	Render() string
}

// TokenSource parses markdown text into a Document token.
type TokenSource interface {
	Parse(src []byte) (Token, error)
}
