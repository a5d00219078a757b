package block

// Kind discriminates block variants. The set is open: token kinds the
// builder does not know about are carried through under their own name.
type Kind string

// Filesystem and in-memory kinds.
const (
	KindFolder     Kind = "Folder"
	KindFile       Kind = "File"
	KindStringLeaf Kind = "StringLeaf"
	// KindError marks a placeholder for a directory entry that failed to build.
	KindError Kind = "Error"
)

// Markdown kinds.
const (
	KindDocument      Kind = "Document"
	KindHeading       Kind = "Heading"
	KindParagraph     Kind = "Paragraph"
	KindTextBlock     Kind = "TextBlock"
	KindList          Kind = "List"
	KindListItem      Kind = "ListItem"
	KindBlockquote    Kind = "Blockquote"
	KindTable         Kind = "Table"
	KindTableHeader   Kind = "TableHeader"
	KindTableRow      Kind = "TableRow"
	KindTableCell     Kind = "TableCell"
	KindCodeBlock     Kind = "CodeBlock"
	KindCodeFence     Kind = "CodeFence"
	KindThematicBreak Kind = "ThematicBreak"
	KindHTMLBlock     Kind = "HTMLBlock"
	KindFootnoteList  Kind = "FootnoteList"
	KindFootnote      Kind = "Footnote"
)

// IsUnit reports whether blocks of this kind are addressable units of the
// knowledge base: they own the links found in their region of the tree and
// can be link targets.
func (k Kind) IsUnit() bool {
	switch k {
	case KindDocument, KindFile, KindFolder, KindStringLeaf:
		return true
	}
	return false
}

func (k Kind) String() string { return string(k) }

// Metadata keys.
const (
	MetaType        = "type"
	MetaLevel       = "level"
	MetaLanguage    = "language"
	MetaInfo        = "info"
	MetaLoose       = "loose"
	MetaStart       = "start"
	MetaOrdered     = "ordered"
	MetaLeader      = "leader"
	MetaIndentation = "indentation"
	MetaPrepend     = "prepend"
	MetaChecked     = "checked"
	MetaHeader      = "header"
	MetaColumnAlign = "columnAlign"
	MetaRowAlign    = "rowAlign"
	MetaAlign       = "align"
	MetaFootnotes   = "footnotes"
	MetaFrontmatter = "frontmatter"
	MetaRef         = "ref"
	MetaChecksum    = "checksum"
	MetaSize        = "size"
	MetaError       = "error"
)

// Metadata holds kind-specific attributes. Keys that do not apply to a kind
// are absent rather than nil.
type Metadata map[string]any

// Clone returns a shallow copy of m.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
