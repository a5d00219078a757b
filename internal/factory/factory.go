// Package factory builds knowledge blocks from vault paths or raw text.
package factory

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/starford/blockbase/internal/block"
	"github.com/starford/blockbase/internal/builder"
	"github.com/starford/blockbase/internal/checksum"
	"github.com/starford/blockbase/internal/parser"
	"github.com/starford/blockbase/internal/storage"
)

// Source is the factory input: either a PathInput or a TextInput.
type Source interface {
	isSource()
}

// PathInput names a vault path (relative to the storage root).
type PathInput struct {
	Path string
}

// TextInput is raw markdown text.
type TextInput struct {
	Text string
}

func (PathInput) isSource() {}
func (TextInput) isSource() {}

// Filter decides whether a directory entry becomes a child block.
type Filter func(name string, isDir bool) bool

// Option configures a Factory.
type Option func(*Factory)

// WithLogger sets the logger used for skipped and failed entries.
func WithLogger(l *slog.Logger) Option {
	return func(f *Factory) { f.logger = l }
}

// WithFilter restricts which directory entries are built.
func WithFilter(fn Filter) Option {
	return func(f *Factory) { f.filter = fn }
}

// WithTokenSource replaces the markdown token source.
func WithTokenSource(src parser.TokenSource) Option {
	return func(f *Factory) { f.tokens = src }
}

// Factory dispatches construction on the Source variant.
type Factory struct {
	store  storage.Provider
	tokens parser.TokenSource
	logger *slog.Logger
	filter Filter
}

// New creates a Factory reading from store. store may be nil when only
// TextInput sources are used.
func New(store storage.Provider, opts ...Option) *Factory {
	f := &Factory{
		store:  store,
		tokens: parser.NewMarkdown(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Accepts reports whether an entry named name passes the factory filter.
func (f *Factory) Accepts(name string, isDir bool) bool {
	return f.filter == nil || f.filter(name, isDir)
}

// Create builds the block tree for src. A directory yields a Folder whose
// children are built from its entries in listing order; an entry that fails
// becomes an Error placeholder rather than failing the whole folder. A file
// yields a File wrapping its parsed Document. Text yields a Document.
func (f *Factory) Create(src Source) (*block.Block, error) {
	switch s := src.(type) {
	case TextInput:
		return f.FromText(s.Text)
	case PathInput:
		return f.fromPath(s.Path)
	}
	return nil, fmt.Errorf("factory: unsupported source %T", src)
}

// FromText parses markdown text into a Document tree.
func (f *Factory) FromText(text string) (*block.Block, error) {
	tok, err := f.tokens.Parse([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("factory: parse: %w", err)
	}
	return builder.Build(tok), nil
}

func (f *Factory) fromPath(path string) (*block.Block, error) {
	if f.store == nil {
		return nil, fmt.Errorf("factory: no storage configured for %s", path)
	}
	kind, err := f.store.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("factory: %w", err)
	}
	switch kind {
	case storage.EntryDir:
		return f.folder(path)
	case storage.EntryFile:
		return f.file(path)
	}
	return nil, fmt.Errorf("factory: unexpected entry kind for %s", path)
}

func (f *Factory) folder(path string) (*block.Block, error) {
	entries, err := f.store.ListEntries(path)
	if err != nil {
		return nil, fmt.Errorf("factory: %w", err)
	}
	folder := block.NewFolder(f.store.Abs(path))
	for _, entry := range entries {
		if f.filter != nil {
			kind, statErr := f.store.Stat(entry)
			if !f.filter(filepath.Base(entry), statErr == nil && kind == storage.EntryDir) {
				continue
			}
		}
		child, err := f.fromPath(entry)
		if err != nil {
			f.logger.Warn("factory: entry skipped",
				slog.String("path", entry),
				slog.String("error", err.Error()))
			child = block.NewError(f.store.Abs(entry), err)
		}
		// child is new and detached, so attaching cannot fail.
		_ = folder.AddChild(child)
	}
	return folder, nil
}

// file reads and parses one file into a File block.
func (f *Factory) file(path string) (*block.Block, error) {
	text, err := f.store.ReadText(path)
	if err != nil {
		return nil, fmt.Errorf("factory: %w", err)
	}
	doc, err := f.FromText(text)
	if err != nil {
		return nil, fmt.Errorf("factory: %s: %w", path, err)
	}
	file := block.NewFile(f.store.Abs(path), block.Metadata{
		block.MetaChecksum: checksum.String(text),
		block.MetaSize:     len(text),
	})
	_ = file.AddChild(doc)
	f.logger.Debug("factory: built file", slog.String("path", path))
	return file, nil
}
