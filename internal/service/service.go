// Package service exposes the vault knowledge base to transports. It owns the
// kb.Base, keeps it in step with the vault on disk, and serialises access.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/starford/blockbase/internal/apperr"
	"github.com/starford/blockbase/internal/block"
	"github.com/starford/blockbase/internal/checksum"
	"github.com/starford/blockbase/internal/factory"
	"github.com/starford/blockbase/internal/kb"
	"github.com/starford/blockbase/internal/storage"
)

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// Service coordinates storage, the block factory and the knowledge base.
type Service struct {
	mu      sync.RWMutex
	store   storage.Provider
	factory *factory.Factory
	base    *kb.Base
	root    *block.Block
	logger  *slog.Logger
}

// New creates a service over store. Load must be called before queries.
func New(store storage.Provider, f *factory.Factory, opts ...Option) *Service {
	s := &Service{
		store:   store,
		factory: f,
		base:    kb.New(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load builds the whole vault and resolves its links.
func (s *Service) Load(ctx context.Context) error {
	root, err := s.factory.Create(factory.PathInput{Path: ""})
	if err != nil {
		return fmt.Errorf("service: load: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.root != nil {
		err = s.base.Replace(s.root, root)
	} else {
		err = s.base.AddRoot(root)
	}
	if err != nil {
		return fmt.Errorf("service: load: %w", err)
	}
	s.root = root
	if err := s.base.Resolve(ctx); err != nil {
		return fmt.Errorf("service: load: %w", err)
	}
	s.logger.Info("service: vault loaded",
		slog.String("root", s.store.Abs("")),
		slog.Int("broken_links", len(s.base.Broken())))
	return nil
}

// Block returns the block stored at the vault-relative path rel.
func (s *Service) Block(_ context.Context, rel string) (*BlockDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, err := s.lookup(rel)
	if err != nil {
		return nil, err
	}
	return s.detail(b), nil
}

// Tree returns the block tree under rel down to depth levels; a negative
// depth is unlimited.
func (s *Service) Tree(_ context.Context, rel string, depth int) (*TreeNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, err := s.lookup(rel)
	if err != nil {
		return nil, err
	}
	n := s.tree(b, depth)
	return &n, nil
}

// Links returns what the block at rel links to.
func (s *Service) Links(_ context.Context, rel string) ([]BlockRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, err := s.lookup(rel)
	if err != nil {
		return nil, err
	}
	return s.refs(s.linksOf(b)), nil
}

// Backlinks returns the blocks linking to the block at rel.
func (s *Service) Backlinks(_ context.Context, rel string) ([]BlockRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, err := s.lookup(rel)
	if err != nil {
		return nil, err
	}
	return s.refs(s.backlinksOf(b)), nil
}

// Broken lists every unresolved link in the vault.
func (s *Service) Broken(_ context.Context) []BrokenLink {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.broken(s.base.Broken())
}

// Find returns the block a link to name would reach from the vault root.
func (s *Service) Find(_ context.Context, name string) (*BlockDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.base.Find(name)
	if !ok {
		return nil, fmt.Errorf("service: find %q: %w", name, apperr.ErrNotFound)
	}
	return s.detail(b), nil
}

// CreateNote writes a new note and adds it to the knowledge base.
func (s *Service) CreateNote(_ context.Context, rel string, content []byte) (*BlockDetail, error) {
	rel, err := cleanRel(rel)
	if err != nil || rel == "" {
		return nil, fmt.Errorf("service: create %q: %w", rel, apperr.ErrInvalidPath)
	}
	if !s.Accepts(rel, false) {
		return nil, fmt.Errorf("service: create %q: extension not allowed: %w", rel, apperr.ErrInvalidPath)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store.Exists(rel) {
		return nil, fmt.Errorf("service: create %q: %w", rel, apperr.ErrAlreadyExists)
	}
	if err := s.store.Write(rel, content); err != nil {
		return nil, fmt.Errorf("service: create: %w", err)
	}
	if _, _, err := s.syncLocked(rel); err != nil {
		return nil, err
	}
	b, err := s.lookup(rel)
	if err != nil {
		return nil, err
	}
	return s.detail(b), nil
}

// Annotate appends text as a new in-memory block under the block at rel.
// Links in text take effect immediately; nothing is written to disk.
func (s *Service) Annotate(_ context.Context, rel, text string) (*BlockDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.lookup(rel)
	if err != nil {
		return nil, err
	}
	target := b
	if d := document(b); b.Kind() == block.KindFile && d != nil {
		target = d
	}
	if _, err := s.base.AppendText(target, text); err != nil {
		return nil, fmt.Errorf("service: annotate: %w", err)
	}
	return s.detail(b), nil
}

// Accepts reports whether rel belongs in the knowledge base given the
// configured filter. Every directory on the way must pass too.
func (s *Service) Accepts(rel string, isDir bool) bool {
	parts := strings.Split(filepath.ToSlash(rel), "/")
	for i, p := range parts {
		if p == "" {
			continue
		}
		last := i == len(parts)-1
		if !s.factory.Accepts(p, !last || isDir) {
			return false
		}
	}
	return true
}

// Sync brings the block at rel in line with the disk: it is created,
// rebuilt or removed as needed. ok is false when nothing changed.
func (s *Service) Sync(rel string) (Change, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncLocked(rel)
}

// Reconcile syncs every path known either to the tree or to the disk.
func (s *Service) Reconcile(ctx context.Context) ([]Change, error) {
	fresh, err := s.factory.Create(factory.PathInput{Path: ""})
	if err != nil {
		return nil, fmt.Errorf("service: reconcile: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]struct{}{}
	collect := func(root *block.Block) {
		root.Walk(func(n *block.Block) bool {
			if p, ok := n.OwnPath(); ok && n != root {
				seen[s.rel(p)] = struct{}{}
			}
			return n.Kind() == block.KindFolder || n == root
		})
	}
	if s.root != nil {
		collect(s.root)
	}
	collect(fresh)

	var changes []Change
	for _, rel := range slices.Sorted(maps.Keys(seen)) {
		if err := ctx.Err(); err != nil {
			return changes, fmt.Errorf("service: reconcile: %w", err)
		}
		c, ok, err := s.syncLocked(rel)
		if err != nil {
			s.logger.Warn("service: reconcile entry failed",
				slog.String("path", rel),
				slog.String("error", err.Error()))
			continue
		}
		if ok {
			changes = append(changes, c)
		}
	}
	return changes, nil
}

func (s *Service) syncLocked(rel string) (Change, bool, error) {
	rel, err := cleanRel(rel)
	if err != nil {
		return Change{}, false, fmt.Errorf("service: sync: %w", err)
	}
	if s.root == nil {
		return Change{}, false, fmt.Errorf("service: sync %q: vault not loaded", rel)
	}
	if rel == "" {
		return Change{}, false, nil
	}
	abs := s.store.Abs(rel)
	existing, found := s.base.FindPath(abs)

	kind, statErr := s.store.Stat(rel)
	gone := errors.Is(statErr, apperr.ErrNotFound)
	if gone || !s.Accepts(rel, statErr == nil && kind == storage.EntryDir) {
		if !found {
			return Change{}, false, nil
		}
		if err := s.base.DelChild(existing.Parent(), existing); err != nil {
			return Change{}, false, fmt.Errorf("service: sync: %w", err)
		}
		s.logger.Debug("service: removed", slog.String("path", rel))
		return Change{Kind: ChangeDeleted, Path: rel}, true, nil
	}

	if found {
		switch {
		case existing.Kind() == block.KindFolder && kind == storage.EntryDir:
			return Change{}, false, nil
		case existing.Kind() == block.KindFile && kind == storage.EntryFile:
			if text, err := s.store.ReadText(rel); err == nil {
				if cs, _ := existing.Meta(block.MetaChecksum); cs == checksum.String(text) {
					return Change{}, false, nil
				}
			}
		}
	}

	next := s.build(rel)
	if found && sameFailure(existing, next) {
		return Change{}, false, nil
	}
	if found {
		if err := s.base.Replace(existing, next); err != nil {
			return Change{}, false, fmt.Errorf("service: sync: %w", err)
		}
		s.logger.Debug("service: rebuilt", slog.String("path", rel))
		return Change{Kind: ChangeUpdated, Path: rel}, true, nil
	}

	dir := filepath.Dir(rel)
	if dir == "." {
		dir = ""
	}
	parent, ok := s.base.FindPath(s.store.Abs(dir))
	if !ok {
		// Building the missing directory picks up rel with it.
		return s.syncLocked(dir)
	}
	if parent.Kind() != block.KindFolder {
		return Change{}, false, fmt.Errorf("service: sync %q: parent is %s: %w", rel, parent.Kind(), apperr.ErrNotAFileOrDirectory)
	}
	if err := s.base.InsertChild(parent, next, insertIndex(parent, next.Name())); err != nil {
		return Change{}, false, fmt.Errorf("service: sync: %w", err)
	}
	s.logger.Debug("service: added", slog.String("path", rel))
	return Change{Kind: ChangeCreated, Path: rel}, true, nil
}

// build creates the block for rel, falling back to an Error placeholder
// like the factory does for folder entries.
func (s *Service) build(rel string) *block.Block {
	b, err := s.factory.Create(factory.PathInput{Path: rel})
	if err != nil {
		s.logger.Warn("service: build failed",
			slog.String("path", rel),
			slog.String("error", err.Error()))
		return block.NewError(s.store.Abs(rel), err)
	}
	return b
}

func sameFailure(a, b *block.Block) bool {
	if a.Kind() != block.KindError || b.Kind() != block.KindError {
		return false
	}
	ea, _ := a.Meta(block.MetaError)
	eb, _ := b.Meta(block.MetaError)
	return ea == eb
}

func (s *Service) lookup(rel string) (*block.Block, error) {
	rel, err := cleanRel(rel)
	if err != nil {
		return nil, err
	}
	if s.root == nil {
		return nil, fmt.Errorf("service: %q: %w", rel, apperr.ErrNotFound)
	}
	if rel == "" {
		return s.root, nil
	}
	b, ok := s.base.FindPath(s.store.Abs(rel))
	if !ok {
		return nil, fmt.Errorf("service: %q: %w", rel, apperr.ErrNotFound)
	}
	return b, nil
}

// cleanRel normalises a vault-relative path; "" is the vault root.
func cleanRel(rel string) (string, error) {
	rel = strings.Trim(filepath.ToSlash(rel), "/")
	if rel == "" || rel == "." {
		return "", nil
	}
	if !filepath.IsLocal(filepath.FromSlash(rel)) {
		return "", fmt.Errorf("service: %q: %w", rel, apperr.ErrInvalidPath)
	}
	return filepath.Clean(filepath.FromSlash(rel)), nil
}

func insertIndex(parent *block.Block, name string) int {
	for i := 0; i < parent.ChildCount(); i++ {
		if parent.Child(i).Name() > name {
			return i
		}
	}
	return parent.ChildCount()
}
