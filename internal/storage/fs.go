package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/starford/blockbase/internal/apperr"
)

// FS implements Provider backed by the local file system.
type FS struct {
	root string // absolute path to vault directory
	real string // root with symlinks resolved
}

var _ Provider = (*FS)(nil)

// NewFS creates a new FS provider rooted at the given directory.
// The directory must already exist.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", classify(err))
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", classify(err))
	}
	return &FS{root: abs, real: real}, nil
}

// Root returns the absolute vault directory.
func (f *FS) Root() string { return f.root }

// safePath resolves a relative path against the vault root and rejects
// any result that escapes it (directory traversal).
func (f *FS) safePath(rel string) (string, error) {
	if rel == "" {
		return f.root, nil
	}
	cleaned := filepath.Clean(rel)
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("storage: absolute path %s: %w", rel, apperr.ErrInvalidPath)
	}
	abs := filepath.Join(f.root, cleaned)
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) && abs != f.root {
		return "", fmt.Errorf("storage: %s escapes vault root: %w", rel, apperr.ErrInvalidPath)
	}
	return abs, nil
}

// Abs returns the absolute location of path. Paths escaping the vault are
// returned cleaned but unchecked; every read goes through safePath.
func (f *FS) Abs(path string) string {
	if abs, err := f.safePath(path); err == nil {
		return abs
	}
	return filepath.Join(f.root, filepath.Clean(path))
}

// Stat classifies path. Symbolic links are followed only to regular files
// inside the vault: a link to a directory is reported as
// ErrNotAFileOrDirectory, so walks never loop, and a path resolving outside
// the vault as ErrInvalidPath.
func (f *FS) Stat(path string) (EntryKind, error) {
	abs, err := f.safePath(path)
	if err != nil {
		return EntryOther, err
	}
	linfo, err := os.Lstat(abs)
	if err != nil {
		return EntryOther, fmt.Errorf("storage: stat %s: %w", path, classify(err))
	}
	target, err := f.resolve(path, abs)
	if err != nil {
		return EntryOther, err
	}
	info, err := os.Stat(target)
	if err != nil {
		return EntryOther, fmt.Errorf("storage: stat %s: %w", path, classify(err))
	}
	if linfo.Mode()&fs.ModeSymlink != 0 && abs != f.root && info.IsDir() {
		return EntryOther, fmt.Errorf("storage: %s links to a directory: %w", path, apperr.ErrNotAFileOrDirectory)
	}
	switch {
	case info.IsDir():
		return EntryDir, nil
	case info.Mode().IsRegular():
		return EntryFile, nil
	}
	return EntryOther, fmt.Errorf("storage: %s (%s): %w", path, info.Mode().Type(), apperr.ErrNotAFileOrDirectory)
}

// resolve evaluates every symbolic link in abs; the result must stay
// inside the vault.
func (f *FS) resolve(path, abs string) (string, error) {
	target, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("storage: dangling link %s: %w", path, apperr.ErrNotAFileOrDirectory)
		}
		return "", fmt.Errorf("storage: resolve %s: %w", path, classify(err))
	}
	if target != f.real && !strings.HasPrefix(target, f.real+string(os.PathSeparator)) {
		return "", fmt.Errorf("storage: %s resolves outside the vault: %w", path, apperr.ErrInvalidPath)
	}
	return target, nil
}

// ListEntries returns dir's entries sorted by name.
func (f *FS) ListEntries(dir string) ([]string, error) {
	abs, err := f.safePath(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: list %s: %w", dir, classify(err))
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = filepath.Join(dir, e.Name())
	}
	return out, nil
}

// ReadText reads a file and checks that it is valid UTF-8. It refuses
// the same symbolic links Stat does.
func (f *FS) ReadText(path string) (string, error) {
	abs, err := f.safePath(path)
	if err != nil {
		return "", err
	}
	if kind, err := f.Stat(path); err != nil {
		return "", err
	} else if kind != EntryFile {
		return "", fmt.Errorf("storage: read %s: %w", path, apperr.ErrNotAFileOrDirectory)
	}
	file, err := os.Open(abs)
	if err != nil {
		return "", fmt.Errorf("storage: read %s: %w", path, classify(err))
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return "", fmt.Errorf("storage: read %s: %w", path, classify(err))
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("storage: read %s: %w", path, apperr.ErrDecode)
	}
	return string(data), nil
}

// Exists reports whether path is present in the vault.
func (f *FS) Exists(path string) bool {
	abs, err := f.safePath(path)
	if err != nil {
		return false
	}
	_, err = os.Lstat(abs)
	return err == nil
}

// Write atomically writes content: tmp file → fsync → rename.
func (f *FS) Write(path string, content []byte) error {
	abs, err := f.safePath(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".blockbase-tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	// Clean up on any failure path.
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	success = true
	return nil
}

// classify maps os errors onto the apperr taxonomy, keeping the original
// error in the chain.
func classify(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %w", apperr.ErrNotFound, err)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %w", apperr.ErrPermission, err)
	}
	return err
}
