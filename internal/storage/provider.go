// Package storage defines the vault file-system contract used to build blocks.
package storage

// EntryKind classifies a filesystem entry.
type EntryKind int

const (
	EntryOther EntryKind = iota
	EntryDir
	EntryFile
)

// Provider is the filesystem contract. Paths are relative to the vault root;
// "" names the root itself.
type Provider interface {
	// Stat classifies path. Missing paths fail with apperr.ErrNotFound,
	// special files, dangling symlinks and symlinks to directories with
	// apperr.ErrNotAFileOrDirectory, paths resolving outside the vault with
	// apperr.ErrInvalidPath.
	Stat(path string) (EntryKind, error)
	// ListEntries returns the entries of dir in listing order, as paths
	// relative to the vault root.
	ListEntries(dir string) ([]string, error)
	// ReadText reads a UTF-8 file.
	ReadText(path string) (string, error)
	// Abs returns the absolute filesystem location of path.
	Abs(path string) string
	// Exists reports whether path is present.
	Exists(path string) bool
	// Write atomically writes content to path, creating parent directories.
	Write(path string, content []byte) error
}
