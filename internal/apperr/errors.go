// Package apperr holds the sentinel errors shared across blockbase packages.
package apperr

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrNotAFileOrDirectory = errors.New("not a file or directory")
	ErrDecode              = errors.New("invalid utf-8 text")
	ErrPermission          = errors.New("permission denied")
	ErrCycle               = errors.New("would create a cycle")
	ErrNotAChild           = errors.New("not a child")
	ErrIndexOutOfRange     = errors.New("child index out of range")
	ErrUnresolvedLink      = errors.New("unresolved link")
	ErrAlreadyExists       = errors.New("already exists")
	ErrInvalidPath         = errors.New("invalid path")
)
