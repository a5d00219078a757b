package api

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/blockbase/internal/service"
)

// CreateNoteRequest is the request body for creating a note.
type CreateNoteRequest struct {
	Path    string `json:"path" example:"notes/hello.md"`
	Content string `json:"content" example:"# Hello\nSee [[World]]."`
}

// Validate checks the request fields.
func (r CreateNoteRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Path, validation.Required, validation.By(relativePath)),
		validation.Field(&r.Content, validation.Required),
	)
}

// AnnotateRequest is the request body for appending text to a block.
type AnnotateRequest struct {
	Text string `json:"text" example:"Related: [[Other]]"`
}

// Validate checks the request fields.
func (r AnnotateRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Text, validation.Required, validation.Length(1, 64<<10)),
	)
}

func relativePath(value any) error {
	s, _ := value.(string)
	if strings.HasPrefix(s, "/") || strings.Contains(s, "..") {
		return validation.NewError("validation_relative_path", "must be a path inside the vault")
	}
	return nil
}

// BlockDetail is the full block response type (aliased from the domain layer).
type BlockDetail = service.BlockDetail

// BlockRef identifies a block (aliased from the domain layer).
type BlockRef = service.BlockRef

// TreeNode is one node of a block tree (aliased from the domain layer).
type TreeNode = service.TreeNode

// LinksResponse wraps a list of linked blocks.
type LinksResponse struct {
	Path  string     `json:"path" example:"notes/hello.md"`
	Links []BlockRef `json:"links"`
}

// BrokenResponse wraps unresolved links.
type BrokenResponse struct {
	Broken []service.BrokenLink `json:"broken"`
}
