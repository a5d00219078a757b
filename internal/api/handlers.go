package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/blockbase/internal/apperr"
	"github.com/starford/blockbase/internal/service"
)

// Handler holds API route handlers.
type Handler struct {
	svc *service.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// blockPath extracts the block path from the URL wildcard.
// Supports encoded slashes from OpenAPI clients (e.g. topics%2Fnote.md).
func blockPath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// writeError maps domain errors to HTTP statuses.
func writeError(w http.ResponseWriter, op, path string, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrInvalidPath):
		writeJSON(w, http.StatusBadRequest, errorBody("invalid path"))
	case errors.Is(err, apperr.ErrAlreadyExists):
		writeJSON(w, http.StatusConflict, errorBody("already exists"))
	default:
		slog.Error(op+" failed", slog.String("path", path), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

// GetBlock handles GET /api/blocks/*.
//
//	@Summary		Get a block by vault path
//	@Tags			blocks
//	@Produce		json
//	@Param			path	path		string	true	"Block path"
//	@Success		200		{object}	BlockDetail
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/blocks/{path} [get]
func (h *Handler) GetBlock(w http.ResponseWriter, r *http.Request) {
	path := blockPath(r)
	detail, err := h.svc.Block(r.Context(), path)
	if err != nil {
		writeError(w, "get block", path, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// Tree handles GET /api/tree/*.
//
//	@Summary		Get the block tree under a path
//	@Tags			blocks
//	@Produce		json
//	@Param			path	path		string	true	"Block path"
//	@Param			depth	query		int		false	"Maximum depth, unlimited when omitted"
//	@Success		200		{object}	TreeNode
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tree/{path} [get]
func (h *Handler) Tree(w http.ResponseWriter, r *http.Request) {
	path := blockPath(r)
	depth := -1
	if raw := r.URL.Query().Get("depth"); raw != "" {
		d, err := strconv.Atoi(raw)
		if err != nil || d < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody("depth must be a non-negative integer"))
			return
		}
		depth = d
	}
	tree, err := h.svc.Tree(r.Context(), path, depth)
	if err != nil {
		writeError(w, "tree", path, err)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

// Links handles GET /api/links/*.
//
//	@Summary		List the blocks a block links to
//	@Tags			links
//	@Produce		json
//	@Param			path	path		string	true	"Block path"
//	@Success		200		{object}	LinksResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/links/{path} [get]
func (h *Handler) Links(w http.ResponseWriter, r *http.Request) {
	path := blockPath(r)
	links, err := h.svc.Links(r.Context(), path)
	if err != nil {
		writeError(w, "links", path, err)
		return
	}
	writeJSON(w, http.StatusOK, LinksResponse{Path: path, Links: links})
}

// Backlinks handles GET /api/backlinks/*.
//
//	@Summary		List the blocks linking to a block
//	@Tags			links
//	@Produce		json
//	@Param			path	path		string	true	"Block path"
//	@Success		200		{object}	LinksResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/backlinks/{path} [get]
func (h *Handler) Backlinks(w http.ResponseWriter, r *http.Request) {
	path := blockPath(r)
	links, err := h.svc.Backlinks(r.Context(), path)
	if err != nil {
		writeError(w, "backlinks", path, err)
		return
	}
	writeJSON(w, http.StatusOK, LinksResponse{Path: path, Links: links})
}

// Broken handles GET /api/broken.
//
//	@Summary		List unresolved links
//	@Tags			links
//	@Produce		json
//	@Success		200	{object}	BrokenResponse
//	@Security		BearerAuth
//	@Router			/broken [get]
func (h *Handler) Broken(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, BrokenResponse{Broken: h.svc.Broken(r.Context())})
}

// Find handles GET /api/find?name=.
//
//	@Summary		Resolve a link target name
//	@Tags			links
//	@Produce		json
//	@Param			name	query		string	true	"Title, alias, file name or path"
//	@Success		200		{object}	BlockDetail
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/find [get]
func (h *Handler) Find(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'name' is required"))
		return
	}
	detail, err := h.svc.Find(r.Context(), name)
	if err != nil {
		writeError(w, "find", name, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// CreateNote handles POST /api/notes.
//
//	@Summary		Create a new note
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateNoteRequest	true	"Note to create"
//	@Success		201		{object}	BlockDetail
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes [post]
func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req CreateNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := req.Validate(); err != nil {
		writeInvalid(w, err)
		return
	}
	detail, err := h.svc.CreateNote(r.Context(), req.Path, []byte(req.Content))
	if err != nil {
		writeError(w, "create note", req.Path, err)
		return
	}
	writeJSON(w, http.StatusCreated, detail)
}

// Annotate handles POST /api/annotations/*.
//
//	@Summary		Append text to a block in memory
//	@Tags			blocks
//	@Accept			json
//	@Produce		json
//	@Param			path	path		string			true	"Block path"
//	@Param			body	body		AnnotateRequest	true	"Text to append"
//	@Success		200		{object}	BlockDetail
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/annotations/{path} [post]
func (h *Handler) Annotate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	path := blockPath(r)
	var req AnnotateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := req.Validate(); err != nil {
		writeInvalid(w, err)
		return
	}
	detail, err := h.svc.Annotate(r.Context(), path, req.Text)
	if err != nil {
		writeError(w, "annotate", path, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}
