package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/blockbase/internal/service"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// eventsHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *service.Service, authEnabled bool, token string, eventsHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Blocks, addressed by vault-relative path; an empty path is the vault.
	r.Get("/blocks", h.GetBlock)
	r.Get("/blocks/*", h.GetBlock)
	r.Get("/tree", h.Tree)
	r.Get("/tree/*", h.Tree)
	r.Get("/links/*", h.Links)
	r.Get("/backlinks/*", h.Backlinks)
	r.Post("/annotations/*", h.Annotate)

	r.Get("/broken", h.Broken)
	r.Get("/find", h.Find)
	r.Post("/notes", h.CreateNote)

	if eventsHandler != nil {
		r.Get("/events", eventsHandler.ServeHTTP)
	}

	return r
}
