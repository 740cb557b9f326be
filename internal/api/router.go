package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/relink/internal/eventservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /stream inside the auth group.
func NewRouter(svc *eventservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)
	ah := NewArchiveHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Reference rendering.
	r.Post("/render", h.Render)
	r.Post("/references", h.References)
	r.Get("/decode/{token}", h.Decode)

	// Site configuration.
	r.Get("/site", h.GetSite)
	r.Post("/site/refresh", h.RefreshSite)
	r.Delete("/site/cache", h.InvalidateSite)

	// Lookups and archive import.
	r.Post("/events", h.ImportEvent)
	r.Get("/events/{id}", h.GetEvent)
	r.Delete("/events/{id}", h.DeleteEvent)
	r.Get("/documents/{token}", h.GetDocument)
	r.Get("/profiles/{pubkey}", h.GetProfile)

	// Search.
	r.Get("/search", h.Search)

	// Archive files.
	r.Get("/archive", ah.List)
	r.Post("/archive", ah.Upload)
	r.Get("/archive/*", ah.ServeFile)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/stream", sseHandler.ServeHTTP)
	}

	return r
}
