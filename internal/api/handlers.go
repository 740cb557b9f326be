package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/relink/internal/eventservice"
	"github.com/starford/relink/internal/models"
)

const maxBodyBytes = 10 << 20

// Handler holds API route handlers.
type Handler struct {
	svc *eventservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *eventservice.Service) *Handler {
	return &Handler{svc: svc}
}

// urlParam returns a path parameter, unescaping values sent percent-encoded.
func urlParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// decodeText reads a {"text": "..."} body.
func decodeText(w http.ResponseWriter, r *http.Request) (string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req TextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return "", false
	}
	return req.Text, true
}

// Render handles POST /api/render.
//
//	@Summary		Resolve and render every reference in a text
//	@Tags			render
//	@Accept			json
//	@Produce		json
//	@Param			body	body		TextRequest	true	"Text to render"
//	@Success		200		{object}	RenderResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/render [post]
func (h *Handler) Render(w http.ResponseWriter, r *http.Request) {
	text, ok := decodeText(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Render(r.Context(), text))
}

// References handles POST /api/references.
//
//	@Summary		List the references found in a text without resolving them
//	@Tags			render
//	@Accept			json
//	@Produce		json
//	@Param			body	body		TextRequest	true	"Text to scan"
//	@Success		200		{object}	ReferencesResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/references [post]
func (h *Handler) References(w http.ResponseWriter, r *http.Request) {
	text, ok := decodeText(w, r)
	if !ok {
		return
	}
	c := h.svc.References(text)
	writeJSON(w, http.StatusOK, ReferencesResponse{
		References:  nonNil(c.References),
		Occurrences: len(c.Occurrences),
		Undecodable: nonNil(c.Undecodable),
	})
}

// Decode handles GET /api/decode/{token}.
//
//	@Summary		Decode an identifier or coordinate
//	@Tags			render
//	@Produce		json
//	@Param			token	path		string	true	"npub, nprofile, note, nevent, naddr or kind:author:slug"
//	@Success		200		{object}	nostrid.Reference
//	@Failure		400		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/decode/{token} [get]
func (h *Handler) Decode(w http.ResponseWriter, r *http.Request) {
	token := urlParam(r, "token")
	ref, err := h.svc.Decode(token)
	if err != nil {
		writeError(w, "decode", err, slog.String("token", token))
		return
	}
	writeJSON(w, http.StatusOK, ref)
}

// GetSite handles GET /api/site.
//
//	@Summary		Get the site configuration
//	@Tags			site
//	@Produce		json
//	@Param			address	query		string	false	"Coordinate or naddr (defaults to the configured site)"
//	@Param			theme	query		string	false	"Theme to apply"
//	@Success		200		{object}	models.SiteConfig
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/site [get]
func (h *Handler) GetSite(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cfg, err := h.svc.Site(r.Context(), q.Get("address"), q.Get("theme"))
	if err != nil {
		writeError(w, "get site", err, slog.String("address", q.Get("address")))
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// RefreshSite handles POST /api/site/refresh.
//
//	@Summary		Re-fetch the site configuration
//	@Tags			site
//	@Produce		json
//	@Param			address	query		string	false	"Coordinate or naddr (defaults to the configured site)"
//	@Param			theme	query		string	false	"Theme to apply"
//	@Success		200		{object}	models.SiteConfig
//	@Failure		404		{object}	errResponse
//	@Failure		502		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/site/refresh [post]
func (h *Handler) RefreshSite(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cfg, err := h.svc.RefreshSite(r.Context(), q.Get("address"), q.Get("theme"))
	if err != nil {
		writeError(w, "refresh site", err, slog.String("address", q.Get("address")))
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// InvalidateSite handles DELETE /api/site/cache.
//
//	@Summary		Drop the cached site configuration
//	@Tags			site
//	@Param			address	query	string	false	"Coordinate or naddr (defaults to the configured site)"
//	@Success		204		"Cache entry dropped"
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/site/cache [delete]
func (h *Handler) InvalidateSite(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if err := h.svc.InvalidateSite(r.Context(), address); err != nil {
		writeError(w, "invalidate site", err, slog.String("address", address))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetEvent handles GET /api/events/{id}.
//
//	@Summary		Look an event up locally, then on relays
//	@Tags			events
//	@Produce		json
//	@Param			id	path		string	true	"Event id (64 hex characters)"
//	@Success		200	{object}	EventDetail
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/events/{id} [get]
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	ev, err := h.svc.GetEvent(r.Context(), id)
	if err != nil {
		writeError(w, "get event", err, slog.String("id", id))
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// ImportEvent handles POST /api/events.
//
//	@Summary		Store an event in the archive and index it
//	@Tags			events
//	@Accept			json
//	@Produce		json
//	@Param			body	body		models.Event	true	"Event to import"
//	@Success		201		{object}	ImportResult
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/events [post]
func (h *Handler) ImportEvent(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var ev models.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	res, err := h.svc.ImportEvent(r.Context(), ev)
	if err != nil {
		writeError(w, "import event", err, slog.String("id", ev.ID))
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// DeleteEvent handles DELETE /api/events/{id}.
//
//	@Summary		Remove an event from the archive and index
//	@Tags			events
//	@Param			id	path	string	true	"Event id"
//	@Success		204	"Event deleted"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/events/{id} [delete]
func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if _, err := h.svc.DeleteEvent(r.Context(), id); err != nil {
		writeError(w, "delete event", err, slog.String("id", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetDocument handles GET /api/documents/{token}.
//
//	@Summary		Resolve an addressable document
//	@Tags			events
//	@Produce		json
//	@Param			token	path		string	true	"naddr or kind:author:slug"
//	@Success		200		{object}	EventDetail
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{token} [get]
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	token := urlParam(r, "token")
	doc, err := h.svc.GetDocument(r.Context(), token)
	if err != nil {
		writeError(w, "get document", err, slog.String("token", token))
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// GetProfile handles GET /api/profiles/{pubkey}.
//
//	@Summary		Get the newest profile of an author
//	@Tags			events
//	@Produce		json
//	@Param			pubkey	path		string	true	"Author public key (hex)"
//	@Success		200		{object}	models.Profile
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/profiles/{pubkey} [get]
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	pubkey := urlParam(r, "pubkey")
	p, err := h.svc.GetProfile(r.Context(), pubkey)
	if err != nil {
		writeError(w, "get profile", err, slog.String("pubkey", pubkey))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Search handles GET /api/search.
//
//	@Summary		Full-text search across indexed events
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		writeError(w, "search", err, slog.String("query", q))
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: nonNil(results)})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
