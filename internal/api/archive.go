package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	pathpkg "path"
	"strings"

	"github.com/starford/relink/internal/apperr"
	"github.com/starford/relink/internal/eventservice"
)

const maxUploadBytes = 50 << 20 // 50 MB

// ArchiveHandler lists, serves and accepts archive files.
type ArchiveHandler struct {
	svc *eventservice.Service
}

// NewArchiveHandler creates a handler over the event archive.
func NewArchiveHandler(svc *eventservice.Service) *ArchiveHandler {
	return &ArchiveHandler{svc: svc}
}

// List handles GET /api/archive.
//
//	@Summary		List archive event files
//	@Tags			archive
//	@Produce		json
//	@Param			dir	query		string	false	"Directory to list (empty for all)"
//	@Success		200	{object}	ArchiveListResponse
//	@Security		BearerAuth
//	@Router			/archive [get]
func (h *ArchiveHandler) List(w http.ResponseWriter, r *http.Request) {
	dir := r.URL.Query().Get("dir")
	files, err := h.svc.ListArchive(dir)
	if errors.Is(err, apperr.ErrNotFound) {
		writeError(w, "list archive", err)
		return
	}
	if err != nil {
		slog.Error("list archive failed", slog.String("dir", dir), slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, errorBody("cannot list directory"))
		return
	}
	writeJSON(w, http.StatusOK, ArchiveListResponse{Files: nonNil(files)})
}

// ServeFile handles GET /api/archive/*.
func (h *ArchiveHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(urlParam(r, "*"), "/")
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	data, err := h.svc.ReadArchive(path)
	if err != nil {
		writeError(w, "read archive", err, slog.String("path", path))
		return
	}
	contentType := "application/json"
	switch strings.ToLower(pathpkg.Ext(path)) {
	case ".jsonl", ".ndjson":
		contentType = "application/x-ndjson"
	}
	w.Header().Set("Content-Type", contentType)
	_, _ = w.Write(data)
}

// Upload handles POST /api/archive (multipart/form-data, field "file").
//
//	@Summary		Upload a JSON or JSON Lines event file
//	@Tags			archive
//	@Accept			mpfd
//	@Produce		json
//	@Param			file	formData	file	true	"Event file (.json or .jsonl)"
//	@Success		201		{object}	FileImport
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/archive [post]
func (h *ArchiveHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read file"))
		return
	}

	res, err := h.svc.ImportFile(r.Context(), header.Filename, data)
	if err != nil {
		writeError(w, "upload archive", err, slog.String("filename", header.Filename))
		return
	}
	writeJSON(w, http.StatusCreated, res)
}
