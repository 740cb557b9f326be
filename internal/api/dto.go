package api

import (
	"github.com/starford/relink/internal/eventservice"
	"github.com/starford/relink/internal/index"
	"github.com/starford/relink/internal/models"
	"github.com/starford/relink/internal/nostrid"
	"github.com/starford/relink/internal/pipeline"
)

// TextRequest is the request body for rendering or scanning text.
type TextRequest struct {
	Text string `json:"text" example:"gm nostr:npub1..." validate:"required"`
}

// RenderResponse is the rendered text (aliased from the pipeline).
type RenderResponse = pipeline.Result

// ReferencesResponse lists the references found in a text.
type ReferencesResponse struct {
	References  []nostrid.Reference `json:"references" validate:"required"`
	Occurrences int                 `json:"occurrences" example:"3" validate:"required"`
	Undecodable []string            `json:"undecodable" validate:"required"`
}

// EventDetail is an event with its identifiers (aliased from the domain layer).
type EventDetail = eventservice.EventDetail

// ImportResult describes an imported event (aliased from the domain layer).
type ImportResult = eventservice.ImportResult

// FileImport describes an uploaded archive file (aliased from the domain layer).
type FileImport = eventservice.FileImport

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []index.SearchResult `json:"results" validate:"required"`
}

// ArchiveListResponse lists archive files.
type ArchiveListResponse struct {
	Files []models.ArchiveFile `json:"files" validate:"required"`
}
