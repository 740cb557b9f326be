// Package storage keeps the archive of event files that seeds the local
// index. Files hold one JSON event, a JSON array of events, or JSON Lines.
package storage

import (
	"path"
	"strings"

	"github.com/starford/relink/internal/models"
)

// Provider is the archive seen by the index and the event service. Missing
// files are reported as apperr.ErrNotFound.
type Provider interface {
	List(dir string) ([]models.ArchiveFile, error)
	Read(path string) ([]byte, error)
	Write(path string, content []byte) error
	// Create is Write without replacing an existing file.
	Create(path string, content []byte) error
	Delete(path string) error
}

// IsEventFile reports whether name holds archived events.
func IsEventFile(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".json", ".jsonl", ".ndjson":
		return true
	}
	return false
}
