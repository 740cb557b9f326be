package models

import "time"

// ArchiveFile is a lightweight listing entry for an event file in the archive.
type ArchiveFile struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}
