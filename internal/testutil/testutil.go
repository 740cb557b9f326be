// Package testutil provides shared test helpers for archives, databases and
// fake relays.
package testutil

import (
	"os"
	"strings"
	"testing"

	"github.com/starford/relink/internal/index"
	"github.com/starford/relink/internal/models"
	"github.com/starford/relink/internal/storage"
)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "relink-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestArchive creates a temporary archive directory with a storage.Provider.
func TestArchive(t *testing.T) (string, storage.Provider) {
	t.Helper()
	root := t.TempDir()
	store, err := storage.NewFS(root)
	if err != nil {
		t.Fatal(err)
	}
	return root, store
}

// HexID returns a 64-character id made of c.
func HexID(c byte) string { return strings.Repeat(string(c), 64) }

// Event builds a minimal valid event.
func Event(id byte, pubkey string, kind int, createdAt int64, content string, tags ...models.Tag) models.Event {
	if tags == nil {
		tags = []models.Tag{}
	}
	return models.Event{ID: HexID(id), PubKey: pubkey, Kind: kind, CreatedAt: createdAt, Content: content, Tags: tags}
}

// Profile builds a kind-0 event carrying name.
func Profile(id byte, pubkey, name string, createdAt int64) models.Event {
	return Event(id, pubkey, models.KindProfileMetadata, createdAt, `{"name":"`+name+`"}`)
}
