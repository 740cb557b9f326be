package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/starford/relink/internal/apperr"
	"github.com/starford/relink/internal/models"
)

// SearchResult represents one search hit.
type SearchResult struct {
	ID      string `json:"id"`
	Kind    int    `json:"kind"`
	PubKey  string `json:"pubkey"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

const eventColumns = `id, pubkey, created_at, kind, tags, content, sig`

// SaveEvent stores an event fetched from the network. Events already
// tracked by an archive file keep their source.
func (db *DB) SaveEvent(ctx context.Context, ev models.Event) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if err := upsertEvent(tx, ev, ""); err != nil {
		return err
	}
	return tx.Commit()
}

// ReplaceSource swaps every event indexed from an archive file for events and
// records the file checksum, all in one transaction.
func (db *DB) ReplaceSource(path, checksum string, events []models.Event) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := deleteSource(tx, path); err != nil {
		return err
	}
	for _, ev := range events {
		if err := upsertEvent(tx, ev, path); err != nil {
			return err
		}
	}
	_, err = tx.Exec(`
		INSERT INTO archive_files (path, checksum) VALUES (?, ?)
		ON CONFLICT(path) DO UPDATE SET checksum = excluded.checksum
	`, path, checksum)
	if err != nil {
		return fmt.Errorf("index: record checksum: %w", err)
	}
	return tx.Commit()
}

// DeleteSource removes an archive file's events and checksum, returning the
// events that were removed.
func (db *DB) DeleteSource(path string) ([]models.Event, error) {
	removed, err := db.eventsBySource(path)
	if err != nil {
		return nil, err
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := deleteSource(tx, path); err != nil {
		return nil, err
	}
	_, _ = tx.Exec(`DELETE FROM archive_files WHERE path = ?`, path)
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("index: commit: %w", err)
	}
	return removed, nil
}

// DeleteEvent removes a single event regardless of source.
func (db *DB) DeleteEvent(id string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ftsDelete(tx, id)
	res, err := tx.Exec(`DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("index: delete event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	return tx.Commit()
}

// FindEvent looks an event up by id.
func (db *DB) FindEvent(ctx context.Context, id string) (*models.Event, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	return scanEvent(row)
}

// FindProfile returns the newest kind-0 event of pubkey.
func (db *DB) FindProfile(ctx context.Context, pubkey string) (*models.Event, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE pubkey = ? AND kind = ?
		ORDER BY created_at DESC, id ASC
		LIMIT 1
	`, pubkey, models.KindProfileMetadata)
	return scanEvent(row)
}

// FindAddressable returns the newest version of an addressable document.
func (db *DB) FindAddressable(ctx context.Context, kind int, author, slug string) (*models.Event, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE kind = ? AND pubkey = ? AND d_tag = ?
		ORDER BY created_at DESC, id ASC
		LIMIT 1
	`, kind, author, slug)
	return scanEvent(row)
}

// GetChecksum returns the stored checksum for an archive file, or "" if unknown.
func (db *DB) GetChecksum(path string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM archive_files WHERE path = ?`, path).Scan(&cs)
	if err != nil {
		return "", nil // not found is fine
	}
	return cs, nil
}

// AllChecksums returns every tracked archive file with its checksum.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, checksum FROM archive_files`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}

// CountEvents returns the number of stored events.
func (db *DB) CountEvents() (int, error) {
	var n int
	if err := db.conn.QueryRow(`SELECT count(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("index: count events: %w", err)
	}
	return n, nil
}

func (db *DB) eventsBySource(path string) ([]models.Event, error) {
	rows, err := db.conn.Query(`SELECT `+eventColumns+` FROM events WHERE source = ?`, path)
	if err != nil {
		return nil, fmt.Errorf("index: events by source: %w", err)
	}
	defer rows.Close()
	var out []models.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ev)
	}
	return out, rows.Err()
}

func upsertEvent(tx *sql.Tx, ev models.Event, source string) error {
	tags := ev.Tags
	if tags == nil {
		tags = []models.Tag{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("index: marshal tags: %w", err)
	}
	_, err = tx.Exec(`
		INSERT INTO events (id, pubkey, created_at, kind, d_tag, tags, content, sig, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source = CASE WHEN excluded.source != '' THEN excluded.source ELSE events.source END
	`, ev.ID, ev.PubKey, ev.CreatedAt, ev.Kind, ev.Slug(), string(tagsJSON), ev.Content, ev.Sig, source)
	if err != nil {
		return fmt.Errorf("index: upsert event: %w", err)
	}
	return ftsUpsert(tx, ev.ID, ev.TagValue("title"), ev.Content)
}

func deleteSource(tx *sql.Tx, path string) error {
	rows, err := tx.Query(`SELECT id FROM events WHERE source = ?`, path)
	if err != nil {
		return fmt.Errorf("index: list source: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	rows.Close()
	for _, id := range ids {
		ftsDelete(tx, id)
	}
	if _, err := tx.Exec(`DELETE FROM events WHERE source = ?`, path); err != nil {
		return fmt.Errorf("index: delete source: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(s scanner) (*models.Event, error) {
	var ev models.Event
	var tags string
	if err := s.Scan(&ev.ID, &ev.PubKey, &ev.CreatedAt, &ev.Kind, &tags, &ev.Content, &ev.Sig); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("index: scan event: %w", err)
	}
	if err := json.Unmarshal([]byte(tags), &ev.Tags); err != nil {
		return nil, fmt.Errorf("index: decode tags: %w", err)
	}
	return &ev, nil
}
