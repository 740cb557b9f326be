//go:build !sqlite_fts5

package index

import (
	"database/sql"
	"fmt"
)

func initFTS(_ *sql.DB) error {
	// FTS5 not available; search uses LIKE over events.content.
	return nil
}

func ftsUpsert(_ *sql.Tx, _, _, _ string) error {
	// Content is already stored in the events table.
	return nil
}

func ftsDelete(_ *sql.Tx, _ string) {}

// Search performs a LIKE-based search (fallback when FTS5 is not compiled in).
func (db *DB) Search(query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	like := "%" + query + "%"
	rows, err := db.conn.Query(`
		SELECT id, kind, pubkey, tags, substr(content, 1, 200)
		FROM events
		WHERE content LIKE ? OR tags LIKE ?
		ORDER BY created_at DESC
		LIMIT ?
	`, like, like, limit)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		var tags string
		if err := rows.Scan(&r.ID, &r.Kind, &r.PubKey, &tags, &r.Snippet); err != nil {
			return nil, err
		}
		r.Title = titleFromTags(tags)
		out = append(out, r)
	}
	return out, rows.Err()
}
