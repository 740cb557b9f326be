package index

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/relink/internal/models"
	"github.com/starford/relink/internal/storage"
)

// Change kinds reported to an EventCallback.
const (
	ChangeCreated = "created"
	ChangeUpdated = "updated"
	ChangeDeleted = "deleted"
)

// settleDelay is how long a file must stay quiet before it is indexed.
// JSON Lines files are often appended in several writes.
const settleDelay = 150 * time.Millisecond

// EventCallback is called after the watcher changes the index. For created
// and updated files events holds the indexed events plus any the file no
// longer contains; for deleted files it holds the removed events.
type EventCallback func(kind string, path string, events []models.Event)

// Archive is the archive directory as seen by the watcher.
type Archive interface {
	storage.Provider
	Root() string
	Rel(abs string) (string, error)
}

type pendingFile struct {
	created bool
	due     time.Time
}

// Watch keeps the index in step with the archive until ctx is cancelled.
// Writes are indexed once the file settles, and only when its checksum
// differs from the indexed one. Renames trigger a full reconciliation.
func Watch(ctx context.Context, db *DB, archive Archive, logger *slog.Logger, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, archive.Root()); err != nil {
		return err
	}
	logger.Info("watcher: started", slog.String("root", archive.Root()))

	notify := func(kind, path string, events []models.Event) {
		if cb != nil && len(events) > 0 {
			cb(kind, path, events)
		}
	}

	pending := make(map[string]pendingFile)
	tick := time.NewTicker(settleDelay / 3)
	defer tick.Stop()
	reconcileAt := time.Time{}

	for {
		select {
		case <-ctx.Done():
			logger.Info("watcher: stopped")
			return nil

		case now := <-tick.C:
			for rel, p := range pending {
				if now.Before(p.due) {
					continue
				}
				delete(pending, rel)
				indexChanged(db, archive, rel, p.created, logger, notify)
			}
			if !reconcileAt.IsZero() && !now.Before(reconcileAt) {
				reconcileAt = time.Time{}
				if _, err := reconcileArchive(db, archive, logger, notify); err != nil {
					logger.Warn("watcher: reconcile failed", slog.String("error", err.Error()))
				}
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					}
					// Files may land before the directory is watched.
					reconcileAt = time.Now().Add(settleDelay)
					continue
				}
			}
			name := filepath.Base(ev.Name)
			if strings.HasPrefix(name, ".") || !storage.IsEventFile(name) {
				continue
			}
			rel, relErr := archive.Rel(ev.Name)
			if relErr != nil {
				continue
			}

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				p := pending[rel]
				p.created = p.created || ev.Op&fsnotify.Create != 0
				p.due = time.Now().Add(settleDelay)
				pending[rel] = p

			case ev.Op&fsnotify.Remove != 0:
				delete(pending, rel)
				removed, delErr := db.DeleteSource(rel)
				if delErr != nil {
					logger.Warn("watcher: delete failed", slog.String("path", rel), slog.String("error", delErr.Error()))
					continue
				}
				logger.Debug("watcher: deleted", slog.String("path", rel))
				notify(ChangeDeleted, rel, removed)

			case ev.Op&fsnotify.Rename != 0:
				// Only the old path is reported; the new one shows up in the
				// reconciliation pass.
				delete(pending, rel)
				reconcileAt = time.Now().Add(settleDelay)
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func indexChanged(db *DB, archive Archive, rel string, created bool, logger *slog.Logger, notify EventCallback) {
	data, err := archive.Read(rel)
	if err != nil {
		logger.Warn("watcher: read failed", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}
	if cs, _ := db.GetChecksum(rel); cs == storage.Checksum(data) {
		return
	}
	events, err := indexFile(db, rel, data, logger)
	if err != nil {
		logger.Warn("watcher: index failed", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}
	kind := ChangeUpdated
	if created {
		kind = ChangeCreated
	}
	logger.Debug("watcher: indexed", slog.String("path", rel), slog.String("op", kind), slog.Int("events", len(events)))
	notify(kind, rel, events)
}

// addDirsRecursive watches root and every non-hidden directory below it.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
