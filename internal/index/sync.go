package index

import (
	"log/slog"

	"github.com/starford/relink/internal/models"
	"github.com/starford/relink/internal/parser"
	"github.com/starford/relink/internal/storage"
)

// SyncReport counts the archive files touched by a sync pass.
type SyncReport struct {
	Indexed   int
	Unchanged int
	Removed   int
	Failed    int
}

// Sync brings the index in line with the archive: files whose checksum
// changed are re-indexed and files gone from disk lose their events.
func Sync(db *DB, archive storage.Provider, logger *slog.Logger) (SyncReport, error) {
	report, err := reconcileArchive(db, archive, logger, nil)
	if err != nil {
		return report, err
	}
	logger.Info("sync: archive indexed",
		slog.Int("indexed", report.Indexed),
		slog.Int("unchanged", report.Unchanged),
		slog.Int("removed", report.Removed),
		slog.Int("failed", report.Failed))
	return report, nil
}

func reconcileArchive(db *DB, archive storage.Provider, logger *slog.Logger, notify EventCallback) (SyncReport, error) {
	var report SyncReport
	files, err := archive.List("")
	if err != nil {
		return report, err
	}
	checksums, err := db.AllChecksums()
	if err != nil {
		return report, err
	}

	onDisk := make(map[string]struct{}, len(files))
	for _, f := range files {
		onDisk[f.Path] = struct{}{}
		if checksums[f.Path] == f.Checksum {
			report.Unchanged++
			continue
		}
		kind := ChangeUpdated
		if _, known := checksums[f.Path]; !known {
			kind = ChangeCreated
		}
		affected, err := indexPath(db, archive, f.Path, logger)
		if err != nil {
			report.Failed++
			logger.Warn("sync: index failed", slog.String("path", f.Path), slog.String("error", err.Error()))
			continue
		}
		report.Indexed++
		if notify != nil {
			notify(kind, f.Path, affected)
		}
	}

	for p := range checksums {
		if _, ok := onDisk[p]; ok {
			continue
		}
		removed, err := db.DeleteSource(p)
		if err != nil {
			report.Failed++
			logger.Warn("sync: delete failed", slog.String("path", p), slog.String("error", err.Error()))
			continue
		}
		report.Removed++
		if notify != nil {
			notify(ChangeDeleted, p, removed)
		}
	}
	return report, nil
}

func indexPath(db *DB, archive storage.Provider, path string, logger *slog.Logger) ([]models.Event, error) {
	data, err := archive.Read(path)
	if err != nil {
		return nil, err
	}
	return indexFile(db, path, data, logger)
}

// indexFile replaces the events indexed from path with those parsed from
// data. It returns the new events followed by previously indexed events the
// file no longer holds, so callers can invalidate both.
func indexFile(db *DB, path string, data []byte, logger *slog.Logger) ([]models.Event, error) {
	res, err := parser.ParseEvents(data)
	if err != nil {
		return nil, err
	}
	if res.Skipped > 0 {
		logger.Warn("index: skipped invalid events", slog.String("path", path), slog.Int("skipped", res.Skipped))
	}
	previous, err := db.eventsBySource(path)
	if err != nil {
		return nil, err
	}
	if err := db.ReplaceSource(path, storage.Checksum(data), res.Events); err != nil {
		return nil, err
	}

	affected := append([]models.Event(nil), res.Events...)
	kept := make(map[string]struct{}, len(res.Events))
	for _, ev := range res.Events {
		kept[ev.ID] = struct{}{}
	}
	for _, ev := range previous {
		if _, ok := kept[ev.ID]; !ok {
			affected = append(affected, ev)
		}
	}
	return affected, nil
}
