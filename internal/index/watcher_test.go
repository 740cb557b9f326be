package index

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/starford/relink/internal/models"
	"github.com/starford/relink/internal/storage"
)

func archiveFile(id byte) []byte {
	return []byte(`{"id":"` + hexID(id) + `","pubkey":"` + pkAlice + `","created_at":100,"kind":1,"tags":[],"content":"hi"}`)
}

// watcherTestEnv sets up an archive dir, storage, and DB for watcher tests.
func watcherTestEnv(t *testing.T) (string, *storage.FS, *DB) {
	t.Helper()
	root := t.TempDir()
	store, err := storage.NewFS(root)
	if err != nil {
		t.Fatal(err)
	}
	return root, store, testDB(t)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func TestSync_IndexesAndRemoves(t *testing.T) {
	root, store, db := watcherTestEnv(t)
	logger := quietLogger()

	_ = os.WriteFile(filepath.Join(root, "a.json"), archiveFile('1'), 0o644)
	_ = os.WriteFile(filepath.Join(root, "notes.txt"), []byte("ignored"), 0o644)
	report, err := Sync(db, store, logger)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if report.Indexed != 1 || report.Removed != 0 {
		t.Errorf("report = %+v, want one indexed file", report)
	}
	if _, err := db.FindEvent(context.Background(), hexID('1')); err != nil {
		t.Fatalf("event not indexed: %v", err)
	}

	report, err = Sync(db, store, logger)
	if err != nil || report.Unchanged != 1 || report.Indexed != 0 {
		t.Errorf("second sync = %+v, %v, want one unchanged file", report, err)
	}

	_ = os.Remove(filepath.Join(root, "a.json"))
	report, err = Sync(db, store, logger)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if report.Removed != 1 {
		t.Errorf("report = %+v, want one removed file", report)
	}
	if n, _ := db.CountEvents(); n != 0 {
		t.Errorf("count = %d, want 0", n)
	}
}

func TestWatcher_NewFileIndexed(t *testing.T) {
	root, store, db := watcherTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var changes []string
	var seen []models.Event

	go Watch(ctx, db, store, quietLogger(), func(kind, path string, events []models.Event) {
		mu.Lock()
		changes = append(changes, kind+":"+path)
		seen = append(seen, events...)
		mu.Unlock()
	})

	time.Sleep(100 * time.Millisecond)

	_ = os.WriteFile(filepath.Join(root, "new.json"), archiveFile('1'), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		cs, _ := db.GetChecksum("new.json")
		return cs != ""
	}, "new file not indexed by watcher")

	eventually(t, 2*time.Second, 50*time.Millisecond, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, c := range changes {
			if c == "created:new.json" || c == "updated:new.json" {
				return len(seen) > 0 && seen[0].ID == hexID('1')
			}
		}
		return false
	}, "expected callback for new.json with its events")
}

func TestWatcher_NewDirWatched(t *testing.T) {
	root, store, db := watcherTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go Watch(ctx, db, store, quietLogger(), nil)

	time.Sleep(100 * time.Millisecond)

	subDir := filepath.Join(root, "subdir")
	_ = os.MkdirAll(subDir, 0o755)
	time.Sleep(100 * time.Millisecond)

	_ = os.WriteFile(filepath.Join(subDir, "deep.jsonl"), archiveFile('2'), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		cs, _ := db.GetChecksum("subdir/deep.jsonl")
		return cs != ""
	}, "file in new subdir not indexed by watcher")
}

func TestWatcher_DeleteReportsRemovedEvents(t *testing.T) {
	root, store, db := watcherTestEnv(t)
	logger := quietLogger()

	_ = os.WriteFile(filepath.Join(root, "del.json"), archiveFile('3'), 0o644)
	_, _ = Sync(db, store, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var removed []models.Event
	go Watch(ctx, db, store, logger, func(kind, _ string, events []models.Event) {
		if kind != ChangeDeleted {
			return
		}
		mu.Lock()
		removed = append(removed, events...)
		mu.Unlock()
	})
	time.Sleep(100 * time.Millisecond)

	_ = os.Remove(filepath.Join(root, "del.json"))

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		cs, _ := db.GetChecksum("del.json")
		return cs == ""
	}, "deleted file still in index")

	eventually(t, 2*time.Second, 50*time.Millisecond, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(removed) == 1 && removed[0].ID == hexID('3')
	}, "expected removed event in delete callback")
}

func TestWatcher_RenameReconciles(t *testing.T) {
	root, store, db := watcherTestEnv(t)
	logger := quietLogger()

	_ = os.WriteFile(filepath.Join(root, "old.json"), archiveFile('4'), 0o644)
	_, _ = Sync(db, store, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go Watch(ctx, db, store, logger, nil)
	time.Sleep(100 * time.Millisecond)

	_ = os.Rename(filepath.Join(root, "old.json"), filepath.Join(root, "renamed.json"))

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		oldCS, _ := db.GetChecksum("old.json")
		newCS, _ := db.GetChecksum("renamed.json")
		return oldCS == "" && newCS != ""
	}, "rename reconciliation failed: old path should be removed and new path indexed")
}

func TestWatcher_UpdateReportsReplacedEvents(t *testing.T) {
	root, store, db := watcherTestEnv(t)
	logger := quietLogger()
	path := filepath.Join(root, "batch.jsonl")

	_ = os.WriteFile(path, archiveFile('5'), 0o644)
	_, _ = Sync(db, store, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []string
	go Watch(ctx, db, store, logger, func(kind, _ string, events []models.Event) {
		if kind != ChangeUpdated {
			return
		}
		mu.Lock()
		for _, ev := range events {
			got = append(got, ev.ID)
		}
		mu.Unlock()
	})
	time.Sleep(100 * time.Millisecond)

	_ = os.WriteFile(path, archiveFile('6'), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2 && got[0] == hexID('6') && got[1] == hexID('5')
	}, "update should report the new event and the one it replaced")

	if _, err := db.FindEvent(context.Background(), hexID('5')); err == nil {
		t.Error("replaced event still indexed")
	}
}

func TestWatcher_UnchangedFileNotReported(t *testing.T) {
	root, store, db := watcherTestEnv(t)
	logger := quietLogger()
	path := filepath.Join(root, "same.json")

	_ = os.WriteFile(path, archiveFile('7'), 0o644)
	_, _ = Sync(db, store, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	calls := 0
	go Watch(ctx, db, store, logger, func(string, string, []models.Event) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	time.Sleep(100 * time.Millisecond)

	// Rewriting identical content leaves the index alone.
	_ = os.WriteFile(path, archiveFile('7'), 0o644)
	time.Sleep(3 * settleDelay)

	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Errorf("callback calls = %d, want 0", calls)
	}
}
