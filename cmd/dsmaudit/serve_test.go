package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dsmaudit/dsmaudit/internal/archive"
	"github.com/dsmaudit/dsmaudit/internal/audit"
	"github.com/dsmaudit/dsmaudit/internal/spool"
)

func newServeFixtures(t *testing.T) (*archive.Store, *spool.Spool) {
	t.Helper()

	dir := t.TempDir()
	store, err := archive.NewStore(filepath.Join(dir, "audit.duckdb"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	sp, err := spool.Open(filepath.Join(dir, "spool.jsonl"))
	if err != nil {
		t.Fatalf("Open spool: %v", err)
	}
	t.Cleanup(func() { _ = sp.Close() })

	return store, sp
}

func TestReplaySpool(t *testing.T) {
	store, sp := newServeFixtures(t)

	// Stage two runs the way a crashed collection would have left them.
	recs := []spool.Record{
		spool.FromSystem("run-a", audit.SystemEntry{
			Severity: "Information",
			Source:   audit.SourceSystem,
			Time:     "2025/06/01 10:00:00",
			User:     "admin",
			Event:    "User [admin] logged in",
		}),
		spool.FromFile("run-a", audit.FileEntry{
			Source: audit.SourceFileStation,
			Time:   "2025/06/01 10:05:00",
			IP:     "10.0.0.8",
			User:   "admin",
			Event:  "upload",
			Kind:   "file",
			Size:   "1 KB",
			Name:   "/share/a.txt",
		}),
		spool.FromSystem("run-b", audit.SystemEntry{
			Severity: "Warning",
			Source:   audit.SourceSystem,
			Time:     "2025/06/01 11:00:00",
			User:     "backup",
			Event:    "Failed to log in",
		}),
	}
	if _, err := sp.AppendBatch(recs); err != nil {
		t.Fatalf("AppendBatch: %v", err)
	}

	if err := replaySpool(sp, store); err != nil {
		t.Fatalf("replaySpool: %v", err)
	}

	count, err := store.TotalRecordCount()
	if err != nil {
		t.Fatalf("TotalRecordCount: %v", err)
	}
	if count != 3 {
		t.Fatalf("archived %d records after replay, want 3", count)
	}

	// Replayed records are committed; a second replay sees nothing.
	var leftover int
	if err := sp.Replay(func(uint64, spool.Record) error { leftover++; return nil }); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if leftover != 0 {
		t.Fatalf("%d uncommitted records after replay, want 0", leftover)
	}
}

func TestReplaySpoolEmpty(t *testing.T) {
	store, sp := newServeFixtures(t)

	if err := replaySpool(sp, store); err != nil {
		t.Fatalf("replaySpool on empty spool: %v", err)
	}
	count, err := store.TotalRecordCount()
	if err != nil {
		t.Fatalf("TotalRecordCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("archived %d records, want 0", count)
	}
}

func TestDaemonControllerStatus(t *testing.T) {
	store, sp := newServeFixtures(t)

	runID := "status-run"
	if err := store.BeginRun(runID, time.Now()); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	entries := []audit.SystemEntry{{
		Severity: "Information",
		Source:   audit.SourceSystem,
		Time:     "2025/06/01 10:00:00",
		User:     "admin",
		Event:    "User [admin] logged in",
	}}
	if err := store.InsertSystemEntries(runID, entries); err != nil {
		t.Fatalf("InsertSystemEntries: %v", err)
	}
	if err := store.FinishRun(runID, time.Now(), 1, 0, archive.RunCompleted); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	cfg := appConfig{DBPath: store.DBPath(), FetchInterval: time.Hour}
	d := newDaemonController(cfg, store, sp)

	st, err := d.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.RecordCount != 1 {
		t.Errorf("RecordCount = %d, want 1", st.RecordCount)
	}
	if st.LastRun == nil || st.LastRun.RunID != runID {
		t.Errorf("LastRun = %+v, want run %s", st.LastRun, runID)
	}
	if st.Collecting {
		t.Error("Collecting should be false while idle")
	}
	if st.PID != os.Getpid() {
		t.Errorf("PID = %d, want %d", st.PID, os.Getpid())
	}
	if st.FetchEvery != time.Hour {
		t.Errorf("FetchEvery = %s, want 1h", st.FetchEvery)
	}
}

func TestDaemonControllerStatusWhileCollecting(t *testing.T) {
	store, sp := newServeFixtures(t)

	d := newDaemonController(appConfig{DBPath: store.DBPath()}, store, sp)
	d.collectMu.Lock()
	defer d.collectMu.Unlock()

	st, err := d.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !st.Collecting {
		t.Error("Collecting should be true while the lock is held")
	}
}

func TestRunCollectionBusy(t *testing.T) {
	d := newDaemonController(appConfig{}, nil, nil)
	d.collectMu.Lock()
	defer d.collectMu.Unlock()

	_, err := d.runCollection(context.Background())
	if !errors.Is(err, errCollectBusy) {
		t.Fatalf("err = %v, want errCollectBusy", err)
	}
}

func TestCollectNowUnconfigured(t *testing.T) {
	d := newDaemonController(appConfig{}, nil, nil)

	_, err := d.CollectNow()
	if err == nil || !strings.Contains(err.Error(), "not configured") {
		t.Fatalf("err = %v, want not-configured error", err)
	}
}

func TestDaemonControllerRecentRunsDefaultLimit(t *testing.T) {
	store, sp := newServeFixtures(t)

	for _, runID := range []string{"run-1", "run-2", "run-3"} {
		if err := store.BeginRun(runID, time.Now()); err != nil {
			t.Fatalf("BeginRun %s: %v", runID, err)
		}
		if err := store.FinishRun(runID, time.Now(), 0, 0, archive.RunCompleted); err != nil {
			t.Fatalf("FinishRun %s: %v", runID, err)
		}
	}

	d := newDaemonController(appConfig{}, store, sp)

	runs, err := d.RecentRuns(0)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("got %d runs, want 3", len(runs))
	}

	runs, err = d.RecentRuns(2)
	if err != nil {
		t.Fatalf("RecentRuns(2): %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
}
