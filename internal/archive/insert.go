package archive

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/dsmaudit/dsmaudit/internal/audit"
)

// BeginRun records the start of a collection run.
func (s *Store) BeginRun(runID string, started time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO collection_runs (run_id, started_at, status) VALUES (?, ?, ?)`,
		runID, started, RunRunning)
	if err != nil {
		return fmt.Errorf("begin run %s: %w", runID, err)
	}
	return nil
}

// FinishRun closes a run with its final counts and status.
func (s *Store) FinishRun(runID string, finished time.Time, systemCount, fileCount int, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`UPDATE collection_runs SET finished_at = ?, system_count = ?, file_count = ?, status = ? WHERE run_id = ?`,
		finished, systemCount, fileCount, status, runID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	return nil
}

// auditRow is the flattened insert shape shared by both log sources.
type auditRow struct {
	runID     string
	source    string
	severity  string
	eventTime string
	username  string
	ip        string
	operation string
	event     string
	itemKind  string
	itemSize  string
	itemName  string
}

// InsertSystemEntries archives normalized system events under a run.
func (s *Store) InsertSystemEntries(runID string, entries []audit.SystemEntry) error {
	rows := make([]auditRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, auditRow{
			runID:     runID,
			source:    e.Source,
			severity:  e.Severity,
			eventTime: e.Time,
			username:  e.User,
			event:     e.Event,
		})
	}
	return s.insertRows(rows)
}

// InsertFileEntries archives normalized File Station events under a
// run.
func (s *Store) InsertFileEntries(runID string, entries []audit.FileEntry) error {
	rows := make([]auditRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, auditRow{
			runID:     runID,
			source:    e.Source,
			eventTime: e.Time,
			username:  e.User,
			ip:        e.IP,
			operation: e.Event,
			event:     e.Event,
			itemKind:  e.Kind,
			itemSize:  e.Size,
			itemName:  e.Name,
		})
	}
	return s.insertRows(rows)
}

// insertRows appends a batch in a single transaction. If the batch
// fails it is retried row by row to salvage what it can; unsalvageable
// rows are logged and dropped.
func (s *Store) insertRows(rows []auditRow) error {
	if len(rows) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	if err := s.insertRowsTx(ctx, rows); err == nil {
		return nil
	}

	var dropped int
	for _, r := range rows {
		if rerr := s.insertRowsTx(ctx, []auditRow{r}); rerr != nil {
			dropped++
			log.Printf("archive: dropping record (source=%s user=%s): %v", r.source, r.username, rerr)
		}
	}
	if dropped > 0 {
		log.Printf("archive: batch partially failed, %d/%d records dropped", dropped, len(rows))
	}
	return nil
}

func (s *Store) insertRowsTx(ctx context.Context, rows []auditRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO audit_log
		(run_id, source, severity, event_time, username, ip, operation, event, item_kind, item_size, item_name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx,
			r.runID, r.source, r.severity, r.eventTime, r.username,
			r.ip, r.operation, r.event, r.itemKind, r.itemSize, r.itemName,
		); err != nil {
			return fmt.Errorf("record insert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}
