package archive

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"
)

// dangerousKeywordPattern matches write and DDL keywords at word
// boundaries, so "RESET" does not trip over "SET". Applied after
// comment stripping and semicolon rejection.
var dangerousKeywordPattern = regexp.MustCompile(
	`(?i)\b(INSERT|UPDATE|DELETE|DROP|CREATE|ALTER|TRUNCATE|COPY|ATTACH|LOAD|EXPORT|IMPORT|INSTALL|CALL|EXECUTE|PRAGMA|SET)\b`,
)

var blockCommentPattern = regexp.MustCompile(`/\*[\s\S]*?\*/`)

// stripSQLComments removes -- line comments and /* */ block comments.
func stripSQLComments(query string) string {
	cleaned := blockCommentPattern.ReplaceAllString(query, " ")
	var result strings.Builder
	for _, line := range strings.Split(cleaned, "\n") {
		if idx := strings.Index(line, "--"); idx >= 0 {
			line = line[:idx]
		}
		result.WriteString(line)
		result.WriteByte('\n')
	}
	return result.String()
}

// queryCtx returns a context bounded by the store's query timeout.
func (s *Store) queryCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.QueryTimeout)
}

// RecentLogs returns archived records, newest first. An empty source
// returns both log types.
func (s *Store) RecentLogs(source string, limit int) ([]ArchivedLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	query := `SELECT id, run_id, collected_at, source, severity, event_time, username, ip, operation, event, item_kind, item_size, item_name
		FROM audit_log`
	var args []any
	if source != "" {
		query += ` WHERE source = ?`
		args = append(args, source)
	}
	query += ` ORDER BY collected_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ArchivedLog
	for rows.Next() {
		var l ArchivedLog
		if err := rows.Scan(&l.ID, &l.RunID, &l.CollectedAt, &l.Source, &l.Severity, &l.EventTime,
			&l.Username, &l.IP, &l.Operation, &l.Event, &l.ItemKind, &l.ItemSize, &l.ItemName); err != nil {
			log.Printf("archive scan error (RecentLogs): %v", err)
			continue
		}
		results = append(results, l)
	}
	return results, rows.Err()
}

// SeverityCounts returns the archived system event count per severity
// label.
func (s *Store) SeverityCounts() (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT severity, COUNT(*) FROM audit_log WHERE source = 'System' GROUP BY severity`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]int64)
	for rows.Next() {
		var severity string
		var count int64
		if err := rows.Scan(&severity, &count); err != nil {
			log.Printf("archive scan error (SeverityCounts): %v", err)
			continue
		}
		result[severity] = count
	}
	return result, rows.Err()
}

// TopUsers ranks archived File Station activity by user, the SQL
// mirror of the in-memory ranking. The operation matches by
// containment, so "Upload" counts every upload-labeled event.
func (s *Store) TopUsers(operation string, limit int) ([]UserCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT username, COUNT(*) AS count
		FROM audit_log
		WHERE source = 'FileStation' AND operation LIKE '%' || ? || '%'
		GROUP BY username
		ORDER BY count DESC, username ASC
		LIMIT ?`, operation, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []UserCount
	for rows.Next() {
		var uc UserCount
		if err := rows.Scan(&uc.Username, &uc.Count); err != nil {
			log.Printf("archive scan error (TopUsers): %v", err)
			continue
		}
		results = append(results, uc)
	}
	return results, rows.Err()
}

// Runs returns collection run summaries, newest first.
func (s *Store) Runs(limit int) ([]RunInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, started_at, finished_at, system_count, file_count, status
		FROM collection_runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []RunInfo
	for rows.Next() {
		var r RunInfo
		var finished sql.NullTime
		if err := rows.Scan(&r.RunID, &r.StartedAt, &finished, &r.SystemCount, &r.FileCount, &r.Status); err != nil {
			log.Printf("archive scan error (Runs): %v", err)
			continue
		}
		if finished.Valid {
			r.FinishedAt = finished.Time
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// TotalRecordCount returns the number of archived records.
func (s *Store) TotalRecordCount() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_log`).Scan(&count)
	return count, err
}

// TableRowCounts returns the row count per known table.
func (s *Store) TableRowCounts() (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	// Table names come from a fixed allowlist, never from input.
	tables := []string{"audit_log", "collection_runs"}
	counts := make(map[string]int64, len(tables))
	for _, table := range tables {
		var count int64
		if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count); err != nil {
			continue
		}
		counts[table] = count
	}
	return counts, nil
}

// DeleteBefore removes archived records collected before the cutoff
// and reports how many were deleted. Run bookkeeping is kept.
func (s *Store) DeleteBefore(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_log WHERE collected_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ExecuteQuery runs a read-only SQL query and returns rows as maps.
// Only single SELECT/WITH statements are allowed; everything else is
// rejected before touching the database.
func (s *Store) ExecuteQuery(query string) ([]map[string]any, error) {
	trimmed := strings.TrimSpace(query)

	// Reject semicolons to prevent statement chaining.
	if strings.Contains(trimmed, ";") {
		return nil, fmt.Errorf("query must not contain semicolons")
	}

	// Strip comments so keywords hidden inside them are still caught.
	stripped := strings.TrimSpace(stripSQLComments(trimmed))
	upper := strings.ToUpper(stripped)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return nil, fmt.Errorf("only SELECT/WITH queries are allowed")
	}
	if match := dangerousKeywordPattern.FindString(stripped); match != "" {
		return nil, fmt.Errorf("query contains disallowed keyword: %s", strings.ToUpper(match))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	rows, err := s.db.QueryContext(ctx, trimmed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]any
	const maxRows = 1000
	for rows.Next() && len(results) < maxRows {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			log.Printf("archive scan error (ExecuteQuery): %v", err)
			continue
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

// GetSchemaDescription returns a short schema summary for query
// authors.
func (s *Store) GetSchemaDescription() string {
	return `Table 'audit_log': id (BIGINT), run_id (VARCHAR), collected_at (TIMESTAMP), ` +
		`source (VARCHAR: System/FileStation), severity (VARCHAR: Information/Warning/Error/Unknown), ` +
		`event_time (VARCHAR), username (VARCHAR), ip (VARCHAR), operation (VARCHAR), event (VARCHAR), ` +
		`item_kind (VARCHAR: File/Folder), item_size (VARCHAR), item_name (VARCHAR). ` +
		`Table 'collection_runs': run_id (VARCHAR), started_at (TIMESTAMP), finished_at (TIMESTAMP), ` +
		`system_count (BIGINT), file_count (BIGINT), status (VARCHAR: running/completed/failed).`
}
