// Package audit normalizes raw NAS log records into system and File
// Station audit tables, filters them, derives per-user activity
// rankings, and exports timestamped xlsx workbooks.
package audit

import (
	"fmt"
	"strings"
	"time"

	"github.com/dsmaudit/dsmaudit/internal/syno"
)

// SourceSystem labels rows that came from the system event log.
const SourceSystem = "System"

// severityLabels maps raw DSM levels to report labels.
var severityLabels = map[string]string{
	"info":  "Information",
	"warn":  "Warning",
	"error": "Error",
}

// SeverityLabel maps a raw DSM level, case-insensitively, to its
// report label. Levels outside the catalog become Unknown.
func SeverityLabel(level string) string {
	if label, ok := severityLabels[strings.ToLower(level)]; ok {
		return label
	}
	return "Unknown"
}

// SystemEntry is one normalized system event row.
type SystemEntry struct {
	Severity string
	Source   string
	Time     string
	User     string
	Event    string
}

// systemRequired are the raw fields a system record must carry.
var systemRequired = []string{"level", "time", "who", "descr"}

// NormalizeSystem builds a SystemEntry from a raw record. The first
// absent required field fails the record with an error naming it.
func NormalizeSystem(rec syno.RawRecord) (SystemEntry, error) {
	for _, field := range systemRequired {
		if _, ok := rec[field]; !ok {
			return SystemEntry{}, fmt.Errorf("system log record missing field %q", field)
		}
	}
	return SystemEntry{
		Severity: SeverityLabel(rec.Str("level")),
		Source:   SourceSystem,
		Time:     rec.Str("time"),
		User:     rec.Str("who"),
		Event:    rec.Str("descr"),
	}, nil
}

// systemHeader is the export column order.
var systemHeader = []string{"Severity", "Log", "Time", "User", "Event"}

// SystemLog buffers normalized system events until they are exported.
type SystemLog struct {
	entries []SystemEntry
}

func NewSystemLog() *SystemLog { return &SystemLog{} }

// Add normalizes one raw record into the buffer.
func (l *SystemLog) Add(rec syno.RawRecord) error {
	e, err := NormalizeSystem(rec)
	if err != nil {
		return err
	}
	l.entries = append(l.entries, e)
	return nil
}

// AddEntry buffers an already normalized entry.
func (l *SystemLog) AddEntry(e SystemEntry) { l.entries = append(l.entries, e) }

func (l *SystemLog) Entries() []SystemEntry { return l.entries }

func (l *SystemLog) Len() int { return len(l.entries) }

// Flush writes the buffer to a timestamped workbook under dir and
// clears it. An empty buffer writes nothing and returns an empty path.
// The buffer survives a failed write so a later flush can retry.
func (l *SystemLog) Flush(dir string) (string, error) {
	if len(l.entries) == 0 {
		return "", nil
	}
	rows := make([][]any, 0, len(l.entries))
	for _, e := range l.entries {
		rows = append(rows, []any{e.Severity, e.Source, e.Time, e.User, e.Event})
	}
	path := exportPath(dir, "NAS_System_Log", time.Now())
	if err := writeLogWorkbook(path, systemHeader, rows); err != nil {
		return "", fmt.Errorf("flush system log: %w", err)
	}
	l.entries = nil
	return path, nil
}
