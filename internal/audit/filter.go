package audit

import (
	"time"

	"github.com/dsmaudit/dsmaudit/internal/timestamp"
)

// DateRange bounds entries by their log time at day granularity. A
// zero bound is open on that side; each bound applies on its own.
type DateRange struct {
	From time.Time
	To   time.Time
}

// IsZero reports whether neither bound is set.
func (r DateRange) IsZero() bool { return r.From.IsZero() && r.To.IsZero() }

// Match reports whether t falls inside the range, bounds inclusive.
func (r DateRange) Match(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && t.After(r.To) {
		return false
	}
	return true
}

// matchTime applies the range to a raw log time string. When a bound
// is set, entries whose time cannot be parsed are dropped.
func (r DateRange) matchTime(s string) bool {
	if r.IsZero() {
		return true
	}
	day, ok := timestamp.Date(s)
	if !ok {
		return false
	}
	return r.Match(day)
}

// FilterSystem keeps system entries inside the date range whose
// severity label matches. An empty severity keeps every label.
func FilterSystem(entries []SystemEntry, dates DateRange, severity string) []SystemEntry {
	kept := make([]SystemEntry, 0, len(entries))
	for _, e := range entries {
		if severity != "" && e.Severity != severity {
			continue
		}
		if !dates.matchTime(e.Time) {
			continue
		}
		kept = append(kept, e)
	}
	return kept
}

// FilterFile keeps file entries inside the date range whose event
// label matches. An empty operation keeps every label.
func FilterFile(entries []FileEntry, dates DateRange, operation string) []FileEntry {
	kept := make([]FileEntry, 0, len(entries))
	for _, e := range entries {
		if operation != "" && e.Event != operation {
			continue
		}
		if !dates.matchTime(e.Time) {
			continue
		}
		kept = append(kept, e)
	}
	return kept
}
