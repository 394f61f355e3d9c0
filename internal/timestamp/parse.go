// Package timestamp parses the time strings that appear in NAS audit
// logs. DSM writes slash-separated local times, but firmware versions
// and locale settings vary the shape, so parsing tries a fixed layout
// list and reports failure with a bool instead of an error.
package timestamp

import (
	"strings"
	"time"
)

// layouts holds every time shape seen in DSM log payloads, most
// specific first so a longer input never half-matches a shorter layout.
var layouts = []string{
	"2006/01/02 15:04:05",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006/01/02 15:04",
	"2006-01-02 15:04",
	"2006/01/02",
	"2006-01-02",
}

// Parse interprets s as a log time. The second return is false when no
// known layout matches; callers decide whether that is fatal.
func Parse(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Date is Parse truncated to midnight, for day-granular comparisons.
func Date(s string) (time.Time, bool) {
	t, ok := Parse(s)
	if !ok {
		return time.Time{}, false
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location()), true
}
