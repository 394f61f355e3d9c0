package archive

import "time"

// Run statuses recorded in collection_runs.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// ArchivedLog is one audit_log row.
type ArchivedLog struct {
	ID          int64     `json:"id"`
	RunID       string    `json:"run_id"`
	CollectedAt time.Time `json:"collected_at"`
	Source      string    `json:"source"`
	Severity    string    `json:"severity,omitempty"`
	EventTime   string    `json:"event_time"`
	Username    string    `json:"username"`
	IP          string    `json:"ip,omitempty"`
	Operation   string    `json:"operation,omitempty"`
	Event       string    `json:"event"`
	ItemKind    string    `json:"item_kind,omitempty"`
	ItemSize    string    `json:"item_size,omitempty"`
	ItemName    string    `json:"item_name,omitempty"`
}

// UserCount pairs a username with an event count.
type UserCount struct {
	Username string `json:"username"`
	Count    int64  `json:"count"`
}

// RunInfo summarizes one collection run. FinishedAt stays zero while
// the run is in flight.
type RunInfo struct {
	RunID       string    `json:"run_id"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at,omitzero"`
	SystemCount int64     `json:"system_count"`
	FileCount   int64     `json:"file_count"`
	Status      string    `json:"status"`
}
