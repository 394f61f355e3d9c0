package control

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/dsmaudit/dsmaudit/internal/archive"
)

// JSON-RPC 2.0 Method Reference
//
// The control server exposes a Controller over a Unix domain socket so the
// status and collect subcommands can talk to a running serve daemon. The
// HTTP API stays read-only; anything that touches daemon state goes through
// this socket instead.
//
//   Method        Params           Result
//   ──────────    ─────────────    ─────────────────
//   Status        (none)           StatusInfo
//   CollectNow    (none)           CollectResult
//   RecentRuns    {Limit: int}     []archive.RunInfo
//
// Status and CollectNow accept empty or null params. RecentRuns treats a
// missing or non-positive Limit as the server default.
//
// Error codes follow JSON-RPC 2.0:
//   -32700  Parse error (malformed JSON)
//   -32601  Method not found
//   -32602  Invalid params
//   -32603  Internal error (marshal failure)
//   -32000  Application error (controller failure)

// Controller is what the serve daemon exposes over the control socket.
type Controller interface {
	// Status reports the daemon's identity and archive totals.
	Status() (StatusInfo, error)
	// CollectNow runs one collection immediately and reports what it
	// archived. It fails when a collection is already in flight.
	CollectNow() (CollectResult, error)
	// RecentRuns returns the most recent collection runs, newest first.
	RecentRuns(limit int) ([]archive.RunInfo, error)
}

// StatusInfo describes a running serve daemon.
type StatusInfo struct {
	Version     string        `json:"version"`
	PID         int           `json:"pid"`
	Uptime      time.Duration `json:"uptime"`
	DBPath      string        `json:"db_path"`
	RecordCount int64         `json:"record_count"`
	// FetchEvery is zero when periodic collection is disabled.
	FetchEvery time.Duration    `json:"fetch_every"`
	Collecting bool             `json:"collecting"`
	LastRun    *archive.RunInfo `json:"last_run,omitempty"`
}

// CollectResult reports one triggered collection.
type CollectResult struct {
	RunID       string `json:"run_id"`
	SystemCount int    `json:"system_count"`
	FileCount   int    `json:"file_count"`
}

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return e.Message }

// DefaultSocketPath returns the default Unix socket path.
// It prefers $XDG_RUNTIME_DIR/dsmaudit/dsmaudit.sock, falling back to
// ~/.local/state/dsmaudit/dsmaudit.sock.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "dsmaudit", "dsmaudit.sock")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/dsmaudit.sock"
	}
	return filepath.Join(home, ".local", "state", "dsmaudit", "dsmaudit.sock")
}
