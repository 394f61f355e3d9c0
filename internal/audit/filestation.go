package audit

import (
	"fmt"
	"strings"
	"time"

	"github.com/dsmaudit/dsmaudit/internal/syno"
)

// SourceFileStation labels rows that came from the File Station
// transfer log.
const SourceFileStation = "FileStation"

// operationLabels maps raw FileStation cmd values to report labels.
var operationLabels = map[string]string{
	"upload":        "Upload",
	"download":      "Download",
	"delete":        "Delete",
	"rename":        "Rename",
	"move":          "Move",
	"copy":          "Copy",
	"create folder": "Create Folder",
	"extract":       "Extract",
	"compress":      "Compress",
	"property set":  "Set Property",
}

// OperationLabel maps a raw cmd, case-insensitively, to its report
// label. Commands outside the catalog become Unknown.
func OperationLabel(cmd string) string {
	if label, ok := operationLabels[strings.ToLower(cmd)]; ok {
		return label
	}
	return "Unknown"
}

// FileEntry is one normalized File Station transfer row.
type FileEntry struct {
	Source string
	Time   string
	IP     string
	User   string
	Event  string
	Kind   string
	Size   string
	Name   string
}

// NormalizeFile builds a FileEntry from a raw record. File Station
// records are lenient: absent fields fall back to N/A rather than
// failing the record.
func NormalizeFile(rec syno.RawRecord) FileEntry {
	kind := "File"
	if strings.EqualFold(rec.Str("isdir"), "true") {
		kind = "Folder"
	}
	return FileEntry{
		Source: SourceFileStation,
		Time:   orNA(rec.Str("time")),
		IP:     orNA(rec.Str("ip")),
		User:   orNA(rec.Str("username")),
		Event:  OperationLabel(rec.Str("cmd")),
		Kind:   kind,
		Size:   orNA(rec.Str("filesize")),
		Name:   orNA(rec.Str("descr")),
	}
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

// fileHeader is the export column order.
var fileHeader = []string{"Log", "Time", "IP Address", "User", "Event", "File/Folder", "Size", "Name"}

// FileStationLog buffers normalized transfer events until they are
// exported.
type FileStationLog struct {
	entries []FileEntry
}

func NewFileStationLog() *FileStationLog { return &FileStationLog{} }

// Add normalizes one raw record into the buffer.
func (l *FileStationLog) Add(rec syno.RawRecord) {
	l.entries = append(l.entries, NormalizeFile(rec))
}

// AddEntry buffers an already normalized entry.
func (l *FileStationLog) AddEntry(e FileEntry) { l.entries = append(l.entries, e) }

func (l *FileStationLog) Entries() []FileEntry { return l.entries }

func (l *FileStationLog) Len() int { return len(l.entries) }

// Flush writes the buffer to a timestamped workbook under dir and
// clears it. Same contract as the system log: empty buffer writes
// nothing, a failed write keeps the buffer.
func (l *FileStationLog) Flush(dir string) (string, error) {
	if len(l.entries) == 0 {
		return "", nil
	}
	rows := make([][]any, 0, len(l.entries))
	for _, e := range l.entries {
		rows = append(rows, []any{e.Source, e.Time, e.IP, e.User, e.Event, e.Kind, e.Size, e.Name})
	}
	path := exportPath(dir, "NAS_Filestation_Log", time.Now())
	if err := writeLogWorkbook(path, fileHeader, rows); err != nil {
		return "", fmt.Errorf("flush filestation log: %w", err)
	}
	l.entries = nil
	return path, nil
}
