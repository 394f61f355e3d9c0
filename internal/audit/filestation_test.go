package audit

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/dsmaudit/dsmaudit/internal/syno"
)

func TestOperationLabel(t *testing.T) {
	tests := []struct {
		cmd  string
		want string
	}{
		{"upload", "Upload"},
		{"UPLOAD", "Upload"},
		{"download", "Download"},
		{"delete", "Delete"},
		{"rename", "Rename"},
		{"move", "Move"},
		{"copy", "Copy"},
		{"create folder", "Create Folder"},
		{"Create Folder", "Create Folder"},
		{"extract", "Extract"},
		{"compress", "Compress"},
		{"property set", "Set Property"},
		{"mount", "Unknown"},
		{"", "Unknown"},
	}

	for _, tt := range tests {
		if got := OperationLabel(tt.cmd); got != tt.want {
			t.Errorf("OperationLabel(%q) = %q, want %q", tt.cmd, got, tt.want)
		}
	}
}

func TestNormalizeFile(t *testing.T) {
	rec := syno.RawRecord{
		"time":     "2025/06/01 14:23:45",
		"ip":       "192.168.1.50",
		"username": "alice",
		"cmd":      "upload",
		"isdir":    "false",
		"filesize": "73400320",
		"descr":    "/backups/june.tar.gz",
	}

	e := NormalizeFile(rec)
	want := FileEntry{
		Source: "FileStation",
		Time:   "2025/06/01 14:23:45",
		IP:     "192.168.1.50",
		User:   "alice",
		Event:  "Upload",
		Kind:   "File",
		Size:   "73400320",
		Name:   "/backups/june.tar.gz",
	}
	if e != want {
		t.Errorf("entry = %+v, want %+v", e, want)
	}
}

func TestNormalizeFileKind(t *testing.T) {
	tests := []struct {
		name  string
		isdir any
		want  string
	}{
		{"string true", "true", "Folder"},
		{"string mixed case", "True", "Folder"},
		{"bool true", true, "Folder"},
		{"string false", "false", "File"},
		{"bool false", false, "File"},
		{"absent", nil, "File"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := syno.RawRecord{}
			if tt.isdir != nil {
				rec["isdir"] = tt.isdir
			}
			if got := NormalizeFile(rec).Kind; got != tt.want {
				t.Errorf("Kind = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalizeFileDefaults(t *testing.T) {
	e := NormalizeFile(syno.RawRecord{})
	want := FileEntry{
		Source: "FileStation",
		Time:   "N/A",
		IP:     "N/A",
		User:   "N/A",
		Event:  "Unknown",
		Kind:   "File",
		Size:   "N/A",
		Name:   "N/A",
	}
	if e != want {
		t.Errorf("entry = %+v, want %+v", e, want)
	}
}

func TestFileStationLogFlush(t *testing.T) {
	dir := t.TempDir()
	l := NewFileStationLog()
	l.Add(syno.RawRecord{
		"time":     "2025/06/01 14:23:45",
		"ip":       "192.168.1.50",
		"username": "alice",
		"cmd":      "upload",
		"isdir":    "false",
		"filesize": "1024",
		"descr":    "/docs/report.pdf",
	})
	if l.Len() != 1 {
		t.Fatalf("Len = %d, want 1", l.Len())
	}

	path, err := l.Flush(dir)
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	base := filepath.Base(path)
	if !strings.HasPrefix(base, "NAS_Filestation_Log_") || !strings.HasSuffix(base, ".xlsx") {
		t.Errorf("workbook name = %q", base)
	}
	if l.Len() != 0 {
		t.Errorf("Len after flush = %d, want 0", l.Len())
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		t.Fatalf("read rows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	wantHeader := []string{"Log", "Time", "IP Address", "User", "Event", "File/Folder", "Size", "Name"}
	for i, h := range wantHeader {
		if rows[0][i] != h {
			t.Errorf("header[%d] = %q, want %q", i, rows[0][i], h)
		}
	}
	wantRow := []string{"FileStation", "2025/06/01 14:23:45", "192.168.1.50", "alice", "Upload", "File", "1024", "/docs/report.pdf"}
	for i, v := range wantRow {
		if rows[1][i] != v {
			t.Errorf("data[%d] = %q, want %q", i, rows[1][i], v)
		}
	}
}

func TestFileStationLogFlushEmpty(t *testing.T) {
	l := NewFileStationLog()

	path, err := l.Flush(t.TempDir())
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if path != "" {
		t.Errorf("path = %q, want empty", path)
	}
}
