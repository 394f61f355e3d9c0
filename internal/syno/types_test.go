package syno

import (
	"encoding/json"
	"testing"
)

func TestRawRecordStr(t *testing.T) {
	payload := `{
		"name": "alice",
		"count": 42,
		"ratio": 1.5,
		"flag": true,
		"off": false,
		"empty": null
	}`
	var rec RawRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}

	tests := []struct {
		key  string
		want string
	}{
		{"name", "alice"},
		{"count", "42"},
		{"ratio", "1.5"},
		{"flag", "true"},
		{"off", "false"},
		{"empty", ""},
		{"missing", ""},
	}

	for _, tt := range tests {
		if got := rec.Str(tt.key); got != tt.want {
			t.Errorf("Str(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestRawRecordStrLargeInteger(t *testing.T) {
	// File sizes arrive as JSON numbers and must not pick up an
	// exponent or a decimal point on the way through.
	var rec RawRecord
	if err := json.Unmarshal([]byte(`{"filesize": 73400320}`), &rec); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}
	if got := rec.Str("filesize"); got != "73400320" {
		t.Errorf("Str(filesize) = %q, want %q", got, "73400320")
	}
}
