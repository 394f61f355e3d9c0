package syno

import (
	"encoding/json"
	"fmt"
	"math"
)

// RawRecord is one JSON object from a DSM payload, values untouched.
// DSM is loose with field types (the same field can arrive as string or
// number across firmware versions), so records stay schemaless until an
// aggregator normalizes them.
type RawRecord map[string]any

// Str returns the named field rendered as a string. Missing fields and
// nulls yield "". Integral numbers print without a decimal point.
func (r RawRecord) Str(key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == math.Trunc(t) && !math.IsInf(t, 0) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", t)
	}
}

// Page is one window of a paginated log listing. Total is the
// NAS-reported size of the whole listing, zero when the NAS omits it.
type Page struct {
	Items []RawRecord
	Total int
}

// envelope is the outer shape of every DSM WebAPI response.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code int `json:"code"`
	} `json:"error"`
}

func (e *envelope) errorCode() int {
	if e.Error == nil {
		return 0
	}
	return e.Error.Code
}
