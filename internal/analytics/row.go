package analytics

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Row is one result item keyed by selection output name. Values are
// strings, json.Number, bool or nil depending on what the service sent.
type Row map[string]any

// Has reports whether the row carries a non-null value for name.
func (r Row) Has(name string) bool {
	v, ok := r[name]
	return ok && v != nil
}

// String returns the value of name as text. Missing values read as "".
func (r Row) String(name string) string {
	switch v := r[name].(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// Int64 returns the value of name as an integer. Numeric strings are
// parsed, fractional values are rounded, and anything else reads as zero.
func (r Row) Int64(name string) int64 {
	switch v := r[name].(type) {
	case json.Number:
		return parseInt(v.String())
	case string:
		return parseInt(v)
	case float64:
		return int64(math.Round(v))
	case bool:
		if v {
			return 1
		}
		return 0
	default:
		return 0
	}
}

// Bool returns the value of name as a boolean. "true", "1" and non-zero
// numbers are true.
func (r Row) Bool(name string) bool {
	switch v := r[name].(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes":
			return true
		}
		return false
	case json.Number:
		return parseInt(v.String()) != 0
	case float64:
		return v != 0
	default:
		return false
	}
}

func parseInt(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return int64(math.Round(f))
}
