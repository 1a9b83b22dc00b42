// Package analytics talks to the vendor analytics API: dimensional usage
// queries and the user directory that maps emails to API keys.
package analytics

import (
	"fmt"
	"strings"
)

// DataSource names a table on the analytics service.
type DataSource string

const (
	// SourceUserData holds autocomplete (tab) acceptance counts.
	SourceUserData DataSource = "QUERY_DATA_SOURCE_USER_DATA"
	// SourceCommandData holds one row per command invocation.
	SourceCommandData DataSource = "QUERY_DATA_SOURCE_COMMAND_DATA"
	// SourceCascadeData holds cascade prompts and credit consumption.
	SourceCascadeData DataSource = "QUERY_DATA_SOURCE_CASCADE_DATA"
)

// Short returns the data source without its common prefix.
func (d DataSource) Short() string {
	return strings.TrimPrefix(string(d), "QUERY_DATA_SOURCE_")
}

// Operator is a filter comparison understood by the service. There is no
// IN operator: multi-key queries are expressed as one query per key.
type Operator string

const (
	OpEqual Operator = "QUERY_FILTER_EQUAL"
	OpGE    Operator = "QUERY_FILTER_GE"
	OpLE    Operator = "QUERY_FILTER_LE"
	OpGT    Operator = "QUERY_FILTER_GT"
	OpLT    Operator = "QUERY_FILTER_LT"
)

func (o Operator) symbol() string {
	switch o {
	case OpEqual:
		return "="
	case OpGE:
		return ">="
	case OpLE:
		return "<="
	case OpGT:
		return ">"
	case OpLT:
		return "<"
	default:
		return " " + string(o) + " "
	}
}

// Common field names shared by all data sources.
const (
	FieldAPIKey    = "api_key"
	FieldDate      = "date"
	FieldTimestamp = "timestamp"
)

// Selection maps a source field to an output name in each returned row.
type Selection struct {
	Field string `json:"field"`
	Name  string `json:"name"`
}

// Filter is a single predicate applied by the service.
type Filter struct {
	Name     string   `json:"name"`
	Operator Operator `json:"filter"`
	Value    string   `json:"value"`
}

// QuerySpec is one declarative request: a data source, the ordered
// selections that shape each row, and the filters to apply.
type QuerySpec struct {
	DataSource DataSource  `json:"data_source"`
	Selections []Selection `json:"selections"`
	Filters    []Filter    `json:"filters"`
}

// Select builds selections whose output name equals the field name.
func Select(fields ...string) []Selection {
	out := make([]Selection, len(fields))
	for i, f := range fields {
		out[i] = Selection{Field: f, Name: f}
	}
	return out
}

// Where returns a copy of q with one more filter appended.
func (q QuerySpec) Where(name string, op Operator, value string) QuerySpec {
	filters := make([]Filter, len(q.Filters), len(q.Filters)+1)
	copy(filters, q.Filters)
	q.Filters = append(filters, Filter{Name: name, Operator: op, Value: value})
	return q
}

// InRange restricts q to the inclusive date range r.
func (q QuerySpec) InRange(r DateRange) QuerySpec {
	return q.Where(FieldDate, OpGE, r.StartDate()).Where(FieldDate, OpLE, r.EndDate())
}

// ForIdentifier restricts q to rows produced by one API key.
func (q QuerySpec) ForIdentifier(id string) QuerySpec {
	return q.Where(FieldAPIKey, OpEqual, id)
}

// String renders q compactly for logs and error messages. API keys are masked.
func (q QuerySpec) String() string {
	var sb strings.Builder
	sb.WriteString(q.DataSource.Short())
	for _, f := range q.Filters {
		value := f.Value
		if f.Name == FieldAPIKey {
			value = MaskKey(value)
		}
		sb.WriteString(fmt.Sprintf(" %s%s%s", f.Name, f.Operator.symbol(), value))
	}
	return sb.String()
}

// MaskKey shortens an API key for display: the first eight characters
// followed by an ellipsis.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return key
	}
	return key[:8] + "..."
}
