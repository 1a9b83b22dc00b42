// Package analyzer folds fetched usage rows into per-user and per-dimension
// summaries for commands, autocomplete and cascade usage.
package analyzer

import "github.com/blackwell-systems/usagewatch/internal/analytics"

// Dimension names a fact attribute that can be grouped on.
type Dimension string

const (
	DimIdentifier Dimension = "api_key"
	DimDate       Dimension = "date"
	DimHour       Dimension = "hour"
	DimLanguage   Dimension = "language"
	DimIDE        Dimension = "ide"
	DimModel      Dimension = "model"
)

// Unknown replaces empty dimension values.
const Unknown = "unknown"

// Fact is one normalized usage row. Measures are integers so that folding
// is exact and does not depend on row order; cascade credits are stored in
// hundredths as the service reports them.
type Fact struct {
	Identifier string
	Date       string
	Hour       string
	Language   string
	IDE        string
	Model      string
	Values     map[string]int64
}

// Dim returns the value of dimension d.
func (f Fact) Dim(d Dimension) string {
	switch d {
	case DimIdentifier:
		return f.Identifier
	case DimDate:
		return f.Date
	case DimHour:
		return f.Hour
	case DimLanguage:
		return f.Language
	case DimIDE:
		return f.IDE
	case DimModel:
		return f.Model
	}
	return ""
}

// Summary aggregates the facts sharing one key.
type Summary struct {
	// Dims are the grouping dimensions; Key holds their values in order.
	Dims []Dimension
	Key  []string

	// Count is the number of facts folded in.
	Count int

	// Values holds per-measure sums.
	Values map[string]int64

	// Sets holds the sorted distinct values of every non-key dimension.
	Sets map[Dimension][]string
}

// Get returns the key value for dimension d, or "" when d is not a key.
func (s Summary) Get(d Dimension) string {
	for i, k := range s.Dims {
		if k == d {
			return s.Key[i]
		}
	}
	return ""
}

// Value returns the sum of measure m.
func (s Summary) Value(m string) int64 {
	return s.Values[m]
}

// Tagged is a set of rows fetched for one identifier.
type Tagged struct {
	Identifier string
	Rows       []analytics.Row
}

// identifierOf returns the row's own api_key, falling back to the tag of
// the batch it arrived in.
func identifierOf(row analytics.Row, tag string) string {
	if id := row.String(analytics.FieldAPIKey); id != "" {
		return id
	}
	return tag
}

// dateOf returns the row's date, deriving it from the timestamp when the
// date column is absent.
func dateOf(row analytics.Row) string {
	if d := row.String(analytics.FieldDate); d != "" {
		return d
	}
	if ts := row.String(analytics.FieldTimestamp); len(ts) >= len(analytics.DateLayout) {
		return ts[:len(analytics.DateLayout)]
	}
	return Unknown
}

func orUnknown(s string) string {
	if s == "" {
		return Unknown
	}
	return s
}
