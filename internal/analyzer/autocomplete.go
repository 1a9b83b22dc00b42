package analyzer

import (
	"strings"

	"github.com/blackwell-systems/usagewatch/internal/analytics"
)

// Autocomplete measures.
const (
	MeasureAcceptances   = "acceptances"
	MeasureLinesAccepted = "lines_accepted"
	MeasureBytesAccepted = "bytes_accepted"
)

// AutocompleteMeasures lists autocomplete measures in report order.
var AutocompleteMeasures = []string{MeasureAcceptances, MeasureLinesAccepted, MeasureBytesAccepted}

// AutocompleteQuery selects tab acceptance rows for r.
func AutocompleteQuery(r analytics.DateRange) analytics.QuerySpec {
	return analytics.QuerySpec{
		DataSource: analytics.SourceUserData,
		Selections: analytics.Select(
			"api_key", "date", "hour", "language", "ide", "version",
			"num_acceptances", "num_lines_accepted", "num_bytes_accepted",
		),
	}.InRange(r)
}

// ParseHour extracts HH from "YYYY-MM-DD HH:MM:SS +0000 UTC".
func ParseHour(s string) string {
	_, rest, ok := strings.Cut(strings.TrimSpace(s), " ")
	if !ok || len(rest) < 2 {
		return Unknown
	}
	hh := rest[:2]
	if hh[0] < '0' || hh[0] > '2' || hh[1] < '0' || hh[1] > '9' {
		return Unknown
	}
	return hh
}

// AutocompleteFacts normalizes tab acceptance rows.
func AutocompleteFacts(batches []Tagged) []Fact {
	var facts []Fact
	for _, b := range batches {
		for _, row := range b.Rows {
			facts = append(facts, Fact{
				Identifier: identifierOf(row, b.Identifier),
				Date:       dateOf(row),
				Hour:       ParseHour(row.String("hour")),
				Language:   orUnknown(row.String("language")),
				IDE:        orUnknown(row.String("ide")),
				Values: map[string]int64{
					MeasureAcceptances:   row.Int64("num_acceptances"),
					MeasureLinesAccepted: row.Int64("num_lines_accepted"),
					MeasureBytesAccepted: row.Int64("num_bytes_accepted"),
				},
			})
		}
	}
	return facts
}

// AutocompleteAnalysis holds every autocomplete grouping.
type AutocompleteAnalysis struct {
	Total          Summary
	ByUser         []Summary
	ByUserDate     []Summary
	ByUserHour     []Summary
	ByUserLanguage []Summary
	ByHour         []Summary
	ByLanguage     []Summary
	ByIDE          []Summary
}

// AnalyzeAutocomplete folds autocomplete facts into every grouping.
func AnalyzeAutocomplete(facts []Fact) AutocompleteAnalysis {
	return AutocompleteAnalysis{
		Total:          TotalOf(facts),
		ByUser:         GroupBy(facts, DimIdentifier),
		ByUserDate:     GroupBy(facts, DimIdentifier, DimDate),
		ByUserHour:     GroupBy(facts, DimIdentifier, DimHour),
		ByUserLanguage: GroupBy(facts, DimIdentifier, DimLanguage),
		ByHour:         GroupBy(facts, DimHour),
		ByLanguage:     GroupBy(facts, DimLanguage),
		ByIDE:          GroupBy(facts, DimIDE),
	}
}
