package analyzer

import "github.com/blackwell-systems/usagewatch/internal/analytics"

// Command measures.
const (
	MeasureCommands     = "commands"
	MeasureAccepted     = "accepted"
	MeasureBytesAdded   = "bytes_added"
	MeasureBytesRemoved = "bytes_removed"
	MeasureLinesAdded   = "lines_added"
	MeasureLinesRemoved = "lines_removed"
)

// CommandMeasures lists command measures in report order.
var CommandMeasures = []string{
	MeasureCommands, MeasureAccepted,
	MeasureBytesAdded, MeasureBytesRemoved,
	MeasureLinesAdded, MeasureLinesRemoved,
}

// CommandQuery selects command rows for r.
func CommandQuery(r analytics.DateRange) analytics.QuerySpec {
	return analytics.QuerySpec{
		DataSource: analytics.SourceCommandData,
		Selections: analytics.Select(
			"api_key", "date", "timestamp", "language", "ide",
			"command_source", "provider_source",
			"bytes_added", "bytes_removed", "lines_added", "lines_removed",
			"accepted",
		),
	}.InRange(r)
}

// CommandFacts normalizes command rows. Each row is one command.
func CommandFacts(batches []Tagged) []Fact {
	var facts []Fact
	for _, b := range batches {
		for _, row := range b.Rows {
			accepted := int64(0)
			if row.Bool("accepted") {
				accepted = 1
			}
			facts = append(facts, Fact{
				Identifier: identifierOf(row, b.Identifier),
				Date:       dateOf(row),
				Language:   orUnknown(row.String("language")),
				IDE:        orUnknown(row.String("ide")),
				Values: map[string]int64{
					MeasureCommands:     1,
					MeasureAccepted:     accepted,
					MeasureBytesAdded:   row.Int64("bytes_added"),
					MeasureBytesRemoved: row.Int64("bytes_removed"),
					MeasureLinesAdded:   row.Int64("lines_added"),
					MeasureLinesRemoved: row.Int64("lines_removed"),
				},
			})
		}
	}
	return facts
}

// CommandAnalysis holds every command grouping.
type CommandAnalysis struct {
	Total          Summary
	ByUser         []Summary
	ByUserDate     []Summary
	ByUserLanguage []Summary
	ByLanguage     []Summary
	ByDate         []Summary
	ByIDE          []Summary
	TopUsers       []Summary
}

// TopUserLimit bounds the top-user rankings.
const TopUserLimit = 10

// AnalyzeCommands folds command facts into every grouping.
func AnalyzeCommands(facts []Fact) CommandAnalysis {
	byUser := GroupBy(facts, DimIdentifier)
	return CommandAnalysis{
		Total:          TotalOf(facts),
		ByUser:         byUser,
		ByUserDate:     GroupBy(facts, DimIdentifier, DimDate),
		ByUserLanguage: GroupBy(facts, DimIdentifier, DimLanguage),
		ByLanguage:     GroupBy(facts, DimLanguage),
		ByDate:         GroupBy(facts, DimDate),
		ByIDE:          GroupBy(facts, DimIDE),
		TopUsers:       Top(byUser, MeasureBytesAdded, TopUserLimit),
	}
}

// AcceptanceRate is accepted commands over all commands for one summary.
func AcceptanceRate(s Summary) float64 {
	return Percent(s.Value(MeasureAccepted), s.Value(MeasureCommands))
}
