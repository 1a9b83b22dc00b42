package report

import (
	"strconv"

	"github.com/blackwell-systems/usagewatch/internal/analyzer"
)

const (
	colEmail  = "email"
	colAPIKey = "api_key"
	colStatus = "status"
)

var subjectColumns = []string{colEmail, colAPIKey, colStatus}

func acceptance(s analyzer.Summary) []string {
	return []string{pct(analyzer.AcceptanceRate(s))}
}

// commandCells renders commands, accepted, acceptance_pct, then the
// byte and line measures.
var commandCells = join(
	measures(analyzer.MeasureCommands, analyzer.MeasureAccepted),
	acceptance,
	measures(analyzer.MeasureBytesAdded, analyzer.MeasureBytesRemoved, analyzer.MeasureLinesAdded, analyzer.MeasureLinesRemoved),
)

var commandColumns = []string{
	"commands", "accepted", "acceptance_pct",
	"bytes_added", "bytes_removed", "lines_added", "lines_removed",
}

// CommandTables lays out a command analysis.
func CommandTables(a analyzer.CommandAnalysis, r *Roster) []Table {
	userCols := columns(subjectColumns, suffixed("_total", commandColumns...), []string{"languages", "ides"})
	// acceptance_pct is a ratio, not a total.
	userCols[5] = "acceptance_pct"

	top := make([][]string, 0, len(a.TopUsers))
	for i, s := range a.TopUsers {
		id := s.Get(analyzer.DimIdentifier)
		top = append(top, append([]string{strconv.Itoa(i + 1), r.Owner(id), id}, commandCells(s)...))
	}

	return []Table{
		{
			Name:    "by_user",
			Columns: userCols,
			Rows:    perUser(r, a.ByUser, join(commandCells, set(analyzer.DimLanguage), set(analyzer.DimIDE))),
		},
		{
			Name:    "by_user_date",
			Columns: columns([]string{colEmail, colAPIKey, "date"}, commandColumns),
			Rows:    keyed(r, a.ByUserDate, commandCells),
		},
		{
			Name:    "by_user_language",
			Columns: columns([]string{colEmail, colAPIKey, "language"}, commandColumns),
			Rows:    keyed(r, a.ByUserLanguage, commandCells),
		},
		{
			Name:    "by_language",
			Columns: columns([]string{"language"}, commandColumns, []string{"users"}),
			Rows:    keyed(r, a.ByLanguage, join(commandCells, distinct(analyzer.DimIdentifier))),
		},
		{
			Name:    "by_date",
			Columns: columns([]string{"date"}, commandColumns, []string{"users"}),
			Rows:    keyed(r, a.ByDate, join(commandCells, distinct(analyzer.DimIdentifier))),
		},
		{
			Name:    "by_ide",
			Columns: columns([]string{"ide"}, commandColumns, []string{"users"}),
			Rows:    keyed(r, a.ByIDE, join(commandCells, distinct(analyzer.DimIdentifier))),
		},
		{
			Name:    "top_users",
			Columns: columns([]string{"rank", colEmail, colAPIKey}, commandColumns),
			Rows:    top,
		},
	}
}
