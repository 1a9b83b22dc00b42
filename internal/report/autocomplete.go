package report

import "github.com/blackwell-systems/usagewatch/internal/analyzer"

var autocompleteCells = measures(analyzer.AutocompleteMeasures...)

// AutocompleteTables lays out an autocomplete analysis.
func AutocompleteTables(a analyzer.AutocompleteAnalysis, r *Roster) []Table {
	withUsers := join(autocompleteCells, distinct(analyzer.DimIdentifier))
	return []Table{
		{
			Name:    "by_user",
			Columns: columns(subjectColumns, analyzer.AutocompleteMeasures, []string{"languages", "ides", "active_hours"}),
			Rows: perUser(r, a.ByUser, join(autocompleteCells,
				set(analyzer.DimLanguage), set(analyzer.DimIDE), set(analyzer.DimHour))),
		},
		{
			Name:    "by_user_date",
			Columns: columns([]string{colEmail, colAPIKey, "date"}, analyzer.AutocompleteMeasures),
			Rows:    keyed(r, a.ByUserDate, autocompleteCells),
		},
		{
			Name:    "by_user_hour",
			Columns: columns([]string{colEmail, colAPIKey, "hour"}, analyzer.AutocompleteMeasures),
			Rows:    keyed(r, a.ByUserHour, autocompleteCells),
		},
		{
			Name:    "by_user_language",
			Columns: columns([]string{colEmail, colAPIKey, "language"}, analyzer.AutocompleteMeasures),
			Rows:    keyed(r, a.ByUserLanguage, autocompleteCells),
		},
		{
			Name:    "by_hour",
			Columns: columns([]string{"hour"}, analyzer.AutocompleteMeasures, []string{"users"}),
			Rows:    keyed(r, a.ByHour, withUsers),
		},
		{
			Name:    "by_language",
			Columns: columns([]string{"language"}, analyzer.AutocompleteMeasures, []string{"users"}),
			Rows:    keyed(r, a.ByLanguage, withUsers),
		},
		{
			Name:    "by_ide",
			Columns: columns([]string{"ide"}, analyzer.AutocompleteMeasures, []string{"users"}),
			Rows:    keyed(r, a.ByIDE, withUsers),
		},
	}
}
