package report

import (
	"strconv"

	"github.com/blackwell-systems/usagewatch/internal/analyzer"
)

func credits(measure string) func(analyzer.Summary) []string {
	return func(s analyzer.Summary) []string {
		return []string{analyzer.FormatCredits(s.Value(measure))}
	}
}

// CascadeTables lays out a cascade analysis. Credit columns are rendered
// in whole credits with two decimals.
func CascadeTables(a analyzer.CascadeAnalysis, r *Roster) []Table {
	sums := join(credits(analyzer.MeasureFlexCredits), credits(analyzer.MeasurePromptCredits), measures(analyzer.MeasurePrompts))
	totals := join(measures(analyzer.MeasurePrompts), credits(analyzer.MeasureFlexCredits), credits(analyzer.MeasurePromptCredits))

	// by_user_date_model keeps api_key first, as downstream sheets expect.
	byUDM := make([][]string, 0, len(a.ByUserDateModel))
	for _, s := range a.ByUserDateModel {
		id := s.Get(analyzer.DimIdentifier)
		row := []string{id, r.Owner(id), s.Get(analyzer.DimDate), s.Get(analyzer.DimModel)}
		byUDM = append(byUDM, append(row, sums(s)...))
	}

	top := make([][]string, 0, len(a.TopUsers))
	for i, s := range a.TopUsers {
		id := s.Get(analyzer.DimIdentifier)
		top = append(top, append([]string{strconv.Itoa(i + 1), r.Owner(id), id}, totals(s)...))
	}

	return []Table{
		{
			Name:    "by_user_date_model",
			Columns: []string{colAPIKey, colEmail, "date", "model", "sum_flex_credits", "sum_prompt_credits", "total_prompts_sent"},
			Rows:    byUDM,
		},
		{
			Name:    "by_model_date",
			Columns: []string{"model", "date", "sum_flex_credits", "sum_prompt_credits", "total_prompts_sent", "users"},
			Rows:    keyed(r, a.ByModelDate, join(sums, distinct(analyzer.DimIdentifier))),
		},
		{
			Name:    "by_model",
			Columns: []string{"model", "sum_flex_credits", "sum_prompt_credits", "total_prompts_sent", "users"},
			Rows:    keyed(r, a.ByModel, join(sums, distinct(analyzer.DimIdentifier))),
		},
		{
			Name:    "by_user",
			Columns: columns(subjectColumns, []string{"total_prompts", "total_flex_credits", "total_prompt_credits", "models"}),
			Rows:    perUser(r, a.ByUser, join(totals, set(analyzer.DimModel))),
		},
		{
			Name:    "top_users",
			Columns: []string{"rank", colEmail, colAPIKey, "total_prompts", "total_flex_credits", "total_prompt_credits"},
			Rows:    top,
		},
	}
}
