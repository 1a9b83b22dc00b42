package analyzer

import (
	"github.com/blackwell-systems/usagewatch/internal/analytics"
	"github.com/shopspring/decimal"
)

// Cascade measures. Credit measures are in hundredths of a credit.
const (
	MeasurePrompts       = "prompts"
	MeasurePromptCredits = "prompt_credits"
	MeasureFlexCredits   = "flex_credits"
)

// CascadeQuery selects cascade rows for r.
func CascadeQuery(r analytics.DateRange) analytics.QuerySpec {
	return analytics.QuerySpec{
		DataSource: analytics.SourceCascadeData,
		Selections: analytics.Select(
			"api_key", "date", "prompts_used", "flex_credits_used", "model",
		),
	}.InRange(r)
}

// CascadeFacts normalizes cascade rows. Each row counts as one prompt.
func CascadeFacts(batches []Tagged) []Fact {
	var facts []Fact
	for _, b := range batches {
		for _, row := range b.Rows {
			facts = append(facts, Fact{
				Identifier: identifierOf(row, b.Identifier),
				Date:       dateOf(row),
				Model:      orUnknown(row.String("model")),
				Values: map[string]int64{
					MeasurePrompts:       1,
					MeasurePromptCredits: row.Int64("prompts_used"),
					MeasureFlexCredits:   row.Int64("flex_credits_used"),
				},
			})
		}
	}
	return facts
}

// Credits converts hundredths into credits.
func Credits(hundredths int64) decimal.Decimal {
	return decimal.New(hundredths, -2)
}

// FormatCredits renders hundredths as a credit amount with two decimals.
func FormatCredits(hundredths int64) string {
	return Credits(hundredths).StringFixed(2)
}

// CascadeAnalysis holds every cascade grouping.
type CascadeAnalysis struct {
	Total           Summary
	ByUserDateModel []Summary
	ByModelDate     []Summary
	ByModel         []Summary
	ByUser          []Summary
	TopUsers        []Summary
}

// AnalyzeCascade folds cascade facts into every grouping.
func AnalyzeCascade(facts []Fact) CascadeAnalysis {
	byUser := GroupBy(facts, DimIdentifier)
	return CascadeAnalysis{
		Total:           TotalOf(facts),
		ByUserDateModel: GroupBy(facts, DimIdentifier, DimDate, DimModel),
		ByModelDate:     GroupBy(facts, DimModel, DimDate),
		ByModel:         GroupBy(facts, DimModel),
		ByUser:          byUser,
		TopUsers:        Top(byUser, MeasurePromptCredits, TopUserLimit),
	}
}
