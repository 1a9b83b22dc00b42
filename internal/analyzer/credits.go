package analyzer

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// DefaultCreditLimit is the per-user prompt credit allowance.
const DefaultCreditLimit = 1500

// DefaultThresholds are the alert levels in percent of the limit.
var DefaultThresholds = []float64{75, 85, 95}

// CreditUsage is one user's prompt credit consumption.
type CreditUsage struct {
	Identifier    string
	Email         string
	PromptCredits decimal.Decimal
}

// CreditFlag is a user at or above a threshold. Each user is flagged once,
// at the highest threshold reached.
type CreditFlag struct {
	Identifier    string          `json:"api_key"`
	Email         string          `json:"email"`
	PromptCredits decimal.Decimal `json:"total_prompt_credits"`
	Percentage    decimal.Decimal `json:"percentage"`
	Threshold     float64         `json:"-"`
	Label         string          `json:"threshold_reached"`
}

// ThresholdCount is the number of users whose highest threshold is Label.
type ThresholdCount struct {
	Threshold float64 `json:"threshold"`
	Label     string  `json:"label"`
	Users     int     `json:"users"`
}

// CreditReport is the result of FlagCredits.
type CreditReport struct {
	Limit  decimal.Decimal  `json:"credit_limit"`
	Flags  []CreditFlag     `json:"flagged"`
	Counts []ThresholdCount `json:"counts"`
}

// ThresholdLabel renders a threshold as "85%".
func ThresholdLabel(t float64) string {
	return decimal.NewFromFloat(t).String() + "%"
}

// ParseThresholds parses a comma-separated list such as "75,85,95".
func ParseThresholds(s string) ([]float64, error) {
	var out []float64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := decimal.NewFromString(part)
		if err != nil {
			return nil, fmt.Errorf("invalid threshold %q: use comma-separated numbers such as 75,85,95", part)
		}
		out = append(out, d.InexactFloat64())
	}
	if len(out) == 0 {
		return nil, errors.New("no thresholds given")
	}
	return lo.Uniq(out), nil
}

// CreditUsageFrom converts a per-identifier cascade grouping into credit
// usage. owner maps an identifier to its email label.
func CreditUsageFrom(byUser []Summary, owner func(id string) string) []CreditUsage {
	out := make([]CreditUsage, 0, len(byUser))
	for _, s := range byUser {
		id := s.Get(DimIdentifier)
		out = append(out, CreditUsage{
			Identifier:    id,
			Email:         owner(id),
			PromptCredits: Credits(s.Value(MeasurePromptCredits)),
		})
	}
	return out
}

// FlagCredits assigns each user the highest threshold whose share of limit
// their prompt credits reach. Flags are sorted by percentage descending,
// then by identifier; counts list thresholds from highest to lowest.
func FlagCredits(users []CreditUsage, limit decimal.Decimal, thresholds []float64) CreditReport {
	levels := lo.Uniq(thresholds)
	sort.Sort(sort.Reverse(sort.Float64Slice(levels)))

	report := CreditReport{Limit: limit}
	counts := make(map[float64]int, len(levels))
	hundred := decimal.NewFromInt(100)

	if limit.IsPositive() {
		for _, u := range users {
			for _, level := range levels {
				need := decimal.NewFromFloat(level).Div(hundred).Mul(limit)
				if u.PromptCredits.LessThan(need) {
					continue
				}
				report.Flags = append(report.Flags, CreditFlag{
					Identifier:    u.Identifier,
					Email:         u.Email,
					PromptCredits: u.PromptCredits,
					Percentage:    u.PromptCredits.Div(limit).Mul(hundred).Round(2),
					Threshold:     level,
					Label:         ThresholdLabel(level),
				})
				counts[level]++
				break
			}
		}
	}

	sort.SliceStable(report.Flags, func(i, j int) bool {
		a, b := report.Flags[i], report.Flags[j]
		if c := a.Percentage.Cmp(b.Percentage); c != 0 {
			return c > 0
		}
		return a.Identifier < b.Identifier
	})
	for _, level := range levels {
		report.Counts = append(report.Counts, ThresholdCount{
			Threshold: level,
			Label:     ThresholdLabel(level),
			Users:     counts[level],
		})
	}
	return report
}
