package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/blackwell-systems/usagewatch/internal/analyzer"
	"github.com/shopspring/decimal"
)

// ErrBadInput means a report file given as input could not be used.
var ErrBadInput = errors.New("unusable input file")

// CreditTables lays out flagged users and per-threshold counts.
func CreditTables(rep analyzer.CreditReport) []Table {
	flagged := make([][]string, 0, len(rep.Flags))
	for _, f := range rep.Flags {
		flagged = append(flagged, []string{
			f.Identifier,
			f.Email,
			f.PromptCredits.StringFixed(2),
			f.Percentage.StringFixed(2),
			f.Label,
		})
	}
	counts := make([][]string, 0, len(rep.Counts))
	for _, c := range rep.Counts {
		counts = append(counts, []string{c.Label, rep.Limit.Mul(decimal.NewFromFloat(c.Threshold)).Div(decimal.NewFromInt(100)).StringFixed(2), strconv.Itoa(c.Users)})
	}
	return []Table{
		{
			Name:    "flagged",
			Columns: []string{colAPIKey, colEmail, "total_prompt_credits", "percentage", "threshold_reached"},
			Rows:    flagged,
		},
		{
			Name:    "thresholds",
			Columns: []string{"threshold", "credits", "users"},
			Rows:    counts,
		},
	}
}

// ReadCreditUsage reads a cascade by_user CSV (api_key, email and
// total_prompt_credits columns, in any order). Rows without an api_key or
// with an empty credit cell are skipped.
func ReadCreditUsage(r io.Reader) ([]analyzer.CreditUsage, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", ErrBadInput, err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	for _, want := range []string{colAPIKey, "total_prompt_credits"} {
		if _, ok := col[want]; !ok {
			return nil, fmt.Errorf("%w: missing %q column", ErrBadInput, want)
		}
	}
	cell := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var out []analyzer.CreditUsage
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrBadInput, line, err)
		}
		id := cell(rec, colAPIKey)
		raw := cell(rec, "total_prompt_credits")
		if id == "" || raw == "" {
			continue
		}
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: invalid credits %q", ErrBadInput, line, raw)
		}
		out = append(out, analyzer.CreditUsage{
			Identifier:    id,
			Email:         cell(rec, colEmail),
			PromptCredits: amount,
		})
	}
	return out, nil
}
