// Package report turns analyses into explicit-column tables and writes
// them as CSV and JSON files.
package report

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/blackwell-systems/usagewatch/internal/analytics"
	"github.com/blackwell-systems/usagewatch/internal/analyzer"
	"github.com/blackwell-systems/usagewatch/internal/fetch"
	"github.com/blackwell-systems/usagewatch/internal/resolver"
)

// Table is a named set of rows with a fixed column order.
type Table struct {
	Name    string
	Columns []string
	Rows    [][]string
}

// Report is every table produced by one command for one range.
type Report struct {
	Kind   string
	Range  analytics.DateRange
	Tables []Table
}

// Table returns the table called name, or nil.
func (r *Report) Table(name string) *Table {
	for i := range r.Tables {
		if r.Tables[i].Name == name {
			return &r.Tables[i]
		}
	}
	return nil
}

// Status explains a subject's row in per-user tables.
type Status string

const (
	StatusOK      Status = "ok"
	StatusNoData  Status = "no data in range"
	StatusFailed  Status = "query failed"
	StatusNoMatch Status = "no directory match"
)

// Subject is one row of a per-user table: a targeted identifier, or a
// requested email that resolved to nothing.
type Subject struct {
	Email      string
	Identifier string
	Status     Status
}

// Roster lists every subject a run was asked about, in target order,
// followed by unmatched emails.
type Roster struct {
	Subjects []Subject
	res      *resolver.Resolution
}

// NewRoster derives subject statuses from the resolution and fetch result.
// res and fetched may be nil.
func NewRoster(res *resolver.Resolution, targets []string, fetched *fetch.Result) *Roster {
	status := make(map[string]Status, len(targets))
	if fetched != nil {
		for _, b := range fetched.Batches {
			if b.Empty {
				status[b.Identifier] = StatusNoData
			} else {
				status[b.Identifier] = StatusOK
			}
		}
		for _, s := range fetched.Skipped {
			status[s.Identifier] = StatusFailed
		}
	}

	r := &Roster{res: res}
	for _, id := range targets {
		st, ok := status[id]
		if !ok {
			st = StatusNoData
		}
		r.Subjects = append(r.Subjects, Subject{Email: res.Owner(id), Identifier: id, Status: st})
	}
	if res != nil {
		for _, m := range res.Missing {
			r.Subjects = append(r.Subjects, Subject{Email: m.Email, Status: StatusNoMatch})
		}
	}
	return r
}

// Owner returns the email label of id, or "" for unlabeled identifiers.
func (r *Roster) Owner(id string) string {
	if r == nil {
		return ""
	}
	return r.res.Owner(id)
}

// perUser lays out one row per subject followed by any identifier that
// has data but was not targeted. cells renders a summary's measure
// columns; subjects without data get zeros when the query succeeded and
// blanks otherwise.
func perUser(r *Roster, byUser []analyzer.Summary, cells func(analyzer.Summary) []string) [][]string {
	idx := analyzer.Index(byUser)
	zeros := cells(analyzer.TotalOf(nil))
	blanks := make([]string, len(zeros))

	var rows [][]string
	listed := make(map[string]bool)
	for _, s := range r.Subjects {
		if s.Identifier == "" {
			rows = append(rows, append([]string{s.Email, "", string(s.Status)}, blanks...))
			continue
		}
		listed[s.Identifier] = true
		if sum, ok := idx[s.Identifier]; ok {
			rows = append(rows, append([]string{s.Email, s.Identifier, string(StatusOK)}, cells(sum)...))
			continue
		}
		fill := zeros
		if s.Status == StatusFailed {
			fill = blanks
		}
		rows = append(rows, append([]string{s.Email, s.Identifier, string(s.Status)}, fill...))
	}
	for _, sum := range byUser {
		id := sum.Get(analyzer.DimIdentifier)
		if listed[id] {
			continue
		}
		rows = append(rows, append([]string{r.Owner(id), id, string(StatusOK)}, cells(sum)...))
	}
	return rows
}

// keyed lays out one row per summary: its key values (identifier keys
// are preceded by the owner's email) followed by cells.
func keyed(r *Roster, summaries []analyzer.Summary, cells func(analyzer.Summary) []string) [][]string {
	rows := make([][]string, 0, len(summaries))
	for _, s := range summaries {
		var row []string
		for i, d := range s.Dims {
			if d == analyzer.DimIdentifier {
				row = append(row, r.Owner(s.Key[i]))
			}
			row = append(row, s.Key[i])
		}
		rows = append(rows, append(row, cells(s)...))
	}
	return rows
}

// measures renders the named sums in order.
func measures(names ...string) func(analyzer.Summary) []string {
	return func(s analyzer.Summary) []string {
		out := make([]string, len(names))
		for i, n := range names {
			out[i] = strconv.FormatInt(s.Value(n), 10)
		}
		return out
	}
}

func join(cells ...func(analyzer.Summary) []string) func(analyzer.Summary) []string {
	return func(s analyzer.Summary) []string {
		var out []string
		for _, c := range cells {
			out = append(out, c(s)...)
		}
		return out
	}
}

func set(d analyzer.Dimension) func(analyzer.Summary) []string {
	return func(s analyzer.Summary) []string {
		return []string{strings.Join(s.Sets[d], ", ")}
	}
}

func distinct(d analyzer.Dimension) func(analyzer.Summary) []string {
	return func(s analyzer.Summary) []string {
		return []string{strconv.Itoa(len(s.Sets[d]))}
	}
}

func pct(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

func suffixed(suffix string, names ...string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = n + suffix
	}
	return out
}

func columns(parts ...[]string) []string {
	var out []string
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
