package analyzer

import (
	"testing"

	"github.com/blackwell-systems/usagewatch/internal/analytics"
)

func TestCommandFacts_RowKeyWinsOverTag(t *testing.T) {
	facts := CommandFacts([]Tagged{{
		Identifier: "tag",
		Rows: []analytics.Row{
			{"api_key": "row-key", "date": "2025-10-01", "bytes_added": "4", "accepted": "true"},
			{"date": "2025-10-01", "bytes_removed": "2", "accepted": false},
		},
	}})
	if len(facts) != 2 {
		t.Fatalf("expected 2 facts, got %d", len(facts))
	}
	if facts[0].Identifier != "row-key" {
		t.Errorf("first fact identifier = %q, want row-key", facts[0].Identifier)
	}
	if facts[1].Identifier != "tag" {
		t.Errorf("second fact identifier = %q, want tag", facts[1].Identifier)
	}
	if facts[1].Language != Unknown || facts[1].IDE != Unknown {
		t.Errorf("missing language/ide should read as unknown, got %q/%q", facts[1].Language, facts[1].IDE)
	}
	if facts[0].Values[MeasureAccepted] != 1 || facts[1].Values[MeasureAccepted] != 0 {
		t.Error("accepted flag not normalized")
	}
}

func TestCommandFacts_DateFromTimestamp(t *testing.T) {
	facts := CommandFacts([]Tagged{{
		Identifier: "id1",
		Rows:       []analytics.Row{{"timestamp": "2025-10-03T11:22:33Z"}},
	}})
	if facts[0].Date != "2025-10-03" {
		t.Errorf("date = %q, want 2025-10-03", facts[0].Date)
	}
}

func TestAnalyzeCommands_AddedAndRemovedNotNetted(t *testing.T) {
	facts := CommandFacts([]Tagged{{
		Identifier: "id1",
		Rows: []analytics.Row{
			{"date": "2025-10-01", "bytes_added": "10", "bytes_removed": "4", "accepted": true},
			{"date": "2025-10-02", "bytes_added": "5", "bytes_removed": "6"},
		},
	}})
	a := AnalyzeCommands(facts)

	if len(a.ByUser) != 1 {
		t.Fatalf("expected 1 user, got %d", len(a.ByUser))
	}
	u := a.ByUser[0]
	if u.Value(MeasureBytesAdded) != 15 {
		t.Errorf("bytes_added = %d, want 15", u.Value(MeasureBytesAdded))
	}
	if u.Value(MeasureBytesRemoved) != 10 {
		t.Errorf("bytes_removed = %d, want 10", u.Value(MeasureBytesRemoved))
	}
	if got := AcceptanceRate(u); got != 50 {
		t.Errorf("acceptance = %v, want 50", got)
	}
	if len(a.ByUserDate) != 2 || len(a.ByDate) != 2 {
		t.Errorf("expected 2 dates, got %d/%d", len(a.ByUserDate), len(a.ByDate))
	}
}

func TestAcceptanceRate_NoCommands(t *testing.T) {
	if got := AcceptanceRate(TotalOf(nil)); got != 0 {
		t.Errorf("acceptance of empty summary = %v, want 0", got)
	}
}

func TestCommandQuery(t *testing.T) {
	r, _ := analytics.ParseDateRange("2025-10-01", "2025-10-02")
	q := CommandQuery(r)
	if q.DataSource != analytics.SourceCommandData {
		t.Errorf("data source = %q", q.DataSource)
	}
	if len(q.Filters) != 2 || q.Filters[0].Value != "2025-10-01" || q.Filters[1].Value != "2025-10-02" {
		t.Errorf("unexpected filters: %+v", q.Filters)
	}
}
