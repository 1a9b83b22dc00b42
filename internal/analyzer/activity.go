package analyzer

import (
	"sort"
	"time"

	"github.com/blackwell-systems/usagewatch/internal/analytics"
)

// Never is the last-active value of a user without any usage.
const Never = "never"

// DefaultActivityDays is the activity window.
const DefaultActivityDays = 30

// UserActivity is one identifier's most recent usage.
type UserActivity struct {
	Identifier string `json:"api_key"`
	LastActive string `json:"last_active"`
	// DaysSince is -1 for users never seen.
	DaysSince int  `json:"days_since_last_active"`
	Active    bool `json:"active"`
}

// ActivityReport splits identifiers into active and inactive users.
type ActivityReport struct {
	Cutoff   string         `json:"cutoff"`
	Active   []UserActivity `json:"active"`
	Inactive []UserActivity `json:"inactive"`
}

// CheckActivity finds each identifier's last active date and marks it
// active when that date is on or after now minus days. Identifiers in ids
// without facts are inactive with LastActive Never. Active users are sorted
// most recent first; inactive users by recency, never-seen last.
func CheckActivity(facts []Fact, ids []string, now time.Time, days int) ActivityReport {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	cutoff := today.AddDate(0, 0, -days).Format(analytics.DateLayout)

	last := make(map[string]string)
	for _, f := range facts {
		if f.Date == "" || f.Date == Unknown {
			continue
		}
		if f.Date > last[f.Identifier] {
			last[f.Identifier] = f.Date
		}
	}

	seen := make(map[string]bool)
	report := ActivityReport{Cutoff: cutoff}
	add := func(id string) {
		if seen[id] {
			return
		}
		seen[id] = true
		ua := UserActivity{Identifier: id, LastActive: Never, DaysSince: -1}
		if d, ok := last[id]; ok {
			ua.LastActive = d
			if t, err := analytics.ParseDate(d); err == nil {
				ua.DaysSince = int(today.Sub(t).Hours() / 24)
			}
			ua.Active = d >= cutoff
		}
		if ua.Active {
			report.Active = append(report.Active, ua)
		} else {
			report.Inactive = append(report.Inactive, ua)
		}
	}
	for _, id := range ids {
		add(id)
	}
	extra := make([]string, 0, len(last))
	for id := range last {
		extra = append(extra, id)
	}
	sort.Strings(extra)
	for _, id := range extra {
		add(id)
	}

	byRecency := func(list []UserActivity) {
		sort.SliceStable(list, func(i, j int) bool {
			a, b := list[i], list[j]
			if (a.DaysSince < 0) != (b.DaysSince < 0) {
				return b.DaysSince < 0
			}
			if a.DaysSince != b.DaysSince {
				return a.DaysSince < b.DaysSince
			}
			return a.Identifier < b.Identifier
		})
	}
	byRecency(report.Active)
	byRecency(report.Inactive)
	return report
}
