package report

import (
	"strconv"

	"github.com/blackwell-systems/usagewatch/internal/analyzer"
)

// ActivityTable lists active users first, then inactive ones.
func ActivityTable(rep analyzer.ActivityReport, r *Roster) Table {
	t := Table{
		Name:    "users",
		Columns: []string{colEmail, colAPIKey, "state", "last_active", "days_since_last_active"},
	}
	add := func(list []analyzer.UserActivity, state string) {
		for _, u := range list {
			days := ""
			if u.DaysSince >= 0 {
				days = strconv.Itoa(u.DaysSince)
			}
			t.Rows = append(t.Rows, []string{r.Owner(u.Identifier), u.Identifier, state, u.LastActive, days})
		}
	}
	add(rep.Active, "active")
	add(rep.Inactive, "inactive")
	if r != nil {
		for _, s := range r.Subjects {
			if s.Status == StatusNoMatch {
				t.Rows = append(t.Rows, []string{s.Email, "", string(StatusNoMatch), "", ""})
			}
		}
	}
	return t
}
