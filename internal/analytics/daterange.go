package analytics

import (
	"errors"
	"fmt"
	"time"
)

// DateLayout is the calendar date format used by the service and in reports.
const DateLayout = "2006-01-02"

// DateRange is an inclusive range of calendar days in UTC.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: use YYYY-MM-DD", s)
	}
	return t, nil
}

// ParseDateRange parses and validates an inclusive start/end pair.
func ParseDateRange(start, end string) (DateRange, error) {
	s, err := ParseDate(start)
	if err != nil {
		return DateRange{}, err
	}
	e, err := ParseDate(end)
	if err != nil {
		return DateRange{}, err
	}
	r := DateRange{Start: s, End: e}
	return r, r.Validate()
}

// LastNDays returns the range from n days before now through now.
func LastNDays(now time.Time, n int) DateRange {
	end := truncateDay(now)
	return DateRange{Start: end.AddDate(0, 0, -n), End: end}
}

// Validate reports whether the range is usable.
func (r DateRange) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return errors.New("date range requires both start and end")
	}
	if truncateDay(r.Start).After(truncateDay(r.End)) {
		return fmt.Errorf("start date %s is after end date %s", r.StartDate(), r.EndDate())
	}
	return nil
}

// StartDate returns the start as YYYY-MM-DD.
func (r DateRange) StartDate() string { return r.Start.Format(DateLayout) }

// EndDate returns the end as YYYY-MM-DD.
func (r DateRange) EndDate() string { return r.End.Format(DateLayout) }

// StartTimestamp returns the first instant of the range (directory format).
func (r DateRange) StartTimestamp() string {
	return r.Start.Format(DateLayout) + "T00:00:00Z"
}

// EndTimestamp returns the last second of the range (directory format).
func (r DateRange) EndTimestamp() string {
	return r.End.Format(DateLayout) + "T23:59:59Z"
}

// Days returns the number of calendar days covered, inclusive.
func (r DateRange) Days() int {
	return int(truncateDay(r.End).Sub(truncateDay(r.Start)).Hours()/24) + 1
}

// Contains reports whether the YYYY-MM-DD date falls inside the range.
func (r DateRange) Contains(date string) bool {
	return date >= r.StartDate() && date <= r.EndDate()
}

// Chunks splits the range into consecutive windows of at most days days.
// Windows never overlap and together cover the range exactly, so summing
// per-window results neither drops nor double counts a day.
func (r DateRange) Chunks(days int) []DateRange {
	if days <= 0 || r.Days() <= days {
		return []DateRange{r}
	}
	var out []DateRange
	start := truncateDay(r.Start)
	end := truncateDay(r.End)
	for !start.After(end) {
		stop := start.AddDate(0, 0, days-1)
		if stop.After(end) {
			stop = end
		}
		out = append(out, DateRange{Start: start, End: stop})
		start = stop.AddDate(0, 0, 1)
	}
	return out
}

// String implements fmt.Stringer.
func (r DateRange) String() string {
	return r.StartDate() + ".." + r.EndDate()
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
