// internal/activity/activity.go
package activity

import (
	"time"

	apperrors "github-top-repos/internal/errors"
)

// maxRangeDays mirrors GitHub's activity retention: roughly one year.
const maxRangeDays = 365

// Event is one raw activity item: when it happened and who pushed it.
type Event struct {
	Date   time.Time
	Author string
}

// DayStat is the aggregate for one calendar day.
type DayStat struct {
	Commits int
	Authors []string
}

// Aggregate folds raw events into per-day stats. Every event increments the
// day's commit count; authors are de-duplicated per day, in first-seen order.
// No I/O, no clock.
func Aggregate(events []Event) map[time.Time]DayStat {
	days := make(map[time.Time]DayStat, len(events))
	seen := make(map[time.Time]map[string]struct{})

	for _, ev := range events {
		d := Day(ev.Date)
		st := days[d]
		st.Commits++
		if seen[d] == nil {
			seen[d] = make(map[string]struct{})
		}
		if _, ok := seen[d][ev.Author]; !ok {
			seen[d][ev.Author] = struct{}{}
			st.Authors = append(st.Authors, ev.Author)
		}
		days[d] = st
	}

	return days
}

// Day truncates a timestamp to its UTC calendar day, the canonical key for
// activity records.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ValidateRange checks an activity query window against the allowed limits.
// An inverted range (until before since) is empty, not an error; the caller
// answers it with no results. A window wider than a year, or one ending more
// than a year ago, can never be satisfied and is rejected.
func ValidateRange(since, until, today time.Time) (empty bool, err error) {
	since, until, today = Day(since), Day(until), Day(today)

	if until.Before(since) {
		return true, nil
	}
	if until.Sub(since) > maxRangeDays*24*time.Hour || today.Sub(until) > maxRangeDays*24*time.Hour {
		return false, &apperrors.ErrDateRangeTooWide{Since: since, Until: until}
	}
	return false, nil
}
