package clock

import "time"

const layout = "2006-01-02T15:04:05Z"

// All effective dates and cutoffs in the system are UTC; term comparisons
// use "older than or equal to the cutoff" semantics.

func Now() string {
	return NowUTC().Format(layout)
}

func NowUTC() time.Time {
	return time.Now().UTC()
}

// Cutoff returns the UTC instant the given number of days before now.
// A record with effective date <= Cutoff(days) has lapsed a term of that
// many days.
func Cutoff(days int) time.Time {
	return NowUTC().Add(-time.Duration(days) * 24 * time.Hour)
}

// NextDaily returns the next occurrence of hh:mm UTC strictly after now.
func NextDaily(now time.Time, hour, minute int) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
