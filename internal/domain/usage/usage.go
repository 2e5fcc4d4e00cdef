// Package usage describes a caller's spend against the daily ceiling.
package usage

import "time"

// DayFormat is the calendar-day layout used in ledger keys and reports.
const DayFormat = "2006-01-02"

// Report is a point-in-time view of one user's spend for one UTC day.
type Report struct {
	user     string
	day      time.Time
	spent    float64
	limit    float64
	resetsAt time.Time
}

// NewReport creates a daily report. day is truncated to UTC midnight.
func NewReport(user string, day time.Time, spent, limit float64) Report {
	d := day.UTC()
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	return Report{
		user:     user,
		day:      start,
		spent:    spent,
		limit:    limit,
		resetsAt: start.Add(24 * time.Hour),
	}
}

// User returns the user the report belongs to.
func (r Report) User() string { return r.user }

// Day returns the UTC day formatted as YYYY-MM-DD.
func (r Report) Day() string { return r.day.Format(DayFormat) }

// Spent returns the USD recorded so far today.
func (r Report) Spent() float64 { return r.spent }

// Limit returns the daily USD ceiling.
func (r Report) Limit() float64 { return r.limit }

// Remaining returns the USD left before the ceiling, never negative.
func (r Report) Remaining() float64 {
	if rem := r.limit - r.spent; rem > 0 {
		return rem
	}
	return 0
}

// IsExhausted reports whether admission would deny the next request.
func (r Report) IsExhausted() bool { return r.spent >= r.limit }

// ResetsAt returns the next UTC midnight.
func (r Report) ResetsAt() time.Time { return r.resetsAt }
