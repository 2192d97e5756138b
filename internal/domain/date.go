package domain

import (
	"fmt"
	"time"
)

// DateLayout is the wire and storage format for calendar dates.
const DateLayout = "2006-01-02"

// Day normalizes t to midnight UTC of its calendar day.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Today returns the current date normalized to midnight UTC.
func Today() time.Time {
	return Day(time.Now())
}

// ParseDate parses a YYYY-MM-DD string into a UTC day.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing date %q: %w", s, err)
	}
	return d, nil
}

// MustDate parses a YYYY-MM-DD string and panics on failure. Intended for tests and constants.
func MustDate(s string) time.Time {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// DateRange is an inclusive range of calendar days.
type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// NewDateRange builds a normalized range. From and To are swapped when given out of order.
func NewDateRange(from, to time.Time) DateRange {
	from, to = Day(from), Day(to)
	if to.Before(from) {
		from, to = to, from
	}
	return DateRange{From: from, To: to}
}

// Days returns every calendar day in the range, in ascending order.
func (r DateRange) Days() []time.Time {
	var days []time.Time
	for d := Day(r.From); !d.After(Day(r.To)); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// Contains reports whether day d falls inside the range.
func (r DateRange) Contains(d time.Time) bool {
	d = Day(d)
	return !d.Before(Day(r.From)) && !d.After(Day(r.To))
}

func (r DateRange) String() string {
	return r.From.Format(DateLayout) + ".." + r.To.Format(DateLayout)
}
