package event

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the single calendar-date format accepted for occurrence dates.
const DateLayout = "2006-01-02"

// ParseDate parses the calendar date at the start of s. A trailing ISO-8601 time part
// ("2025-06-01T20:00:00-03:00") is ignored; anything else that does not match DateLayout
// is an error. The result is midnight UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	datePart := s
	if len(s) > len(DateLayout) && s[len(DateLayout)] == 'T' {
		datePart = s[:len(DateLayout)]
	}

	t, err := time.Parse(DateLayout, datePart)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognised date %q: %w", s, err)
	}
	return t, nil
}

// FormatDate renders t as a calendar date.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// Truncate drops the time of day. The calendar date is taken in t's own location and
// returned as midnight UTC.
func Truncate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// WeeklyDates returns count dates starting at from, spaced interval apart, truncated to
// calendar dates.
func WeeklyDates(from time.Time, count int, interval time.Duration) []time.Time {
	dates := make([]time.Time, 0, count)
	start := Truncate(from)
	for i := 0; i < count; i++ {
		dates = append(dates, start.Add(time.Duration(i)*interval))
	}
	return dates
}

// IsUpcoming reports whether date is today or later relative to now.
func IsUpcoming(date, now time.Time) bool {
	return !Truncate(date).Before(Truncate(now))
}
