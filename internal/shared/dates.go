package shared

import (
	"errors"
	"strings"
	"time"
)

// DateLayout is the wire format of business dates.
const DateLayout = "2006-01-02"

// ErrInvalidDate indicates a business date that cannot be parsed.
var ErrInvalidDate = errors.New("business date must be YYYY-MM-DD")

// ParseBusinessDate parses a YYYY-MM-DD string into midnight UTC.
func ParseBusinessDate(raw string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return t, nil
}

// NormalizeBusinessDate drops the clock part, keeping the calendar date as seen
// in the value's own location.
func NormalizeBusinessDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// BusinessDateAt returns the business date of instant now in loc.
func BusinessDateAt(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return NormalizeBusinessDate(now.In(loc))
}
