package activity

import (
	"fmt"
	"strings"
	"time"

	"samay/internal/apperr"
	"samay/internal/storage"
)

// ISOLayout matches the millisecond UTC timestamps the tracker sends
const ISOLayout = "2006-01-02T15:04:05.000Z07:00"

const dateLayout = "2006-01-02"

// FormatISO renders t in UTC with millisecond precision
func FormatISO(t time.Time) string {
	return t.UTC().Format(ISOLayout)
}

// ParseTimestamp accepts the RFC 3339 shapes trackers emit
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

// NormalizeTimestamp rewrites any parseable timestamp as FormatISO so that
// string comparison on the column orders by instant. Unparseable input is
// kept as sent.
func NormalizeTimestamp(s string) string {
	s = strings.TrimSpace(s)
	t, err := ParseTimestamp(s)
	if err != nil {
		return s
	}
	return FormatISO(t)
}

// DayWindow spans the calendar day of t in loc, from 00:00:00.000 up to the
// next local midnight, as UTC strings.
func DayWindow(t time.Time, loc *time.Location) storage.TimestampWindow {
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return storage.TimestampWindow{From: FormatISO(start), To: FormatISO(start.AddDate(0, 0, 1))}
}

// LastInstant is the final millisecond inside w, for display
func LastInstant(w storage.TimestampWindow) string {
	t, err := ParseTimestamp(w.To)
	if err != nil {
		return w.To
	}
	return FormatISO(t.Add(-time.Millisecond))
}

// ParseDate parses YYYY-MM-DD as midnight in loc
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, apperr.Validation(fmt.Sprintf("invalid date %q, expected YYYY-MM-DD", s))
	}
	return t, nil
}

// Range is a query-string date range. Either bound may be a calendar date
// (interpreted in the reference timezone) or a full RFC 3339 instant.
type Range struct {
	StartDate string `form:"startDate"`
	EndDate   string `form:"endDate"`
}

func (r Range) bounds(loc *time.Location) (from, to *time.Time, err error) {
	if r.StartDate != "" {
		t, err := parseBound(r.StartDate, loc, false)
		if err != nil {
			return nil, nil, err
		}
		from = &t
	}
	if r.EndDate != "" {
		t, err := parseBound(r.EndDate, loc, true)
		if err != nil {
			return nil, nil, err
		}
		to = &t
	}
	if from != nil && to != nil && to.Before(*from) {
		return nil, nil, apperr.Validation("endDate must not be before startDate")
	}
	return from, to, nil
}

// Window converts the range to a timestamp-column window. The end bound is
// inclusive at millisecond precision, so To is one millisecond past it.
func (r Range) Window(loc *time.Location) (storage.TimestampWindow, error) {
	from, to, err := r.bounds(loc)
	if err != nil {
		return storage.TimestampWindow{}, err
	}
	var w storage.TimestampWindow
	if from != nil {
		w.From = FormatISO(*from)
	}
	if to != nil {
		w.To = FormatISO(to.Truncate(time.Millisecond).Add(time.Millisecond))
	}
	return w, nil
}

func parseBound(s string, loc *time.Location, end bool) (time.Time, error) {
	if len(strings.TrimSpace(s)) == len(dateLayout) {
		day, err := ParseDate(s, loc)
		if err != nil {
			return time.Time{}, err
		}
		if end {
			return day.AddDate(0, 0, 1).Add(-time.Millisecond), nil
		}
		return day, nil
	}
	t, err := ParseTimestamp(s)
	if err != nil {
		return time.Time{}, apperr.Validation(fmt.Sprintf("invalid date %q", s))
	}
	return t, nil
}
