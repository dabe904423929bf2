package logparse

import (
	"strings"
	"time"
)

// timestampLayouts is the ordered list of layouts the parser recognizes.
// First successful parse wins. The syslog layout carries no year; callers get
// the current year substituted.
var timestampLayouts = []string{
	"2006-01-02 15:04:05,000",
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.000Z07:00",
	time.RFC3339,
	"Jan _2 15:04:05",
	"02/Jan/2006:15:04:05 -0700",
}

// ParseTimestamp tries each known layout in order. The boolean is false when
// no layout matched; callers fall back to ingestion time.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		ts, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if ts.Year() == 0 {
			// layout without a year (syslog): assume the current one
			ts = ts.AddDate(time.Now().Year(), 0, 0)
		}
		return ts, true
	}
	return time.Time{}, false
}

// leadingTimestamp attempts to read a timestamp from the first two
// whitespace-delimited tokens of a raw line, then from the first token alone
// (single-token RFC3339 lines).
func leadingTimestamp(raw string) (time.Time, bool) {
	fields := strings.Fields(raw)
	if len(fields) >= 2 {
		if ts, ok := ParseTimestamp(fields[0] + " " + fields[1]); ok {
			return ts, true
		}
	}
	if len(fields) >= 1 {
		if ts, ok := ParseTimestamp(fields[0]); ok {
			return ts, true
		}
	}
	return time.Time{}, false
}
