package normalize

import (
	"strconv"
	"strings"
	"time"
)

// dateFormats lists the date renderings spreadsheet exports actually
// produce, tried in order.
var dateFormats = []string{
	"2006-01-02",
	"1/2/2006",
	"01/02/2006",
	"1-2-2006",
	"2006/01/02",
	"2006-01-02 15:04:05",
	"1/2/2006 15:04:05",
	"1/2/2006 15:04",
	"2006-01-02T15:04:05",
	"1/2/06",
}

// ParseDate parses a raw cell into a day-precision time. The second return
// is false when the value is empty or matches no known format.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// ParseBool interprets spreadsheet checkbox renderings. The second return
// is false when the value is empty or unrecognized.
func ParseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "1", "x", "checked":
		return true, true
	case "false", "no", "0", "unchecked":
		return false, true
	}
	return false, false
}

// ParseFloat parses a numeric cell, returning nil for blanks and junk.
func ParseFloat(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

// ParseInt parses an integer cell, tolerating float renderings like "3.0".
func ParseInt(s string) *int {
	f := ParseFloat(s)
	if f == nil {
		return nil
	}
	n := int(*f)
	return &n
}
