package apt

import (
	"strconv"
	"strings"
	"time"
)

// dateLayout is the Release date format without its zone,
// e.g. "Sat, 10 Feb 2024 10:04:25".
const dateLayout = "Mon, 2 Jan 2006 15:04:05"

// zoneOffsets maps the zone names accepted in Release dates to their
// offset from UTC in hours.
var zoneOffsets = map[string]int{
	"UT":  0,
	"UTC": 0,
	"GMT": 0,
	"Z":   0,
	"EST": -5,
	"EDT": -4,
	"CST": -6,
	"CDT": -5,
	"MST": -7,
	"MDT": -6,
	"PST": -8,
	"PDT": -7,
}

// parseDate parses a Release timestamp and returns it in UTC.
func parseDate(field, text string) (time.Time, error) {
	tokens := strings.Fields(text)
	if len(tokens) != 6 {
		return time.Time{}, fail(&DateParseError{Field: field, Text: text, Reason: "expected \"Day, DD Mon YYYY HH:MM:SS ZONE\""})
	}

	offset, ok := zoneOffset(tokens[5])
	if !ok {
		return time.Time{}, fail(&DateParseError{Field: field, Text: text, Reason: "unrecognized time zone " + strconv.Quote(tokens[5])})
	}

	// the layout's hour also accepts a single digit
	if len(tokens[4]) != len("15:04:05") {
		return time.Time{}, fail(&DateParseError{Field: field, Text: text, Reason: "time must be HH:MM:SS"})
	}

	t, err := time.ParseInLocation(dateLayout, strings.Join(tokens[:5], " "), time.UTC)
	if err != nil {
		return time.Time{}, fail(&DateParseError{Field: field, Text: text, Reason: "does not match the date format"})
	}
	return t.Add(-time.Duration(offset) * time.Second).UTC(), nil
}

// zoneOffset returns the offset in seconds east of UTC for a zone
// abbreviation or a numeric "+hhmm"/"-hhmm" offset.
func zoneOffset(zone string) (int, bool) {
	if h, ok := zoneOffsets[strings.ToUpper(zone)]; ok {
		return h * 3600, true
	}
	if len(zone) != 5 || (zone[0] != '+' && zone[0] != '-') {
		return 0, false
	}
	hh, err := strconv.Atoi(zone[1:3])
	if err != nil {
		return 0, false
	}
	mm, err := strconv.Atoi(zone[3:5])
	if err != nil || hh > 23 || mm > 59 {
		return 0, false
	}
	offset := hh*3600 + mm*60
	if zone[0] == '-' {
		offset = -offset
	}
	return offset, true
}
