package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// TimestampLayout is the fixed-width UTC layout timestamps are persisted in.
// Fixed width makes lexicographic MIN/MAX over the text column chronological.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// inputLayouts are the producer formats accepted, tried in order. Layouts
// without a zone are interpreted as UTC.
var inputLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTimestampString parses a persisted or producer-supplied timestamp.
func ParseTimestampString(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range inputLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// ParseTimestamp accepts a JSON string in one of the supported layouts or a
// JSON number of epoch seconds (values above 1e12 are taken as milliseconds).
// Unparseable strings yield nil without error: a bad clock on the producer
// must not reject the whole run.
func ParseTimestamp(raw json.RawMessage) (*time.Time, error) {
	if isNull(raw) {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		t, err := ParseTimestampString(s)
		if err != nil {
			return nil, nil
		}
		return &t, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("timestamp: expected string or number")
	}
	if f > 1e12 {
		f /= 1000
	}
	sec, frac := math.Modf(f)
	t := time.Unix(int64(sec), int64(frac*1e9)).UTC()
	return &t, nil
}
