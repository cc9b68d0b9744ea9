// Package timestamp normalizes the timestamps sensor payloads carry. Upstream
// publishers mix RFC 3339 strings, Unix seconds and Unix milliseconds, sometimes as
// numeric strings.
package timestamp

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// msThreshold separates seconds from milliseconds: numbers above it are treated as
// milliseconds (1e12 ms is September 2001).
const msThreshold = 1e12

// layouts are tried in order for string input.
var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999", // RFC 3339 without zone, read as UTC
	"2006-01-02 15:04:05",
}

// Parse converts a decoded JSON value to a UTC time. It accepts strings in the
// layouts above or holding a number, float64 and int64 Unix times in seconds or
// milliseconds, json.Number, json.RawMessage and time.Time. ok is false for nil,
// zero and anything unparseable.
func Parse(input any) (t time.Time, ok bool) {
	switch v := input.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		return v.UTC(), !v.IsZero()
	case float64:
		return fromNumber(v)
	case int64:
		return fromNumber(float64(v))
	case int:
		return fromNumber(float64(v))
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return fromNumber(f)
	case json.RawMessage:
		return ParseRaw(v)
	case string:
		return parseString(v)
	default:
		return time.Time{}, false
	}
}

// ParseRaw parses an undecoded JSON value.
func ParseRaw(raw json.RawMessage) (time.Time, bool) {
	if len(raw) == 0 {
		return time.Time{}, false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return time.Time{}, false
	}
	return Parse(v)
}

func parseString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return fromNumber(f)
	}
	return time.Time{}, false
}

func fromNumber(f float64) (time.Time, bool) {
	if f <= 0 {
		return time.Time{}, false
	}
	if f > msThreshold {
		return time.UnixMilli(int64(f)).UTC(), true
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC(), true
}

// Or returns t when ok, otherwise fallback.
func Or(t time.Time, ok bool, fallback time.Time) time.Time {
	if ok {
		return t
	}
	return fallback
}
