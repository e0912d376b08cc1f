// Package timeexpr resolves rule values such as "now-7 days" against a reference instant.
package timeexpr

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	appErrors "github.com/unclebandit/drip-service/internal/errors"
)

const (
	pastPrefix   = "now-"
	futurePrefix = "now+"
)

var units = map[string]time.Duration{
	"weeks": 7 * 24 * time.Hour, "week": 7 * 24 * time.Hour, "w": 7 * 24 * time.Hour,
	"days": 24 * time.Hour, "day": 24 * time.Hour, "d": 24 * time.Hour,
	"hours": time.Hour, "hour": time.Hour, "hrs": time.Hour, "hr": time.Hour, "h": time.Hour,
	"minutes": time.Minute, "minute": time.Minute, "mins": time.Minute, "min": time.Minute, "m": time.Minute,
	"seconds": time.Second, "second": time.Second, "secs": time.Second, "sec": time.Second, "s": time.Second,
	"milliseconds": time.Millisecond, "millisecond": time.Millisecond, "ms": time.Millisecond,
	"microseconds": time.Microsecond, "microsecond": time.Microsecond, "us": time.Microsecond,
}

var termRe = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*([a-zA-Z]+)`)

// Resolve turns a raw rule value into the value compared against a field.
// Relative expressions become a time.Time, "True"/"False" become bools and
// everything else is returned as the original string.
func Resolve(raw string, now time.Time) (any, error) {
	switch {
	case strings.HasPrefix(raw, pastPrefix):
		d, err := ParseDuration(strings.TrimPrefix(raw, pastPrefix))
		if err != nil {
			return nil, appErrors.NewParseError(raw, err.Error())
		}
		return now.Add(-d), nil
	case strings.HasPrefix(raw, futurePrefix):
		d, err := ParseDuration(strings.TrimPrefix(raw, futurePrefix))
		if err != nil {
			return nil, appErrors.NewParseError(raw, err.Error())
		}
		return now.Add(d), nil
	case raw == "True":
		return true, nil
	case raw == "False":
		return false, nil
	}
	return raw, nil
}

// ParseDuration parses human durations like "7 days", "1 day, 3 hours" or "2w 4h".
func ParseDuration(s string) (time.Duration, error) {
	rest := strings.TrimSpace(s)
	if rest == "" {
		return 0, appErrors.NewParseError(s, "empty duration")
	}

	var total time.Duration
	for rest != "" {
		m := termRe.FindStringSubmatch(rest)
		if m == nil {
			return 0, appErrors.NewParseError(s, "expected <number> <unit> at "+strconv.Quote(rest))
		}
		unit, ok := units[strings.ToLower(m[2])]
		if !ok {
			return 0, appErrors.NewParseError(s, "unknown unit "+strconv.Quote(m[2]))
		}
		n, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, appErrors.NewParseError(s, err.Error())
		}
		total += time.Duration(n * float64(unit))

		rest = strings.TrimLeft(rest[len(m[0]):], " ,")
		if strings.HasPrefix(strings.ToLower(rest), "and ") {
			rest = strings.TrimLeft(rest[4:], " ")
		}
	}
	return total, nil
}
