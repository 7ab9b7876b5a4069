// Package timestamp parses access-log timestamps and time-window bounds.
package timestamp

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// ApacheLayout is the layout of the bracketed %t directive.
const ApacheLayout = "02/Jan/2006:15:04:05 -0700"

var apacheLayouts = []string{
	ApacheLayout,
	"02/Jan/2006:15:04:05.000000 -0700",
	"02/Jan/2006:15:04:05",
}

var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// Parser converts timestamp tokens into UTC-comparable times.
// Zone-less values are interpreted in Location.
type Parser struct {
	Location *time.Location
}

// NewParser returns a parser that assumes UTC for zone-less values.
func NewParser() *Parser {
	return &Parser{Location: time.UTC}
}

// ParseApache parses the %t format, with or without surrounding brackets.
func (p *Parser) ParseApache(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" || s == "-" {
		return time.Time{}, false
	}
	for _, layout := range apacheLayouts {
		if t, err := time.ParseInLocation(layout, s, p.loc()); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseTimestamp accepts strings in Apache, ISO-8601 or any layout dateparse
// recognises, and numeric unix epochs in seconds, milliseconds, microseconds
// or nanoseconds.
func (p *Parser) ParseTimestamp(v interface{}) (time.Time, bool) {
	switch x := v.(type) {
	case string:
		return p.parseString(x)
	case float64:
		return parseUnix(x)
	case int64:
		return parseUnix(float64(x))
	case int:
		return parseUnix(float64(x))
	case time.Time:
		return x, !x.IsZero()
	}
	return time.Time{}, false
}

func (p *Parser) parseString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" {
		return time.Time{}, false
	}
	if t, ok := p.ParseApache(s); ok {
		return t, true
	}
	for _, layout := range isoLayouts {
		if t, err := time.ParseInLocation(layout, s, p.loc()); err == nil {
			return t, true
		}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return parseUnix(f)
	}
	if t, err := dateparse.ParseIn(s, p.loc()); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func (p *Parser) loc() *time.Location {
	if p.Location == nil {
		return time.UTC
	}
	return p.Location
}

// parseUnix picks the epoch unit from the magnitude of v.
func parseUnix(v float64) (time.Time, bool) {
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return time.Time{}, false
	}
	switch {
	case v < 1e11:
		sec, frac := math.Modf(v)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
	case v < 1e14:
		return time.UnixMilli(int64(v)).UTC(), true
	case v < 1e17:
		return time.UnixMicro(int64(v)).UTC(), true
	default:
		return time.Unix(0, int64(v)).UTC(), true
	}
}

// ParseBound parses a time-window endpoint. An empty string is unbounded and
// yields the zero time.
func ParseBound(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	t, ok := NewParser().ParseTimestamp(s)
	if !ok {
		return time.Time{}, fmt.Errorf("unrecognised time bound %q", s)
	}
	return t, nil
}
