package duckdb

import (
	"math"
	"math/big"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// normalize maps driver and decoder values onto the small set of Go types
// carried by model.Row: nil, bool, int64, float64, string and time.Time.
func normalize(v any) any {
	switch x := v.(type) {
	case nil, bool, int64, float64, string, time.Time:
		return x
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		if x > math.MaxInt64 {
			return float64(x)
		}
		return int64(x)
	case float32:
		return float64(x)
	case *big.Int:
		if x.IsInt64() {
			return x.Int64()
		}
		f, _ := new(big.Float).SetInt(x).Float64()
		return f
	case []byte:
		return string(x)
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case interface{ Float64() float64 }:
		return x.Float64()
	}
	return v
}

// coerce converts a decoded JSON value to the Go type of the declared column.
// Columns not in the schema, such as aggregates, are only normalised.
func coerce(v any, col Column, known bool) any {
	v = normalize(v)
	if !known || v == nil {
		return v
	}
	switch col.Type {
	case SQLTimestamp:
		if s, ok := v.(string); ok {
			if t, ok := parseEngineTime(s); ok {
				return t
			}
		}
	case SQLDouble:
		if n, ok := v.(int64); ok {
			return float64(n)
		}
	}
	return v
}

var engineTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02",
}

func parseEngineTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range engineTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
