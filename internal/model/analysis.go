package model

import (
	"fmt"
	"time"
)

// ColumnType is the inferred semantic type of a column.
type ColumnType string

const (
	TypeIPAddress   ColumnType = "ip_address"
	TypeURL         ColumnType = "url"
	TypeUserAgent   ColumnType = "user_agent"
	TypeNumeric     ColumnType = "numeric"
	TypeTimestamp   ColumnType = "timestamp"
	TypeCategorical ColumnType = "categorical"
	TypeText        ColumnType = "text"
)

// IsStringLike reports whether values of this type are materialised as text.
func (t ColumnType) IsStringLike() bool {
	return t != TypeNumeric && t != TypeTimestamp
}

// ColumnSummary holds type-specific statistics. Only the fields relevant to the
// column's type are populated.
type ColumnSummary struct {
	Integral  bool         `json:"integral,omitempty"`
	Min       float64      `json:"min,omitempty"`
	Max       float64      `json:"max,omitempty"`
	Mean      float64      `json:"mean,omitempty"`
	StdDev    float64      `json:"std_dev,omitempty"`
	P50       float64      `json:"p50,omitempty"`
	P90       float64      `json:"p90,omitempty"`
	P95       float64      `json:"p95,omitempty"`
	P99       float64      `json:"p99,omitempty"`
	Earliest  time.Time    `json:"earliest"`
	Latest    time.Time    `json:"latest"`
	AvgLength float64      `json:"avg_length,omitempty"`
	TopValues []ValueCount `json:"top_values,omitempty"`
}

// ColumnMetadata describes one column of a RecordSet.
type ColumnMetadata struct {
	Name         string        `json:"name"`
	Type         ColumnType    `json:"type"`
	Cardinality  int           `json:"cardinality"`
	NullCount    int           `json:"null_count"`
	TotalCount   int           `json:"total_count"`
	SampleValue  string        `json:"sample_value,omitempty"`
	AnomalyScore float64       `json:"anomaly_score"`
	Summary      ColumnSummary `json:"summary"`
	Degraded     bool          `json:"degraded,omitempty"`
}

// DegradedColumn is the minimal metadata used when analysis of a column fails.
func DegradedColumn(name string) ColumnMetadata {
	return ColumnMetadata{Name: name, Type: TypeText, Degraded: true}
}

// TimeWindow bounds a query by timestamp. A zero Start or End is unbounded on
// that side. The window is half-open: Start <= t < End.
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// IsUnbounded reports whether neither side is bounded.
func (w TimeWindow) IsUnbounded() bool {
	return w.Start.IsZero() && w.End.IsZero()
}

// Contains reports whether t falls inside the window. Absent timestamps are
// only contained by unbounded windows.
func (w TimeWindow) Contains(t time.Time) bool {
	if w.IsUnbounded() {
		return true
	}
	if t.IsZero() {
		return false
	}
	if !w.Start.IsZero() && t.Before(w.Start) {
		return false
	}
	if !w.End.IsZero() && !t.Before(w.End) {
		return false
	}
	return true
}

// Validate rejects windows whose start is not before their end.
func (w TimeWindow) Validate() error {
	if !w.Start.IsZero() && !w.End.IsZero() && !w.Start.Before(w.End) {
		return fmt.Errorf("time window start %s must be before end %s",
			w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
	}
	return nil
}

// TimeRange is the span of timestamps present in the data.
type TimeRange struct {
	Earliest time.Time `json:"earliest"`
	Latest   time.Time `json:"latest"`
	Valid    bool      `json:"valid"`
}
