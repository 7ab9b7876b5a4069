package model

import (
	"time"

	"github.com/goccy/go-json"
)

// Zero times mean "unset" throughout the model. The encoders disagree on
// omitzero, so the types carrying optional times drop them explicitly.

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// MarshalJSON omits unbounded sides.
func (w TimeWindow) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Start *time.Time `json:"start,omitempty"`
		End   *time.Time `json:"end,omitempty"`
	}{optionalTime(w.Start), optionalTime(w.End)})
}

// MarshalJSON omits the bounds when no timestamps were seen.
func (r TimeRange) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Earliest *time.Time `json:"earliest,omitempty"`
		Latest   *time.Time `json:"latest,omitempty"`
		Valid    bool       `json:"valid"`
	}{optionalTime(r.Earliest), optionalTime(r.Latest), r.Valid})
}

// MarshalJSON omits the time bounds of non-timestamp columns.
func (s ColumnSummary) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Integral  bool         `json:"integral,omitempty"`
		Min       float64      `json:"min,omitempty"`
		Max       float64      `json:"max,omitempty"`
		Mean      float64      `json:"mean,omitempty"`
		StdDev    float64      `json:"std_dev,omitempty"`
		P50       float64      `json:"p50,omitempty"`
		P90       float64      `json:"p90,omitempty"`
		P95       float64      `json:"p95,omitempty"`
		P99       float64      `json:"p99,omitempty"`
		Earliest  *time.Time   `json:"earliest,omitempty"`
		Latest    *time.Time   `json:"latest,omitempty"`
		AvgLength float64      `json:"avg_length,omitempty"`
		TopValues []ValueCount `json:"top_values,omitempty"`
	}{
		Integral: s.Integral, Min: s.Min, Max: s.Max, Mean: s.Mean, StdDev: s.StdDev,
		P50: s.P50, P90: s.P90, P95: s.P95, P99: s.P99,
		Earliest: optionalTime(s.Earliest), Latest: optionalTime(s.Latest),
		AvgLength: s.AvgLength, TopValues: s.TopValues,
	})
}

// MarshalJSON omits first and last seen for detectors without timestamps.
func (p AbusePattern) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind         PatternKind    `json:"kind"`
		Identifiers  []string       `json:"identifiers"`
		RequestCount int64          `json:"request_count"`
		Confidence   float64        `json:"confidence"`
		Severity     Severity       `json:"severity"`
		FirstSeen    *time.Time     `json:"first_seen,omitempty"`
		LastSeen     *time.Time     `json:"last_seen,omitempty"`
		Description  string         `json:"description"`
		Evidence     map[string]any `json:"evidence,omitempty"`
	}{
		Kind: p.Kind, Identifiers: p.Identifiers, RequestCount: p.RequestCount,
		Confidence: p.Confidence, Severity: p.Severity,
		FirstSeen: optionalTime(p.FirstSeen), LastSeen: optionalTime(p.LastSeen),
		Description: p.Description, Evidence: p.Evidence,
	})
}
