package model

import "context"

// GroupRequest selects columns to group by within a time window.
type GroupRequest struct {
	Columns []string
	Window  TimeWindow
	Limit   int // 0 = no limit
}

// GroupCount is the frequency of one combination of group values.
// Values holds nil for absent cells.
type GroupCount struct {
	Values  map[string]any `json:"values"`
	Count   int64          `json:"count"`
	Percent float64        `json:"percent"`
}

// GroupResult is the output of a group analysis.
type GroupResult struct {
	Columns []string     `json:"columns"`
	Window  TimeWindow   `json:"window"`
	Total   int64        `json:"total"`
	Groups  []GroupCount `json:"groups"`
}

// HistogramBucket is one equal-width bin of a numeric distribution.
type HistogramBucket struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Count int64   `json:"count"`
}

// Distribution describes the values of a single column.
type Distribution struct {
	Column    string            `json:"column"`
	Type      ColumnType        `json:"type"`
	Window    TimeWindow        `json:"window"`
	Total     int64             `json:"total"`
	Nulls     int64             `json:"nulls"`
	TopValues []ValueCount      `json:"top_values"`
	Histogram []HistogramBucket `json:"histogram,omitempty"`
}

// SecuritySummary condenses anomaly alerts and abuse patterns.
type SecuritySummary struct {
	Window          TimeWindow       `json:"window"`
	TotalAlerts     int              `json:"total_alerts"`
	BySeverity      map[Severity]int `json:"by_severity"`
	ByDimension     map[string]int   `json:"by_dimension"`
	TopAlerts       []AnomalyAlert   `json:"top_alerts"`
	Recommendations []string         `json:"recommendations"`
	AbusePatterns   int              `json:"abuse_patterns"`
	RiskLevel       Severity         `json:"risk_level,omitempty"`
}

// ColumnReader exposes the parse summary and inferred column metadata.
type ColumnReader interface {
	Summary() ParseSummary
	Columns() []ColumnMetadata
	Column(name string) (ColumnMetadata, bool)
	TimeRange() TimeRange
}

// GroupAnalyzer runs aggregate queries against the materialised records.
type GroupAnalyzer interface {
	GroupAnalysis(ctx context.Context, req GroupRequest) (GroupResult, error)
	Distribution(ctx context.Context, column string, w TimeWindow, limit int) (Distribution, error)
}

// AlertReader exposes cached abuse patterns and on-demand anomalies.
type AlertReader interface {
	AbusePatterns() ([]AbusePattern, error)
	Anomalies(ctx context.Context, w TimeWindow) ([]AnomalyAlert, error)
	SecuritySummary(ctx context.Context, w TimeWindow) (SecuritySummary, error)
}

// SchemaQuerier runs arbitrary read-only queries.
type SchemaQuerier interface {
	Query(ctx context.Context, sql string) ([]Row, error)
}

// ReadAPI is the unified read contract for the HTTP surface.
type ReadAPI interface {
	ColumnReader
	GroupAnalyzer
	AlertReader
	SchemaQuerier
}
