package model

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Severity ranks a finding.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities; higher is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// AllSeverities lists severities from most to least severe.
var AllSeverities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}

// PatternKind names an abuse heuristic.
type PatternKind string

const (
	PatternBruteForce PatternKind = "brute_force"
	PatternDDoS       PatternKind = "ddos"
	PatternScanning   PatternKind = "scanning"
	PatternBot        PatternKind = "bot"
)

// AbusePattern is one finding from a rule-based abuse detector.
type AbusePattern struct {
	Kind         PatternKind    `json:"kind"`
	Identifiers  []string       `json:"identifiers"`
	RequestCount int64          `json:"request_count"`
	Confidence   float64        `json:"confidence"`
	Severity     Severity       `json:"severity"`
	FirstSeen    time.Time      `json:"first_seen"`
	LastSeen     time.Time      `json:"last_seen"`
	Description  string         `json:"description"`
	Evidence     map[string]any `json:"evidence,omitempty"`
}

// Key identifies a pattern for deduplication and stable ordering.
func (p AbusePattern) Key() string {
	return fmt.Sprintf("%s|%s|%d", p.Kind, strings.Join(p.Identifiers, ","), p.FirstSeen.Unix())
}

// Duration returns the observed time span of the pattern.
func (p AbusePattern) Duration() time.Duration {
	if p.FirstSeen.IsZero() || p.LastSeen.IsZero() {
		return 0
	}
	return p.LastSeen.Sub(p.FirstSeen)
}

// AnomalyAlert is one finding from the statistical anomaly detector.
type AnomalyAlert struct {
	Dimension      string     `json:"dimension"`
	Severity       Severity   `json:"severity"`
	Score          float64    `json:"score"`
	Window         TimeWindow `json:"window"`
	Subject        string     `json:"subject"`
	Count          int64      `json:"count"`
	Description    string     `json:"description"`
	Recommendation string     `json:"recommendation"`
}

// ClampUnit bounds v to [0, 1]. NaN maps to 0.
func ClampUnit(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
