package pipeline

import (
	"context"

	"github.com/tinytelemetry/accesslens/internal/anomaly"
	"github.com/tinytelemetry/accesslens/internal/model"
)

// AbusePatterns returns the patterns found at startup. The error, if any,
// is the one the detectors reported then; the patterns of the detectors
// that succeeded are returned alongside it.
func (p *Pipeline) AbusePatterns() ([]model.AbusePattern, error) {
	return p.abuse.Get()
}

// Anomalies scores the records inside w. Nothing is cached; the same window
// always yields the same alerts.
func (p *Pipeline) Anomalies(ctx context.Context, w model.TimeWindow) ([]model.AnomalyAlert, error) {
	return p.detector.Detect(ctx, p.dataset, w)
}

// SecuritySummary condenses the anomalies inside w and counts the abuse
// patterns active during it. The risk level covers both.
func (p *Pipeline) SecuritySummary(ctx context.Context, w model.TimeWindow) (model.SecuritySummary, error) {
	alerts, err := p.Anomalies(ctx, w)
	if err != nil {
		return model.SecuritySummary{}, err
	}
	s := anomaly.Summarize(alerts)
	s.Window = w

	patterns, _ := p.abuse.Get()
	for _, pat := range patterns {
		if !overlaps(pat, w) {
			continue
		}
		s.AbusePatterns++
		if pat.Severity.Rank() > s.RiskLevel.Rank() {
			s.RiskLevel = pat.Severity
		}
	}
	return s, nil
}

// overlaps reports whether the pattern was active at any point inside w.
func overlaps(p model.AbusePattern, w model.TimeWindow) bool {
	if w.IsUnbounded() {
		return true
	}
	if p.FirstSeen.IsZero() {
		return false
	}
	last := p.LastSeen
	if last.IsZero() {
		last = p.FirstSeen
	}
	if !w.End.IsZero() && !p.FirstSeen.Before(w.End) {
		return false
	}
	if !w.Start.IsZero() && last.Before(w.Start) {
		return false
	}
	return true
}
