package anomaly

import (
	"github.com/tinytelemetry/accesslens/internal/model"
)

// Summary limits.
const (
	TopAlerts          = 10
	MaxRecommendations = 10
)

// Summarize condenses alerts into counts per severity and dimension, the
// most severe alerts and their distinct recommendations. The risk level is
// the highest severity present. Window and AbusePatterns are left for the
// caller to fill in.
func Summarize(alerts []model.AnomalyAlert) model.SecuritySummary {
	sorted := append([]model.AnomalyAlert(nil), alerts...)
	Sort(sorted)

	s := model.SecuritySummary{
		TotalAlerts:     len(sorted),
		BySeverity:      make(map[model.Severity]int, len(model.AllSeverities)),
		ByDimension:     make(map[string]int),
		TopAlerts:       []model.AnomalyAlert{},
		Recommendations: []string{},
	}
	for _, sev := range model.AllSeverities {
		s.BySeverity[sev] = 0
	}
	for _, a := range sorted {
		s.BySeverity[a.Severity]++
		s.ByDimension[a.Dimension]++
		if a.Severity.Rank() > s.RiskLevel.Rank() {
			s.RiskLevel = a.Severity
		}
	}

	if len(sorted) > TopAlerts {
		s.TopAlerts = sorted[:TopAlerts]
	} else {
		s.TopAlerts = append(s.TopAlerts, sorted...)
	}

	seen := make(map[string]bool)
	for _, a := range sorted {
		if len(s.Recommendations) == MaxRecommendations {
			break
		}
		if a.Recommendation == "" || seen[a.Recommendation] {
			continue
		}
		seen[a.Recommendation] = true
		s.Recommendations = append(s.Recommendations, a.Recommendation)
	}
	return s
}
