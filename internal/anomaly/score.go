package anomaly

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/tinytelemetry/accesslens/internal/model"
)

// Severity bands, lowest first.
const (
	BandLow      = 1.5
	BandMedium   = 3.0
	BandHigh     = 5.0
	BandCritical = 10.0
)

// sample is one observation of a dimension.
type sample struct {
	subject string
	value   float64
	weight  float64 // how many records share this value
	count   int64   // records reported on the alert
	window  model.TimeWindow
}

// baseline summarises a dimension's own distribution.
type baseline struct {
	median, iqr, mean float64
}

func newBaseline(samples []sample) baseline {
	sorted := append([]sample(nil), samples...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].value < sorted[j].value })

	x := make([]float64, len(sorted))
	w := make([]float64, len(sorted))
	for i, s := range sorted {
		x[i] = s.value
		w[i] = s.weight
		if w[i] <= 0 {
			w[i] = 1
		}
	}
	q1 := stat.Quantile(0.25, stat.Empirical, x, w)
	q3 := stat.Quantile(0.75, stat.Empirical, x, w)
	return baseline{
		median: stat.Quantile(0.5, stat.Empirical, x, w),
		iqr:    q3 - q1,
		mean:   stat.Mean(x, w),
	}
}

// score is the deviation of v above the baseline in IQR units, falling back
// to a multiple of the mean when the IQR is zero. ok is false when neither
// spread is usable.
func (b baseline) score(v float64) (float64, bool) {
	switch {
	case b.iqr > 0:
		return (v - b.median) / b.iqr, true
	case b.mean != 0:
		return (v - b.mean) / math.Abs(b.mean), true
	}
	return 0, false
}

// SeverityFor maps a score onto the fixed severity bands. Scores below the
// low band have no severity.
func SeverityFor(score float64) (model.Severity, bool) {
	switch {
	case score >= BandCritical:
		return model.SeverityCritical, true
	case score >= BandHigh:
		return model.SeverityHigh, true
	case score >= BandMedium:
		return model.SeverityMedium, true
	case score >= BandLow:
		return model.SeverityLow, true
	}
	return "", false
}
