// Package anomaly scores access-log traffic against its own baseline. Each
// dimension compares its observations with the median and interquartile
// range of the same dimension, so no training data is needed.
package anomaly

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tinytelemetry/accesslens/internal/duckdb"
	"github.com/tinytelemetry/accesslens/internal/logger"
	"github.com/tinytelemetry/accesslens/internal/metrics"
	"github.com/tinytelemetry/accesslens/internal/model"
)

// Dimension names.
const (
	DimTrafficVolume      = "traffic_volume"
	DimErrorRate          = "error_rate"
	DimIdentifierRate     = "identifier_rate"
	DimUserAgentDiversity = "user_agent_diversity"
	DimPathAccess         = "path_access"
	DimResponseSize       = "response_size"
	DimHourOfDay          = "hour_of_day"
	DimDayOfWeek          = "day_of_week"
)

// Dimensions lists every dimension in evaluation order.
var Dimensions = []string{
	DimTrafficVolume, DimErrorRate, DimIdentifierRate, DimUserAgentDiversity,
	DimPathAccess, DimResponseSize, DimHourOfDay, DimDayOfWeek,
}

// Querier runs read-only SQL against one materialisation.
type Querier interface {
	Query(ctx context.Context, sql string) ([]model.Row, error)
	Handle() *duckdb.Handle
}

// dimension is one axis of the traffic that is scored independently.
type dimension struct {
	name string
	// limit caps the number of distinct samples the dimension can have;
	// zero means unbounded.
	limit     int
	query     func(h *duckdb.Handle, w model.TimeWindow, cfg Config) string
	samples   func(rows []model.Row, w model.TimeWindow, cfg Config) []sample
	describe  func(s sample, b baseline) string
	recommend func(s sample) string
}

// Detector scores the dimensions of a materialised record set.
type Detector struct {
	cfg  Config
	dims []dimension
}

// New returns a detector for cfg. Zero fields take their defaults.
func New(cfg Config) *Detector {
	return &Detector{cfg: cfg.withDefaults(), dims: dimensions()}
}

// Detect evaluates every dimension inside w and returns the alerts ordered
// by severity, then score. Dimensions with fewer than MinBaseline samples
// produce nothing. The first engine error aborts the run.
func (d *Detector) Detect(ctx context.Context, q Querier, w model.TimeWindow) ([]model.AnomalyAlert, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	h := q.Handle()
	results := make([][]model.AnomalyAlert, len(d.dims))

	g, gctx := errgroup.WithContext(ctx)
	for i, dim := range d.dims {
		g.Go(func() error {
			rows, err := q.Query(gctx, dim.query(h, w, d.cfg))
			if err != nil {
				return fmt.Errorf("%s: %w", dim.name, err)
			}
			results[i] = d.score(dim, dim.samples(rows, w, d.cfg), w)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []model.AnomalyAlert
	for _, alerts := range results {
		for _, a := range alerts {
			metrics.Detections.WithLabelValues("anomaly", a.Dimension).Inc()
		}
		out = append(out, alerts...)
	}
	Sort(out)
	logger.L().Debugw("anomaly: detection finished", "alerts", len(out), "window_start", w.Start, "window_end", w.End)
	return out, nil
}

func (d *Detector) score(dim dimension, samples []sample, w model.TimeWindow) []model.AnomalyAlert {
	need := d.cfg.MinBaseline
	if dim.limit > 0 && need > dim.limit/2+1 {
		need = dim.limit/2 + 1
	}
	if len(samples) < need {
		return nil
	}

	b := newBaseline(samples)
	var out []model.AnomalyAlert
	for _, s := range samples {
		score, ok := b.score(s.value)
		if !ok {
			continue
		}
		sev, ok := SeverityFor(score)
		if !ok {
			continue
		}
		win := s.window
		if win == (model.TimeWindow{}) {
			win = w
		}
		out = append(out, model.AnomalyAlert{
			Dimension:      dim.name,
			Severity:       sev,
			Score:          round(score),
			Window:         win,
			Subject:        s.subject,
			Count:          s.count,
			Description:    dim.describe(s, b),
			Recommendation: dim.recommend(s),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Subject < out[j].Subject
	})
	if len(out) > d.cfg.MaxPerDimension {
		out = out[:d.cfg.MaxPerDimension]
	}
	return out
}

// Sort orders alerts by severity and score, both descending, then by
// dimension and subject.
func Sort(alerts []model.AnomalyAlert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		a, b := alerts[i], alerts[j]
		if r1, r2 := a.Severity.Rank(), b.Severity.Rank(); r1 != r2 {
			return r1 > r2
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Dimension != b.Dimension {
			return a.Dimension < b.Dimension
		}
		return a.Subject < b.Subject
	})
}

func round(v float64) float64 {
	return math.Round(v*100) / 100
}

func bucketSeconds(cfg Config) int64 {
	return int64(cfg.Bucket / time.Second)
}
