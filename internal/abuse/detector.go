// Package abuse runs rule-based detectors for brute force, flood, scanning
// and bot traffic against a materialised record set.
package abuse

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/tinytelemetry/accesslens/internal/duckdb"
	"github.com/tinytelemetry/accesslens/internal/logger"
	"github.com/tinytelemetry/accesslens/internal/metrics"
	"github.com/tinytelemetry/accesslens/internal/model"
)

// Querier runs read-only SQL against one materialisation.
type Querier interface {
	Query(ctx context.Context, sql string) ([]model.Row, error)
	Handle() *duckdb.Handle
}

// Detector finds one kind of abuse. Detectors are independent of each other.
type Detector interface {
	Kind() model.PatternKind
	Detect(ctx context.Context, q Querier) ([]model.AbusePattern, error)
}

// Detectors builds the four stock detectors from cfg.
func Detectors(cfg Config) []Detector {
	id := cfg.identifier()
	return []Detector{
		&BruteForce{Config: cfg.BruteForce, Identifier: id},
		&DDoS{Config: cfg.DDoS, Identifier: id},
		&Scanning{Config: cfg.Scanning, Identifier: id},
		&Bot{Config: cfg.Bot, Identifier: id},
	}
}

// Run executes detectors concurrently and returns the union of their
// patterns, minus those below minConfidence, in display order. A failing
// detector does not stop the others; its error is joined into the result.
func Run(ctx context.Context, q Querier, detectors []Detector, minConfidence float64) ([]model.AbusePattern, error) {
	results := make([][]model.AbusePattern, len(detectors))
	errs := make([]error, len(detectors))

	g, gctx := errgroup.WithContext(ctx)
	for i, d := range detectors {
		g.Go(func() error {
			patterns, err := d.Detect(gctx, q)
			if err != nil {
				errs[i] = fmt.Errorf("%s detector: %w", d.Kind(), err)
				logger.L().Warnw("abuse: detector failed", "kind", d.Kind(), "error", err)
				return nil
			}
			results[i] = patterns
			return nil
		})
	}
	_ = g.Wait()

	var out []model.AbusePattern
	for _, patterns := range results {
		for _, p := range patterns {
			if p.Confidence < minConfidence {
				continue
			}
			out = append(out, p)
			metrics.Detections.WithLabelValues("abuse", string(p.Kind)).Inc()
		}
	}
	Sort(out)
	return out, errors.Join(errs...)
}

// Sort orders patterns by confidence, then request count, both descending.
// Kind and identifiers break remaining ties.
func Sort(patterns []model.AbusePattern) {
	sort.SliceStable(patterns, func(i, j int) bool {
		a, b := patterns[i], patterns[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.RequestCount != b.RequestCount {
			return a.RequestCount > b.RequestCount
		}
		return a.Key() < b.Key()
	})
}

// Top returns at most limit patterns ranked by severity, then confidence.
func Top(patterns []model.AbusePattern, limit int) []model.AbusePattern {
	out := append([]model.AbusePattern(nil), patterns...)
	sort.SliceStable(out, func(i, j int) bool {
		if r1, r2 := out[i].Severity.Rank(), out[j].Severity.Rank(); r1 != r2 {
			return r1 > r2
		}
		return out[i].Confidence > out[j].Confidence
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// excess measures how far v is above threshold, relative to it, capped at 1.
func excess(v, threshold float64) float64 {
	if threshold <= 0 {
		if v > 0 {
			return 1
		}
		return 0
	}
	return model.ClampUnit((v - threshold) / threshold)
}

// shortfall measures how far v is below a ceiling, relative to it.
func shortfall(v, ceiling float64) float64 {
	if ceiling <= 0 {
		if v <= 0 {
			return 1
		}
		return 0
	}
	return model.ClampUnit((ceiling - v) / ceiling)
}

// confidence maps the per-threshold margins to [0.5, 1]. A finding that
// exactly meets every threshold scores 0.5.
func confidence(margins ...float64) float64 {
	if len(margins) == 0 {
		return 0.5
	}
	sum := 0.0
	for _, m := range margins {
		sum += model.ClampUnit(m)
	}
	c := 0.5 + 0.5*sum/float64(len(margins))
	return math.Round(c*1000) / 1000
}

func severityFor(conf float64) model.Severity {
	switch {
	case conf >= 0.9:
		return model.SeverityCritical
	case conf >= 0.75:
		return model.SeverityHigh
	case conf >= 0.6:
		return model.SeverityMedium
	}
	return model.SeverityLow
}

// base selects the identifier and the columns the detectors share, dropping
// rows without an identifier.
func base(h *duckdb.Handle, identifier string) string {
	return fmt.Sprintf(`SELECT %s AS id, %s AS ts, %s AS status, %s AS path, %s AS ua FROM %s WHERE %s`,
		h.Text(identifier), h.Timestamp(), h.Int(model.ColStatusCode),
		h.Text(model.ColPath), h.Text(model.ColUserAgent), h.TableIdent(), h.IsPresent(identifier))
}

func intList(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
