// Package inference classifies RecordSet columns and computes per-column
// summary statistics.
package inference

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/tinytelemetry/accesslens/internal/logger"
	"github.com/tinytelemetry/accesslens/internal/model"
)

// Options tunes classification.
type Options struct {
	SampleSize       int     // non-null values inspected for classification
	CategoricalRatio float64 // cardinality/non-null below this is categorical
	MatchRatio       float64 // share of sample that must look like an IP or URL
	TopK             int
	Concurrency      int
}

// DefaultOptions returns the standard thresholds.
func DefaultOptions() Options {
	return Options{
		SampleSize:       model.DefaultSampleSize,
		CategoricalRatio: 0.05,
		MatchRatio:       0.9,
		TopK:             model.DefaultTopK,
		Concurrency:      4,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.SampleSize <= 0 {
		o.SampleSize = d.SampleSize
	}
	if o.CategoricalRatio <= 0 {
		o.CategoricalRatio = d.CategoricalRatio
	}
	if o.MatchRatio <= 0 {
		o.MatchRatio = d.MatchRatio
	}
	if o.TopK <= 0 {
		o.TopK = d.TopK
	}
	if o.Concurrency <= 0 {
		o.Concurrency = d.Concurrency
	}
	return o
}

// Infer analyses every column of rs. Output order follows rs.Columns(). A
// column whose analysis fails is reported in degraded form instead of
// failing the whole run.
func Infer(ctx context.Context, rs *model.RecordSet, opts Options) []model.ColumnMetadata {
	opts = opts.withDefaults()
	cols := rs.Columns()
	out := make([]model.ColumnMetadata, len(cols))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i, name := range cols {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				out[i] = model.DegradedColumn(name)
				return nil
			}
			md, err := AnalyzeColumn(rs, name, opts)
			if err != nil {
				logger.L().Warnw("inference: column analysis failed, degrading", "column", name, "error", err)
				md = model.DegradedColumn(name)
			}
			out[i] = md
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// AnalyzeColumn computes metadata for one column. Panics inside the analysis
// are converted to errors.
func AnalyzeColumn(rs *model.RecordSet, name string, opts Options) (md model.ColumnMetadata, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("analysing column %q: %v", name, r)
		}
	}()
	opts = opts.withDefaults()

	total := rs.Len()
	counts := make(map[string]int64)
	kind := model.ColumnKind(name)
	var (
		nulls    int
		sample   []string
		first    string
		numbers  []float64
		times    []time.Time
		totalLen int
	)

	for i := 0; i < total; i++ {
		v := rs.Value(i, name)
		if !v.Present {
			nulls++
			continue
		}
		key := rawString(v)
		counts[key]++
		totalLen += len(key)
		if first == "" {
			first = key
		}
		if len(sample) < opts.SampleSize {
			sample = append(sample, key)
		}
		switch v.Kind {
		case model.KindInt:
			numbers = append(numbers, float64(v.Int))
		case model.KindFloat:
			numbers = append(numbers, v.Float)
		case model.KindTime:
			times = append(times, v.Time)
		}
	}

	nonNull := total - nulls
	md = model.ColumnMetadata{
		Name:        name,
		Cardinality: len(counts),
		NullCount:   nulls,
		TotalCount:  total,
		SampleValue: first,
	}
	md.Type = classify(name, kind, sample, len(counts), nonNull, opts)

	switch md.Type {
	case model.TypeNumeric:
		if kind == model.KindString {
			numbers = parseNumbers(counts)
		}
		md.Summary = numericSummary(numbers)
		if md.Cardinality <= 50 {
			md.Summary.TopValues = topValues(counts, nonNull, opts.TopK)
		}
	case model.TypeTimestamp:
		md.Summary = timeSummary(times)
	default:
		md.Summary.TopValues = topValues(counts, nonNull, opts.TopK)
		if nonNull > 0 {
			md.Summary.AvgLength = float64(totalLen) / float64(nonNull)
		}
	}
	md.AnomalyScore = anomalyScore(md.Cardinality, total, nulls, md.Summary.TopValues)
	return md, nil
}

func rawString(v model.Value) string {
	switch v.Kind {
	case model.KindInt:
		return strconv.FormatInt(v.Int, 10)
	case model.KindFloat:
		return strconv.FormatFloat(v.Float, 'f', -1, 64)
	case model.KindTime:
		return v.Time.UTC().Format(time.RFC3339Nano)
	}
	return v.Str
}

// parseNumbers expands distinct numeric strings back into one value per row.
func parseNumbers(counts map[string]int64) []float64 {
	var out []float64
	for s, n := range counts {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			continue
		}
		for i := int64(0); i < n; i++ {
			out = append(out, f)
		}
	}
	return out
}

func numericSummary(values []float64) model.ColumnSummary {
	if len(values) == 0 {
		return model.ColumnSummary{Integral: true}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	s := model.ColumnSummary{
		Integral: true,
		Min:      sorted[0],
		Max:      sorted[len(sorted)-1],
		Mean:     stat.Mean(sorted, nil),
		P50:      stat.Quantile(0.50, stat.Empirical, sorted, nil),
		P90:      stat.Quantile(0.90, stat.Empirical, sorted, nil),
		P95:      stat.Quantile(0.95, stat.Empirical, sorted, nil),
		P99:      stat.Quantile(0.99, stat.Empirical, sorted, nil),
	}
	if len(sorted) > 1 {
		s.StdDev = stat.StdDev(sorted, nil)
	}
	for _, v := range sorted {
		if v != math.Trunc(v) {
			s.Integral = false
			break
		}
	}
	return s
}

func timeSummary(times []time.Time) model.ColumnSummary {
	var s model.ColumnSummary
	for _, t := range times {
		if s.Earliest.IsZero() || t.Before(s.Earliest) {
			s.Earliest = t
		}
		if s.Latest.IsZero() || t.After(s.Latest) {
			s.Latest = t
		}
	}
	return s
}

// topValues returns the k most frequent values, ties broken by value.
func topValues(counts map[string]int64, nonNull, k int) []model.ValueCount {
	out := make([]model.ValueCount, 0, len(counts))
	for v, c := range counts {
		out = append(out, model.ValueCount{Value: v, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Value < out[j].Value
	})
	if len(out) > k {
		out = out[:k]
	}
	for i := range out {
		if nonNull > 0 {
			out[i].Percent = float64(out[i].Count) * 100 / float64(nonNull)
		}
	}
	return out
}

// anomalyScore flags columns worth a closer look: very high cardinality,
// many nulls, or a heavily skewed or very flat distribution.
func anomalyScore(cardinality, total, nulls int, top []model.ValueCount) float64 {
	denom := float64(max(total, 1))
	score := 0.0
	if float64(cardinality)/denom > 0.5 {
		score += 0.3
	}
	if float64(nulls)/denom > 0.1 {
		score += 0.2
	}
	if len(top) > 1 {
		switch {
		case top[0].Percent > 80:
			score += 0.3
		case top[0].Percent < 5 && cardinality > 100:
			score += 0.2
		}
	}
	return math.Min(score, 1)
}
