// Package pipeline runs the batch analysis: resolve the format, parse the
// input files, infer column types, materialise the records for the engine
// and run the abuse detectors once. The resulting Pipeline is a read-only
// view over those results.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tinytelemetry/accesslens/internal/abuse"
	"github.com/tinytelemetry/accesslens/internal/anomaly"
	"github.com/tinytelemetry/accesslens/internal/duckdb"
	"github.com/tinytelemetry/accesslens/internal/inference"
	"github.com/tinytelemetry/accesslens/internal/ingest"
	"github.com/tinytelemetry/accesslens/internal/logger"
	"github.com/tinytelemetry/accesslens/internal/logparse"
	"github.com/tinytelemetry/accesslens/internal/model"
)

// ErrUnknownColumn is returned for column names the records do not have.
var ErrUnknownColumn = errors.New("unknown column")

// Config controls one pipeline run. Start from DefaultConfig; zero detector
// thresholds are rejected by Validate.
type Config struct {
	Format        string            `mapstructure:"format"`
	TopK          int               `mapstructure:"top-k"`
	HistogramBins int               `mapstructure:"histogram-bins"`
	Abuse         abuse.Config      `mapstructure:"abuse"`
	Anomaly       anomaly.Config    `mapstructure:"anomaly"`
	Inference     inference.Options `mapstructure:"-"`
	Ingest        ingest.Options    `mapstructure:"-"`
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		Format:        model.DefaultFormat,
		TopK:          model.DefaultTopK,
		HistogramBins: 20,
		Abuse:         abuse.DefaultConfig(),
		Anomaly:       anomaly.DefaultConfig(),
		Inference:     inference.DefaultOptions(),
	}
}

// Pipeline holds the results of one batch run.
type Pipeline struct {
	cfg      Config
	format   logparse.FormatSpec
	records  *model.RecordSet
	summary  model.ParseSummary
	columns  []model.ColumnMetadata
	byName   map[string]int
	engine   duckdb.Engine
	dataset  *duckdb.Dataset
	abuse    *abuse.Cache
	detector *anomaly.Detector

	closeOnce sync.Once
	closeErr  error
}

// New runs the batch stages over files. An invalid format fails before any
// file is opened. The engine is owned by the pipeline from here on and is
// closed by Close, or by New itself when a later stage fails.
func New(ctx context.Context, cfg Config, engine duckdb.Engine, files []string) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		engine.Close()
		return nil, err
	}
	format, err := logparse.Resolve(cfg.Format)
	if err != nil {
		engine.Close()
		return nil, err
	}
	parser, err := logparse.NewParser(format)
	if err != nil {
		engine.Close()
		return nil, err
	}

	opts := cfg.Ingest
	if opts.FormatName == "" {
		opts.FormatName = format.String()
	}
	records, summary, err := ingest.ParseFiles(ctx, parser, files, opts)
	if err != nil {
		engine.Close()
		return nil, fmt.Errorf("parsing input: %w", err)
	}
	return build(ctx, cfg, engine, format, records, summary)
}

// FromRecords builds a pipeline over records that were parsed elsewhere.
func FromRecords(ctx context.Context, cfg Config, engine duckdb.Engine, records *model.RecordSet, summary model.ParseSummary) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		engine.Close()
		return nil, err
	}
	return build(ctx, cfg, engine, logparse.FormatSpec{}, records, summary)
}

func build(ctx context.Context, cfg Config, engine duckdb.Engine, format logparse.FormatSpec, records *model.RecordSet, summary model.ParseSummary) (*Pipeline, error) {
	cfg = cfg.withDefaults()

	start := time.Now()
	columns := inference.Infer(ctx, records, cfg.Inference)
	logger.L().Infow("pipeline: inferred columns", "columns", len(columns), "duration", time.Since(start))

	h, err := engine.Materialize(ctx, records, columns)
	if err != nil {
		engine.Close()
		return nil, fmt.Errorf("materialising records: %w", err)
	}

	p := &Pipeline{
		cfg:      cfg,
		format:   format,
		records:  records,
		summary:  summary,
		columns:  columns,
		byName:   make(map[string]int, len(columns)),
		engine:   engine,
		dataset:  duckdb.NewDataset(engine, h),
		detector: anomaly.New(cfg.Anomaly),
	}
	for i, c := range columns {
		p.byName[strings.ToLower(c.Name)] = i
	}

	p.abuse = abuse.NewCache(ctx, p.dataset, cfg.Abuse)
	if _, err := p.abuse.Get(); err != nil {
		logger.L().Warnw("pipeline: abuse detection incomplete", "error", err)
	}
	return p, nil
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TopK <= 0 {
		c.TopK = d.TopK
	}
	if c.HistogramBins <= 0 {
		c.HistogramBins = d.HistogramBins
	}
	return c
}

// Validate checks the detector thresholds.
func (c Config) Validate() error {
	if err := c.Abuse.Validate(); err != nil {
		return err
	}
	return c.Anomaly.Validate()
}

// Format returns the resolved input format. It is zero for pipelines built
// with FromRecords.
func (p *Pipeline) Format() logparse.FormatSpec { return p.format }

// Summary returns the parse counters.
func (p *Pipeline) Summary() model.ParseSummary { return p.summary }

// Records returns the parsed records.
func (p *Pipeline) Records() *model.RecordSet { return p.records }

// Columns returns the inferred metadata for every column, in column order.
func (p *Pipeline) Columns() []model.ColumnMetadata {
	return append([]model.ColumnMetadata(nil), p.columns...)
}

// Column looks up one column's metadata, ignoring case.
func (p *Pipeline) Column(name string) (model.ColumnMetadata, bool) {
	i, ok := p.byName[strings.ToLower(name)]
	if !ok {
		return model.ColumnMetadata{}, false
	}
	return p.columns[i], true
}

// TimeRange returns the span of the parsed timestamps.
func (p *Pipeline) TimeRange() model.TimeRange {
	earliest, latest, ok := p.records.TimeBounds()
	return model.TimeRange{Earliest: earliest, Latest: latest, Valid: ok}
}

// Query runs a read-only statement against the materialised records.
func (p *Pipeline) Query(ctx context.Context, sql string) ([]model.Row, error) {
	return p.dataset.Query(ctx, sql)
}

// Dataset returns the engine binding used by the detectors.
func (p *Pipeline) Dataset() *duckdb.Dataset { return p.dataset }

// ExportCSV copies the materialised records to path.
func (p *Pipeline) ExportCSV(path string) error {
	return duckdb.ExportCSV(p.dataset.Handle(), path)
}

// Close releases the engine and its materialisation. It is safe to call
// more than once.
func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.engine.Close()
	})
	return p.closeErr
}

func (p *Pipeline) column(name string) (model.ColumnMetadata, error) {
	md, ok := p.Column(name)
	if !ok {
		return model.ColumnMetadata{}, fmt.Errorf("%w: %q", ErrUnknownColumn, name)
	}
	return md, nil
}

var _ model.ReadAPI = (*Pipeline)(nil)
