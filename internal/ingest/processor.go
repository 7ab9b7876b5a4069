package ingest

import (
	"errors"
	"strings"

	"github.com/tinytelemetry/accesslens/internal/logger"
	"github.com/tinytelemetry/accesslens/internal/logparse"
	"github.com/tinytelemetry/accesslens/internal/metrics"
	"github.com/tinytelemetry/accesslens/internal/model"
)

// ErrLineTooLong rejects lines longer than the source's maximum line size.
var ErrLineTooLong = errors.New("line exceeds maximum line size")

// DefaultRejectLogLimit is how many rejected lines are logged before going quiet.
const DefaultRejectLogLimit = 10

// Processor parses lines with a single format and routes accepted entries to a sink.
type Processor struct {
	parser logparse.Parser
	sink   RecordSink
	name   string

	rejectLogLimit int
	rejectsLogged  int

	summary model.ParseSummary
	files   map[string]*model.FileSummary
	order   []string
}

// NewProcessor creates a processor. A nil sink discards entries.
// An optional rejectLogLimit caps how many rejected lines are logged.
func NewProcessor(parser logparse.Parser, sink RecordSink, formatName string, rejectLogLimit ...int) *Processor {
	limit := DefaultRejectLogLimit
	if len(rejectLogLimit) > 0 && rejectLogLimit[0] >= 0 {
		limit = rejectLogLimit[0]
	}
	return &Processor{
		parser:         parser,
		sink:           sink,
		name:           formatName,
		rejectLogLimit: limit,
		summary:        model.ParseSummary{Format: formatName, ByStrategy: make(map[string]int)},
		files:          make(map[string]*model.FileSummary),
	}
}

// Name returns the format the processor parses.
func (p *Processor) Name() string { return p.name }

// ProcessLine processes a line that has no source attached.
func (p *Processor) ProcessLine(line string) *ProcessResult {
	return p.ProcessEnvelope(model.IngestEnvelope{Line: line})
}

// ProcessEnvelope parses one line and updates the counters. Blank lines are
// counted separately and are neither processed nor rejected. Oversized
// lines are rejected without being parsed.
func (p *Processor) ProcessEnvelope(env model.IngestEnvelope) *ProcessResult {
	fs := p.fileSummary(env.Source)

	if env.Oversized {
		p.reject(fs, env, "none", ErrLineTooLong)
		return &ProcessResult{Err: ErrLineTooLong}
	}

	if strings.TrimSpace(env.Line) == "" {
		fs.Blank++
		metrics.LinesTotal.WithLabelValues("none", "blank").Inc()
		return &ProcessResult{Blank: true}
	}

	entry, strategy, err := p.parser.ParseLine(env.Line)
	if err != nil {
		p.reject(fs, env, string(strategy), err)
		return &ProcessResult{Strategy: strategy, Err: err}
	}

	fs.Processed++
	p.summary.ByStrategy[string(strategy)]++
	metrics.LinesTotal.WithLabelValues(string(strategy), "processed").Inc()
	if p.sink != nil {
		p.sink.Add(entry)
	}
	return &ProcessResult{Entry: &entry, Strategy: strategy}
}

func (p *Processor) reject(fs *model.FileSummary, env model.IngestEnvelope, strategy string, err error) {
	fs.Rejected++
	metrics.LinesTotal.WithLabelValues(strategy, "rejected").Inc()
	if p.rejectsLogged >= p.rejectLogLimit {
		return
	}
	p.rejectsLogged++
	logger.L().Warnw("ingest: rejected line",
		"source", env.Source, "line_no", env.LineNo, "error", err, "line", truncateLine(env.Line))
	if p.rejectsLogged == p.rejectLogLimit {
		logger.L().Warnw("ingest: further rejected lines will not be logged", "limit", p.rejectLogLimit)
	}
}

// Summary returns the counters accumulated so far. Per-file summaries keep
// first-seen source order.
func (p *Processor) Summary() model.ParseSummary {
	out := model.ParseSummary{
		Format:     p.summary.Format,
		ByStrategy: make(map[string]int, len(p.summary.ByStrategy)),
	}
	for k, v := range p.summary.ByStrategy {
		out.ByStrategy[k] = v
	}
	for _, name := range p.order {
		out.Add(*p.files[name])
	}
	return out
}

func (p *Processor) fileSummary(source string) *model.FileSummary {
	fs, ok := p.files[source]
	if !ok {
		fs = &model.FileSummary{Path: source}
		p.files[source] = fs
		p.order = append(p.order, source)
	}
	return fs
}

func truncateLine(line string) string {
	const max = 200
	if len(line) > max {
		return line[:max] + "..."
	}
	return line
}
