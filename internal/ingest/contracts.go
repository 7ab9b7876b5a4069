package ingest

import (
	"github.com/tinytelemetry/accesslens/internal/logparse"
	"github.com/tinytelemetry/accesslens/internal/model"
)

// EnvelopeProcessor consumes source-tagged lines and emits normalised entries.
type EnvelopeProcessor interface {
	Name() string
	ProcessEnvelope(model.IngestEnvelope) *ProcessResult
}

// RecordSink receives accepted entries in input order.
type RecordSink interface {
	Add(entry model.LogEntry)
}

// ProcessResult holds the outcome of processing a single line.
type ProcessResult struct {
	Entry    *model.LogEntry
	Strategy logparse.Strategy
	Blank    bool
	Err      error // per-line rejection, never fatal
}

// Accepted reports whether the line produced an entry.
func (r *ProcessResult) Accepted() bool { return r != nil && r.Entry != nil }

// sliceSink collects entries into memory.
type sliceSink struct {
	entries []model.LogEntry
}

func (s *sliceSink) Add(entry model.LogEntry) {
	s.entries = append(s.entries, entry)
}
