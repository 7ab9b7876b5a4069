package ingest

import (
	"context"
	"fmt"

	"github.com/tinytelemetry/accesslens/internal/logger"
	"github.com/tinytelemetry/accesslens/internal/logparse"
	"github.com/tinytelemetry/accesslens/internal/logsource"
	"github.com/tinytelemetry/accesslens/internal/model"
)

// Options tunes batch ingestion.
type Options struct {
	FormatName     string
	RejectLogLimit int
	Source         logsource.Config
}

// ParseFiles reads every path in order and returns the accepted entries as a
// RecordSet. Open and read failures are fatal; unparseable lines are counted
// and skipped.
func ParseFiles(ctx context.Context, parser logparse.Parser, paths []string, opts Options) (*model.RecordSet, model.ParseSummary, error) {
	if len(paths) == 0 {
		return nil, model.ParseSummary{}, fmt.Errorf("no input files")
	}

	limit := opts.RejectLogLimit
	if limit == 0 {
		limit = DefaultRejectLogLimit
	}
	sink := &sliceSink{}
	proc := NewProcessor(parser, sink, opts.FormatName, limit)

	for _, path := range paths {
		src, err := logsource.Open(ctx, path, opts.Source)
		if err != nil {
			return nil, proc.Summary(), err
		}
		if err := drainSource(ctx, src, proc); err != nil {
			return nil, proc.Summary(), err
		}
	}

	summary := proc.Summary()
	logger.L().Infow("ingest: parsed input",
		"files", len(paths), "processed", summary.Processed,
		"rejected", summary.Rejected, "blank", summary.Blank, "strategies", summary.ByStrategy)
	return model.NewRecordSet(sink.entries), summary, nil
}

func drainSource(ctx context.Context, src logsource.LogSource, proc EnvelopeProcessor) error {
	defer src.Stop()
	for {
		select {
		case env, ok := <-src.Lines():
			if !ok {
				return src.Err()
			}
			proc.ProcessEnvelope(env)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
