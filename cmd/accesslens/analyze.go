package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/tinytelemetry/accesslens/internal/abuse"
	"github.com/tinytelemetry/accesslens/internal/model"
	"github.com/tinytelemetry/accesslens/internal/pipeline"
	"github.com/tinytelemetry/accesslens/internal/timestamp"
)

type analyzeOptions struct {
	JSON       bool
	ExportPath string
	Start      string
	End        string
	Top        int
}

// report is the analyze command's output.
type report struct {
	Summary   model.ParseSummary     `json:"summary"`
	TimeRange model.TimeRange        `json:"time_range"`
	Columns   []model.ColumnMetadata `json:"columns"`
	Abuse     []model.AbusePattern   `json:"abuse_patterns"`
	AbuseErr  string                 `json:"abuse_error,omitempty"`
	Security  model.SecuritySummary  `json:"security"`
}

func newAnalyzeCmd() *cobra.Command {
	var opts analyzeOptions
	cmd := &cobra.Command{
		Use:   "analyze [files...]",
		Short: "Analyse access logs and print a one-shot report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd.Context(), cmd.OutOrStdout(), cfg, inputs(args), opts)
		},
	}
	addPipelineFlags(cmd)
	f := cmd.Flags()
	f.BoolVar(&opts.JSON, "json", false, "print the report as JSON")
	f.StringVar(&opts.ExportPath, "export", "", "also write the parsed records to this CSV file")
	f.StringVar(&opts.Start, "start", "", "window start (RFC 3339, date or unix seconds)")
	f.StringVar(&opts.End, "end", "", "window end, exclusive")
	f.IntVar(&opts.Top, "top", 10, "abuse patterns to list")
	return cmd
}

func runAnalyze(ctx context.Context, out io.Writer, cfg appConfig, files []string, opts analyzeOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	w, err := parseWindow(opts.Start, opts.End)
	if err != nil {
		return err
	}

	engine, err := newEngine(ctx, cfg)
	if err != nil {
		return err
	}
	p, err := pipeline.New(ctx, cfg.pipeline(), engine, files)
	if err != nil {
		return err
	}
	defer p.Close()

	r, err := buildReport(ctx, p, w, opts.Top)
	if err != nil {
		return err
	}
	if opts.ExportPath != "" {
		if err := p.ExportCSV(opts.ExportPath); err != nil {
			return fmt.Errorf("exporting records: %w", err)
		}
	}
	if opts.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	printReport(out, r)
	return nil
}

func parseWindow(start, end string) (model.TimeWindow, error) {
	var w model.TimeWindow
	var err error
	if w.Start, err = timestamp.ParseBound(start); err != nil {
		return w, fmt.Errorf("--start: %w", err)
	}
	if w.End, err = timestamp.ParseBound(end); err != nil {
		return w, fmt.Errorf("--end: %w", err)
	}
	return w, w.Validate()
}

func buildReport(ctx context.Context, p *pipeline.Pipeline, w model.TimeWindow, top int) (report, error) {
	r := report{
		Summary:   p.Summary(),
		TimeRange: p.TimeRange(),
		Columns:   p.Columns(),
	}
	patterns, err := p.AbusePatterns()
	if err != nil {
		r.AbuseErr = err.Error()
	}
	r.Abuse = abuse.Top(patterns, top)
	if r.Abuse == nil {
		r.Abuse = []model.AbusePattern{}
	}

	sec, err := p.SecuritySummary(ctx, w)
	if err != nil {
		return r, fmt.Errorf("anomaly detection: %w", err)
	}
	r.Security = sec
	return r, nil
}

func printReport(out io.Writer, r report) {
	s := r.Summary
	fmt.Fprintf(out, "Format:    %s\n", s.Format)
	fmt.Fprintf(out, "Records:   %s parsed, %s rejected, %s blank\n",
		humanize.Comma(int64(s.Processed)), humanize.Comma(int64(s.Rejected)), humanize.Comma(int64(s.Blank)))
	if len(s.ByStrategy) > 0 {
		parts := make([]string, 0, len(s.ByStrategy))
		for _, name := range s.Strategies() {
			parts = append(parts, fmt.Sprintf("%s=%d", name, s.ByStrategy[name]))
		}
		fmt.Fprintf(out, "Strategy:  %s\n", strings.Join(parts, " "))
	}
	if r.TimeRange.Valid {
		fmt.Fprintf(out, "Range:     %s .. %s (%s)\n",
			r.TimeRange.Earliest.Format(time.RFC3339), r.TimeRange.Latest.Format(time.RFC3339),
			r.TimeRange.Latest.Sub(r.TimeRange.Earliest).Round(time.Second))
	}

	fmt.Fprintf(out, "\nColumns\n")
	for _, c := range r.Columns {
		flag := ""
		if c.Degraded {
			flag = " (degraded)"
		}
		fmt.Fprintf(out, "  %-20s %-12s distinct=%-8s nulls=%-8s%s\n",
			c.Name, c.Type, humanize.Comma(int64(c.Cardinality)), humanize.Comma(int64(c.NullCount)), flag)
	}

	fmt.Fprintf(out, "\nAbuse patterns\n")
	if r.AbuseErr != "" {
		fmt.Fprintf(out, "  detection failed: %s\n", r.AbuseErr)
	}
	if len(r.Abuse) == 0 && r.AbuseErr == "" {
		fmt.Fprintf(out, "  none\n")
	}
	for _, pt := range r.Abuse {
		fmt.Fprintf(out, "  [%s] %-11s %-24s %s requests, confidence %.2f\n",
			pt.Severity, pt.Kind, strings.Join(pt.Identifiers, ","), humanize.Comma(pt.RequestCount), pt.Confidence)
		fmt.Fprintf(out, "      %s\n", pt.Description)
	}

	sec := r.Security
	fmt.Fprintf(out, "\nAnomalies: %d", sec.TotalAlerts)
	if sec.RiskLevel != "" {
		fmt.Fprintf(out, " (risk %s)", sec.RiskLevel)
	}
	fmt.Fprintln(out)
	for _, a := range sec.TopAlerts {
		fmt.Fprintf(out, "  [%s] %-20s %-24s score %.2f: %s\n", a.Severity, a.Dimension, a.Subject, a.Score, a.Description)
	}
	if len(sec.Recommendations) > 0 {
		fmt.Fprintf(out, "\nRecommendations\n")
		for _, rec := range sec.Recommendations {
			fmt.Fprintf(out, "  - %s\n", rec)
		}
	}
}
