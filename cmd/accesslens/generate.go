package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/spf13/cobra"

	"github.com/tinytelemetry/accesslens/internal/logparse"
	"github.com/tinytelemetry/accesslens/internal/logsynth"
	"github.com/tinytelemetry/accesslens/internal/timestamp"
)

type generateOptions struct {
	Lines   int
	Seed    uint64
	Format  string
	Start   string
	Step    time.Duration
	Attacks bool
	Output  string
}

func newGenerateCmd() *cobra.Command {
	opts := generateOptions{}
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write synthetic access-log traffic, optionally with attacks mixed in",
		Long: `Write deterministic synthetic traffic for demos. With --attacks a brute-force
run, a path scan, a request flood and a steady crawler are mixed in. Output
ending in .gz or .zst is compressed.`,
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGenerate(cmd.OutOrStdout(), opts)
		},
	}
	f := cmd.Flags()
	f.IntVarP(&opts.Lines, "lines", "n", 1000, "benign lines to generate")
	f.Uint64Var(&opts.Seed, "seed", 1, "random seed")
	f.StringVarP(&opts.Format, "format", "f", "combined", "predefined format to render")
	f.StringVar(&opts.Start, "start", "", "timestamp of the first line (default 24h ago)")
	f.DurationVar(&opts.Step, "step", time.Second, "clock advance per benign line")
	f.BoolVar(&opts.Attacks, "attacks", false, "mix abusive traffic in")
	f.StringVarP(&opts.Output, "output", "o", "-", "output file, - for stdout")
	return cmd
}

func runGenerate(stdout io.Writer, opts generateOptions) error {
	if opts.Lines < 0 {
		return fmt.Errorf("--lines must not be negative")
	}
	if !slices.Contains(logparse.PredefinedNames(), opts.Format) {
		return fmt.Errorf("unknown format %q: run 'accesslens formats' for the list", opts.Format)
	}
	start, err := timestamp.ParseBound(opts.Start)
	if err != nil {
		return fmt.Errorf("--start: %w", err)
	}
	if start.IsZero() {
		start = time.Now().UTC().Add(-24 * time.Hour).Truncate(time.Hour)
	}

	lines := synthesize(opts, start)

	out, closeOut, err := openOutput(stdout, opts.Output)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(out)
	for _, l := range logsynth.Render(lines, opts.Format) {
		if _, err := w.WriteString(l + "\n"); err != nil {
			closeOut()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		closeOut()
		return err
	}
	return closeOut()
}

// synthesize builds the traffic sorted by time.
func synthesize(opts generateOptions, start time.Time) []logsynth.Line {
	g := logsynth.New(opts.Seed, start, opts.Step)
	lines := g.Benign(opts.Lines)
	if opts.Attacks {
		span := time.Duration(max(opts.Lines, 1)) * opts.Step
		at := func(frac float64) time.Time { return start.Add(time.Duration(float64(span) * frac)) }
		lines = append(lines, g.BruteForce("203.0.113.5", 60, at(0.2), 2*time.Second)...)
		lines = append(lines, g.Scan("198.51.100.23", 60, at(0.4), 500*time.Millisecond)...)
		lines = append(lines, g.Flood("192.0.2.77", "/api/v1/items", 1500, at(0.6), 20*time.Millisecond)...)
		lines = append(lines, g.Crawl("66.249.66.1", "Googlebot/2.1 (+http://www.google.com/bot.html)", 50, at(0.1), 10*time.Second)...)
	}
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].Time.Before(lines[j].Time) })
	return lines
}

// openOutput returns the destination and a close func that flushes any
// compressor before closing the file.
func openOutput(stdout io.Writer, path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create %s: %w", path, err)
	}
	switch {
	case strings.HasSuffix(path, ".gz"):
		zw := gzip.NewWriter(f)
		return zw, closeBoth(zw, f), nil
	case strings.HasSuffix(path, ".zst"):
		zw, err := zstd.NewWriter(f)
		if err != nil {
			f.Close()
			return nil, nil, err
		}
		return zw, closeBoth(zw, f), nil
	}
	return f, f.Close, nil
}

func closeBoth(inner io.Closer, f *os.File) func() error {
	return func() error {
		if err := inner.Close(); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}
}
