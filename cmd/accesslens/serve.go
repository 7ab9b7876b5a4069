package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tinytelemetry/accesslens/internal/httpserver"
	"github.com/tinytelemetry/accesslens/internal/logger"
	"github.com/tinytelemetry/accesslens/internal/pipeline"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [files...]",
		Short: "Analyse access logs and serve the results over a JSON API",
		Long: `Parse the given access-log files (or stdin when none are given or a file
is "-"), analyse them once and expose the results over HTTP until
interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cfg, inputs(args))
		},
	}
	addPipelineFlags(cmd)
	cmd.Flags().String("addr", "", "listen address (overrides --port)")
	cmd.Flags().Int("port", defaultAPIPort, "listen port on "+defaultBindHost)
	return cmd
}

// inputs defaults to stdin.
func inputs(args []string) []string {
	if len(args) == 0 {
		return []string{"-"}
	}
	return args
}

// runServe builds the pipeline and serves it until a signal arrives.
func runServe(parent context.Context, cfg appConfig, files []string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := newEngine(ctx, cfg)
	if err != nil {
		return err
	}
	p, err := pipeline.New(ctx, cfg.pipeline(), engine, files)
	if err != nil {
		return err
	}
	defer p.Close()

	apiServer := httpserver.NewServer(cfg.API.Addr, p)
	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	printStartupBanner(cfg, p, apiServer.Addr())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case err := <-apiServer.Done():
			if err != nil {
				return fmt.Errorf("API server: %w", err)
			}
			return nil
		}
	})
	serveErr := g.Wait()
	if serveErr != nil {
		logger.L().Errorw("serve: API server failed", "error", serveErr)
	} else {
		fmt.Println("\nShutting down gracefully...")
	}
	return errors.Join(serveErr, apiServer.Stop())
}

func printStartupBanner(cfg appConfig, p *pipeline.Pipeline, addr string) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	red := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	dot := dim.Render("●")
	warn := yellow.Render("●")

	logo := cyan.Bold(true).Render(`
    ╔═╗╔═╗╔═╗╔═╗╔═╗╔═╗╦  ╔═╗╔╗╔╔═╗
    ╠═╣║  ║  ║╣ ╚═╗╚═╗║  ║╣ ║║║╚═╗
    ╩ ╩╚═╝╚═╝╚═╝╚═╝╚═╝╩═╝╚═╝╝╚╝╚═╝`)

	summary := p.Summary()
	var lines []string
	lines = append(lines, "", logo, "    "+dim.Render("v"+version), "")

	separator := dim.Render("    ─────────────────────────────────")
	lines = append(lines, separator, "")

	lines = append(lines, bold.Render("    Input"), "")
	lines = append(lines, fmt.Sprintf("    %s  Format         %s", check, dim.Render(summary.Format)))
	lines = append(lines, fmt.Sprintf("    %s  Records        %s", check, cyan.Render(humanize.Comma(int64(summary.Processed)))))
	if summary.Rejected > 0 {
		lines = append(lines, fmt.Sprintf("    %s  Rejected       %s", warn, yellow.Render(humanize.Comma(int64(summary.Rejected)))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Rejected       %s", dot, dim.Render("0")))
	}
	if tr := p.TimeRange(); tr.Valid {
		lines = append(lines, fmt.Sprintf("    %s  Time Range     %s", check,
			dim.Render(tr.Earliest.Format("2006-01-02 15:04:05")+" .. "+tr.Latest.Format("2006-01-02 15:04:05"))))
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Analysis"), "")
	patterns, err := p.AbusePatterns()
	switch {
	case err != nil:
		lines = append(lines, fmt.Sprintf("    %s  Abuse Patterns %s", warn, red.Render("failed: "+err.Error())))
	case len(patterns) > 0:
		lines = append(lines, fmt.Sprintf("    %s  Abuse Patterns %s", warn, yellow.Render(humanize.Comma(int64(len(patterns))))))
	default:
		lines = append(lines, fmt.Sprintf("    %s  Abuse Patterns %s", check, dim.Render("none")))
	}
	engineName := "duckdb " + cfg.Engine.Mode
	if cfg.Engine.Mode == engineEmbedded && cfg.Engine.DBPath != "" {
		engineName += " (" + shortenPath(cfg.Engine.DBPath) + ")"
	}
	lines = append(lines, fmt.Sprintf("    %s  Engine         %s", check, dim.Render(engineName)))
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Gateway"), "")
	lines = append(lines, fmt.Sprintf("    %s  HTTP API       %s", check, cyan.Render("http://"+addr)))
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Config"), "")
	if cfg.ConfigPath != "" {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", check, dim.Render(shortenPath(cfg.ConfigPath))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", dot, dim.Render("default (no file)")))
	}

	lines = append(lines, "", separator, "")
	lines = append(lines, "    "+dim.Render("Press ")+yellow.Render("Ctrl+C")+dim.Render(" to stop"), "")

	fmt.Println(strings.Join(lines, "\n"))
}

// shortenPath replaces the home directory prefix with ~.
func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	if rel, err := filepath.Rel(home, path); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.Join("~", rel)
	}
	return path
}
