// Command accesslens analyses web-server access logs: it infers column
// types, flags abusive clients and scores traffic anomalies, either as a
// one-shot report or behind a JSON API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinytelemetry/accesslens/internal/logger"
)

// Build variables - set by ldflags during build.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

var (
	configPath string
	cfg        appConfig
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "accesslens",
		Short:         "Access-log analysis: column inference, abuse detection and anomaly scoring",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			if cfg, err = loadConfig(configPath, cmd.Flags()); err != nil {
				return err
			}
			if err := logger.Init(cfg.Log.Level, cfg.Log.Development); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			logger.Sync()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "config file (default is $HOME/.config/accesslens/config.yml)")
	pf.String("log-level", "info", "log level: debug, info, warn or error")
	pf.Bool("dev", false, "human-readable development logging")

	root.AddCommand(newServeCmd(), newAnalyzeCmd(), newFormatsCmd(), newGenerateCmd(), newVersionCmd())
	return root
}

// addPipelineFlags registers the flags shared by commands that run the
// analysis pipeline.
func addPipelineFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringP("format", "f", "combined", "predefined format name, directive string or named-capture pattern")
	f.String("engine", engineCLI, "query engine: cli (duckdb binary) or embedded")
	f.String("duckdb", "duckdb", "duckdb binary used by the cli engine")
	f.Duration("query-timeout", 0, "per-query timeout (default 30s)")
	f.String("db-path", "", "database file for the embedded engine (default in-memory)")
	f.String("signatures", "", "YAML file overriding bot tokens and failed-auth statuses")
	f.String("identifier", "", "column identifying a client (default remote_host)")
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
