package main

import (
	"context"
	"fmt"

	"github.com/tinytelemetry/accesslens/internal/duckdb"
	"github.com/tinytelemetry/accesslens/internal/logger"
)

// newEngine builds the configured query engine. The cli engine checks that
// the duckdb binary runs before any input is parsed.
func newEngine(ctx context.Context, cfg appConfig) (duckdb.Engine, error) {
	switch cfg.Engine.Mode {
	case engineEmbedded:
		store, err := duckdb.NewStore(cfg.Engine.DBPath, cfg.Engine.QueryTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize DuckDB: %w", err)
		}
		return store, nil
	default:
		cli, err := duckdb.NewCLI(cfg.Engine.Binary, cfg.Engine.QueryTimeout)
		if err != nil {
			return nil, err
		}
		v, err := cli.Check(ctx)
		if err != nil {
			cli.Close()
			return nil, fmt.Errorf("duckdb binary %q is not usable (try --engine embedded): %w", cfg.Engine.Binary, err)
		}
		logger.L().Debugw("engine: using duckdb binary", "binary", cfg.Engine.Binary, "version", v)
		return cli, nil
	}
}
