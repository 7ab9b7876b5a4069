package model

import "time"

// Shared defaults used by the CLI, the HTTP server and the pipeline.
const (
	DefaultFormat       = "combined"
	DefaultQueryTimeout = 30 * time.Second
	DefaultTopK         = 10
	DefaultGroupLimit   = 100
	DefaultSampleSize   = 1000
	DefaultEngineBinary = "duckdb"
	DefaultTableName    = "access_logs"
)
