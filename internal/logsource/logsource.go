package logsource

import "github.com/tinytelemetry/accesslens/internal/model"

// LogSource is a unified interface for access-log inputs (files, stdin).
type LogSource interface {
	Lines() <-chan model.IngestEnvelope // read-only channel of log lines, closed at EOF
	Stop()                              // stop early; Lines is closed afterwards
	Name() string                       // file path or "stdin"
	Err() error                         // read error, valid once Lines is closed
}
