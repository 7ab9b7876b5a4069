package duckdb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/tinytelemetry/accesslens/internal/duckdb/prelude"
	"github.com/tinytelemetry/accesslens/internal/logger"
	"github.com/tinytelemetry/accesslens/internal/metrics"
	"github.com/tinytelemetry/accesslens/internal/model"
)

// CLI runs every query as a separate invocation of the duckdb binary. The
// materialised CSV is exposed to each invocation as a view, so handles stay
// valid until Close.
type CLI struct {
	Binary       string
	QueryTimeout time.Duration

	prelude string
	scratch scratch

	mu     sync.RWMutex
	closed bool
}

// NewCLI returns an engine invoking binary, "duckdb" on PATH by default.
func NewCLI(binary string, queryTimeout time.Duration) (*CLI, error) {
	if binary == "" {
		binary = model.DefaultEngineBinary
	}
	if queryTimeout <= 0 {
		queryTimeout = model.DefaultQueryTimeout
	}
	text, err := prelude.Text()
	if err != nil {
		return nil, err
	}
	return &CLI{Binary: binary, QueryTimeout: queryTimeout, prelude: text}, nil
}

// Name implements Engine.
func (c *CLI) Name() string { return "cli" }

// Check runs the binary once to confirm it can be executed.
func (c *CLI) Check(ctx context.Context) (string, error) {
	out, stderr, err := c.run(ctx, "-version")
	if err != nil {
		return "", &QueryError{Engine: c.Name(), Query: "-version", Diagnostic: stderr, Err: err}
	}
	return strings.TrimSpace(string(out)), nil
}

// Materialize writes rs to a CSV file owned by the engine.
func (c *CLI) Materialize(ctx context.Context, rs *model.RecordSet, cols []model.ColumnMetadata) (*Handle, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrClosed
	}
	return c.scratch.materialize(ctx, rs, cols)
}

// Script builds the full text passed to the binary for query.
func (c *CLI) Script(h *Handle, query string) string {
	var b strings.Builder
	b.WriteString(c.prelude)
	fmt.Fprintf(&b, "CREATE OR REPLACE VIEW %s AS SELECT * FROM %s;\n", h.TableIdent(), h.ReadCSV())
	b.WriteString(strings.TrimSpace(query))
	b.WriteString(";\n")
	return b.String()
}

// Query implements Engine. A successful run with no output is an empty
// result; every failure is a *QueryError.
func (c *CLI) Query(ctx context.Context, h *Handle, query string) ([]model.Row, error) {
	start := time.Now()
	rows, err := c.query(ctx, h, query)
	observe(c.Name(), start, err)
	return rows, err
}

func (c *CLI) query(ctx context.Context, h *Handle, query string) ([]model.Row, error) {
	if err := ValidateReadOnly(query); err != nil {
		return nil, &QueryError{Engine: c.Name(), Query: query, Err: err}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, &QueryError{Engine: c.Name(), Query: query, Err: ErrClosed}
	}
	if h == nil {
		return nil, &QueryError{Engine: c.Name(), Query: query, Err: ErrStaleHandle}
	}
	if _, err := os.Stat(h.Path); err != nil {
		return nil, &QueryError{Engine: c.Name(), Query: query, Err: fmt.Errorf("%w: %v", ErrStaleHandle, err)}
	}

	stdout, stderr, err := c.run(ctx, "-bail", "-json", "-c", c.Script(h, query))
	if err != nil {
		return nil, &QueryError{Engine: c.Name(), Query: query, Diagnostic: stderr, Err: err}
	}
	if strings.Contains(stderr, "Error") {
		return nil, &QueryError{Engine: c.Name(), Query: query, Diagnostic: stderr, Err: errors.New("engine reported an error")}
	}

	raw, err := decodeRows(stdout)
	if err != nil {
		return nil, &QueryError{Engine: c.Name(), Query: query, Diagnostic: truncate(string(stdout), 512), Err: err}
	}
	rows := make([]model.Row, len(raw))
	for i, r := range raw {
		row := make(model.Row, len(r))
		for k, v := range r {
			col, known := h.Column(k)
			row[k] = coerce(v, col, known)
		}
		rows[i] = row
	}
	return rows, nil
}

// run executes the binary with the query timeout. Deadline expiry is
// reported as context.DeadlineExceeded.
func (c *CLI) run(ctx context.Context, args ...string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.QueryTimeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 2 * time.Second

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, stderr.String(), ctxErr
	}
	if err != nil {
		return nil, stderr.String(), fmt.Errorf("run %s: %w", c.Binary, err)
	}
	return stdout.Bytes(), stderr.String(), nil
}

// decodeRows reads the JSON arrays printed by duckdb -json. Statements
// without results print nothing, so only the last array is the query result.
func decodeRows(out []byte) ([]map[string]any, error) {
	if len(bytes.TrimSpace(out)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(out))
	dec.UseNumber()

	var last []map[string]any
	for {
		var batch []map[string]any
		err := dec.Decode(&batch)
		if errors.Is(err, io.EOF) {
			return last, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
		}
		last = batch
	}
}

// Close removes every materialised file. It is safe to call more than once.
func (c *CLI) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	err := c.scratch.cleanup()
	if err != nil {
		logger.L().Warnw("duckdb: cleanup materialisations", "error", err)
	}
	return err
}

func observe(engine string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		var qe *QueryError
		if errors.As(err, &qe) {
			logger.L().Debugw("duckdb: query failed", "engine", engine, "query", qe.Query, "error", qe.Err)
		}
	}
	metrics.EngineQueries.WithLabelValues(engine, outcome).Inc()
	metrics.EngineQueryDuration.WithLabelValues(engine).Observe(time.Since(start).Seconds())
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
