package duckdb

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinytelemetry/accesslens/internal/model"
)

// fakeEngine writes a shell script standing in for the duckdb binary.
func fakeEngine(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake engine scripts need a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "duckdb")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func newTestCLI(t *testing.T, binary string, timeout time.Duration) (*CLI, *Handle) {
	t.Helper()
	c, err := NewCLI(binary, timeout)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	rs, cols := sampleRecords()
	h, err := c.Materialize(context.Background(), rs, cols)
	require.NoError(t, err)
	return c, h
}

func TestCLIDecodesRows(t *testing.T) {
	bin := fakeEngine(t, `printf '[{"n":3,"rate":0.5,"timestamp":"2024-03-01 10:00:00","path":null}]\n'`)
	c, h := newTestCLI(t, bin, time.Second)

	rows, err := c.Query(context.Background(), h, "SELECT * FROM access_logs")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(3), rows[0]["n"])
	assert.Equal(t, 0.5, rows[0]["rate"])
	assert.Equal(t, t0, rows[0]["timestamp"])
	assert.True(t, rows[0].IsNull("path"))
}

func TestCLITypesAliasedColumns(t *testing.T) {
	bin := fakeEngine(t, `printf '[{"g0":"2024-03-01 10:00:00","g1":2,"n":5}]\n'`)
	c, h := newTestCLI(t, bin, time.Second)

	aliased := h.WithAliases(map[string]string{"g0": model.ColTimestamp, "g1": model.ColRequestTime})
	rows, err := c.Query(context.Background(), aliased, "SELECT timestamp AS g0, request_time AS g1, COUNT(*) AS n FROM access_logs GROUP BY ALL")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, t0, rows[0]["g0"])
	assert.Equal(t, 2.0, rows[0]["g1"])
	assert.Equal(t, int64(5), rows[0]["n"])

	rows, err = c.Query(context.Background(), h, "SELECT timestamp AS g0 FROM access_logs")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01 10:00:00", rows[0]["g0"], "aliases must not leak into the original handle")
}

func TestCLIKeepsLastResultArray(t *testing.T) {
	bin := fakeEngine(t, `printf '[{"a":1}]\n[{"b":2},{"b":3}]\n'`)
	c, h := newTestCLI(t, bin, time.Second)

	rows, err := c.Query(context.Background(), h, "SELECT b FROM access_logs")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(3), rows[1].Int("b"))
}

func TestCLIEmptyOutputIsEmptyResult(t *testing.T) {
	bin := fakeEngine(t, `exit 0`)
	c, h := newTestCLI(t, bin, time.Second)

	rows, err := c.Query(context.Background(), h, "SELECT * FROM access_logs WHERE FALSE")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestCLIPassesScript(t *testing.T) {
	out := filepath.Join(t.TempDir(), "args")
	bin := fakeEngine(t, `printf '%s\n' "$@" > `+out)
	c, h := newTestCLI(t, bin, time.Second)

	_, err := c.Query(context.Background(), h, "SELECT COUNT(*) AS n FROM access_logs")
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	args := string(data)
	assert.Contains(t, args, "-bail")
	assert.Contains(t, args, "-json")
	assert.Contains(t, args, "MACRO is_error_status(")
	assert.Contains(t, args, "CREATE OR REPLACE VIEW \"access_logs\" AS SELECT * FROM read_csv('"+h.Path+"'")
	assert.Contains(t, args, "SELECT COUNT(*) AS n FROM access_logs;")
}

func TestCLIFailures(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		target  error
		diagnos string
	}{
		{"malformed output", `printf 'not json'`, ErrMalformedOutput, "not json"},
		{"non-zero exit", `echo "Error: Binder Error: column x not found" >&2; exit 1`, nil, "Binder Error"},
		{"stderr error with zero exit", `echo "Error: Parser Error" >&2; exit 0`, nil, "Parser Error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, h := newTestCLI(t, fakeEngine(t, tt.body), time.Second)
			rows, err := c.Query(context.Background(), h, "SELECT x FROM access_logs")
			require.Error(t, err)
			assert.Nil(t, rows)

			var qe *QueryError
			require.True(t, errors.As(err, &qe))
			assert.Equal(t, "SELECT x FROM access_logs", qe.Query)
			assert.Contains(t, qe.Diagnostic, tt.diagnos)
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
		})
	}
}

func TestCLIMissingBinary(t *testing.T) {
	c, h := newTestCLI(t, "accesslens-no-such-duckdb-binary", time.Second)
	_, err := c.Query(context.Background(), h, "SELECT 1")

	var qe *QueryError
	require.True(t, errors.As(err, &qe))
	assert.ErrorIs(t, err, exec.ErrNotFound)

	_, err = c.Check(context.Background())
	assert.ErrorIs(t, err, exec.ErrNotFound)
}

func TestCLITimeout(t *testing.T) {
	bin := fakeEngine(t, `exec sleep 5`)
	c, h := newTestCLI(t, bin, 100*time.Millisecond)

	start := time.Now()
	_, err := c.Query(context.Background(), h, "SELECT 1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	var qe *QueryError
	assert.True(t, errors.As(err, &qe))
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestCLIRejectsWritesWithoutRunning(t *testing.T) {
	c, h := newTestCLI(t, "accesslens-no-such-duckdb-binary", time.Second)
	_, err := c.Query(context.Background(), h, "DROP TABLE access_logs")
	assert.ErrorIs(t, err, ErrNotReadOnly)
	assert.NotErrorIs(t, err, exec.ErrNotFound)
}

func TestCLICloseRemovesFiles(t *testing.T) {
	c, h := newTestCLI(t, fakeEngine(t, `exit 0`), time.Second)
	dir := filepath.Dir(h.Path)

	require.NoError(t, c.Close())
	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, c.Close())

	_, err = c.Query(context.Background(), h, "SELECT 1")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCLIStaleHandle(t *testing.T) {
	c, h := newTestCLI(t, fakeEngine(t, `exit 0`), time.Second)
	require.NoError(t, os.Remove(h.Path))
	_, err := c.Query(context.Background(), h, "SELECT 1")
	assert.ErrorIs(t, err, ErrStaleHandle)
}

// TestCLIRealBinary runs against an installed duckdb when one is available.
func TestCLIRealBinary(t *testing.T) {
	bin, err := exec.LookPath(model.DefaultEngineBinary)
	if err != nil {
		t.Skip("duckdb binary not installed")
	}
	c, h := newTestCLI(t, bin, 30*time.Second)

	rows, err := c.Query(context.Background(), h,
		`SELECT COUNT(*) AS n, COUNT(*) FILTER (WHERE is_error_status(status_code)) AS errors FROM access_logs`)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(3), rows[0].Int("n"))
	assert.Equal(t, int64(2), rows[0].Int("errors"))

	rows, err = c.Query(context.Background(), h, `SELECT path FROM access_logs WHERE FALSE`)
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = c.Query(context.Background(), h, `SELECT no_such_column FROM access_logs`)
	var qe *QueryError
	assert.True(t, errors.As(err, &qe))
}
