package logsource

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, src LogSource) []string {
	t.Helper()
	var lines []string
	timeout := time.After(5 * time.Second)
	for {
		select {
		case env, ok := <-src.Lines():
			if !ok {
				return lines
			}
			lines = append(lines, env.Line)
		case <-timeout:
			t.Fatal("timed out draining source")
		}
	}
}

func TestReaderSourceStopClosesLines(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)

	src := NewReaderSource(context.Background(), "pipe", r)
	src.Stop()
	_ = w.Close()

	select {
	case _, ok := <-src.Lines():
		assert.False(t, ok, "expected lines channel to be closed after Stop")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for lines channel to close")
	}
}

func TestReaderSourceStopIsIdempotent(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	src := NewReaderSource(context.Background(), "pipe", r)
	src.Stop()
	src.Stop()
}

func TestReaderSourceKeepsBlankLinesAndOrder(t *testing.T) {
	src := NewReaderSource(context.Background(), "mem", strings.NewReader("a\n\nb\r\nc"))

	var envs []int
	var lines []string
	for env := range src.Lines() {
		envs = append(envs, env.LineNo)
		lines = append(lines, env.Line)
		assert.Equal(t, "mem", env.Source)
	}
	require.NoError(t, src.Err())
	assert.Equal(t, []string{"a", "", "b", "c"}, lines)
	assert.Equal(t, []int{1, 2, 3, 4}, envs)
}

func TestReaderSourceLineTooLong(t *testing.T) {
	long := strings.Repeat("x", 200)
	src := NewReaderSource(context.Background(), "mem",
		strings.NewReader("ok\n"+long+"\nafter\n"+long), Config{MaxLineSize: 64})

	var lines []string
	var oversized []bool
	for env := range src.Lines() {
		lines = append(lines, env.Line)
		oversized = append(oversized, env.Oversized)
	}
	require.NoError(t, src.Err())
	assert.Equal(t, []string{"ok", long[:64], "after", long[:64]}, lines)
	assert.Equal(t, []bool{false, true, false, true}, oversized)
}

func TestReaderSourceLineAtLimit(t *testing.T) {
	exact := strings.Repeat("y", 64)
	src := NewReaderSource(context.Background(), "mem", strings.NewReader(exact+"\r\n"+exact), Config{MaxLineSize: 64})

	var oversized []bool
	for env := range src.Lines() {
		assert.Equal(t, exact, env.Line)
		oversized = append(oversized, env.Oversized)
	}
	require.NoError(t, src.Err())
	assert.Equal(t, []bool{false, false}, oversized)
}

func TestOpenPlainAndCompressed(t *testing.T) {
	dir := t.TempDir()
	content := "line one\nline two\n"

	plain := filepath.Join(dir, "access.log")
	require.NoError(t, os.WriteFile(plain, []byte(content), 0o644))

	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	_, err := gw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, gw.Close())
	// Renamed archive: detection is by magic bytes, not extension.
	gzPath := filepath.Join(dir, "access.log.1")
	require.NoError(t, os.WriteFile(gzPath, gz.Bytes(), 0o644))

	zw, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	zstPath := filepath.Join(dir, "access.log.zst")
	require.NoError(t, os.WriteFile(zstPath, zw.EncodeAll([]byte(content), nil), 0o644))
	require.NoError(t, zw.Close())

	for _, path := range []string{plain, gzPath, zstPath} {
		t.Run(filepath.Base(path), func(t *testing.T) {
			src, err := Open(context.Background(), path)
			require.NoError(t, err)
			assert.Equal(t, []string{"line one", "line two"}, drain(t, src))
			assert.NoError(t, src.Err())
		})
	}
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "nope.log"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
