package duckdb

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotReadOnly marks queries rejected by the read-only guard.
	ErrNotReadOnly = errors.New("duckdb: query is not read-only")
	// ErrMalformedOutput marks engine output that could not be decoded.
	ErrMalformedOutput = errors.New("duckdb: malformed engine output")
	// ErrStaleHandle is returned when a handle no longer matches the engine's
	// current materialisation.
	ErrStaleHandle = errors.New("duckdb: stale handle")
	// ErrClosed is returned by engines used after Close.
	ErrClosed = errors.New("duckdb: engine closed")
)

// QueryError reports a failed engine invocation together with the query that
// was run and whatever diagnostic output the engine produced.
type QueryError struct {
	Engine     string
	Query      string
	Diagnostic string
	Err        error
}

func (e *QueryError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s query failed", e.Engine)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if d := strings.TrimSpace(e.Diagnostic); d != "" {
		fmt.Fprintf(&b, " (%s)", firstLine(d))
	}
	return b.String()
}

func (e *QueryError) Unwrap() error { return e.Err }

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
