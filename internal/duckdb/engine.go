// Package duckdb bridges RecordSets to DuckDB. Records are materialised as a
// CSV file and queried either through the duckdb binary or in process.
package duckdb

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/tinytelemetry/accesslens/internal/model"
)

// Engine materialises a RecordSet and runs read-only queries against it.
type Engine interface {
	Name() string
	Materialize(ctx context.Context, rs *model.RecordSet, cols []model.ColumnMetadata) (*Handle, error)
	Query(ctx context.Context, h *Handle, sql string) ([]model.Row, error)
	Close() error
}

// SQL column types used in the materialised schema.
const (
	SQLBigint    = "BIGINT"
	SQLDouble    = "DOUBLE"
	SQLTimestamp = "TIMESTAMP"
	SQLVarchar   = "VARCHAR"
)

// Column is one materialised column.
type Column struct {
	Name     string           // column name in SQL, unique case-insensitively
	Source   string           // RecordSet column it was read from
	Type     string           // SQL type
	Semantic model.ColumnType // inferred type
	kind     model.ValueKind
}

// IsString reports whether the column is stored as VARCHAR.
func (c Column) IsString() bool { return c.Type == SQLVarchar }

// Handle describes one materialisation. It is immutable once returned.
type Handle struct {
	ID      string
	Path    string
	Table   string
	Rows    int
	Columns []Column

	byName map[string]int
}

// Column looks a column up by its RecordSet or SQL name, ignoring case.
func (h *Handle) Column(name string) (Column, bool) {
	i, ok := h.byName[strings.ToLower(name)]
	if !ok {
		return Column{}, false
	}
	return h.Columns[i], true
}

// WithAliases returns a copy of h on which each alias also resolves to the
// column it projects. Engines that decode untyped output use it to type
// aliased result columns. Aliases naming unknown columns are ignored.
func (h *Handle) WithAliases(aliases map[string]string) *Handle {
	cp := *h
	cp.byName = maps.Clone(h.byName)
	for alias, name := range aliases {
		if i, ok := h.byName[strings.ToLower(name)]; ok {
			cp.byName[strings.ToLower(alias)] = i
		}
	}
	return &cp
}

// Has reports whether the column was materialised.
func (h *Handle) Has(name string) bool {
	_, ok := h.Column(name)
	return ok
}

// Ident returns the quoted SQL identifier for a column. Unknown columns are
// quoted as given.
func (h *Handle) Ident(name string) string {
	if c, ok := h.Column(name); ok {
		name = c.Name
	}
	return QuoteIdent(name)
}

// TableIdent returns the quoted table name.
func (h *Handle) TableIdent() string { return QuoteIdent(h.Table) }

// IsAbsent returns a predicate true when the column holds no value. String
// columns also treat the empty string as absent. A column that was never
// materialised is absent everywhere.
func (h *Handle) IsAbsent(name string) string {
	c, ok := h.Column(name)
	if !ok {
		return "TRUE"
	}
	id := QuoteIdent(c.Name)
	if c.IsString() {
		return fmt.Sprintf("(%s IS NULL OR %s = '')", id, id)
	}
	return id + " IS NULL"
}

// IsPresent is the negation of IsAbsent.
func (h *Handle) IsPresent(name string) string {
	c, ok := h.Column(name)
	if !ok {
		return "FALSE"
	}
	id := QuoteIdent(c.Name)
	if c.IsString() {
		return fmt.Sprintf("(%s IS NOT NULL AND %s <> '')", id, id)
	}
	return id + " IS NOT NULL"
}

// Int returns an expression yielding the column as BIGINT. String columns are
// converted with TRY_CAST so stray text becomes NULL instead of an error.
func (h *Handle) Int(name string) string {
	c, ok := h.Column(name)
	if !ok {
		return "CAST(NULL AS BIGINT)"
	}
	id := QuoteIdent(c.Name)
	switch c.Type {
	case SQLBigint:
		return id
	case SQLDouble:
		return fmt.Sprintf("CAST(%s AS BIGINT)", id)
	}
	return fmt.Sprintf("TRY_CAST(%s AS BIGINT)", id)
}

// Float returns an expression yielding the column as DOUBLE.
func (h *Handle) Float(name string) string {
	c, ok := h.Column(name)
	if !ok {
		return "CAST(NULL AS DOUBLE)"
	}
	id := QuoteIdent(c.Name)
	if c.Type == SQLDouble {
		return id
	}
	return fmt.Sprintf("TRY_CAST(%s AS DOUBLE)", id)
}

// Text returns an expression yielding the column as VARCHAR, or NULL.
func (h *Handle) Text(name string) string {
	c, ok := h.Column(name)
	if !ok {
		return "CAST(NULL AS VARCHAR)"
	}
	id := QuoteIdent(c.Name)
	if c.IsString() {
		return fmt.Sprintf("NULLIF(%s, '')", id)
	}
	return fmt.Sprintf("CAST(%s AS VARCHAR)", id)
}

// Value returns the column in its materialised type with empty strings
// mapped to NULL.
func (h *Handle) Value(name string) string {
	c, ok := h.Column(name)
	if !ok {
		return "NULL"
	}
	id := QuoteIdent(c.Name)
	if c.IsString() {
		return fmt.Sprintf("NULLIF(%s, '')", id)
	}
	return id
}

// Timestamp returns the timestamp column, or a NULL TIMESTAMP when the
// records carry no usable timestamps.
func (h *Handle) Timestamp() string {
	c, ok := h.Column(model.ColTimestamp)
	if !ok || c.Type != SQLTimestamp {
		return "CAST(NULL AS TIMESTAMP)"
	}
	return QuoteIdent(c.Name)
}

// Window returns a predicate selecting rows inside w. Unbounded windows
// select everything, including rows without a timestamp; bounded windows
// never select rows without one.
func (h *Handle) Window(w model.TimeWindow) string {
	if w.IsUnbounded() {
		return "TRUE"
	}
	c, ok := h.Column(model.ColTimestamp)
	if !ok || c.Type != SQLTimestamp {
		return "FALSE"
	}
	id := QuoteIdent(c.Name)
	parts := []string{id + " IS NOT NULL"}
	if !w.Start.IsZero() {
		parts = append(parts, fmt.Sprintf("%s >= %s", id, TimestampLiteral(w.Start)))
	}
	if !w.End.IsZero() {
		parts = append(parts, fmt.Sprintf("%s < %s", id, TimestampLiteral(w.End)))
	}
	return "(" + strings.Join(parts, " AND ") + ")"
}

// QuoteIdent double-quotes an identifier, doubling embedded quotes.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteString single-quotes a string literal, doubling embedded quotes.
func QuoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// TimestampLiteral renders t as a TIMESTAMP literal in UTC.
func TimestampLiteral(t time.Time) string {
	return "TIMESTAMP '" + t.UTC().Format(csvTimeLayout) + "'"
}

// Dataset binds an engine to one of its materialisations.
type Dataset struct {
	engine Engine
	handle *Handle
}

// NewDataset pairs e with h.
func NewDataset(e Engine, h *Handle) *Dataset {
	return &Dataset{engine: e, handle: h}
}

// Query runs sql against the bound materialisation.
func (d *Dataset) Query(ctx context.Context, sql string) ([]model.Row, error) {
	return d.engine.Query(ctx, d.handle, sql)
}

// QueryAliased runs sql with result aliases mapped to the columns they
// project, so aliased values decode with the column's type.
func (d *Dataset) QueryAliased(ctx context.Context, sql string, aliases map[string]string) ([]model.Row, error) {
	return d.engine.Query(ctx, d.handle.WithAliases(aliases), sql)
}

// Handle returns the bound materialisation.
func (d *Dataset) Handle() *Handle { return d.handle }

// EngineName returns the name of the bound engine.
func (d *Dataset) EngineName() string { return d.engine.Name() }
