package duckdb

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/tinytelemetry/accesslens/internal/logger"
	"github.com/tinytelemetry/accesslens/internal/metrics"
	"github.com/tinytelemetry/accesslens/internal/model"
)

// csvTimeLayout is how timestamps are written to and read from DuckDB.
const csvTimeLayout = "2006-01-02 15:04:05.000000"

// Schema derives the materialised columns for rs. Metadata missing for a
// column falls back to the column's stored value kind.
func Schema(rs *model.RecordSet, cols []model.ColumnMetadata) []Column {
	meta := make(map[string]model.ColumnMetadata, len(cols))
	for _, c := range cols {
		meta[c.Name] = c
	}

	names := rs.Columns()
	out := make([]Column, 0, len(names))
	taken := make(map[string]bool, len(names))
	for _, name := range names {
		kind := model.ColumnKind(name)
		md, ok := meta[name]
		col := Column{Source: name, Name: uniqueName(name, taken), kind: kind}
		if ok {
			col.Semantic = md.Type
			col.Type = sqlType(md, kind)
		} else {
			col.Semantic, col.Type = kindType(kind)
		}
		out = append(out, col)
	}
	return out
}

func sqlType(md model.ColumnMetadata, kind model.ValueKind) string {
	switch md.Type {
	case model.TypeNumeric:
		if md.Summary.Integral && kind != model.KindFloat {
			return SQLBigint
		}
		return SQLDouble
	case model.TypeTimestamp:
		if kind == model.KindTime {
			return SQLTimestamp
		}
	}
	return SQLVarchar
}

func kindType(kind model.ValueKind) (model.ColumnType, string) {
	switch kind {
	case model.KindInt:
		return model.TypeNumeric, SQLBigint
	case model.KindFloat:
		return model.TypeNumeric, SQLDouble
	case model.KindTime:
		return model.TypeTimestamp, SQLTimestamp
	}
	return model.TypeText, SQLVarchar
}

// uniqueName suffixes names that collide case-insensitively with an earlier one.
func uniqueName(name string, taken map[string]bool) string {
	candidate := name
	for n := 2; taken[strings.ToLower(candidate)]; n++ {
		candidate = fmt.Sprintf("%s_%d", name, n)
	}
	taken[strings.ToLower(candidate)] = true
	return candidate
}

// NewHandle describes a table with the given columns, indexed by SQL and
// source name.
func NewHandle(path string, rows int, cols []Column) *Handle {
	h := &Handle{
		ID:      uuid.NewString(),
		Path:    path,
		Table:   model.DefaultTableName,
		Rows:    rows,
		Columns: cols,
		byName:  make(map[string]int, len(cols)*2),
	}
	for i, c := range cols {
		h.byName[strings.ToLower(c.Name)] = i
	}
	for i, c := range cols {
		if _, ok := h.byName[strings.ToLower(c.Source)]; !ok {
			h.byName[strings.ToLower(c.Source)] = i
		}
	}
	return h
}

// ReadCSV returns the DuckDB table function reading the materialised file
// with the declared schema.
func (h *Handle) ReadCSV() string {
	defs := make([]string, len(h.Columns))
	for i, c := range h.Columns {
		defs[i] = QuoteString(c.Name) + ": " + QuoteString(c.Type)
	}
	return fmt.Sprintf(
		"read_csv(%s, header = true, auto_detect = false, delim = ',', quote = '\"', escape = '\"', columns = {%s})",
		QuoteString(h.Path), strings.Join(defs, ", "))
}

// scratch owns the temporary directories behind materialisations.
type scratch struct {
	mu     sync.Mutex
	dirs   []string
	closed bool
}

// materialize writes rs to a fresh CSV file and returns its handle.
func (s *scratch) materialize(ctx context.Context, rs *model.RecordSet, cols []model.ColumnMetadata) (*Handle, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	dir, err := os.MkdirTemp("", "accesslens-")
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("create materialisation dir: %w", err)
	}
	s.dirs = append(s.dirs, dir)
	s.mu.Unlock()

	schema := Schema(rs, cols)
	h := NewHandle("", rs.Len(), schema)
	h.Path = filepath.Join(dir, fmt.Sprintf("%s-%s.csv", h.Table, h.ID))

	if err := writeCSV(ctx, h.Path, rs, schema); err != nil {
		return nil, err
	}
	metrics.MaterializedRows.Set(float64(h.Rows))
	logger.L().Debugw("duckdb: materialised record set", "path", h.Path, "rows", h.Rows, "columns", len(schema))
	return h, nil
}

func (s *scratch) cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	var errs []error
	for _, dir := range s.dirs {
		if err := os.RemoveAll(dir); err != nil {
			errs = append(errs, err)
		}
	}
	s.dirs = nil
	return errors.Join(errs...)
}

func writeCSV(ctx context.Context, path string, rs *model.RecordSet, cols []Column) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	w := csv.NewWriter(f)

	record := make([]string, len(cols))
	for i, c := range cols {
		record[i] = c.Name
	}
	if err := w.Write(record); err != nil {
		f.Close()
		return fmt.Errorf("write csv header: %w", err)
	}

	for row := 0; row < rs.Len(); row++ {
		if row%4096 == 0 {
			if err := ctx.Err(); err != nil {
				f.Close()
				return err
			}
		}
		for i, c := range cols {
			record[i] = cell(rs.Value(row, c.Source), c.Type)
		}
		if err := w.Write(record); err != nil {
			f.Close()
			return fmt.Errorf("write csv row %d: %w", row, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("flush csv: %w", err)
	}
	return f.Close()
}

// cell renders v for a column of the given SQL type. Absent values and
// values that cannot be represented in the column type become empty
// fields, which DuckDB reads as NULL.
func cell(v model.Value, sqlType string) string {
	if !v.Present {
		return ""
	}
	switch sqlType {
	case SQLBigint:
		if v.Kind == model.KindInt {
			return strconv.FormatInt(v.Int, 10)
		}
		f, ok := number(v)
		if !ok || f != math.Trunc(f) {
			return ""
		}
		return strconv.FormatInt(int64(f), 10)
	case SQLDouble:
		f, ok := number(v)
		if !ok {
			return ""
		}
		return strconv.FormatFloat(f, 'g', -1, 64)
	case SQLTimestamp:
		if v.Kind != model.KindTime {
			return ""
		}
		return v.Time.UTC().Format(csvTimeLayout)
	}
	switch v.Kind {
	case model.KindInt:
		return strconv.FormatInt(v.Int, 10)
	case model.KindFloat:
		return strconv.FormatFloat(v.Float, 'f', -1, 64)
	case model.KindTime:
		return v.Time.UTC().Format(csvTimeLayout)
	}
	return v.Str
}

func number(v model.Value) (float64, bool) {
	switch v.Kind {
	case model.KindInt:
		return float64(v.Int), true
	case model.KindFloat:
		return v.Float, !math.IsNaN(v.Float) && !math.IsInf(v.Float, 0)
	case model.KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
