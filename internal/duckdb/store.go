package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/tinytelemetry/accesslens/internal/duckdb/prelude"
	"github.com/tinytelemetry/accesslens/internal/logger"
	"github.com/tinytelemetry/accesslens/internal/model"
)

// Store is the in-process engine. Each materialisation replaces the
// access_logs table, so only the most recent handle can be queried.
type Store struct {
	db           *sql.DB
	mu           sync.RWMutex
	dbPath       string
	current      string
	closed       bool
	scratch      scratch
	closeOnce    sync.Once
	closeErr     error
	QueryTimeout time.Duration
}

// NewStore opens or creates a DuckDB database.
// If dbPath is empty, an in-memory database is used.
// An optional queryTimeout can be passed; it defaults to 30s.
func NewStore(dbPath string, queryTimeout ...time.Duration) (*Store, error) {
	dsn := ""
	if dbPath != "" {
		// Ensure parent directory exists
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		dsn = dbPath
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, err
	}

	if err := prelude.Apply(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}

	qt := model.DefaultQueryTimeout
	if len(queryTimeout) > 0 && queryTimeout[0] > 0 {
		qt = queryTimeout[0]
	}

	return &Store{
		db:           db,
		dbPath:       dbPath,
		QueryTimeout: qt,
	}, nil
}

// Name implements Engine.
func (s *Store) Name() string { return "embedded" }

// Materialize writes rs to CSV and loads it into the access_logs table.
func (s *Store) Materialize(ctx context.Context, rs *model.RecordSet, cols []model.ColumnMetadata) (*Handle, error) {
	h, err := s.scratch.materialize(ctx, rs, cols)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	ctx, cancel := context.WithTimeout(ctx, s.QueryTimeout)
	defer cancel()
	stmt := fmt.Sprintf("CREATE OR REPLACE TABLE %s AS SELECT * FROM %s", h.TableIdent(), h.ReadCSV())
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return nil, &QueryError{Engine: s.Name(), Query: stmt, Diagnostic: err.Error(), Err: err}
	}
	s.current = h.ID
	return h, nil
}

// Query runs a read-only query against the table behind h.
func (s *Store) Query(ctx context.Context, h *Handle, query string) ([]model.Row, error) {
	start := time.Now()
	rows, err := s.query(ctx, h, query)
	observe(s.Name(), start, err)
	return rows, err
}

func (s *Store) query(ctx context.Context, h *Handle, query string) ([]model.Row, error) {
	if err := ValidateReadOnly(query); err != nil {
		return nil, &QueryError{Engine: s.Name(), Query: query, Err: err}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, &QueryError{Engine: s.Name(), Query: query, Err: ErrClosed}
	}
	if h == nil || h.ID != s.current {
		return nil, &QueryError{Engine: s.Name(), Query: query, Err: ErrStaleHandle}
	}

	ctx, cancel := context.WithTimeout(ctx, s.QueryTimeout)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, s.wrap(ctx, query, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, s.wrap(ctx, query, err)
	}

	var results []model.Row
	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, s.wrap(ctx, query, err)
		}

		row := make(model.Row, len(columns))
		for i, col := range columns {
			row[col] = normalize(values[i])
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap(ctx, query, err)
	}
	return results, nil
}

func (s *Store) wrap(ctx context.Context, query string, err error) error {
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = context.DeadlineExceeded
	}
	return &QueryError{Engine: s.Name(), Query: query, Diagnostic: err.Error(), Err: err}
}

// Close closes the database and removes materialised files. It is safe to
// call more than once.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.current = ""
		s.closed = true
		s.closeErr = errors.Join(s.db.Close(), s.scratch.cleanup())
		if s.closeErr != nil {
			logger.L().Warnw("duckdb: close store", "error", s.closeErr)
		}
	})
	return s.closeErr
}
