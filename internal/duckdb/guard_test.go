package duckdb

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateReadOnlyAllowsReads(t *testing.T) {
	allowed := []string{
		"SELECT COUNT(*) AS cnt FROM access_logs",
		"  with c AS (SELECT COUNT(*) AS cnt FROM access_logs) SELECT cnt FROM c",
		`SELECT "update", "set" FROM access_logs`,
		"SELECT * FROM access_logs WHERE path = '/admin; DROP TABLE x'",
		"SELECT 1 -- DELETE everything\n",
		"SELECT /* INSERT */ 1",
		"SELECT offset_ms, reset_count FROM access_logs",
	}
	for _, q := range allowed {
		assert.NoError(t, ValidateReadOnly(q), q)
	}
}

func TestValidateReadOnlyRejectsDML(t *testing.T) {
	rejected := []string{
		"INSERT INTO access_logs (path) VALUES ('hack')",
		"UPDATE access_logs SET path = 'hacked'",
		"DELETE FROM access_logs",
		"DROP TABLE access_logs",
		"CREATE TABLE evil (id int)",
		"ALTER TABLE access_logs ADD COLUMN evil varchar",
		"TRUNCATE access_logs",
		"",
		"-- only a comment",
	}
	for _, q := range rejected {
		err := ValidateReadOnly(q)
		assert.Error(t, err, q)
		assert.True(t, errors.Is(err, ErrNotReadOnly), q)
	}
}

func TestValidateReadOnlyRejectsDuckDBKeywords(t *testing.T) {
	rejected := []struct {
		sql     string
		keyword string
	}{
		{"SELECT COPY(access_logs, '/tmp/dump.csv') FROM access_logs", "COPY"},
		{"SELECT ATTACH FROM access_logs", "ATTACH"},
		{"SELECT LOAD FROM access_logs", "LOAD"},
		{"SELECT EXPORT FROM access_logs", "EXPORT"},
		{"SELECT IMPORT FROM access_logs", "IMPORT"},
		{"SELECT INSTALL FROM access_logs", "INSTALL"},
		{"SELECT CALL FROM access_logs", "CALL"},
		{"SELECT EXECUTE FROM access_logs", "EXECUTE"},
		{"SELECT PRAGMA FROM access_logs", "PRAGMA"},
		{"SELECT SET FROM access_logs", "SET"},
	}
	for _, tt := range rejected {
		err := ValidateReadOnly(tt.sql)
		if assert.Error(t, err, tt.sql) {
			assert.Contains(t, err.Error(), tt.keyword)
		}
	}

	// Semicolons outside literals chain statements.
	for _, q := range []string{
		"SELECT * FROM access_logs; DROP TABLE access_logs",
		"SELECT * FROM access_logs; COPY access_logs TO '/tmp/dump.csv'",
	} {
		err := ValidateReadOnly(q)
		if assert.Error(t, err, q) {
			assert.True(t, strings.Contains(err.Error(), "semicolons"), err.Error())
		}
	}
}

func TestStripSQL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"SELECT 'a''b' FROM t", "SELECT '' FROM t"},
		{`SELECT "we""ird" FROM t`, `SELECT "" FROM t`},
		{"SELECT 1 /* x */ + 2", "SELECT 1   + 2"},
		{"SELECT 1 -- tail", "SELECT 1 \n"},
		{"SELECT '--' AS dashes", "SELECT '' AS dashes"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, stripSQL(tt.in), tt.in)
	}
}
