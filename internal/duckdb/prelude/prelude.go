// Package prelude holds the SQL macros every analytic engine session starts
// with. Scripts are numbered and applied in version order.
package prelude

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
)

//go:embed sql/*.sql
var scripts embed.FS

// Script is one numbered prelude file.
type Script struct {
	Version int
	Name    string
	SQL     string
}

// Load returns the embedded scripts sorted by version.
func Load() ([]Script, error) {
	entries, err := fs.ReadDir(scripts, "sql")
	if err != nil {
		return nil, fmt.Errorf("reading embedded prelude: %w", err)
	}

	var out []Script
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		parts := strings.SplitN(e.Name(), "_", 2)
		if len(parts) < 2 {
			continue
		}
		ver, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, fmt.Errorf("parsing version from %s: %w", e.Name(), err)
		}
		data, err := scripts.ReadFile("sql/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Name(), err)
		}
		out = append(out, Script{Version: ver, Name: e.Name(), SQL: string(data)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Text returns every script concatenated in version order, for engines that
// take a single script per invocation.
func Text() (string, error) {
	all, err := Load()
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, s := range all {
		b.WriteString(strings.TrimSpace(s.SQL))
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// Apply runs every script against db in version order.
func Apply(ctx context.Context, db *sql.DB) error {
	all, err := Load()
	if err != nil {
		return err
	}
	for _, s := range all {
		if _, err := db.ExecContext(ctx, s.SQL); err != nil {
			return fmt.Errorf("executing %s: %w", s.Name, err)
		}
	}
	return nil
}
