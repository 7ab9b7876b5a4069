package duckdb

import (
	"fmt"
	"regexp"
	"strings"
)

// dangerousKeywordPattern matches dangerous SQL keywords at word boundaries.
// This avoids false positives like "RESET" matching "SET".
var dangerousKeywordPattern = regexp.MustCompile(
	`(?i)\b(INSERT|UPDATE|DELETE|DROP|CREATE|ALTER|TRUNCATE|COPY|ATTACH|DETACH|LOAD|EXPORT|IMPORT|INSTALL|CALL|EXECUTE|PRAGMA|SET|CHECKPOINT)\b`,
)

// ValidateReadOnly accepts a single SELECT or WITH statement. Keywords are
// checked after comments, string literals and quoted identifiers have been
// blanked out, so a column named "update" is fine but a trailing
// "; DROP TABLE" is not.
func ValidateReadOnly(query string) error {
	stripped := strings.TrimSpace(stripSQL(query))
	if stripped == "" {
		return fmt.Errorf("%w: empty query", ErrNotReadOnly)
	}

	// Reject semicolons to prevent statement chaining.
	if strings.Contains(stripped, ";") {
		return fmt.Errorf("%w: query must not contain semicolons", ErrNotReadOnly)
	}

	upper := strings.ToUpper(stripped)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return fmt.Errorf("%w: only SELECT/WITH queries are allowed", ErrNotReadOnly)
	}
	if match := dangerousKeywordPattern.FindString(stripped); match != "" {
		return fmt.Errorf("%w: query contains disallowed keyword: %s", ErrNotReadOnly, strings.ToUpper(match))
	}
	return nil
}

// stripSQL removes -- line comments and /* */ block comments and replaces
// the contents of '...' literals and "..." identifiers with nothing, keeping
// the quotes. Doubled quotes inside a literal are treated as escapes.
func stripSQL(query string) string {
	var b strings.Builder
	b.Grow(len(query))
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '-' && i+1 < len(query) && query[i+1] == '-':
			for i < len(query) && query[i] != '\n' {
				i++
			}
			b.WriteByte('\n')
		case c == '/' && i+1 < len(query) && query[i+1] == '*':
			end := strings.Index(query[i+2:], "*/")
			if end < 0 {
				i = len(query)
			} else {
				i += end + 3
			}
			b.WriteByte(' ')
		case c == '\'' || c == '"':
			i = skipQuoted(query, i, c)
			b.WriteByte(c)
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// skipQuoted returns the index of the closing quote matching query[start].
func skipQuoted(query string, start int, quote byte) int {
	for i := start + 1; i < len(query); i++ {
		if query[i] != quote {
			continue
		}
		if i+1 < len(query) && query[i+1] == quote {
			i++
			continue
		}
		return i
	}
	return len(query)
}
