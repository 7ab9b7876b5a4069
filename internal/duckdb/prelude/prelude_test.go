package prelude

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSortedByVersion(t *testing.T) {
	all, err := Load()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, 1, all[0].Version)
	assert.Equal(t, 2, all[1].Version)
	assert.Contains(t, all[0].SQL, "is_error_status")
}

func TestTextContainsEveryMacro(t *testing.T) {
	text, err := Text()
	require.NoError(t, err)
	for _, name := range []string{"status_class", "is_error_status", "is_not_found", "is_auth_failure", "unix_seconds", "bucket_start", "hour_of_day", "day_of_week"} {
		assert.Contains(t, text, "MACRO "+name+"(")
	}
}

func TestApplyDefinesMacros(t *testing.T) {
	db, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	require.NoError(t, Apply(ctx, db))
	// Applying twice is harmless.
	require.NoError(t, Apply(ctx, db))

	var class int64
	var notFound, authFail, nullErr bool
	row := db.QueryRowContext(ctx, `SELECT status_class(404), is_not_found(404), is_auth_failure(401, [401, 403]), is_error_status(NULL)`)
	require.NoError(t, row.Scan(&class, &notFound, &authFail, &nullErr))
	assert.Equal(t, int64(400), class)
	assert.True(t, notFound)
	assert.True(t, authFail)
	assert.False(t, nullErr)

	var bucket int64
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT bucket_start(TIMESTAMP '2024-01-01 00:01:05', 60)`).Scan(&bucket))
	assert.Equal(t, int64(1704067260), bucket)
}
