// Package testutil provides an in-memory database for package tests.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/carryconnect/carryconnect/internal/database"
)

var seq atomic.Int64

// NewDB opens a private in-memory SQLite database with the application
// schema.  A single connection is used so every statement sees the same
// memory database; code under test must not hold a transaction while
// issuing statements on the pool.
func NewDB(t testing.TB) *sql.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:carry%d?mode=memory&cache=shared&_busy_timeout=5000", seq.Add(1))
	db, err := sql.Open("sqlite3", dsn)
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db, database.DialectSQLite))
	return db
}
