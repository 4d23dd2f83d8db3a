// Package database provides integration-test clients backed by a real
// PostgreSQL instance (CI service container or local testcontainer).
package database

import (
	stdsql "database/sql"
	"testing"

	"github.com/runloom/runloom/pkg/database"
	"github.com/runloom/runloom/test/util"
)

// NewTestClient creates a test database client over a migrated per-test
// schema, plus the schema-pinned connection string for dedicated LISTEN
// connections. Cleanup (schema drop, pool close) is registered on t.
func NewTestClient(t *testing.T) (*database.Client, string) {
	t.Helper()
	db, connStr := util.SetupTestDatabase(t)
	return database.NewClientFromDB(db), connStr
}

// DB is a convenience for tests that only need the pool.
func DB(t *testing.T) *stdsql.DB {
	t.Helper()
	db, _ := util.SetupTestDatabase(t)
	return db
}
