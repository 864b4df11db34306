// Package dbtest opens throwaway SQLite databases with the system migrations
// applied, for tests that need real SQL.
package dbtest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/GyroZepelix/mithril-engine/internal/database"
)

// Open returns a migrated SQLite database in a temp dir. It is closed when
// the test ends.
func Open(t testing.TB) *database.DB {
	t.Helper()

	db, err := database.NewSQLite(context.Background(), filepath.Join(t.TempDir(), "mithril.db"))
	require.NoError(t, err, "opening sqlite database")
	t.Cleanup(db.Close)

	require.NoError(t, database.RunMigrations(db), "running migrations")
	return db
}
