package database_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GyroZepelix/mithril-engine/internal/database"
	"github.com/GyroZepelix/mithril-engine/internal/database/dbtest"
)

func TestInTx_CommitAndRollback(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)

	_, err := db.Exec(ctx, `CREATE TABLE things (id TEXT PRIMARY KEY, n INTEGER)`)
	require.NoError(t, err)

	err = db.InTx(ctx, func(tx *database.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO things (id, n) VALUES (?1, ?2)`, "a", 1)
		return err
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = db.InTx(ctx, func(tx *database.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO things (id, n) VALUES (?1, ?2)`, "b", 2); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	rows, err := db.Query(ctx, `SELECT id, n FROM things ORDER BY id`)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "a", rows[0]["id"])
	assert.EqualValues(t, 1, rows[0]["n"])
}

func TestQueryRow_NoRows(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)

	var id string
	err := db.QueryRow(ctx, `SELECT id FROM tags WHERE name = ?1`, "missing").Scan(&id)
	assert.ErrorIs(t, err, database.ErrNoRows)
}

func TestTableColumns_SQLite(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)

	cols, err := db.Dialect().TableColumns(ctx, db, "tags")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"id": "TEXT", "name": "TEXT", "created_at": "DATETIME"}, cols)

	cols, err = db.Dialect().TableColumns(ctx, db, "does_not_exist")
	require.NoError(t, err)
	assert.Empty(t, cols)
}

func TestIsUniqueViolation_SQLite(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)

	_, err := db.Exec(ctx, `INSERT INTO tags (id, name) VALUES (?1, ?2)`, "t1", "go")
	require.NoError(t, err)
	_, err = db.Exec(ctx, `INSERT INTO tags (id, name) VALUES (?1, ?2)`, "t2", "go")
	require.Error(t, err)
	assert.True(t, db.Dialect().IsUniqueViolation(err))
}
