package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParams_Placeholders(t *testing.T) {
	pg := Postgres.NewParams()
	assert.Equal(t, "$1", pg.Add("a"))
	assert.Equal(t, "$2", pg.Add(2))
	assert.Equal(t, []any{"a", 2}, pg.Args())

	lite := SQLite.NewParams()
	assert.Equal(t, "?1", lite.Add("a"))
	assert.Equal(t, "?2", lite.Add("b"))
	assert.Equal(t, 2, lite.Len())
}

func TestPredicate_Render(t *testing.T) {
	p := SQLite.NewParams()
	p.Add("first")

	pred := &Predicate{Clause: `"author" = ? OR "status" = ?`, Args: []any{"u1", "published"}}
	sql, err := pred.Render(p)
	require.NoError(t, err)

	assert.Equal(t, `("author" = ?2 OR "status" = ?3)`, sql)
	assert.Equal(t, []any{"first", "u1", "published"}, p.Args())
}

func TestPredicate_Render_ArgCountMismatch(t *testing.T) {
	pred := &Predicate{Clause: "a = ? AND b = ?", Args: []any{1}}
	_, err := pred.Render(Postgres.NewParams())
	require.Error(t, err)
}

func TestInExpr(t *testing.T) {
	p := SQLite.NewParams()
	assert.Equal(t, "id IN (?1, ?2)", SQLite.InExpr("id", p, []string{"a", "b"}))
	assert.Equal(t, "1 = 0", SQLite.InExpr("id", SQLite.NewParams(), nil))

	pg := Postgres.NewParams()
	assert.Equal(t, "id = ANY($1)", Postgres.InExpr("id", pg, []string{"a"}))
	assert.Equal(t, []any{[]string{"a"}}, pg.Args())
}

func TestColumnType(t *testing.T) {
	tests := []struct {
		typ  ColumnType
		pg   string
		lite string
	}{
		{ColumnText, "TEXT", "TEXT"},
		{ColumnInteger, "BIGINT", "INTEGER"},
		{ColumnNumeric, "DOUBLE PRECISION", "REAL"},
		{ColumnBoolean, "BOOLEAN", "INTEGER"},
		{ColumnTimestamp, "TIMESTAMPTZ", "DATETIME"},
		{ColumnJSON, "TEXT", "TEXT"},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			assert.Equal(t, tt.pg, Postgres.ColumnType(tt.typ))
			assert.Equal(t, tt.lite, SQLite.ColumnType(tt.typ))
		})
	}
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"posts"`, Postgres.QuoteIdent("posts"))
	assert.Equal(t, `"we""ird"`, SQLite.QuoteIdent(`we"ird`))
}

func TestDialectByName(t *testing.T) {
	d, err := DialectByName("postgresql")
	require.NoError(t, err)
	assert.Equal(t, "postgres", d.Name())

	d, err = DialectByName("sqlite")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", d.Name())

	_, err = DialectByName("mysql")
	assert.Error(t, err)
}

func TestSQLitePath(t *testing.T) {
	path, ok := sqlitePath("sqlite:///tmp/x.db")
	assert.True(t, ok)
	assert.Equal(t, "/tmp/x.db", path)

	_, ok = sqlitePath("postgres://localhost/db")
	assert.False(t, ok)
}
