package search

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GyroZepelix/mithril-engine/internal/database"
	"github.com/GyroZepelix/mithril-engine/internal/database/dbtest"
	"github.com/GyroZepelix/mithril-engine/internal/schema"
)

const postsYAML = `slug: posts
name: {singular: Post}
fields:
  body: {type: textarea}
  views: {type: integer}
  secret: {type: password}
`

func applyPosts(t *testing.T) (*database.DB, *schema.Entity) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db := dbtest.Open(t)

	def, err := schema.ParseDefinition([]byte(postsYAML), schema.KindCollection)
	require.NoError(t, err)
	_, catalog, err := schema.NewEngine(db, schema.NewRegistry(nil, logger), false, logger).
		Apply(context.Background(), []schema.Definition{def})
	require.NoError(t, err)

	ent, ok := catalog.Entity(schema.KindCollection, "posts")
	require.True(t, ok)
	return db, ent
}

func TestColumns(t *testing.T) {
	_, ent := applyPosts(t)

	cols := Columns(ent)
	assert.Contains(t, cols, "title")
	assert.Contains(t, cols, "body")
	assert.NotContains(t, cols, "views")
	assert.NotContains(t, cols, "secret")
}

func TestClause_Empty(t *testing.T) {
	d, err := database.DialectByName("sqlite")
	require.NoError(t, err)

	assert.Empty(t, Clause(d, d.NewParams(), "t", []string{"a"}, "   "))
	assert.Empty(t, Clause(d, d.NewParams(), "t", nil, "x"))
}

func TestClause_Postgres(t *testing.T) {
	d, err := database.DialectByName("postgres")
	require.NoError(t, err)

	p := d.NewParams()
	got := Clause(d, p, "collection_posts", []string{"title", "body"}, "50%_off")

	assert.Equal(t, `("collection_posts"."title" ILIKE $1 ESCAPE '\' OR "collection_posts"."body" ILIKE $2 ESCAPE '\')`, got)
	assert.Equal(t, []any{`%50\%\_off%`, `%50\%\_off%`}, p.Args())
}

func TestClause_MatchesRows(t *testing.T) {
	db, ent := applyPosts(t)
	ctx := context.Background()

	for i, row := range []struct{ title, body string }{
		{"Hello World", "first post"},
		{"Second", "nothing to see, 100% boring"},
		{"Third", "100 boring things"},
	} {
		_, err := db.Exec(ctx, `INSERT INTO collection_posts (id, title, slug, status, body, created_at, updated_at)
			VALUES (?, ?, ?, 'published', ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`,
			fmt.Sprintf("p%d", i), row.title, fmt.Sprintf("post-%d", i), row.body)
		require.NoError(t, err)
	}

	tests := []struct {
		term string
		want []string
	}{
		{"hello", []string{"p0"}},
		{"BORING", []string{"p1", "p2"}},
		{"100%", []string{"p1"}},
		{"missing", nil},
	}
	for _, tt := range tests {
		t.Run(tt.term, func(t *testing.T) {
			p := db.Dialect().NewParams()
			clause := Clause(db.Dialect(), p, ent.Table.Name, Columns(ent), tt.term)
			rows, err := db.Query(ctx, "SELECT id FROM collection_posts WHERE "+clause+" ORDER BY id", p.Args()...)
			require.NoError(t, err)

			var ids []string
			for _, r := range rows {
				ids = append(ids, r["id"].(string))
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}
