package content

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/GyroZepelix/mithril-engine/internal/audit"
	"github.com/GyroZepelix/mithril-engine/internal/database"
	"github.com/GyroZepelix/mithril-engine/internal/database/dbtest"
	"github.com/GyroZepelix/mithril-engine/internal/media"
	"github.com/GyroZepelix/mithril-engine/internal/schema"
	"github.com/GyroZepelix/mithril-engine/internal/tags"
)

const postsYAML = `
slug: posts
name: {singular: Post}
fields:
  tags:
    type: array
    items:
      type: object
      properties:
        label: {type: text}
  cover: {type: file}
`

const categoriesYAML = `
slug: categories
name: {singular: Category, plural: Categories}
fields:
  description: {type: textarea}
`

const articlesYAML = `
slug: articles
name: {singular: Article}
options:
  nestable: true
  base_path: /blog
  blocks: true
  allowed_blocks: [hero]
  public_read: true
fields:
  body: {type: textarea}
  views: {type: integer}
  featured: {type: boolean}
  published_on: {type: date}
  cover: {type: file}
  gallery: {type: file, multiple: true}
  categories:
    type: relation
    relation: {type: many-to-many, target_collection: categories}
  primary_category:
    type: relation
    relation: {type: many-to-one, target_collection: categories}
  sections:
    type: array
    items:
      type: object
      properties:
        heading: {type: text, required: true}
        image: {type: file}
        links:
          type: array
          items:
            type: object
            properties:
              url: {type: url}
  keywords: {type: tags}
`

const settingsYAML = `
slug: settings
name: {singular: Settings}
options: {data_shape: flat}
fields:
  site_name: {type: string, required: true}
  logo: {type: file}
`

const heroYAML = `
slug: hero
name: {singular: Hero}
fields:
  headline: {type: text, required: true}
  background: {type: file}
`

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func parse(t *testing.T, kind schema.Kind, src string) schema.Definition {
	t.Helper()
	d, err := schema.ParseDefinition([]byte(src), kind)
	require.NoError(t, err)
	return d
}

// newTestService applies the test definitions to a fresh SQLite database and
// returns a Service over it. Files and tags are wired unless opts sets them.
func newTestService(t *testing.T, opts Options) *Service {
	t.Helper()
	ctx := context.Background()
	db := dbtest.Open(t)

	registry := schema.NewRegistry(nil, quietLogger())
	defs := []schema.Definition{
		parse(t, schema.KindCollection, postsYAML),
		parse(t, schema.KindCollection, categoriesYAML),
		parse(t, schema.KindCollection, articlesYAML),
		parse(t, schema.KindGlobal, settingsYAML),
		parse(t, schema.KindBlock, heroYAML),
	}
	_, catalog, err := schema.NewEngine(db, registry, false, quietLogger()).Apply(ctx, defs)
	require.NoError(t, err)

	if opts.Files == nil {
		opts.Files = media.NewRepository(db)
	}
	if opts.Tags == nil {
		opts.Tags = tags.NewService(db, quietLogger())
	}
	opts.Logger = quietLogger()
	return NewService(db, catalog, registry, opts)
}

// addFile registers a file record with a fixed id.
func addFile(t *testing.T, s *Service, id string) {
	t.Helper()
	err := media.NewRepository(s.db).Create(context.Background(), &media.File{
		ID:           id,
		Filename:     id + ".png",
		OriginalName: id + ".png",
		MimeType:     "image/png",
		Size:         42,
		Alt:          "alt for " + id,
	})
	require.NoError(t, err)
}

// mustSave saves payload and fails the test on error.
func mustSave(t *testing.T, s *Service, kind schema.Kind, slug, id string, payload Item) string {
	t.Helper()
	res := s.SaveItem(context.Background(), kind, slug, id, payload)
	require.True(t, res.Success, "save failed: %v", res.Err)
	return res.ItemID
}

func mustGet(t *testing.T, s *Service, kind schema.Kind, slug, id string) Item {
	t.Helper()
	item := s.GetItem(context.Background(), kind, slug, ItemQuery{ID: id})
	require.NotNil(t, item, "item %s not found", id)
	return item
}

func countRows(t *testing.T, db *database.DB, table string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.QueryRow(context.Background(), `SELECT COUNT(*) FROM "`+table+`"`).Scan(&n))
	return n
}

func ids(items []Item) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = asString(item[schema.FieldID])
	}
	return out
}

func fileIDs(files []*media.File) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.ID
	}
	return out
}

// recordingAuditor collects audit events.
type recordingAuditor struct {
	mu     sync.Mutex
	events []audit.Event
}

func (a *recordingAuditor) Log(_ context.Context, event audit.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
}

func (a *recordingAuditor) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.events))
	for i, e := range a.events {
		out[i] = e.Action
	}
	return out
}
