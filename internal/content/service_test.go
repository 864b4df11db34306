package content

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GyroZepelix/mithril-engine/internal/access"
	"github.com/GyroZepelix/mithril-engine/internal/media"
	"github.com/GyroZepelix/mithril-engine/internal/schema"
)

const (
	collection = schema.KindCollection
	global     = schema.KindGlobal
)

func TestSaveItem_ArrayItemsKeepIdentity(t *testing.T) {
	s := newTestService(t, Options{})
	addFile(t, s, "file-123")

	mustSave(t, s, collection, "posts", "p1", Item{
		"title": "Hello",
		"tags":  []any{Item{"label": "a"}, Item{"label": "b"}},
		"cover": "file-123",
	})

	item := mustGet(t, s, collection, "posts", "p1")
	assert.Equal(t, "p1", item["id"])
	assert.Equal(t, "Hello", item["title"])
	assert.Equal(t, schema.StatusDraft, item["status"])

	cover, ok := item["cover"].(*media.File)
	require.True(t, ok, "cover should be a file, got %T", item["cover"])
	assert.Equal(t, "file-123", cover.ID)
	assert.Equal(t, "/media/file-123.png", cover.URL)

	tagItems := item["tags"].([]Item)
	require.Len(t, tagItems, 2)
	assert.Equal(t, "a", tagItems[0]["label"])
	assert.Equal(t, 0, tagItems[0]["sort"])
	assert.Equal(t, "b", tagItems[1]["label"])
	assert.Equal(t, 1, tagItems[1]["sort"])
	idB := tagItems[1]["id"]

	mustSave(t, s, collection, "posts", "p1", Item{
		"tags": []any{Item{"id": idB, "label": "b"}},
	})

	tagItems = mustGet(t, s, collection, "posts", "p1")["tags"].([]Item)
	require.Len(t, tagItems, 1)
	assert.Equal(t, idB, tagItems[0]["id"])
	assert.Equal(t, "b", tagItems[0]["label"])
	assert.Equal(t, 0, tagItems[0]["sort"])
	assert.EqualValues(t, 1, countRows(t, s.db, schema.ArrayTableName("collection_posts", "tags")))
}

func TestSaveItem_RoundTrip(t *testing.T) {
	s := newTestService(t, Options{})
	for _, id := range []string{"f1", "f2", "f3"} {
		addFile(t, s, id)
	}
	news := mustSave(t, s, collection, "categories", "", Item{"title": "News", "status": "published"})

	id := mustSave(t, s, collection, "articles", "", Item{
		"title":            "Hello World",
		"status":           "published",
		"body":             "Some text",
		"views":            int64(3),
		"featured":         true,
		"published_on":     "2024-05-01",
		"cover":            Item{"id": "f1", "alt": "Cover alt"},
		"gallery":          []any{"f3", "f2"},
		"categories":       []any{news},
		"primary_category": news,
		"keywords":         []any{"go", "cms"},
		"sections": []any{
			Item{
				"heading": "Intro",
				"image":   "f2",
				"links":   []any{Item{"url": "https://example.com"}},
			},
		},
	})

	item := mustGet(t, s, collection, "articles", id)
	assert.Equal(t, "hello-world", item["slug"])
	assert.Equal(t, int64(3), item["views"])
	assert.Equal(t, true, item["featured"])
	assert.Equal(t, "2024-05-01", item["published_on"])
	assert.Equal(t, news, item["primary_category"])
	assert.Equal(t, []string{"go", "cms"}, item["keywords"])

	cover := item["cover"].(*media.File)
	assert.Equal(t, "f1", cover.ID)
	assert.Equal(t, "Cover alt", cover.Alt)

	assert.Equal(t, []string{"f3", "f2"}, fileIDs(item["gallery"].([]*media.File)))

	related := item["categories"].([]Item)
	require.Len(t, related, 1)
	assert.Equal(t, "News", related[0]["title"])

	sections := item["sections"].([]Item)
	require.Len(t, sections, 1)
	assert.Equal(t, "Intro", sections[0]["heading"])
	assert.Equal(t, "f2", sections[0]["image"].(*media.File).ID)
	assert.NotContains(t, sections[0], "collection_id")

	links := sections[0]["links"].([]Item)
	require.Len(t, links, 1)
	assert.Equal(t, "https://example.com", links[0]["url"])
	assert.NotContains(t, links[0], "parent_id")
}

func TestSaveItem_PreservesOrder(t *testing.T) {
	s := newTestService(t, Options{})
	for _, id := range []string{"f1", "f2", "f3"} {
		addFile(t, s, id)
	}
	c1 := mustSave(t, s, collection, "categories", "", Item{"title": "One"})
	c2 := mustSave(t, s, collection, "categories", "", Item{"title": "Two"})
	c3 := mustSave(t, s, collection, "categories", "", Item{"title": "Three"})

	id := mustSave(t, s, collection, "articles", "", Item{
		"title":      "Ordered",
		"gallery":    []any{"f2", "f3", "f1"},
		"categories": []any{c3, c1, c2, c1},
	})

	item := mustGet(t, s, collection, "articles", id)
	assert.Equal(t, []string{"f2", "f3", "f1"}, fileIDs(item["gallery"].([]*media.File)))
	assert.Equal(t, []string{c3, c1, c2}, ids(item["categories"].([]Item)))

	mustSave(t, s, collection, "articles", id, Item{"gallery": []any{"f1", "f2"}})
	item = mustGet(t, s, collection, "articles", id)
	assert.Equal(t, []string{"f1", "f2"}, fileIDs(item["gallery"].([]*media.File)))
}

func TestSaveItem_ClearingFileFields(t *testing.T) {
	s := newTestService(t, Options{})
	addFile(t, s, "f1")

	id := mustSave(t, s, collection, "articles", "", Item{
		"title":   "Files",
		"cover":   "f1",
		"gallery": []any{"f1"},
	})
	mustSave(t, s, collection, "articles", id, Item{"cover": nil, "gallery": []any{}})

	item := mustGet(t, s, collection, "articles", id)
	assert.Nil(t, item["cover"])
	assert.Equal(t, []*media.File{}, item["gallery"])
	assert.EqualValues(t, 0, countRows(t, s.db, schema.FileRelationTableName("collection_articles", "cover")))
}

func TestGetItem_DanglingFileReference(t *testing.T) {
	s := newTestService(t, Options{})
	addFile(t, s, "f1")

	id := mustSave(t, s, collection, "articles", "", Item{
		"title":   "Dangling",
		"cover":   "missing",
		"gallery": []any{"missing", "f1"},
	})

	item := mustGet(t, s, collection, "articles", id)
	assert.Nil(t, item["cover"])
	assert.Equal(t, []string{"f1"}, fileIDs(item["gallery"].([]*media.File)))
	assert.Equal(t, "Dangling", item["title"])
}

func TestSaveItem_NestedArrayDiff(t *testing.T) {
	s := newTestService(t, Options{})

	id := mustSave(t, s, collection, "articles", "", Item{
		"title": "Nested",
		"sections": []any{
			Item{"heading": "A", "links": []any{Item{"url": "https://a.one"}, Item{"url": "https://a.two"}}},
			Item{"heading": "B", "links": []any{Item{"url": "https://b.one"}}},
			Item{"heading": "C"},
		},
	})

	sections := mustGet(t, s, collection, "articles", id)["sections"].([]Item)
	require.Len(t, sections, 3)
	idA, idC := sections[0]["id"], sections[2]["id"]
	linkTwo := sections[0]["links"].([]Item)[1]["id"]

	mustSave(t, s, collection, "articles", id, Item{
		"sections": []any{
			Item{"id": idC, "heading": "C2"},
			Item{"id": idA, "heading": "A", "links": []any{Item{"id": linkTwo, "url": "https://a.two"}}},
		},
	})

	sections = mustGet(t, s, collection, "articles", id)["sections"].([]Item)
	require.Len(t, sections, 2)
	assert.Equal(t, idC, sections[0]["id"])
	assert.Equal(t, "C2", sections[0]["heading"])
	assert.Equal(t, 0, sections[0]["sort"])
	assert.Equal(t, idA, sections[1]["id"])
	assert.Equal(t, 1, sections[1]["sort"])

	links := sections[1]["links"].([]Item)
	require.Len(t, links, 1)
	assert.Equal(t, linkTwo, links[0]["id"])
	assert.Equal(t, 0, links[0]["sort"])

	// B and its link went with it.
	linksTable := schema.ArrayTableName(schema.ArrayTableName("collection_articles", "sections"), "links")
	assert.EqualValues(t, 1, countRows(t, s.db, linksTable))
}

func TestSaveItem_UnknownItemIDsAreInserted(t *testing.T) {
	s := newTestService(t, Options{})

	id := mustSave(t, s, collection, "articles", "", Item{
		"title":    "Ids",
		"sections": []any{Item{"id": "not-stored", "heading": "X"}, Item{"id": "not-stored", "heading": "Y"}},
	})

	sections := mustGet(t, s, collection, "articles", id)["sections"].([]Item)
	require.Len(t, sections, 2)
	assert.NotEqual(t, "not-stored", sections[0]["id"])
	assert.NotEqual(t, sections[0]["id"], sections[1]["id"])
}

func TestSaveItem_IsAtomic(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, Options{})

	id := mustSave(t, s, collection, "articles", "", Item{
		"title":    "Before",
		"sections": []any{Item{"heading": "Kept"}},
	})

	linksTable := schema.ArrayTableName(schema.ArrayTableName("collection_articles", "sections"), "links")
	_, err := s.db.Exec(ctx, `DROP TABLE "`+linksTable+`"`)
	require.NoError(t, err)

	res := s.SaveItem(ctx, collection, "articles", id, Item{
		"title":    "After",
		"sections": []any{Item{"heading": "New", "links": []any{Item{"url": "https://x.example"}}}},
	})
	require.False(t, res.Success)
	require.Error(t, res.Err)

	item := mustGet(t, s, collection, "articles", id)
	assert.Equal(t, "Before", item["title"])
	assert.EqualValues(t, 1, countRows(t, s.db, schema.ArrayTableName("collection_articles", "sections")))
}

func TestSaveItem_Validation(t *testing.T) {
	s := newTestService(t, Options{})

	tests := []struct {
		name    string
		payload Item
		fields  []string
	}{
		{"missing title", Item{"body": "x"}, []string{"title"}},
		{"unknown field", Item{"title": "x", "evil": "drop"}, []string{"evil"}},
		{"bad nested item", Item{"title": "x", "sections": []any{Item{"links": []any{}}}}, []string{"sections[0].heading"}},
		{"bad url", Item{"title": "x", "sections": []any{Item{"heading": "h", "links": []any{Item{"url": "nope"}}}}}, []string{"sections[0].links[0].url"}},
		{"block not allowed", Item{"title": "x", "blocks": []any{Item{"type": "banner"}}}, []string{"blocks[0].type"}},
		{"many-to-many needs list", Item{"title": "x", "categories": "c1"}, []string{"categories"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := s.SaveItem(context.Background(), collection, "articles", "", tt.payload)
			require.False(t, res.Success)

			var valErr *ValidationError
			require.True(t, errors.As(res.Err, &valErr), "got %v", res.Err)
			var got []string
			for _, fe := range valErr.Fields {
				got = append(got, fe.Field)
			}
			assert.Equal(t, tt.fields, got)
		})
	}
}

func TestSaveItem_UnknownEntity(t *testing.T) {
	s := newTestService(t, Options{})
	res := s.SaveItem(context.Background(), collection, "nope", "", Item{"title": "x"})
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrUnknownEntity)
}

func TestSaveItem_PermissionDenied(t *testing.T) {
	auditor := &recordingAuditor{}
	s := newTestService(t, Options{Authorizer: access.AuthenticatedWrites{}, Auditor: auditor})

	res := s.SaveItem(context.Background(), collection, "articles", "", Item{"title": "Anon"})
	require.False(t, res.Success)
	var permErr *PermissionError
	require.True(t, errors.As(res.Err, &permErr))
	assert.Equal(t, access.ActionCreate, permErr.Action)
	assert.EqualValues(t, 0, countRows(t, s.db, "collection_articles"))

	ctx := access.WithUser(context.Background(), &access.User{ID: "admin-1", Role: "admin"})
	res = s.SaveItem(ctx, collection, "articles", "", Item{"title": "Signed"})
	require.True(t, res.Success, "%v", res.Err)

	item := mustGet(t, s, collection, "articles", res.ItemID)
	assert.Equal(t, "admin-1", item["author"])
	assert.Equal(t, "admin-1", item["last_modified_by"])
	assert.Equal(t, []string{"content.save"}, auditor.actions())

	del := s.DeleteItem(context.Background(), collection, "articles", res.ItemID)
	require.False(t, del.Success)
	assert.True(t, errors.As(del.Err, &permErr))
	assert.Equal(t, access.ActionDelete, permErr.Action)
}

func TestSaveItem_ParentIntegrity(t *testing.T) {
	s := newTestService(t, Options{})

	root := mustSave(t, s, collection, "articles", "", Item{"title": "Root"})
	child := mustSave(t, s, collection, "articles", "", Item{"title": "Child", "parent_id": root})
	grandchild := mustSave(t, s, collection, "articles", "", Item{"title": "Grandchild", "parent_id": child})

	tests := []struct {
		name   string
		id     string
		parent string
	}{
		{"missing parent", child, "does-not-exist"},
		{"self parent", child, child},
		{"cycle", root, grandchild},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := s.SaveItem(context.Background(), collection, "articles", tt.id, Item{"parent_id": tt.parent})
			require.False(t, res.Success)
			var integrityErr *IntegrityError
			require.True(t, errors.As(res.Err, &integrityErr), "got %v", res.Err)
			assert.Equal(t, "parent_id", integrityErr.Field)
		})
	}

	// Clearing the parent is always allowed.
	mustSave(t, s, collection, "articles", grandchild, Item{"parent_id": ""})
	assert.Nil(t, mustGet(t, s, collection, "articles", grandchild)["parent_id"])
}

func TestSaveItem_Blocks(t *testing.T) {
	s := newTestService(t, Options{})

	id := mustSave(t, s, collection, "articles", "", Item{
		"title":  "With blocks",
		"blocks": []any{Item{"type": "hero", "headline": "First"}, Item{"type": "hero", "headline": "Second"}},
	})

	blocks := mustGet(t, s, collection, "articles", id)["blocks"].([]Item)
	require.Len(t, blocks, 2)
	assert.Equal(t, "hero", blocks[0]["type"])
	assert.Equal(t, "First", blocks[0]["headline"])
	assert.Equal(t, 1, blocks[1]["sort"])
	first, second := blocks[0]["id"], blocks[1]["id"]

	mustSave(t, s, collection, "articles", id, Item{
		"blocks": []any{Item{"id": second, "type": "hero", "headline": "Second, edited"}},
	})

	blocks = mustGet(t, s, collection, "articles", id)["blocks"].([]Item)
	require.Len(t, blocks, 1)
	assert.Equal(t, second, blocks[0]["id"])
	assert.Equal(t, "Second, edited", blocks[0]["headline"])
	assert.Equal(t, 0, blocks[0]["sort"])

	_, err := s.fetchRow(context.Background(), s.db, "block_hero", asString(first))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveItem_FlatGlobal(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, Options{})

	first := mustSave(t, s, global, "settings", "", Item{"site_name": "Mithril"})
	second := mustSave(t, s, global, "settings", "", Item{"site_name": "Mithril Engine"})
	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, countRows(t, s.db, "global_settings"))

	item := s.GetItem(ctx, global, "settings", ItemQuery{})
	require.NotNil(t, item)
	assert.Equal(t, "Mithril Engine", item["site_name"])
}

func TestDeleteItem(t *testing.T) {
	ctx := context.Background()
	auditor := &recordingAuditor{}
	s := newTestService(t, Options{Auditor: auditor})
	addFile(t, s, "f1")

	parent := mustSave(t, s, collection, "articles", "", Item{"title": "Parent"})
	id := mustSave(t, s, collection, "articles", "", Item{
		"title":     "Doomed",
		"parent_id": parent,
		"cover":     "f1",
		"keywords":  []any{"go"},
		"sections":  []any{Item{"heading": "S", "links": []any{Item{"url": "https://x.example"}}}},
		"blocks":    []any{Item{"type": "hero", "headline": "H"}},
	})
	child := mustSave(t, s, collection, "articles", "", Item{"title": "Orphan", "parent_id": id})

	res := s.DeleteItem(ctx, collection, "articles", id)
	require.True(t, res.Success, "%v", res.Err)

	assert.Nil(t, s.GetItem(ctx, collection, "articles", ItemQuery{ID: id}))
	assert.Equal(t, parent, mustGet(t, s, collection, "articles", child)["parent_id"])

	for _, table := range []string{
		schema.ArrayTableName("collection_articles", "sections"),
		schema.FileRelationTableName("collection_articles", "cover"),
		schema.BlockPlacementTableName("collection_articles"),
		"block_hero",
	} {
		assert.EqualValues(t, 0, countRows(t, s.db, table), table)
	}
	assert.Empty(t, s.TagCloud(ctx, collection, "articles"))

	missing := s.DeleteItem(ctx, collection, "articles", id)
	assert.False(t, missing.Success)
	assert.ErrorIs(t, missing.Err, ErrNotFound)

	assert.Contains(t, auditor.actions(), "content.delete")
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "hello-world", slugify("Hello World"))
}
