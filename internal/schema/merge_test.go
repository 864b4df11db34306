package schema

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeCoreFields_CollectionOrder(t *testing.T) {
	d := parse(t, KindCollection, postsYAML)
	merged := MergeCoreFields(d, quietLogger())

	assert.Equal(t, []string{
		"id", "title", "slug", "status",
		"tags", "cover",
		"author", "last_modified_by", "sort",
		"created_at", "updated_at",
	}, merged.Fields.Names())

	status, ok := merged.Fields.Get(FieldStatus)
	require.True(t, ok)
	assert.True(t, status.Core)
	assert.Equal(t, []string{"draft", "published", "archived"}, status.Options)
	assert.Equal(t, StatusDraft, status.Default)

	title, _ := merged.Fields.Get(FieldTitle)
	assert.True(t, title.Required)
}

func TestMergeCoreFields_NestableAndSEO(t *testing.T) {
	d := parse(t, KindCollection, pagesYAML)
	names := MergeCoreFields(d, quietLogger()).Fields.Names()

	assert.Equal(t, []string{"id", "title", "slug", "status", "parent_id"}, names[:5])
	assert.Equal(t, []string{
		"author", "last_modified_by", "sort",
		"seo_title", "seo_description", "seo_image",
		"created_at", "updated_at",
	}, names[len(names)-8:])
}

func TestMergeCoreFields_Globals(t *testing.T) {
	flat := MergeCoreFields(parse(t, KindGlobal, settingsYAML), quietLogger())
	assert.Equal(t, []string{"id", "site_name", "logo", "last_modified_by", "created_at", "updated_at"}, flat.Fields.Names())

	repeatable := MergeCoreFields(parse(t, KindGlobal, peopleYAML), quietLogger())
	assert.Equal(t, []string{"id", "title", "bio", "author", "last_modified_by", "sort", "created_at", "updated_at"}, repeatable.Fields.Names())
}

func TestMergeCoreFields_Block(t *testing.T) {
	merged := MergeCoreFields(parse(t, KindBlock, heroYAML), quietLogger())
	assert.Equal(t, []string{"id", "headline", "background", "ctas", "created_at", "updated_at"}, merged.Fields.Names())
}

func TestMergeCoreFields_Override(t *testing.T) {
	d := parse(t, KindCollection, `
slug: articles
name: {singular: Article}
fields:
  title:
    type: number
    label: Headline
    max_length: 80
    override: true
  body: {type: text}
`)
	var logs bytes.Buffer
	merged := MergeCoreFields(d, slog.New(slog.NewTextHandler(&logs, nil)))

	title, ok := merged.Fields.Get(FieldTitle)
	require.True(t, ok)
	assert.True(t, title.Core, "core flag is kept")
	assert.Equal(t, FieldTypeText, title.Type, "column type is kept")
	assert.Equal(t, "Headline", title.Label)
	require.NotNil(t, title.MaxLength)
	assert.Equal(t, 80, *title.MaxLength)
	assert.False(t, title.Required, "override replaces validation")
	assert.Empty(t, logs.String())

	assert.Equal(t, 1, countName(merged.Fields, FieldTitle))
}

func TestMergeCoreFields_LegacyReplacementIsLogged(t *testing.T) {
	d := parse(t, KindCollection, `
slug: articles
name: {singular: Article}
fields:
  slug: {type: string, label: Permalink}
`)
	var logs bytes.Buffer
	merged := MergeCoreFields(d, slog.New(slog.NewTextHandler(&logs, nil)))

	slug, ok := merged.Fields.Get(FieldSlug)
	require.True(t, ok)
	assert.Equal(t, FieldTypeString, slug.Type, "legacy replacement takes the user's type")
	assert.True(t, slug.Core)
	assert.Contains(t, logs.String(), "deprecated=true")
	assert.Contains(t, logs.String(), "field=slug")
}

func TestMergeCoreFields_Idempotent(t *testing.T) {
	d := parse(t, KindCollection, pagesYAML)
	once := MergeCoreFields(d, quietLogger())
	twice := MergeCoreFields(once, quietLogger())
	assert.Equal(t, once.Fields, twice.Fields)
}

func countName(fs Fields, name string) int {
	n := 0
	for _, nf := range fs {
		if nf.Name == name {
			n++
		}
	}
	return n
}
