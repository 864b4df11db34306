package content

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GyroZepelix/mithril-engine/internal/schema"
)

func testEntities(t *testing.T) (articles, posts *schema.Entity) {
	t.Helper()
	catalog, err := schema.BuildCatalog([]schema.Definition{
		parse(t, schema.KindCollection, postsYAML),
		parse(t, schema.KindCollection, categoriesYAML),
		parse(t, schema.KindCollection, articlesYAML),
		parse(t, schema.KindBlock, heroYAML),
	}, quietLogger())
	require.NoError(t, err)

	articles, ok := catalog.Entity(schema.KindCollection, "articles")
	require.True(t, ok)
	posts, ok = catalog.Entity(schema.KindCollection, "posts")
	require.True(t, ok)
	return articles, posts
}

func TestParseListOptions_Defaults(t *testing.T) {
	articles, _ := testEntities(t)

	opts, err := ParseListOptions(httptest.NewRequest("GET", "/api/collection/articles", nil), articles)
	require.NoError(t, err)
	assert.Equal(t, 1, opts.CurrentPage)
	assert.Equal(t, defaultPerPage, opts.Limit)
	assert.Empty(t, opts.OrderBy)
	assert.Empty(t, opts.Status)
	assert.Nil(t, opts.ParentID)
	assert.Nil(t, opts.WhereRelated)
}

func TestParseListOptions_Valid(t *testing.T) {
	articles, _ := testEntities(t)

	opts, err := ParseListOptions(httptest.NewRequest("GET",
		"/x?page=3&per_page=500&sort=title&order=DESC&status=all&parent=root&sibling_of=intro&exclude_current=true&group_by=keywords&filter[categories]=news",
		nil), articles)
	require.NoError(t, err)

	assert.Equal(t, 3, opts.CurrentPage)
	assert.Equal(t, maxPerPage, opts.Limit)
	assert.Equal(t, "title", opts.OrderBy)
	assert.Equal(t, "desc", opts.Order)
	assert.Equal(t, StatusAll, opts.Status)
	require.NotNil(t, opts.ParentID)
	assert.Equal(t, "", *opts.ParentID)
	assert.Equal(t, "intro", opts.SiblingOf)
	assert.True(t, opts.ExcludeCurrent)
	assert.Equal(t, "keywords", opts.GroupBy)
	assert.Equal(t, &RelatedFilter{Field: "categories", Value: "news"}, opts.WhereRelated)

	opts, err = ParseListOptions(httptest.NewRequest("GET", "/x?q=+hello+", nil), articles)
	require.NoError(t, err)
	assert.Equal(t, "hello", opts.Search)
}

func TestParseListOptions_ParentByID(t *testing.T) {
	articles, _ := testEntities(t)

	opts, err := ParseListOptions(httptest.NewRequest("GET", "/x?parent=abc", nil), articles)
	require.NoError(t, err)
	require.NotNil(t, opts.ParentID)
	assert.Equal(t, "abc", *opts.ParentID)
}

func TestParseListOptions_Invalid(t *testing.T) {
	articles, posts := testEntities(t)

	tests := []struct {
		name    string
		ent     *schema.Entity
		query   string
		wantErr string
	}{
		{"zero page", articles, "page=0", "page must be a positive integer"},
		{"non numeric page", articles, "page=abc", "page must be a positive integer"},
		{"negative per_page", articles, "per_page=-5", "per_page must be a positive integer"},
		{"unknown sort", articles, "sort=nope", "invalid sort field: nope"},
		{"bad order", articles, "order=sideways", "order must be 'asc' or 'desc'"},
		{"bad status", articles, "status=secret", "invalid status: secret"},
		{"parent on flat list", posts, "parent=root", "parent filter requires a nestable entity"},
		{"sibling_of on flat list", posts, "sibling_of=x", "sibling_of requires a nestable entity"},
		{"bad exclude_current", articles, "exclude_current=maybe", "exclude_current must be a boolean"},
		{"unknown group_by", articles, "group_by=nope", "invalid group_by field: nope"},
		{"unknown filter field", articles, "filter[nope]=x", "invalid filter field: nope"},
		{"two filters", articles, "filter[categories]=a&filter[keywords]=b", "only one filter is supported"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseListOptions(httptest.NewRequest("GET", "/x?"+tt.query, nil), tt.ent)
			require.Error(t, err)
			assert.Equal(t, tt.wantErr, err.Error())
		})
	}
}
