package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefinitions_KindDirectories(t *testing.T) {
	dir := t.TempDir()
	writeYAML(t, dir, "collections/posts.yaml", postsYAML)
	writeYAML(t, dir, "collections/pages.yml", pagesYAML)
	writeYAML(t, dir, "globals/people.yaml", peopleYAML)
	writeYAML(t, dir, "globals/settings.yaml", settingsYAML)
	writeYAML(t, dir, "blocks/hero.yaml", heroYAML)
	writeYAML(t, dir, "collections/README.md", "not yaml")

	defs, err := LoadDefinitions(dir)
	require.NoError(t, err)
	require.Len(t, defs, 5)

	var got []string
	for _, d := range defs {
		got = append(got, string(d.Kind)+"/"+d.Slug)
		assert.Len(t, d.SourceHash, 64)
	}
	assert.Equal(t, []string{
		"collection/pages", "collection/posts",
		"global/people", "global/settings",
		"block/hero",
	}, got)
}

func TestLoadDefinitions_TopLevelFileNeedsKind(t *testing.T) {
	dir := t.TempDir()
	writeYAML(t, dir, "posts.yaml", "kind: collection\n"+postsYAML)

	defs, err := LoadDefinitions(dir)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, KindCollection, defs[0].Kind)

	writeYAML(t, dir, "untyped.yaml", "slug: untyped\nname: {singular: U}\nfields:\n  a: {type: text}\n")
	_, err = LoadDefinitions(dir)
	var defErr *DefinitionError
	require.ErrorAs(t, err, &defErr)
	assert.Contains(t, err.Error(), "kind must be collection, global or block")
}

func TestLoadDefinitions_EmptyAndMissingDirectory(t *testing.T) {
	defs, err := LoadDefinitions(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, defs)

	_, err = LoadDefinitions("/nonexistent/definitions")
	assert.Error(t, err)
}

func TestParseDefinition_PreservesFieldOrder(t *testing.T) {
	d := parse(t, KindCollection, `
slug: ordered
name: {singular: Ordered}
fields:
  zeta: {type: text}
  alpha: {type: integer}
  mid: {type: boolean}
`)
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, d.Fields.Names())
}

func TestParseDefinition_Rejects(t *testing.T) {
	tests := []struct {
		name string
		src  string
		kind Kind
		want string
	}{
		{
			name: "unknown top-level key",
			src:  "slug: a\nname: {singular: A}\nfeilds:\n  x: {type: text}\n",
			kind: KindCollection,
			want: "feilds",
		},
		{
			name: "misspelled field property",
			src:  "slug: a\nname: {singular: A}\nfields:\n  x: {type: text, requird: true}\n",
			kind: KindCollection,
			want: "requird",
		},
		{
			name: "duplicate field",
			src:  "slug: a\nname: {singular: A}\nfields:\n  x: {type: text}\n  x: {type: text}\n",
			kind: KindCollection,
			want: "more than once",
		},
		{
			name: "kind mismatch",
			src:  "kind: global\nslug: a\nname: {singular: A}\nfields:\n  x: {type: text}\n",
			kind: KindCollection,
			want: "does not match",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDefinition([]byte(tt.src), tt.kind)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseDefinition_HashChangesWithContent(t *testing.T) {
	a := parse(t, KindCollection, postsYAML)
	b := parse(t, KindCollection, postsYAML+"\n")
	assert.NotEqual(t, a.SourceHash, b.SourceHash)
}

func TestValidateDefinitions(t *testing.T) {
	tests := []struct {
		name string
		src  string
		kind Kind
		want string
	}{
		{"missing slug", "name: {singular: A}\nfields:\n  x: {type: text}\n", KindCollection, "slug is required"},
		{"unsafe slug", "slug: Bad-Slug\nname: {singular: A}\nfields:\n  x: {type: text}\n", KindCollection, "slug must match"},
		{"reserved slug", "slug: select\nname: {singular: A}\nfields:\n  x: {type: text}\n", KindCollection, "reserved SQL keyword"},
		{"missing name", "slug: a\nfields:\n  x: {type: text}\n", KindCollection, "name.singular is required"},
		{"no fields", "slug: a\nname: {singular: A}\nfields: {}\n", KindCollection, "at least one field"},
		{"bad field name", "slug: a\nname: {singular: A}\nfields:\n  Bad: {type: text}\n", KindCollection, "name must match"},
		{"bad type", "slug: a\nname: {singular: A}\nfields:\n  x: {type: blob}\n", KindCollection, "invalid field type"},
		{"select without options", "slug: a\nname: {singular: A}\nfields:\n  x: {type: select}\n", KindCollection, "non-empty options"},
		{"min_length on number", "slug: a\nname: {singular: A}\nfields:\n  x: {type: number, min_length: 2}\n", KindCollection, "min_length is only valid"},
		{"bad regex", "slug: a\nname: {singular: A}\nfields:\n  x: {type: text, regex: '('}\n", KindCollection, "invalid regex"},
		{"relation without block", "slug: a\nname: {singular: A}\nfields:\n  x: {type: relation}\n", KindCollection, "must have a relation block"},
		{"relation two targets", "slug: a\nname: {singular: A}\nfields:\n  x: {type: relation, relation: {type: many-to-many, target_collection: b, target_global: c}}\n", KindCollection, "only one of"},
		{"array without items", "slug: a\nname: {singular: A}\nfields:\n  x: {type: array}\n", KindCollection, "must have items"},
		{"reserved item column", "slug: a\nname: {singular: A}\nfields:\n  x: {type: array, items: {type: object, properties: {sort: {type: integer}}}}\n", KindCollection, "reserved item column"},
		{"tags in item", "slug: a\nname: {singular: A}\nfields:\n  x: {type: array, items: {type: object, properties: {t: {type: tags}}}}\n", KindCollection, "tags fields are not supported"},
		{"multiple on text", "slug: a\nname: {singular: A}\nfields:\n  x: {type: text, multiple: true}\n", KindCollection, "multiple is only valid"},
		{"data_shape on collection", "slug: a\nname: {singular: A}\noptions: {data_shape: flat}\nfields:\n  x: {type: text}\n", KindCollection, "only valid on globals"},
		{"nestable global", "slug: a\nname: {singular: A}\noptions: {nestable: true}\nfields:\n  x: {type: text}\n", KindGlobal, "nestable is only valid"},
		{"blocks on block", "slug: a\nname: {singular: A}\noptions: {blocks: true}\nfields:\n  x: {type: text}\n", KindBlock, "not valid on blocks"},
		{"blocks field reserved", "slug: a\nname: {singular: A}\noptions: {blocks: true}\nfields:\n  blocks: {type: text}\n", KindCollection, "reserved when blocks are enabled"},
		{"base path", "slug: a\nname: {singular: A}\noptions: {base_path: docs}\nfields:\n  x: {type: text}\n", KindCollection, "must start with"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ParseDefinition([]byte(tt.src), tt.kind)
			require.NoError(t, err)

			err = ValidateDefinitions([]Definition{d})
			requireDefinitionError(t, err, tt.want)
		})
	}
}

func TestValidateDefinitions_ValidSamples(t *testing.T) {
	assert.NoError(t, ValidateDefinitions(sampleDefinitions(t)))
}

func TestValidateDefinitions_DuplicateSlugPerKind(t *testing.T) {
	posts := parse(t, KindCollection, postsYAML)
	requireDefinitionError(t, ValidateDefinitions([]Definition{posts, posts}), `collection slug "posts" is defined 2 times`)

	asGlobal := posts
	asGlobal.Kind = KindGlobal
	assert.NoError(t, ValidateDefinitions([]Definition{posts, asGlobal}), "slugs are unique per kind")
}

func TestValidateDefinitions_AllProblemsReported(t *testing.T) {
	d := parse(t, KindCollection, "slug: a\nname: {singular: A}\nfields:\n  Bad: {type: text}\n  y: {type: blob}\n")
	err := ValidateDefinitions([]Definition{d})

	var defErr *DefinitionError
	require.True(t, errors.As(err, &defErr))
	assert.Len(t, defErr.Problems, 2)
}

func requireDefinitionError(t *testing.T, err error, wantSubstring string) {
	t.Helper()
	var defErr *DefinitionError
	require.ErrorAs(t, err, &defErr)
	assert.Contains(t, err.Error(), wantSubstring)
}
