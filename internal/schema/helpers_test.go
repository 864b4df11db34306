package schema

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// writeYAML is a test helper that writes a YAML file into the given directory.
func writeYAML(t *testing.T, dir, filename, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(filepath.Join(dir, filename)), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, filename), []byte(content), 0o644))
}

func parse(t *testing.T, kind Kind, src string) Definition {
	t.Helper()
	d, err := ParseDefinition([]byte(src), kind)
	require.NoError(t, err)
	return d
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const postsYAML = `
slug: posts
name: {singular: Post, plural: Posts}
fields:
  tags:
    type: array
    items:
      type: object
      properties:
        label: {type: text}
  cover: {type: file}
`

const pagesYAML = `
slug: pages
name: {singular: Page, plural: Pages}
options:
  nestable: true
  seo: true
  base_path: /docs
  blocks: true
  allowed_blocks: [hero]
fields:
  body: {type: wysiwyg}
  published_on: {type: date}
  featured: {type: boolean}
  gallery: {type: file, multiple: true}
  related:
    type: relation
    relation: {type: many-to-many, target_collection: posts}
  author_ref:
    type: relation
    relation: {type: many-to-one, target_global: people}
  sections:
    type: array
    items:
      type: object
      properties:
        heading: {type: text}
        image: {type: file}
        links:
          type: array
          items:
            type: object
            properties:
              url: {type: url}
              icon: {type: file}
  keywords: {type: tags}
`

const peopleYAML = `
slug: people
name: {singular: Person}
options: {data_shape: relational}
fields:
  bio: {type: textarea}
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
  ctas:
    type: array
    items:
      type: object
      properties:
        label: {type: text}
`

// sampleDefinitions returns one definition of every shape the generator
// handles.
func sampleDefinitions(t *testing.T) []Definition {
	t.Helper()
	return []Definition{
		parse(t, KindCollection, pagesYAML),
		parse(t, KindCollection, postsYAML),
		parse(t, KindGlobal, peopleYAML),
		parse(t, KindGlobal, settingsYAML),
		parse(t, KindBlock, heroYAML),
	}
}
