package schema

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/GyroZepelix/mithril-engine/internal/cache"
	"github.com/GyroZepelix/mithril-engine/internal/database"
)

// ErrTypeNotFound is returned by Registry.Get when no registry row exists for
// the requested kind and slug.
var ErrTypeNotFound = errors.New("type not found in registry")

// Entry is one row of a type registry table.
type Entry struct {
	ID         string     `json:"id"`
	Definition Definition `json:"definition"`
	Hash       string     `json:"schema_hash"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// SyncResult lists the slugs touched by a registry sync, each prefixed with
// its kind ("collection/posts").
type SyncResult struct {
	Inserted []string `json:"inserted"`
	Updated  []string `json:"updated"`
	Removed  []string `json:"removed"`
}

// Registry reads and writes the per-kind type registry tables. Each row holds
// a merged definition serialized as JSON; this is what the content engine
// consults at runtime instead of the definition files.
type Registry struct {
	cache  cache.Cache
	logger *slog.Logger
}

// NewRegistry creates a Registry. c may be nil to disable caching.
func NewRegistry(c cache.Cache, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{cache: c, logger: logger}
}

func registryCacheKey(kind Kind, slug string) string {
	return "registry:" + string(kind) + ":" + slug
}

// Get returns the merged definition registered for kind and slug.
func (r *Registry) Get(ctx context.Context, q database.Querier, kind Kind, slug string) (*Definition, error) {
	key := registryCacheKey(kind, slug)
	if r.cache != nil {
		d, ok, err := cache.GetJSON[Definition](ctx, r.cache, key)
		if err != nil {
			r.logger.Warn("registry cache read failed", "key", key, "error", err)
		} else if ok {
			return &d, nil
		}
	}

	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrTypeNotFound, kind)
	}

	d := q.Dialect()
	p := d.NewParams()
	rows, err := q.Query(ctx,
		fmt.Sprintf(`SELECT id, slug, name, description, schema, options, schema_hash, created_at, updated_at
		 FROM %s WHERE slug = %s`, d.QuoteIdent(RegistryTableName(kind)), p.Add(slug)),
		p.Args()...,
	)
	if err != nil {
		return nil, fmt.Errorf("querying %s registry: %w", kind, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s %q", ErrTypeNotFound, kind, slug)
	}

	entry, err := decodeEntry(kind, rows[0])
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		if err := cache.SetJSON(ctx, r.cache, key, entry.Definition); err != nil {
			r.logger.Warn("registry cache write failed", "key", key, "error", err)
		}
	}
	return &entry.Definition, nil
}

// All returns every registry entry, ordered by kind and slug.
func (r *Registry) All(ctx context.Context, q database.Querier) ([]Entry, error) {
	var entries []Entry
	for _, kind := range Kinds {
		rows, err := q.Query(ctx,
			fmt.Sprintf(`SELECT id, slug, name, description, schema, options, schema_hash, created_at, updated_at
			 FROM %s ORDER BY slug`, q.Dialect().QuoteIdent(RegistryTableName(kind))),
		)
		if err != nil {
			return nil, fmt.Errorf("querying %s registry: %w", kind, err)
		}
		for _, row := range rows {
			entry, err := decodeEntry(kind, row)
			if err != nil {
				return nil, err
			}
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// Definitions returns the merged definitions of every registry entry.
func (r *Registry) Definitions(ctx context.Context, q database.Querier) ([]Definition, error) {
	entries, err := r.All(ctx, q)
	if err != nil {
		return nil, err
	}
	defs := make([]Definition, len(entries))
	for i, e := range entries {
		defs[i] = e.Definition
	}
	return defs, nil
}

// Sync brings the registry in line with merged: new definitions are
// inserted, changed ones (by hash) updated and registry rows without a
// definition removed. It runs on q, which callers pass as a transaction so the
// registry is never partially written. Cached entries are not touched; call
// Invalidate after the transaction commits.
func (r *Registry) Sync(ctx context.Context, q database.Querier, merged []Definition) (*SyncResult, error) {
	existing, err := r.All(ctx, q)
	if err != nil {
		return nil, err
	}

	type key struct {
		kind Kind
		slug string
	}
	byKey := make(map[key]Entry, len(existing))
	for _, e := range existing {
		byKey[key{e.Definition.Kind, e.Definition.Slug}] = e
	}

	d := q.Dialect()
	res := &SyncResult{}
	seen := make(map[key]bool, len(merged))

	for _, def := range merged {
		k := key{def.Kind, def.Slug}
		seen[k] = true

		hash, err := DefinitionHash(def)
		if err != nil {
			return nil, err
		}
		name, schemaJSON, optionsJSON, err := encodeDefinition(def)
		if err != nil {
			return nil, err
		}
		table := d.QuoteIdent(RegistryTableName(def.Kind))
		label := string(def.Kind) + "/" + def.Slug

		prev, found := byKey[k]
		switch {
		case !found:
			p := d.NewParams()
			_, err = q.Exec(ctx,
				fmt.Sprintf(`INSERT INTO %s (id, slug, name, description, schema, options, schema_hash)
				 VALUES (%s, %s, %s, %s, %s, %s, %s)`, table,
					p.Add(uuid.NewString()), p.Add(def.Slug), p.Add(name), p.Add(def.Description),
					p.Add(schemaJSON), p.Add(optionsJSON), p.Add(hash)),
				p.Args()...,
			)
			if err != nil {
				return nil, fmt.Errorf("registering %s: %w", label, err)
			}
			res.Inserted = append(res.Inserted, label)
		case prev.Hash != hash:
			p := d.NewParams()
			_, err = q.Exec(ctx,
				fmt.Sprintf(`UPDATE %s SET name = %s, description = %s, schema = %s, options = %s,
				 schema_hash = %s, updated_at = CURRENT_TIMESTAMP WHERE id = %s`, table,
					p.Add(name), p.Add(def.Description), p.Add(schemaJSON), p.Add(optionsJSON),
					p.Add(hash), p.Add(prev.ID)),
				p.Args()...,
			)
			if err != nil {
				return nil, fmt.Errorf("updating registry entry %s: %w", label, err)
			}
			res.Updated = append(res.Updated, label)
		default:
			r.logger.Debug("registry entry unchanged", "kind", def.Kind, "slug", def.Slug)
		}
	}

	for _, e := range existing {
		k := key{e.Definition.Kind, e.Definition.Slug}
		if seen[k] {
			continue
		}
		p := d.NewParams()
		_, err := q.Exec(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE id = %s`, d.QuoteIdent(RegistryTableName(k.kind)), p.Add(e.ID)),
			p.Args()...,
		)
		if err != nil {
			return nil, fmt.Errorf("removing registry entry %s/%s: %w", k.kind, k.slug, err)
		}
		res.Removed = append(res.Removed, string(k.kind)+"/"+k.slug)
	}

	return res, nil
}

// Invalidate drops the cached definitions of every entity in defs.
func (r *Registry) Invalidate(ctx context.Context, defs []Definition) {
	if r.cache == nil {
		return
	}
	for _, d := range defs {
		key := registryCacheKey(d.Kind, d.Slug)
		if err := r.cache.Delete(ctx, key); err != nil {
			r.logger.Warn("registry cache invalidation failed", "key", key, "error", err)
		}
	}
}

// DefinitionHash returns the SHA256 hex digest of a merged definition's
// canonical JSON encoding.
func DefinitionHash(d Definition) (string, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("encoding %s %q: %w", d.Kind, d.Slug, err)
	}
	return fmt.Sprintf("%x", sha256.Sum256(data)), nil
}

func encodeDefinition(d Definition) (name, fields, options string, err error) {
	nameJSON, err := json.Marshal(d.Name)
	if err != nil {
		return "", "", "", fmt.Errorf("encoding name of %s %q: %w", d.Kind, d.Slug, err)
	}
	fieldsJSON, err := json.Marshal(d.Fields)
	if err != nil {
		return "", "", "", fmt.Errorf("encoding schema of %s %q: %w", d.Kind, d.Slug, err)
	}
	optionsJSON, err := json.Marshal(d.Options)
	if err != nil {
		return "", "", "", fmt.Errorf("encoding options of %s %q: %w", d.Kind, d.Slug, err)
	}
	return string(nameJSON), string(fieldsJSON), string(optionsJSON), nil
}

func decodeEntry(kind Kind, row map[string]any) (Entry, error) {
	e := Entry{
		ID:        asString(row["id"]),
		Hash:      asString(row["schema_hash"]),
		CreatedAt: asTime(row["created_at"]),
		UpdatedAt: asTime(row["updated_at"]),
	}
	def := Definition{
		Kind:        kind,
		Slug:        asString(row["slug"]),
		Description: asString(row["description"]),
	}
	if err := json.Unmarshal([]byte(asString(row["name"])), &def.Name); err != nil {
		return Entry{}, fmt.Errorf("decoding name of %s %q: %w", kind, def.Slug, err)
	}
	if err := json.Unmarshal([]byte(asString(row["schema"])), &def.Fields); err != nil {
		return Entry{}, fmt.Errorf("decoding schema of %s %q: %w", kind, def.Slug, err)
	}
	if opts := asString(row["options"]); opts != "" {
		if err := json.Unmarshal([]byte(opts), &def.Options); err != nil {
			return Entry{}, fmt.Errorf("decoding options of %s %q: %w", kind, def.Slug, err)
		}
	}
	e.Definition = def
	return e, nil
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}

func asTime(v any) time.Time {
	if t, ok := v.(time.Time); ok {
		return t
	}
	return time.Time{}
}
