// Package tags persists free-form keywords attached to content rows. Tags
// are written in their own transaction after the content save commits, so a
// failure here leaves the content intact and the tags stale.
package tags

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"

	"github.com/GyroZepelix/mithril-engine/internal/database"
)

// Ref identifies the tags field of one content row.
type Ref struct {
	Kind   string
	Entity string
	ID     string
	Field  string
}

// Service reads and writes the tags and entity_tags tables.
type Service struct {
	db     *database.DB
	logger *slog.Logger
}

// NewService creates a tag Service.
func NewService(db *database.DB, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{db: db, logger: logger}
}

// Normalize trims names, drops empty ones and removes duplicates while
// keeping first-seen order.
func Normalize(names []string) []string {
	seen := mapset.NewThreadUnsafeSet[string]()
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || !seen.Add(n) {
			continue
		}
		out = append(out, n)
	}
	return out
}

// Set replaces the tags of ref with names, in order.
func (s *Service) Set(ctx context.Context, ref Ref, names []string) error {
	names = Normalize(names)

	return s.db.InTx(ctx, func(tx *database.Tx) error {
		d := tx.Dialect()

		p := d.NewParams()
		_, err := tx.Exec(ctx,
			fmt.Sprintf(`DELETE FROM entity_tags WHERE %s`, refWhere(p, ref)),
			p.Args()...,
		)
		if err != nil {
			return fmt.Errorf("clearing tags: %w", err)
		}

		for i, name := range names {
			id, err := s.ensureTag(ctx, tx, name)
			if err != nil {
				return err
			}
			p := d.NewParams()
			_, err = tx.Exec(ctx,
				fmt.Sprintf(`INSERT INTO entity_tags (entity_kind, entity_slug, entity_id, field, tag_id, sort)
				 VALUES (%s, %s, %s, %s, %s, %s)`,
					p.Add(ref.Kind), p.Add(ref.Entity), p.Add(ref.ID), p.Add(ref.Field), p.Add(id), p.Add(i)),
				p.Args()...,
			)
			if err != nil {
				return fmt.Errorf("attaching tag %q: %w", name, err)
			}
		}
		return nil
	})
}

// ensureTag returns the id of the tag called name, creating it if needed.
func (s *Service) ensureTag(ctx context.Context, tx *database.Tx, name string) (string, error) {
	d := tx.Dialect()

	p := d.NewParams()
	var id string
	err := tx.QueryRow(ctx, fmt.Sprintf(`SELECT id FROM tags WHERE name = %s`, p.Add(name)), p.Args()...).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, database.ErrNoRows) {
		return "", fmt.Errorf("looking up tag %q: %w", name, err)
	}

	id = uuid.NewString()
	p = d.NewParams()
	if _, err := tx.Exec(ctx,
		fmt.Sprintf(`INSERT INTO tags (id, name) VALUES (%s, %s)`, p.Add(id), p.Add(name)),
		p.Args()...,
	); err != nil {
		return "", fmt.Errorf("creating tag %q: %w", name, err)
	}
	s.logger.Debug("tag created", "name", name)
	return id, nil
}

// List returns the tags of ref in their saved order.
func (s *Service) List(ctx context.Context, ref Ref) ([]string, error) {
	p := s.db.Dialect().NewParams()
	rows, err := s.db.Query(ctx,
		fmt.Sprintf(`SELECT t.name FROM entity_tags et JOIN tags t ON t.id = et.tag_id
		 WHERE %s ORDER BY et.sort`, refWhere(p, ref)),
		p.Args()...,
	)
	if err != nil {
		return nil, fmt.Errorf("listing tags: %w", err)
	}

	names := make([]string, 0, len(rows))
	for _, row := range rows {
		if n, ok := row["name"].(string); ok {
			names = append(names, n)
		}
	}
	return names, nil
}

// DeleteEntity removes every tag attachment of one content row.
func (s *Service) DeleteEntity(ctx context.Context, kind, entity, id string) error {
	p := s.db.Dialect().NewParams()
	_, err := s.db.Exec(ctx,
		fmt.Sprintf(`DELETE FROM entity_tags WHERE entity_kind = %s AND entity_slug = %s AND entity_id = %s`,
			p.Add(kind), p.Add(entity), p.Add(id)),
		p.Args()...,
	)
	if err != nil {
		return fmt.Errorf("deleting tags of %s/%s %s: %w", kind, entity, id, err)
	}
	return nil
}

// Tag is a tag with the number of rows it is attached to.
type Tag struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// All returns every tag used by entity, most used first.
func (s *Service) All(ctx context.Context, kind, entity string) ([]Tag, error) {
	p := s.db.Dialect().NewParams()
	rows, err := s.db.Query(ctx,
		fmt.Sprintf(`SELECT t.name AS name, COUNT(*) AS uses FROM entity_tags et JOIN tags t ON t.id = et.tag_id
		 WHERE et.entity_kind = %s AND et.entity_slug = %s
		 GROUP BY t.name ORDER BY uses DESC, t.name`, p.Add(kind), p.Add(entity)),
		p.Args()...,
	)
	if err != nil {
		return nil, fmt.Errorf("listing tags of %s/%s: %w", kind, entity, err)
	}

	out := make([]Tag, 0, len(rows))
	for _, row := range rows {
		t := Tag{}
		t.Name, _ = row["name"].(string)
		switch n := row["uses"].(type) {
		case int64:
			t.Count = int(n)
		case int32:
			t.Count = int(n)
		}
		out = append(out, t)
	}
	return out, nil
}

func refWhere(p *database.Params, ref Ref) string {
	return fmt.Sprintf("entity_kind = %s AND entity_slug = %s AND entity_id = %s AND field = %s",
		p.Add(ref.Kind), p.Add(ref.Entity), p.Add(ref.ID), p.Add(ref.Field))
}
