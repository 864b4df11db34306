// Package audit records content, schema, media and auth events. Events are
// written asynchronously to the audit_log table so that logging never blocks
// or fails the operation being audited.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/GyroZepelix/mithril-engine/internal/database"
)

// Entry represents a single row in the audit_log table.
type Entry struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	ActorID    *string        `json:"actor_id,omitempty"`
	Resource   *string        `json:"resource,omitempty"`
	ResourceID *string        `json:"resource_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Filters narrows a List. Empty fields match everything.
type Filters struct {
	Action     string
	ActorID    string
	Resource   string
	ResourceID string
	// Since keeps entries created at or after it.
	Since time.Time
}

// Repository provides database operations for the audit_log table.
type Repository struct {
	db *database.DB
}

// NewRepository creates a new audit Repository.
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

// Insert writes a single audit event. Empty ActorID, Resource and ResourceID
// are stored as NULL.
func (r *Repository) Insert(ctx context.Context, event Event) error {
	at := event.At
	if at.IsZero() {
		at = time.Now()
	}

	var payloadJSON []byte
	if event.Payload != nil {
		var err error
		payloadJSON, err = json.Marshal(event.Payload)
		if err != nil {
			return fmt.Errorf("marshaling audit payload: %w", err)
		}
	}

	p := r.db.Dialect().NewParams()
	_, err := r.db.Exec(ctx,
		fmt.Sprintf(`INSERT INTO audit_log (id, action, actor_id, resource, resource_id, payload, created_at)
		 VALUES (%s, %s, %s, %s, %s, %s, %s)`,
			p.Add(uuid.NewString()),
			p.Add(event.Action),
			p.Add(nullIfEmpty(event.ActorID)),
			p.Add(nullIfEmpty(event.Resource)),
			p.Add(nullIfEmpty(event.ResourceID)),
			p.Add(nullableJSON(payloadJSON)),
			p.Add(at.UTC()),
		),
		p.Args()...,
	)
	if err != nil {
		return fmt.Errorf("inserting audit event: %w", err)
	}
	return nil
}

// List returns one page of entries matching filters, newest first, with the
// total match count. The caller clamps the pagination parameters.
func (r *Repository) List(ctx context.Context, filters Filters, page, perPage int) ([]*Entry, int, error) {
	p := r.db.Dialect().NewParams()
	var conditions []string
	for _, f := range []struct{ column, value string }{
		{"action", filters.Action},
		{"actor_id", filters.ActorID},
		{"resource", filters.Resource},
		{"resource_id", filters.ResourceID},
	} {
		if f.value != "" {
			conditions = append(conditions, f.column+" = "+p.Add(f.value))
		}
	}
	if !filters.Since.IsZero() {
		conditions = append(conditions, "created_at >= "+p.Add(filters.Since.UTC()))
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int64
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM audit_log %s", whereClause)
	if err := r.db.QueryRow(ctx, countQuery, p.Args()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting audit entries: %w", err)
	}

	selectQuery := fmt.Sprintf(
		`SELECT id, action, actor_id, resource, resource_id, payload, created_at
		 FROM audit_log %s
		 ORDER BY created_at DESC, id
		 LIMIT %s OFFSET %s`,
		whereClause, p.Add(perPage), p.Add((page-1)*perPage),
	)
	rows, err := r.db.Query(ctx, selectQuery, p.Args()...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying audit entries: %w", err)
	}

	entries := make([]*Entry, 0, len(rows))
	for _, row := range rows {
		e := &Entry{
			ID:         asString(row["id"]),
			Action:     asString(row["action"]),
			ActorID:    optionalString(row["actor_id"]),
			Resource:   optionalString(row["resource"]),
			ResourceID: optionalString(row["resource_id"]),
		}
		if t, ok := row["created_at"].(time.Time); ok {
			e.CreatedAt = t
		}
		if payload := asString(row["payload"]); payload != "" {
			if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
				return nil, 0, fmt.Errorf("unmarshaling audit payload: %w", err)
			}
		}
		entries = append(entries, e)
	}

	return entries, int(total), nil
}

// nullIfEmpty maps an empty string to SQL NULL.
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullableJSON maps an empty payload to SQL NULL and anything else to text.
func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return ""
	}
}

func optionalString(v any) *string {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	return &s
}
