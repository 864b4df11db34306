// Package media stores uploaded files, serves them and produces resized
// image variants on demand.
package media

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/GyroZepelix/mithril-engine/internal/database"
)

// ErrNotFound is returned when a file record does not exist.
var ErrNotFound = errors.New("file not found")

// File is a stored file record. URL and Path are derived from Filename and
// are not persisted.
type File struct {
	ID           string    `json:"id"`
	Filename     string    `json:"filename"`
	OriginalName string    `json:"original_name"`
	MimeType     string    `json:"mime_type"`
	Size         int64     `json:"size"`
	Width        *int      `json:"width,omitempty"`
	Height       *int      `json:"height,omitempty"`
	Alt          string    `json:"alt"`
	URL          string    `json:"url"`
	Path         string    `json:"path"`
	UploadedBy   *string   `json:"uploaded_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Repository handles database operations for file records.
type Repository struct {
	db *database.DB
}

// NewRepository creates a new file Repository.
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

const fileColumns = `id, filename, original_name, mime_type, size, width, height, alt, uploaded_by, created_at`

// Create inserts a new file record. CreatedAt is set here so both engines
// store the same value.
func (r *Repository) Create(ctx context.Context, f *File) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}

	p := r.db.Dialect().NewParams()
	_, err := r.db.Exec(ctx,
		fmt.Sprintf(`INSERT INTO files (%s) VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`, fileColumns,
			p.Add(f.ID), p.Add(f.Filename), p.Add(f.OriginalName), p.Add(f.MimeType), p.Add(f.Size),
			p.Add(intPtrArg(f.Width)), p.Add(intPtrArg(f.Height)), p.Add(f.Alt), p.Add(stringPtrArg(f.UploadedBy)),
			p.Add(f.CreatedAt)),
		p.Args()...,
	)
	if err != nil {
		return fmt.Errorf("inserting file record: %w", err)
	}
	f.URL, f.Path = urlFor(f.Filename), pathFor(f.Filename)
	return nil
}

// GetByID retrieves a file record by id.
func (r *Repository) GetByID(ctx context.Context, id string) (*File, error) {
	return r.getOne(ctx, "id", id)
}

// GetByFilename retrieves a file record by its unique generated filename.
func (r *Repository) GetByFilename(ctx context.Context, filename string) (*File, error) {
	return r.getOne(ctx, "filename", filename)
}

func (r *Repository) getOne(ctx context.Context, column, value string) (*File, error) {
	p := r.db.Dialect().NewParams()
	rows, err := r.db.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM files WHERE %s = %s`, fileColumns, column, p.Add(value)),
		p.Args()...,
	)
	if err != nil {
		return nil, fmt.Errorf("querying file by %s: %w", column, err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return fileFromRow(rows[0]), nil
}

// List retrieves a page of file records ordered by created_at desc, along
// with the total count.
func (r *Repository) List(ctx context.Context, page, perPage int) ([]*File, int, error) {
	var total int64
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM files`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting files: %w", err)
	}
	if total == 0 {
		return []*File{}, 0, nil
	}

	p := r.db.Dialect().NewParams()
	rows, err := r.db.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM files ORDER BY created_at DESC, id LIMIT %s OFFSET %s`,
			fileColumns, p.Add(perPage), p.Add((page-1)*perPage)),
		p.Args()...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("listing files: %w", err)
	}

	results := make([]*File, 0, len(rows))
	for _, row := range rows {
		results = append(results, fileFromRow(row))
	}
	return results, int(total), nil
}

// UpdateAlt sets the default alternative text of a file.
func (r *Repository) UpdateAlt(ctx context.Context, id, alt string) error {
	p := r.db.Dialect().NewParams()
	n, err := r.db.Exec(ctx,
		fmt.Sprintf(`UPDATE files SET alt = %s WHERE id = %s`, p.Add(alt), p.Add(id)),
		p.Args()...,
	)
	if err != nil {
		return fmt.Errorf("updating file alt: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a file record. Returns ErrNotFound if the record does not
// exist. Relation rows pointing at the file are left in place; the content
// loader skips them.
func (r *Repository) Delete(ctx context.Context, id string) error {
	p := r.db.Dialect().NewParams()
	n, err := r.db.Exec(ctx, fmt.Sprintf(`DELETE FROM files WHERE id = %s`, p.Add(id)), p.Args()...)
	if err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func urlFor(filename string) string  { return "/media/" + filename }
func pathFor(filename string) string { return originalDir + "/" + filename }

func fileFromRow(row map[string]any) *File {
	f := &File{
		ID:           str(row["id"]),
		Filename:     str(row["filename"]),
		OriginalName: str(row["original_name"]),
		MimeType:     str(row["mime_type"]),
		Alt:          str(row["alt"]),
	}
	if n, ok := toInt64(row["size"]); ok {
		f.Size = n
	}
	if n, ok := toInt64(row["width"]); ok {
		w := int(n)
		f.Width = &w
	}
	if n, ok := toInt64(row["height"]); ok {
		h := int(n)
		f.Height = &h
	}
	if s, ok := row["uploaded_by"].(string); ok {
		f.UploadedBy = &s
	}
	if t, ok := row["created_at"].(time.Time); ok {
		f.CreatedAt = t
	}
	f.URL, f.Path = urlFor(f.Filename), pathFor(f.Filename)
	return f
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

func intPtrArg(p *int) any {
	if p == nil {
		return nil
	}
	return int64(*p)
}

func stringPtrArg(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}
