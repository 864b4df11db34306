// Package auth signs admins in with Argon2id password hashes and HS256 JWT
// access tokens, and places the acting user into the request context.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/GyroZepelix/mithril-engine/internal/database"
)

// ErrAdminNotFound is returned when no admin matches a lookup.
var ErrAdminNotFound = errors.New("admin not found")

// RoleAdmin is the role given to seeded admins.
const RoleAdmin = "admin"

// Admin represents an admin user row from the admins table.
type Admin struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// Repository provides database access for authentication operations.
type Repository struct {
	db *database.DB
}

// NewRepository creates a new auth Repository backed by the given database.
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

const adminColumns = `id, email, password_hash, role, created_at`

// GetAdminByEmail returns the admin with the given email, or ErrAdminNotFound.
func (r *Repository) GetAdminByEmail(ctx context.Context, email string) (*Admin, error) {
	return r.getOne(ctx, "email", email)
}

// GetAdminByID returns the admin with the given id, or ErrAdminNotFound.
func (r *Repository) GetAdminByID(ctx context.Context, id string) (*Admin, error) {
	return r.getOne(ctx, "id", id)
}

func (r *Repository) getOne(ctx context.Context, column, value string) (*Admin, error) {
	p := r.db.Dialect().NewParams()
	rows, err := r.db.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM admins WHERE %s = %s`, adminColumns, column, p.Add(value)),
		p.Args()...,
	)
	if err != nil {
		return nil, fmt.Errorf("querying admin by %s: %w", column, err)
	}
	if len(rows) == 0 {
		return nil, ErrAdminNotFound
	}
	return adminFromRow(rows[0]), nil
}

// CreateAdmin inserts a new admin with the given email and password hash. If
// an admin with the same email already exists, the existing admin is
// returned unchanged.
func (r *Repository) CreateAdmin(ctx context.Context, email, passwordHash, role string) (*Admin, error) {
	a := &Admin{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: passwordHash,
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	}

	p := r.db.Dialect().NewParams()
	_, err := r.db.Exec(ctx,
		fmt.Sprintf(`INSERT INTO admins (%s) VALUES (%s, %s, %s, %s, %s)`, adminColumns,
			p.Add(a.ID), p.Add(a.Email), p.Add(a.PasswordHash), p.Add(a.Role), p.Add(a.CreatedAt)),
		p.Args()...,
	)
	if err != nil {
		if r.db.Dialect().IsUniqueViolation(err) {
			return r.GetAdminByEmail(ctx, email)
		}
		return nil, fmt.Errorf("creating admin: %w", err)
	}
	return a, nil
}

// CountAdmins returns the total number of admin users in the database.
func (r *Repository) CountAdmins(ctx context.Context) (int, error) {
	var count int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM admins`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting admins: %w", err)
	}
	return int(count), nil
}

func adminFromRow(row map[string]any) *Admin {
	a := &Admin{}
	a.ID, _ = row["id"].(string)
	a.Email, _ = row["email"].(string)
	a.PasswordHash, _ = row["password_hash"].(string)
	a.Role, _ = row["role"].(string)
	switch t := row["created_at"].(type) {
	case time.Time:
		a.CreatedAt = t
	case string:
		a.CreatedAt, _ = time.Parse(time.RFC3339Nano, t)
	}
	return a
}
