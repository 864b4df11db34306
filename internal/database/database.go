// Package database provides connection management for Mithril Engine on top
// of PostgreSQL (pgx) or an embedded SQLite file (modernc.org/sqlite). Both
// backends are reached through the same DB, Tx and Dialect types so the
// schema and content packages never branch on the engine.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	// Register the pure-Go sqlite driver for database/sql.
	_ "modernc.org/sqlite"
)

// DB is a connection to one of the two supported engines. Exactly one of
// pool and sql is set.
type DB struct {
	dialect Dialect
	url     string

	pool *pgxpool.Pool
	sql  *sql.DB
}

// Open dispatches on the URL scheme: "sqlite:" and "sqlite://" name an
// embedded database file, anything else goes to pgx.
func Open(ctx context.Context, url string) (*DB, error) {
	if path, ok := sqlitePath(url); ok {
		return NewSQLite(ctx, path)
	}
	return NewPostgres(ctx, url)
}

// NewPostgres opens a pgx pool and pings it within ctx.
func NewPostgres(ctx context.Context, url string) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("database: parse postgres url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("database: postgres pool: %w", err)
	}
	db := &DB{dialect: Postgres, url: url, pool: pool}
	if err := db.Health(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return db, nil
}

// sqlitePragmas run on every new SQLite handle.
var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA foreign_keys=ON",
	"PRAGMA busy_timeout=5000",
}

// NewSQLite opens or creates the database file at path. The handle holds a
// single connection, so while a Tx is open every statement must go through
// that Tx.
func NewSQLite(ctx context.Context, path string) (*DB, error) {
	handle, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("database: open sqlite %s: %w", path, err)
	}
	handle.SetMaxOpenConns(1)

	db := &DB{dialect: SQLite, url: "sqlite:" + path, sql: handle}
	for _, pragma := range sqlitePragmas {
		if _, err = handle.ExecContext(ctx, pragma); err != nil {
			err = fmt.Errorf("database: %s: %w", pragma, err)
			break
		}
	}
	if err == nil {
		err = db.Health(ctx)
	}
	if err != nil {
		handle.Close()
		return nil, err
	}
	return db, nil
}

// Close releases the pool or handle.
func (db *DB) Close() {
	switch {
	case db.pool != nil:
		db.pool.Close()
	case db.sql != nil:
		_ = db.sql.Close()
	}
}

// Health pings the engine; /health reports its result.
func (db *DB) Health(ctx context.Context) error {
	var err error
	if db.pool != nil {
		err = db.pool.Ping(ctx)
	} else {
		err = db.sql.PingContext(ctx)
	}
	if err != nil {
		return fmt.Errorf("database: ping %s: %w", db.dialect.Name(), err)
	}
	return nil
}

func (db *DB) Dialect() Dialect { return db.dialect }

func sqlitePath(url string) (string, bool) {
	if rest, ok := strings.CutPrefix(url, "sqlite://"); ok {
		return rest, true
	}
	return strings.CutPrefix(url, "sqlite:")
}
