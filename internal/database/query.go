package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ErrNoRows is returned by Row.Scan when the query selected nothing,
// regardless of the backend.
var ErrNoRows = errors.New("no rows in result set")

// Querier is implemented by both *DB and *Tx, so repositories can run the
// same statements inside or outside a transaction.
type Querier interface {
	// Query runs a statement and returns every row as a column-keyed map.
	Query(ctx context.Context, query string, args ...any) ([]map[string]any, error)
	// QueryRow runs a statement expected to return at most one row.
	QueryRow(ctx context.Context, query string, args ...any) Row
	// Exec runs a statement and reports the number of affected rows.
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	Dialect() Dialect
}

// Row is the result of QueryRow.
type Row interface {
	Scan(dest ...any) error
}

// Query implements Querier.
func (db *DB) Query(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	if db.pool != nil {
		rows, err := db.pool.Query(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		return collectPgx(rows)
	}
	rows, err := db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectSQL(rows)
}

// QueryRow implements Querier.
func (db *DB) QueryRow(ctx context.Context, query string, args ...any) Row {
	if db.pool != nil {
		return pgxRow{db.pool.QueryRow(ctx, query, args...)}
	}
	return sqlRow{db.sql.QueryRowContext(ctx, query, args...)}
}

// Exec implements Querier.
func (db *DB) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	if db.pool != nil {
		tag, err := db.pool.Exec(ctx, query, args...)
		if err != nil {
			return 0, err
		}
		return tag.RowsAffected(), nil
	}
	res, err := db.sql.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Tx is a database transaction on either backend.
type Tx struct {
	dialect Dialect
	pg      pgx.Tx
	sql     *sql.Tx
}

// Begin starts a transaction. Callers must Commit or Rollback it; calling
// Rollback after Commit is a no-op.
func (db *DB) Begin(ctx context.Context) (*Tx, error) {
	if db.pool != nil {
		tx, err := db.pool.Begin(ctx)
		if err != nil {
			return nil, fmt.Errorf("beginning transaction: %w", err)
		}
		return &Tx{dialect: db.dialect, pg: tx}, nil
	}
	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	return &Tx{dialect: db.dialect, sql: tx}, nil
}

// InTx runs fn inside a transaction, committing when fn returns nil and
// rolling back otherwise.
func (db *DB) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Dialect implements Querier.
func (tx *Tx) Dialect() Dialect {
	return tx.dialect
}

// Query implements Querier.
func (tx *Tx) Query(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	if tx.pg != nil {
		rows, err := tx.pg.Query(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		return collectPgx(rows)
	}
	rows, err := tx.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectSQL(rows)
}

// QueryRow implements Querier.
func (tx *Tx) QueryRow(ctx context.Context, query string, args ...any) Row {
	if tx.pg != nil {
		return pgxRow{tx.pg.QueryRow(ctx, query, args...)}
	}
	return sqlRow{tx.sql.QueryRowContext(ctx, query, args...)}
}

// Exec implements Querier.
func (tx *Tx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	if tx.pg != nil {
		tag, err := tx.pg.Exec(ctx, query, args...)
		if err != nil {
			return 0, err
		}
		return tag.RowsAffected(), nil
	}
	res, err := tx.sql.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Commit commits the transaction.
func (tx *Tx) Commit(ctx context.Context) error {
	if tx.pg != nil {
		return tx.pg.Commit(ctx)
	}
	return tx.sql.Commit()
}

// Rollback aborts the transaction. It is safe to call after Commit.
func (tx *Tx) Rollback(ctx context.Context) {
	if tx.pg != nil {
		_ = tx.pg.Rollback(ctx)
		return
	}
	_ = tx.sql.Rollback()
}

type pgxRow struct{ row pgx.Row }

func (r pgxRow) Scan(dest ...any) error {
	if err := r.row.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNoRows
		}
		return err
	}
	return nil
}

type sqlRow struct{ row *sql.Row }

func (r sqlRow) Scan(dest ...any) error {
	if err := r.row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNoRows
		}
		return err
	}
	return nil
}

func collectPgx(rows pgx.Rows) ([]map[string]any, error) {
	results, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("collecting rows: %w", err)
	}
	return results, nil
}

func collectSQL(rows *sql.Rows) ([]map[string]any, error) {
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}

	var results []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return results, nil
}
