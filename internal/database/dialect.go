package database

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// ColumnType is an engine-independent column type. Dialects translate it to
// the physical DDL type.
type ColumnType string

const (
	ColumnText      ColumnType = "text"
	ColumnInteger   ColumnType = "integer"
	ColumnNumeric   ColumnType = "numeric"
	ColumnBoolean   ColumnType = "boolean"
	ColumnTimestamp ColumnType = "timestamp"
	ColumnJSON      ColumnType = "json"
)

// Dialect abstracts the SQL differences between PostgreSQL and SQLite.
type Dialect interface {
	// Name returns "postgres" or "sqlite".
	Name() string

	// NewParams creates a placeholder builder for one statement.
	NewParams() *Params

	// ColumnType maps a logical column type to the DDL type.
	ColumnType(t ColumnType) string

	// QuoteIdent quotes a table or column name.
	QuoteIdent(name string) string

	// InExpr builds "column IN (...)" for a list of string values.
	InExpr(column string, p *Params, values []string) string

	// TableColumns returns the existing columns of a table keyed by name,
	// or an empty map when the table does not exist.
	TableColumns(ctx context.Context, q Querier, table string) (map[string]string, error)

	// IsUniqueViolation reports whether err is a unique constraint failure.
	IsUniqueViolation(err error) bool

	// NativeBool reports whether booleans are stored natively rather than
	// as 0/1 integers.
	NativeBool() bool
}

// Params accumulates statement arguments and hands out the matching
// placeholders ($1 for PostgreSQL, ?1 for SQLite).
type Params struct {
	prefix string
	args   []any
}

// Add appends a value and returns its placeholder.
func (p *Params) Add(v any) string {
	p.args = append(p.args, v)
	return p.prefix + strconv.Itoa(len(p.args))
}

// Args returns the accumulated values in placeholder order.
func (p *Params) Args() []any { return p.args }

// Len returns the number of accumulated values.
func (p *Params) Len() int { return len(p.args) }

// Predicate is a SQL boolean fragment using "?" markers for its arguments.
// It is rendered into a statement with Render so the markers become
// dialect-specific placeholders.
type Predicate struct {
	Clause string
	Args   []any
}

// Render rewrites the predicate's "?" markers into placeholders from p.
func (pr *Predicate) Render(p *Params) (string, error) {
	if strings.Count(pr.Clause, "?") != len(pr.Args) {
		return "", fmt.Errorf("predicate %q has %d markers but %d args",
			pr.Clause, strings.Count(pr.Clause, "?"), len(pr.Args))
	}
	var b strings.Builder
	i := 0
	for _, r := range pr.Clause {
		if r == '?' {
			b.WriteString(p.Add(pr.Args[i]))
			i++
			continue
		}
		b.WriteRune(r)
	}
	return "(" + b.String() + ")", nil
}

var (
	// Postgres is the PostgreSQL dialect.
	Postgres Dialect = postgresDialect{}
	// SQLite is the SQLite dialect.
	SQLite Dialect = sqliteDialect{}
)

// DialectByName returns the dialect called name ("postgres" or "sqlite").
func DialectByName(name string) (Dialect, error) {
	switch name {
	case "postgres", "postgresql":
		return Postgres, nil
	case "sqlite":
		return SQLite, nil
	default:
		return nil, fmt.Errorf("unknown dialect %q", name)
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

type postgresDialect struct{}

func (postgresDialect) Name() string                  { return "postgres" }
func (postgresDialect) NewParams() *Params            { return &Params{prefix: "$"} }
func (postgresDialect) QuoteIdent(name string) string { return quoteIdent(name) }
func (postgresDialect) NativeBool() bool              { return true }

func (postgresDialect) ColumnType(t ColumnType) string {
	switch t {
	case ColumnInteger:
		return "BIGINT"
	case ColumnNumeric:
		return "DOUBLE PRECISION"
	case ColumnBoolean:
		return "BOOLEAN"
	case ColumnTimestamp:
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}

func (postgresDialect) InExpr(column string, p *Params, values []string) string {
	return fmt.Sprintf("%s = ANY(%s)", column, p.Add(values))
}

func (postgresDialect) TableColumns(ctx context.Context, q Querier, table string) (map[string]string, error) {
	rows, err := q.Query(ctx,
		`SELECT column_name, data_type FROM information_schema.columns
		 WHERE table_schema = current_schema() AND table_name = $1`,
		table,
	)
	if err != nil {
		return nil, fmt.Errorf("reading columns of %s: %w", table, err)
	}
	cols := make(map[string]string, len(rows))
	for _, row := range rows {
		name, _ := row["column_name"].(string)
		dataType, _ := row["data_type"].(string)
		cols[name] = dataType
	}
	return cols, nil
}

func (postgresDialect) IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string                  { return "sqlite" }
func (sqliteDialect) NewParams() *Params            { return &Params{prefix: "?"} }
func (sqliteDialect) QuoteIdent(name string) string { return quoteIdent(name) }
func (sqliteDialect) NativeBool() bool              { return false }

// ColumnType maps timestamps to DATETIME so the driver parses them back into
// time.Time values on read.
func (sqliteDialect) ColumnType(t ColumnType) string {
	switch t {
	case ColumnInteger, ColumnBoolean:
		return "INTEGER"
	case ColumnNumeric:
		return "REAL"
	case ColumnTimestamp:
		return "DATETIME"
	default:
		return "TEXT"
	}
}

func (sqliteDialect) InExpr(column string, p *Params, values []string) string {
	if len(values) == 0 {
		return "1 = 0"
	}
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = p.Add(v)
	}
	return fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ", "))
}

func (sqliteDialect) TableColumns(ctx context.Context, q Querier, table string) (map[string]string, error) {
	rows, err := q.Query(ctx, `SELECT name, type FROM pragma_table_info(?1)`, table)
	if err != nil {
		return nil, fmt.Errorf("reading columns of %s: %w", table, err)
	}
	cols := make(map[string]string, len(rows))
	for _, row := range rows {
		name, _ := row["name"].(string)
		colType, _ := row["type"].(string)
		cols[name] = colType
	}
	return cols, nil
}

func (sqliteDialect) IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: UNIQUE")
}
