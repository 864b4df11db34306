package schema

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/GyroZepelix/mithril-engine/internal/database"
)

// Engine orchestrates schema generation, diffing and application against the
// database. It compares the tables generated from the definitions with the
// live database, applies safe changes (or all changes in dev mode) and syncs
// the type registry, all in one transaction.
type Engine struct {
	db       *database.DB
	registry *Registry
	devMode  bool
	logger   *slog.Logger
}

// NewEngine creates a new schema engine.
func NewEngine(db *database.DB, registry *Registry, devMode bool, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		db:       db,
		registry: registry,
		devMode:  devMode,
		logger:   logger,
	}
}

// Registry returns the type registry the engine syncs.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// RefreshResult summarizes one Apply.
type RefreshResult struct {
	// Applied holds every change executed. In dev mode it includes the
	// breaking ones.
	Applied []Change `json:"applied"`
	// Breaking holds the destructive changes detected.
	Breaking []Change `json:"breaking"`

	NewTypes     []string `json:"new_types"`
	UpdatedTypes []string `json:"updated_types"`
	RemovedTypes []string `json:"removed_types"`
}

// Apply generates the schema of defs and brings the database in line with
// it. The process is:
//  1. Generate tables and merged definitions (DefinitionError aborts).
//  2. Inside one transaction, diff the tables against the live database and
//     against the tables of the definitions currently in the registry, so
//     tables of removed definitions or fields are dropped.
//  3. If any change is breaking and the engine is not in dev mode, return a
//     BreakingChangesError without touching anything.
//  4. Execute the DDL, sync the registry and commit.
//
// The returned catalog describes the applied schema.
func (e *Engine) Apply(ctx context.Context, defs []Definition) (*RefreshResult, *Catalog, error) {
	res, err := Generate(defs, e.logger)
	if err != nil {
		return nil, nil, err
	}

	tx, err := e.db.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	previous, err := e.registry.Definitions(ctx, tx)
	if err != nil {
		return nil, nil, fmt.Errorf("loading registered definitions: %w", err)
	}

	var changes []Change
	if len(previous) > 0 {
		prev, err := Generate(previous, e.logger)
		if err != nil {
			e.logger.Warn("registered definitions no longer generate, skipping stale table detection", "error", err)
		} else {
			changes = append(changes, DiffStaleTables(prev.Tables, res.Tables, tx.Dialect())...)
		}
	}

	live, err := DiffTables(ctx, tx, res.Tables)
	if err != nil {
		return nil, nil, fmt.Errorf("diffing tables: %w", err)
	}
	changes = append(changes, live...)

	result := &RefreshResult{}
	for _, c := range changes {
		if !c.Safe {
			result.Breaking = append(result.Breaking, c)
		}
	}
	if len(result.Breaking) > 0 && !e.devMode {
		return result, nil, &BreakingChangesError{Changes: result.Breaking}
	}

	for _, c := range changes {
		if c.SQL == "" {
			e.logger.Warn("skipping change with empty SQL", "type", c.Type, "table", c.Table, "column", c.Column)
			continue
		}

		e.logger.Info("applying schema change", "type", c.Type, "detail", c.Detail)

		if _, err := tx.Exec(ctx, c.SQL); err != nil {
			return nil, nil, fmt.Errorf("executing %s on %s.%s: %w", c.Type, c.Table, c.Column, err)
		}
		result.Applied = append(result.Applied, c)
	}

	synced, err := e.registry.Sync(ctx, tx, res.Definitions)
	if err != nil {
		return nil, nil, fmt.Errorf("syncing type registry: %w", err)
	}
	result.NewTypes = synced.Inserted
	result.UpdatedTypes = synced.Updated
	result.RemovedTypes = synced.Removed

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("committing transaction: %w", err)
	}

	e.registry.Invalidate(ctx, previous)
	e.registry.Invalidate(ctx, res.Definitions)

	e.logger.Info("schema applied",
		"changes", len(result.Applied),
		"breaking", len(result.Breaking),
		"new_types", len(result.NewTypes),
		"updated_types", len(result.UpdatedTypes),
		"removed_types", len(result.RemovedTypes),
	)

	return result, NewCatalog(res), nil
}

// Refresh reloads the definitions under dir and applies them.
func (e *Engine) Refresh(ctx context.Context, dir string) (*RefreshResult, *Catalog, error) {
	defs, err := LoadDefinitions(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("loading definitions: %w", err)
	}
	return e.Apply(ctx, defs)
}

// LoadCatalog builds a catalog from the definitions stored in the registry,
// without reading definition files.
func (e *Engine) LoadCatalog(ctx context.Context) (*Catalog, error) {
	defs, err := e.registry.Definitions(ctx, e.db)
	if err != nil {
		return nil, fmt.Errorf("loading registered definitions: %w", err)
	}
	return BuildCatalog(defs, e.logger)
}
