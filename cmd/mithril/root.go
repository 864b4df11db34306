package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/GyroZepelix/mithril-engine/internal/config"
	"github.com/GyroZepelix/mithril-engine/internal/database"
)

// configFile is set by the --config persistent flag.
var configFile string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mithril",
		Short: "schema-driven content engine",
		Example: `mithril serve
mithril sync --definitions ./definitions
mithril generate --format ddl --dialect sqlite
mithril migrate`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "config file (default ./mithril.yaml)")

	root.AddCommand(newServeCmd(), newSyncCmd(), newGenerateCmd(), newMigrateCmd())
	root.CompletionOptions.HiddenDefaultCmd = true
	cobra.EnableCommandSorting = false
	return root
}

// loadConfig reads the configuration and installs the JSON logger as the
// process default.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// openDatabase connects to the configured database and applies the system
// migrations.
func openDatabase(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*database.DB, error) {
	if err := cfg.RequireDatabase(); err != nil {
		return nil, err
	}

	dbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	db, err := database.Open(dbCtx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	logger.Info("database connected", "dialect", db.Dialect().Name())

	if err := database.RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")
	return db, nil
}
