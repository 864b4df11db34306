package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/GyroZepelix/mithril-engine/internal/schema"
)

func newSyncCmd() *cobra.Command {
	var (
		dir   string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Apply the definitions to the database and the type registry",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.DefinitionsDir
			}

			db, err := openDatabase(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			engine := schema.NewEngine(db, schema.NewRegistry(nil, logger), cfg.DevMode || force, logger)
			result, _, err := engine.Refresh(cmd.Context(), dir)
			if err != nil {
				logBreaking(logger, err)
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "applied %d changes: %d new, %d updated, %d removed types\n",
				len(result.Applied), len(result.NewTypes), len(result.UpdatedTypes), len(result.RemovedTypes))
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "definitions", "", "definitions directory (default from config)")
	cmd.Flags().BoolVar(&force, "force", false, "apply breaking changes")
	return cmd
}

// logBreaking lists the blocked changes of a BreakingChangesError.
func logBreaking(logger *slog.Logger, err error) {
	var breaking *schema.BreakingChangesError
	if !errors.As(err, &breaking) {
		return
	}
	for _, c := range breaking.Changes {
		logger.Warn("breaking change blocked", "table", c.Table, "column", c.Column, "detail", c.Detail)
	}
	logger.Warn("enable dev_mode or pass --force to apply breaking changes")
}
