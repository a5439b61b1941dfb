package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/darrylbowler72/agenticframework-sub001/internal/repository"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the Postgres state store schema",
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	if cfg.Store.Driver != "postgres" {
		return fmt.Errorf("migrate needs store.driver=postgres, got %q", cfg.Store.Driver)
	}

	ctx := cmd.Context()
	pool, err := initDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := repository.NewPostgresStore(pool).Migrate(ctx); err != nil {
		return fmt.Errorf("migrating: %w", err)
	}
	logger.Info("schema up to date", "database", cfg.Store.DB.Name)
	return nil
}
