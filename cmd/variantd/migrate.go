package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tendant/simple-variant/pkg/simplevariant/config"
	repopg "github.com/tendant/simple-variant/pkg/simplevariant/repo/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the Postgres schema",
	Long:  `Create the originals and derived asset tables in DB_SCHEMA. Running it again is a no-op.`,
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	if cfg.DatabaseType() != "postgres" {
		return errors.New("migrate needs DATABASE_URL to point at postgres")
	}

	pool, err := config.NewPool(cmd.Context(), cfg.DatabaseURL, cfg.DBSchema)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := repopg.EnsureSchema(cmd.Context(), pool, cfg.DBSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	if err := repopg.Migrate(cmd.Context(), pool); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	logger.Info("schema applied", "schema", cfg.DBSchema)
	return nil
}
