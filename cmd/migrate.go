package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"sms-server-go/config"
	"sms-server-go/db"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
		Long:  `Apply, inspect or reset the embedded schema migrations.`,
	}
	cmd.PersistentFlags().String("db", "", "Database URL")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: migrateAction(func(ctx context.Context, store *db.Store, cmd *cobra.Command) error {
			if err := store.Migrate(ctx); err != nil {
				return err
			}
			return printVersion(ctx, store, cmd)
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the state of every migration",
		RunE: migrateAction(func(ctx context.Context, store *db.Store, _ *cobra.Command) error {
			return store.MigrationStatus(ctx)
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		RunE:  migrateAction(printVersion),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Drop every table and migrate again (destroys all data)",
		RunE: migrateAction(func(ctx context.Context, store *db.Store, cmd *cobra.Command) error {
			if err := store.ResetSchema(ctx); err != nil {
				return err
			}
			return printVersion(ctx, store, cmd)
		}),
	})

	return cmd
}

type migrateFunc func(ctx context.Context, store *db.Store, cmd *cobra.Command) error

// migrateAction opens the configured database without migrating it and
// hands it to fn.
func migrateAction(fn migrateFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, err := getConfig(cmd)
		if err != nil {
			return err
		}
		return runMigrate(cmd.Context(), cfg.Database, cmd, fn)
	}
}

func runMigrate(ctx context.Context, cfg config.DatabaseConfig, cmd *cobra.Command, fn migrateFunc) error {
	store, err := db.Open(ctx, cfg.URL)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(ctx, store, cmd)
}

func printVersion(ctx context.Context, store *db.Store, cmd *cobra.Command) error {
	version, err := store.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Schema version: %d (%s)\n", version, store.Dialect())
	return nil
}
