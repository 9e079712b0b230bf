package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/keyxmakerx/bidhouse/internal/config"
	"github.com/keyxmakerx/bidhouse/internal/database"
)

// NewMigrateCmd creates the migrate subcommand and its up, down and version
// children.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd.Context(), func(mg *database.Migrator) error {
				if err := mg.Up(); err != nil {
					return err
				}
				cmd.Println("migrations applied")
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back migrations (default 1 step)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 1 {
					return fmt.Errorf("steps must be a positive integer, got %q", args[0])
				}
				steps = n
			}
			return withMigrator(cmd.Context(), func(mg *database.Migrator) error {
				if err := mg.Down(steps); err != nil {
					return err
				}
				cmd.Printf("rolled back %d migration(s)\n", steps)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd.Context(), func(mg *database.Migrator) error {
				version, dirty, err := mg.Version()
				if err != nil {
					return err
				}
				cmd.Printf("version %d (dirty: %t)\n", version, dirty)
				return nil
			})
		},
	})

	return cmd
}

// withMigrator loads config, connects to MariaDB and runs fn with a
// migrator over the configured migrations directory.
func withMigrator(ctx context.Context, fn func(mg *database.Migrator) error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	setupLogging(cfg)

	db, err := database.NewMariaDB(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to MariaDB: %w", err)
	}
	defer db.Close()

	mg, err := database.NewMigrator(db, cfg.MigrationsPath)
	if err != nil {
		return err
	}
	return fn(mg)
}
