package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/crosswindhq/crosswind/internal/config"
	"github.com/crosswindhq/crosswind/internal/storage"
)

func buildMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
		Long: `Apply or roll back embedded schema migrations against the configured
Postgres database. Migrations run in lexical id order, each in its own
transaction, and are tracked in the schema_migrations table.`,
	}

	cmd.AddCommand(
		buildMigrateUpCmd(),
		buildMigrateDownCmd(),
		buildMigrateStatusCmd(),
	)
	return cmd
}

func buildMigrateUpCmd() *cobra.Command {
	var (
		configPath string
		steps      int
	)

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Example: `  # Apply all pending migrations
  crosswind migrate up --config crosswind.yaml

  # Apply only the next migration
  crosswind migrate up --steps 1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			migrator, db, err := openMigrator(configPath)
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := migrator.Up(cmd.Context(), steps)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				slog.Info("no pending migrations")
				return nil
			}
			for _, id := range applied {
				slog.Info("applied migration", "id", id)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().IntVarP(&steps, "steps", "n", 0, "Number of migrations to apply (0 = all)")
	return cmd
}

func buildMigrateDownCmd() *cobra.Command {
	var (
		configPath string
		steps      int
	)

	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back applied migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrator, db, err := openMigrator(configPath)
			if err != nil {
				return err
			}
			defer db.Close()

			slog.Warn("rolling back migrations", "steps", steps)
			rolled, err := migrator.Down(cmd.Context(), steps)
			if err != nil {
				return err
			}
			if len(rolled) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No migrations to roll back.")
				return nil
			}
			for _, id := range rolled {
				slog.Info("rolled back migration", "id", id)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().IntVarP(&steps, "steps", "n", 1, "Number of migrations to roll back")
	return cmd
}

func buildMigrateStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrator, db, err := openMigrator(configPath)
			if err != nil {
				return err
			}
			defer db.Close()

			applied, pending, err := migrator.Status(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Applied migrations:")
			if len(applied) == 0 {
				fmt.Fprintln(out, "  (none)")
			}
			for _, entry := range applied {
				fmt.Fprintf(out, "  - %s (%s)\n", entry.ID, entry.AppliedAt.Format(time.RFC3339))
			}
			fmt.Fprintln(out, "Pending migrations:")
			if len(pending) == 0 {
				fmt.Fprintln(out, "  (none)")
			}
			for _, migration := range pending {
				fmt.Fprintf(out, "  - %s\n", migration.ID)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func openMigrator(configPath string) (*storage.Migrator, *sql.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	db, err := storage.OpenDB(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	migrator, err := storage.NewMigrator(db)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return migrator, db, nil
}
