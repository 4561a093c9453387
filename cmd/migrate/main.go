package main

import (
	"PerpMetrics/internal/config"
	"PerpMetrics/internal/observability"
	"PerpMetrics/internal/persistence"
	"context"
	"database/sql"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Manages the metrics schema (PERP_POSTGRES_DSN, PERP_MIGRATIONS_DIR)",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "path to a YAML config file")

	root.AddCommand(
		&cobra.Command{Use: "up", Short: "Applies all pending migrations", Args: cobra.NoArgs, RunE: upFunc},
		&cobra.Command{Use: "down", Short: "Rolls back the last migration", Args: cobra.NoArgs, RunE: downFunc},
		&cobra.Command{Use: "status", Short: "Lists migrations and whether they are applied", Args: cobra.NoArgs, RunE: statusFunc},
	)
	return root
}

func withMigrator(c *cobra.Command, fn func(ctx context.Context, m *persistence.Migrator) error) error {
	path, err := c.Flags().GetString("config")
	if err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	logger := observability.NewLoggerTo(c.ErrOrStderr(), "migrate", observability.ParseLogLevel(cfg.LogLevel))
	return fn(c.Context(), persistence.NewMigrator(db, persistence.MigrationsFrom(cfg.MigrationsDir), logger))
}

func upFunc(c *cobra.Command, _ []string) error {
	return withMigrator(c, func(ctx context.Context, m *persistence.Migrator) error {
		n, err := m.Up(ctx)
		if err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
		fmt.Fprintf(c.OutOrStdout(), "applied %d migration(s)\n", n)
		return nil
	})
}

func downFunc(c *cobra.Command, _ []string) error {
	return withMigrator(c, func(ctx context.Context, m *persistence.Migrator) error {
		rolledBack, err := m.Down(ctx)
		if err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
		if !rolledBack {
			fmt.Fprintln(c.OutOrStdout(), "nothing to roll back")
			return nil
		}
		fmt.Fprintln(c.OutOrStdout(), "last migration rolled back")
		return nil
	})
}

func statusFunc(c *cobra.Command, _ []string) error {
	return withMigrator(c, func(ctx context.Context, m *persistence.Migrator) error {
		statuses, err := m.Status(ctx)
		if err != nil {
			return fmt.Errorf("migrate status: %w", err)
		}
		tw := tabwriter.NewWriter(c.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "VERSION\tFILE\tAPPLIED")
		for _, s := range statuses {
			applied := "pending"
			if s.Applied {
				applied = s.AppliedAt.UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Version, s.Filename, applied)
		}
		return tw.Flush()
	})
}
