package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"ShadowSwap/internal/config"
	"ShadowSwap/internal/observability"
	"ShadowSwap/internal/persistence"
	"ShadowSwap/internal/projection"

	_ "github.com/lib/pq"
	"github.com/urfave/cli/v2"
)

var logger = observability.NewLogger("migrate")

const (
	flagPostgres   = "postgres-dsn"
	flagMigrations = "migrations-dir"
)

func main() {
	// Defaults come from the same SHADOW_* environment the ledger reads.
	var cfg config.LedgerConfig
	if err := config.Load(&cfg, "SHADOW_"); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err)
		os.Exit(1)
	}

	app := &cli.App{
		Name:  "migrate",
		Usage: "Manage the ShadowSwap ledger database",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  flagPostgres,
				Value: cfg.PostgresURL,
				Usage: "Postgres connection string",
			},
			&cli.StringFlag{
				Name:  flagMigrations,
				Value: cfg.MigrationsDir,
				Usage: "path to the migrations directory",
			},
		},
		Commands: []*cli.Command{
			upCmd,
			downCmd,
			statusCmd,
			rebuildCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n\n", err) // nolint:errcheck
		os.Exit(1)
	}
}

var upCmd = &cli.Command{
	Name:  "up",
	Usage: "apply all pending migrations",
	Action: func(cctx *cli.Context) error {
		return withMigrator(cctx, func(ctx context.Context, m *persistence.Migrator) error {
			if err := m.Up(ctx); err != nil {
				return fmt.Errorf("migrate up: %w", err)
			}
			logger.Info().Msg("all migrations applied")
			return nil
		})
	},
}

var downCmd = &cli.Command{
	Name:  "down",
	Usage: "roll back the last migration",
	Action: func(cctx *cli.Context) error {
		return withMigrator(cctx, func(ctx context.Context, m *persistence.Migrator) error {
			if err := m.Down(ctx); err != nil {
				return fmt.Errorf("migrate down: %w", err)
			}
			logger.Info().Msg("last migration rolled back")
			return nil
		})
	},
}

var statusCmd = &cli.Command{
	Name:  "status",
	Usage: "list migrations and whether each is applied",
	Action: func(cctx *cli.Context) error {
		return withMigrator(cctx, func(ctx context.Context, m *persistence.Migrator) error {
			status, err := m.Status(ctx)
			if err != nil {
				return err
			}
			for _, s := range status {
				mark := "pending"
				if s.Applied {
					mark = "applied"
				}
				fmt.Printf("%-8s %s\n", mark, s.Filename)
			}
			return nil
		})
	},
}

var rebuildCmd = &cli.Command{
	Name:  "rebuild-projections",
	Usage: "truncate the read model and re-project it from the event log",
	Description: "Stop the ledger before running this. The projection worker " +
		"of a live ledger would race the rebuild.",
	Action: func(cctx *cli.Context) error {
		db, err := openDB(cctx)
		if err != nil {
			return err
		}
		defer db.Close()

		n, err := projection.RebuildProjections(cctx.Context, db, persistence.NewSnapshotManager(db), logger)
		if err != nil {
			return fmt.Errorf("rebuild projections: %w", err)
		}
		logger.Info().Int("events", n).Msg("projections rebuilt")
		return nil
	},
}

func openDB(cctx *cli.Context) (*sql.DB, error) {
	db, err := sql.Open("postgres", cctx.String(flagPostgres))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.PingContext(cctx.Context); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

func withMigrator(cctx *cli.Context, fn func(context.Context, *persistence.Migrator) error) error {
	db, err := openDB(cctx)
	if err != nil {
		return err
	}
	defer db.Close()

	return fn(cctx.Context, persistence.NewMigrator(db, cctx.String(flagMigrations), logger))
}
