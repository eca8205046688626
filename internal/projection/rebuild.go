package projection

import (
	"context"
	"database/sql"
	"fmt"

	"ShadowSwap/internal/core"
	"ShadowSwap/internal/persistence"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// RebuildProjections truncates every projection table and replays the event
// log through a scratch core, projecting each output in order. The scratch
// core uses a blocking channel so no output is dropped.
func RebuildProjections(ctx context.Context, db *sql.DB, log persistence.EventLog, logger zerolog.Logger) (int, error) {
	truncateStatements := []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.order_books`,
		`TRUNCATE projections.orders`,
		`TRUNCATE projections.trades`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}
	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return 0, fmt.Errorf("truncate failed: %w", err)
		}
	}

	outputs := make(chan core.CoreOutput, 256)
	scratch := core.NewDeterministicCore(0, outputs, nil, nil, nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(outputs)
		_, err := persistence.ReplayEvents(gctx, log, scratch, 0)
		return err
	})

	projected := 0
	g.Go(func() error {
		for out := range outputs {
			if err := Apply(gctx, db, out); err != nil {
				// Keep draining so the replay goroutine is never blocked.
				for range outputs {
				}
				return fmt.Errorf("project sequence %d: %w", out.Envelope.Sequence, err)
			}
			projected++
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return projected, err
	}
	logger.Info().Int("events", projected).Msg("projection rebuild complete")
	return projected, nil
}
