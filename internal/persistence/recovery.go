package persistence

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ShadowSwap/internal/core"
	"ShadowSwap/internal/event"
	"ShadowSwap/internal/observability"

	"github.com/rs/zerolog"
)

const replayPageSize = 1000

// Recover restores the latest verified snapshot into c and replays every
// later event from the log. Each replayed command must reproduce the state
// hash recorded when it was first applied. It returns the number of events
// replayed.
func Recover(ctx context.Context, sm *SnapshotManager, c *core.DeterministicCore, metrics *observability.Metrics, logger zerolog.Logger) (int, error) {
	start := time.Now()
	from := int64(0)

	snap, err := sm.LoadLatestSnapshot(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("snapshot load failed, replaying from genesis")
		snap = nil
	}
	if snap != nil {
		st, err := snap.State()
		if err != nil {
			return 0, err
		}
		c.RestoreFromSnapshot(st)
		from = snap.Sequence + 1
		logger.Info().
			Int64("sequence", snap.Sequence).
			Int("orders", len(snap.Orders)).
			Int("balances", len(snap.Balances)).
			Msg("snapshot restored")
	}

	replayed, err := ReplayEvents(ctx, sm, c, from)
	if err != nil {
		return replayed, err
	}

	if metrics != nil {
		metrics.ReplayEventsTotal.Add(float64(replayed))
		metrics.ReplayDuration.Set(time.Since(start).Seconds())
	}
	logger.Info().
		Int("replayed", replayed).
		Int64("next_sequence", c.GetSequence()).
		Dur("took", time.Since(start)).
		Msg("recovery complete")
	return replayed, nil
}

// EventLog pages through the persisted event log.
type EventLog interface {
	LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error)
}

// ReplayEvents feeds every logged event at or after from into c and checks
// each resulting state hash against the log.
func ReplayEvents(ctx context.Context, log EventLog, c *core.DeterministicCore, from int64) (int, error) {
	replayed := 0
	for {
		rows, err := log.LoadEventsFrom(ctx, from, replayPageSize)
		if err != nil {
			return replayed, fmt.Errorf("load events from %d: %w", from, err)
		}
		for _, row := range rows {
			if err := replayOne(c, row); err != nil {
				return replayed, err
			}
			replayed++
			from = row.Sequence + 1
		}
		if len(rows) < replayPageSize {
			return replayed, nil
		}
	}
}

func replayOne(c *core.DeterministicCore, row EventRow) error {
	if row.Sequence != c.GetSequence() {
		return fmt.Errorf("event log gap: core expects %d, log has %d", c.GetSequence(), row.Sequence)
	}
	et := event.ParseEventType(row.EventType)
	evt, err := event.Decode(et, row.Payload)
	if err != nil {
		return fmt.Errorf("decode event %d (%s): %w", row.Sequence, row.EventType, err)
	}
	res, err := c.ProcessEvent(evt)
	if err != nil {
		return fmt.Errorf("replay event %d (%s): %w", row.Sequence, row.EventType, err)
	}
	if res.Duplicate {
		return fmt.Errorf("replay event %d (%s): reported as duplicate", row.Sequence, row.EventType)
	}
	hash := c.GetStateHash()
	if !bytes.Equal(hash[:], row.StateHash) {
		return fmt.Errorf("state hash mismatch at sequence %d", row.Sequence)
	}
	return nil
}

// VerifySnapshot marks the snapshot at sequence verified when its hash
// matches the event log. It returns false while the log has not caught up.
func (sm *SnapshotManager) VerifySnapshot(ctx context.Context, sequence int64, stateHash []byte) (bool, error) {
	var logged []byte
	err := sm.db.QueryRowContext(ctx, `
		SELECT state_hash FROM event_log.events WHERE sequence = $1
	`, sequence).Scan(&logged)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !bytes.Equal(logged, stateHash) {
		return false, fmt.Errorf("snapshot %d hash does not match the event log", sequence)
	}
	return true, sm.MarkVerified(ctx, sequence)
}
