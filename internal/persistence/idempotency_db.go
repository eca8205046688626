package persistence

import (
	"context"
	"database/sql"
	"errors"
	"sync/atomic"
	"time"

	"ShadowSwap/internal/core"
)

// PostgresIdempotencyChecker answers LRU misses from the event log. It
// starts inactive: during replay every logged command would otherwise look
// like a duplicate of itself.
type PostgresIdempotencyChecker struct {
	db      *sql.DB
	timeout time.Duration
	active  atomic.Bool
}

func NewPostgresIdempotencyChecker(db *sql.DB) *PostgresIdempotencyChecker {
	return &PostgresIdempotencyChecker{
		db:      db,
		timeout: 500 * time.Millisecond,
	}
}

// Activate enables lookups once recovery has finished.
func (pic *PostgresIdempotencyChecker) Activate() {
	pic.active.Store(true)
}

// AppliedSequence returns the sequence a command with this key was applied
// at, if it was.
func (pic *PostgresIdempotencyChecker) AppliedSequence(key core.CommandKey) (int64, bool, error) {
	if !pic.active.Load() {
		return 0, false, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), pic.timeout)
	defer cancel()

	var seq int64
	err := pic.db.QueryRowContext(ctx, `
		SELECT sequence
		FROM event_log.events
		WHERE event_type = $1 AND idempotency_key = $2
		LIMIT 1
	`, key.Type.String(), key.Key).Scan(&seq)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return seq, true, nil
}
