package persistence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ShadowSwap/internal/core"
	"ShadowSwap/internal/observability"

	"github.com/rs/zerolog"
)

// SnapshotSource captures core state between two commands.
// *core.Dispatcher implements it.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (*core.SnapshotState, error)
}

// Snapshotter takes a snapshot every Interval commands and verifies it
// against the event log once the persistence worker has caught up.
type Snapshotter struct {
	source   SnapshotSource
	manager  *SnapshotManager
	interval int64
	check    time.Duration
	metrics  *observability.Metrics
	logger   zerolog.Logger

	mu         sync.Mutex
	lastSeq    int64
	unverified []*SnapshotData
}

func NewSnapshotter(source SnapshotSource, manager *SnapshotManager, interval int64, metrics *observability.Metrics, logger zerolog.Logger) *Snapshotter {
	if interval <= 0 {
		interval = 100_000
	}
	return &Snapshotter{
		source:   source,
		manager:  manager,
		interval: interval,
		check:    10 * time.Second,
		metrics:  metrics,
		logger:   logger,
		lastSeq:  -1,
	}
}

// Run checks the sequence every few seconds until ctx is cancelled.
func (s *Snapshotter) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.check)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.mu.Lock()
			s.verifyPending(ctx)
			if err := s.maybeSnapshot(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("periodic snapshot failed")
			}
			s.mu.Unlock()
		}
	}
}

func (s *Snapshotter) maybeSnapshot(ctx context.Context) error {
	st, err := s.source.Snapshot(ctx)
	if err != nil {
		return err
	}
	if s.lastSeq >= 0 && st.Sequence-s.lastSeq < s.interval {
		return nil
	}
	if s.lastSeq < 0 && st.Sequence+1 < s.interval {
		return nil
	}
	if err := s.save(ctx, st); err != nil {
		return err
	}
	s.logger.Info().Int64("sequence", st.Sequence).Msg("periodic snapshot")
	return nil
}

// TakeSnapshot saves the current state immediately, as done on shutdown
// and by the admin API. It returns the snapshot's sequence, or -1 when the
// core has not applied anything yet.
func (s *Snapshotter) TakeSnapshot(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.source.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	if st.Sequence < 0 || st.Sequence == s.lastSeq {
		return st.Sequence, nil
	}
	if err := s.save(ctx, st); err != nil {
		return 0, err
	}
	s.verifyPending(ctx)
	return st.Sequence, nil
}

// VerifyPending checks unverified snapshots against the event log now,
// as done on shutdown once the persistence worker has flushed.
func (s *Snapshotter) VerifyPending(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifyPending(ctx)
}

func (s *Snapshotter) save(ctx context.Context, st *core.SnapshotState) error {
	start := time.Now()
	data := SnapshotFromState(st, start.UTC())
	size, err := s.manager.SaveSnapshot(ctx, data)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	s.lastSeq = st.Sequence
	s.unverified = append(s.unverified, data)

	if s.metrics != nil {
		s.metrics.SnapshotTaken.Inc()
		s.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		s.metrics.SnapshotSizeBytes.Set(float64(size))
		s.metrics.SnapshotLastSeq.Set(float64(st.Sequence))
	}
	return nil
}

func (s *Snapshotter) verifyPending(ctx context.Context) {
	kept := s.unverified[:0]
	for _, snap := range s.unverified {
		ok, err := s.manager.VerifySnapshot(ctx, snap.Sequence, snap.StateHash)
		switch {
		case err != nil:
			s.logger.Error().Err(err).Int64("sequence", snap.Sequence).Msg("snapshot verification failed")
		case ok:
			s.logger.Debug().Int64("sequence", snap.Sequence).Msg("snapshot verified")
		default:
			kept = append(kept, snap)
		}
	}
	s.unverified = kept
}
