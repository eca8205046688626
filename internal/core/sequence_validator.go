package core

import (
	"fmt"

	"ShadowSwap/internal/ledgererr"

	"github.com/google/uuid"
)

// SequenceValidator enforces per-grant settlement nonces: each keeper must
// present exactly the next nonce of its (order book, keeper) partition.
// Checking and advancing are separate so a settlement rejected after the
// nonce check does not consume the nonce.
// Not thread-safe: only accessed from the single-threaded deterministic core.
type SequenceValidator struct {
	expectedNextSeq map[string]int64 // partition -> next expected nonce
	metrics         *SequenceMetrics
}

func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{
		expectedNextSeq: make(map[string]int64),
		metrics:         NewSequenceMetrics(),
	}
}

// CallbackPartition names the nonce partition of a grant.
func CallbackPartition(orderBookID, keeper uuid.UUID) string {
	return fmt.Sprintf("callback:%s:%s", orderBookID, keeper)
}

// CheckSequence validates a nonce without advancing the partition.
func (sv *SequenceValidator) CheckSequence(partition string, nonce int64, isDuplicate bool) error {
	expected := sv.expectedNextSeq[partition]

	if nonce < expected {
		if isDuplicate {
			// Already applied; the caller returns the recorded outcome
			return nil
		}
		sv.metrics.RecordOutOfOrder(partition)
		return ledgererr.New(ledgererr.StaleNonce, "partition=%s, expected=%d, got=%d", partition, expected, nonce)
	}

	if nonce == expected {
		return nil
	}

	sv.metrics.RecordGap(partition, expected, nonce)
	return ledgererr.New(ledgererr.StaleNonce, "nonce gap: partition=%s, expected=%d, got=%d", partition, expected, nonce)
}

// Advance consumes the current nonce and returns the next expected one.
func (sv *SequenceValidator) Advance(partition string) int64 {
	sv.expectedNextSeq[partition]++
	return sv.expectedNextSeq[partition]
}

// GetExpectedSequence returns next expected nonce for a partition
func (sv *SequenceValidator) GetExpectedSequence(partition string) int64 {
	return sv.expectedNextSeq[partition]
}

// RestorePartition initializes expected nonce (used during recovery)
func (sv *SequenceValidator) RestorePartition(partition string, next int64) {
	sv.expectedNextSeq[partition] = next
}

// GetMetrics returns metrics for monitoring
func (sv *SequenceValidator) GetMetrics() *SequenceMetrics {
	return sv.metrics
}

// --- Metrics ---

// SequenceMetrics tracks nonce validation stats.
// Not thread-safe: only accessed from the single-threaded deterministic core.
type SequenceMetrics struct {
	gaps       map[string]int64 // partition -> gap count
	outOfOrder map[string]int64 // partition -> stale nonce count
}

func NewSequenceMetrics() *SequenceMetrics {
	return &SequenceMetrics{
		gaps:       make(map[string]int64),
		outOfOrder: make(map[string]int64),
	}
}

func (m *SequenceMetrics) RecordGap(partition string, expected, got int64) {
	m.gaps[partition]++
}

func (m *SequenceMetrics) RecordOutOfOrder(partition string) {
	m.outOfOrder[partition]++
}

func (m *SequenceMetrics) GetGaps(partition string) int64 {
	return m.gaps[partition]
}

func (m *SequenceMetrics) GetOutOfOrder(partition string) int64 {
	return m.outOfOrder[partition]
}
