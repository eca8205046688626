package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"ShadowSwap/internal/auth"
	"ShadowSwap/internal/core"
	"ShadowSwap/internal/event"
	"ShadowSwap/internal/ledger"
	"ShadowSwap/internal/state"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// snapshotFormat identifies the encoding of event_log.snapshots.data.
const snapshotFormat = 3 // canonical CBOR of SnapshotData

// SnapshotManager handles creating and loading state snapshots for recovery.
type SnapshotManager struct {
	db  *sql.DB
	enc cbor.EncMode
}

// SnapshotData is the stored form of core.SnapshotState.
type SnapshotData struct {
	Sequence        int64                        `cbor:"1,keyasint"`
	StateHash       []byte                       `cbor:"2,keyasint"`
	Balances        []BalanceEntry               `cbor:"3,keyasint"`
	OrderBooks      []state.OrderBook            `cbor:"4,keyasint"`
	Orders          []state.Order                `cbor:"5,keyasint"`
	Escrows         []state.Escrow               `cbor:"6,keyasint"`
	Auths           []auth.CallbackAuthorization `cbor:"7,keyasint"`
	Applied         []AppliedEntry               `cbor:"8,keyasint"`
	CreatedAt       time.Time                    `cbor:"9,keyasint"`
	LastTimestamp   int64                        `cbor:"10,keyasint"`
}

// AppliedEntry is one recently applied command kept for deduplication.
type AppliedEntry struct {
	EventType event.EventType `cbor:"1,keyasint"`
	Key       string          `cbor:"2,keyasint"`
	Sequence  int64           `cbor:"3,keyasint"`
}

// BalanceEntry is one account balance.
type BalanceEntry struct {
	Account ledger.AccountKey `cbor:"1,keyasint"`
	Balance int64             `cbor:"2,keyasint"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor enc mode: %v", err))
	}
	return &SnapshotManager{db: db, enc: enc}
}

// SnapshotFromState converts a core snapshot into its stored form.
func SnapshotFromState(s *core.SnapshotState, now time.Time) *SnapshotData {
	snap := &SnapshotData{
		Sequence:        s.Sequence,
		StateHash:       append([]byte(nil), s.StateHash[:]...),
		Balances:        make([]BalanceEntry, 0, len(s.Balances)),
		Applied:         make([]AppliedEntry, 0, len(s.Applied)),
		CreatedAt:       now,
		LastTimestamp:   s.LastTimestamp,
	}
	for _, a := range s.Applied {
		snap.Applied = append(snap.Applied, AppliedEntry{EventType: a.Key.Type, Key: a.Key.Key, Sequence: a.Sequence})
	}
	for k, v := range s.Balances {
		snap.Balances = append(snap.Balances, BalanceEntry{Account: k, Balance: v})
	}
	// Map order is random; sorted entries keep the encoding byte-stable.
	sort.Slice(snap.Balances, func(i, j int) bool {
		return snap.Balances[i].Account.AccountPath() < snap.Balances[j].Account.AccountPath()
	})
	for _, b := range s.OrderBooks {
		snap.OrderBooks = append(snap.OrderBooks, *b)
	}
	for _, o := range s.Orders {
		snap.Orders = append(snap.Orders, *o)
	}
	for _, e := range s.Escrows {
		snap.Escrows = append(snap.Escrows, *e)
	}
	for _, a := range s.Auths {
		snap.Auths = append(snap.Auths, *a)
	}
	return snap
}

// State converts the stored form back into a core snapshot.
func (d *SnapshotData) State() (*core.SnapshotState, error) {
	if len(d.StateHash) != 32 {
		return nil, fmt.Errorf("snapshot %d: state hash is %d bytes", d.Sequence, len(d.StateHash))
	}
	s := &core.SnapshotState{
		Sequence:        d.Sequence,
		Balances:        make(map[ledger.AccountKey]int64, len(d.Balances)),
		Applied:         make([]core.AppliedCommand, 0, len(d.Applied)),
		LastTimestamp:   d.LastTimestamp,
	}
	for _, a := range d.Applied {
		s.Applied = append(s.Applied, core.AppliedCommand{
			Key:      core.CommandKey{Type: a.EventType, Key: a.Key},
			Sequence: a.Sequence,
		})
	}
	copy(s.StateHash[:], d.StateHash)
	for _, b := range d.Balances {
		s.Balances[b.Account] = b.Balance
	}
	for i := range d.OrderBooks {
		s.OrderBooks = append(s.OrderBooks, &d.OrderBooks[i])
	}
	for i := range d.Orders {
		s.Orders = append(s.Orders, &d.Orders[i])
	}
	for i := range d.Escrows {
		s.Escrows = append(s.Escrows, &d.Escrows[i])
	}
	for i := range d.Auths {
		s.Auths = append(s.Auths, &d.Auths[i])
	}
	return s, nil
}

// Encode returns the stored bytes of snap.
func (sm *SnapshotManager) Encode(snap *SnapshotData) ([]byte, error) {
	return sm.enc.Marshal(snap)
}

// Decode parses stored snapshot bytes.
func (sm *SnapshotManager) Decode(data []byte) (*SnapshotData, error) {
	var snap SnapshotData
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// SaveSnapshot persists a snapshot. It stays unverified until MarkVerified.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) (int, error) {
	data, err := sm.Encode(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, uuid.New(), snap.Sequence, data, snap.StateHash, snapshotFormat, len(data), snap.CreatedAt)

	return len(data), err
}

// LoadLatestSnapshot loads the most recent verified snapshot, or nil on a
// cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data, format_version FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var (
		data    []byte
		version int
	)
	if err := row.Scan(&data, &version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if version != snapshotFormat {
		return nil, fmt.Errorf("snapshot format %d is not supported", version)
	}
	return sm.Decode(data)
}

// MarkVerified marks a snapshot as verified after integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadEventsFrom loads up to limit events with sequence >= fromSequence, for replay.
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, order_book_id, payload,
		       state_hash, prev_hash, timestamp
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var (
			e    EventRow
			book uuid.NullUUID
		)
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &book,
			&e.Payload, &e.StateHash, &e.PrevHash, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		if book.Valid {
			e.OrderBookID = &book.UUID
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log, or -1
// when the log is empty.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.events
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}
