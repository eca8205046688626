// Package outbox is the keeper's crash-safe record of settlement submissions.
// A submission is written before it is sent and resolved once its outcome
// is known, so a restarted keeper can tell which settlements may have landed.
package outbox

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// -------------------- State --------------------

type State uint8

const (
	StatePending State = iota
	StateSettled
	StateRejected
	StateAbandoned
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateSettled:
		return "SETTLED"
	case StateRejected:
		return "REJECTED"
	case StateAbandoned:
		return "ABANDONED"
	default:
		return "UNKNOWN"
	}
}

// -------------------- Record --------------------

// Submission is one settlement the keeper sent or is about to send.
type Submission struct {
	SettlementID   uuid.UUID `cbor:"1,keyasint"`
	OrderBookID    uuid.UUID `cbor:"2,keyasint"`
	Keeper         uuid.UUID `cbor:"3,keyasint"`
	BuyOrderID     uuid.UUID `cbor:"4,keyasint"`
	SellOrderID    uuid.UUID `cbor:"5,keyasint"`
	MatchedAmount  int64     `cbor:"6,keyasint"`
	ExecutionPrice int64     `cbor:"7,keyasint"`
	Nonce          int64     `cbor:"8,keyasint"`
	CycleID        string    `cbor:"9,keyasint"`
	State          State     `cbor:"10,keyasint"`
	Attempts       uint32    `cbor:"11,keyasint"`
	Reason         string    `cbor:"12,keyasint,omitempty"`
	RecordedAt     int64     `cbor:"13,keyasint"`
	ResolvedAt     int64     `cbor:"14,keyasint,omitempty"`
}

var ErrNotFound = errors.New("outbox: submission not found")

// -------------------- Store --------------------

type Store struct {
	db  *pebble.DB
	enc cbor.EncMode
}

func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open outbox %s: %w", dir, err)
	}
	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("cbor enc mode: %w", err)
	}
	return &Store{db: db, enc: enc}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const keyPrefix = "submission/"

func keyFor(id uuid.UUID) []byte {
	return append([]byte(keyPrefix), id[:]...)
}

// Record writes a pending submission. Recording the same settlement again
// keeps the original, returns it to pending and bumps its attempt count.
func (s *Store) Record(sub Submission) error {
	existing, err := s.Get(sub.SettlementID)
	switch {
	case err == nil:
		existing.State = StatePending
		existing.Reason = ""
		existing.Attempts++
		return s.put(existing)
	case !errors.Is(err, ErrNotFound):
		return err
	}
	sub.State = StatePending
	sub.Attempts = 1
	if sub.RecordedAt == 0 {
		sub.RecordedAt = time.Now().UnixMicro()
	}
	return s.put(sub)
}

// Resolve moves a submission to a final state.
func (s *Store) Resolve(id uuid.UUID, state State, reason string) error {
	sub, err := s.Get(id)
	if err != nil {
		return err
	}
	sub.State = state
	sub.Reason = reason
	sub.ResolvedAt = time.Now().UnixMicro()
	return s.put(sub)
}

func (s *Store) Get(id uuid.UUID) (Submission, error) {
	val, closer, err := s.db.Get(keyFor(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return Submission{}, ErrNotFound
	}
	if err != nil {
		return Submission{}, err
	}
	defer closer.Close()

	var sub Submission
	if err := cbor.Unmarshal(val, &sub); err != nil {
		return Submission{}, fmt.Errorf("decode submission %s: %w", id, err)
	}
	return sub, nil
}

func (s *Store) put(sub Submission) error {
	val, err := s.enc.Marshal(sub)
	if err != nil {
		return fmt.Errorf("encode submission: %w", err)
	}
	return s.db.Set(keyFor(sub.SettlementID), val, pebble.Sync)
}

// -------------------- Scan --------------------

// Scan calls fn for every submission in the given state.
func (s *Store) Scan(state State, fn func(Submission) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte("submission0"), // '0' sorts right after '/'
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), []byte(keyPrefix)) {
			break
		}
		var sub Submission
		if err := cbor.Unmarshal(iter.Value(), &sub); err != nil {
			return fmt.Errorf("decode submission: %w", err)
		}
		if sub.State != state {
			continue
		}
		if err := fn(sub); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Pending returns every unresolved submission.
func (s *Store) Pending() ([]Submission, error) {
	var out []Submission
	err := s.Scan(StatePending, func(sub Submission) error {
		out = append(out, sub)
		return nil
	})
	return out, err
}

// Prune deletes resolved submissions older than ttl.
func (s *Store) Prune(ttl time.Duration) (int, error) {
	cutoff := time.Now().Add(-ttl).UnixMicro()
	batch := s.db.NewBatch()
	defer batch.Close()

	pruned := 0
	for _, state := range []State{StateSettled, StateRejected, StateAbandoned} {
		err := s.Scan(state, func(sub Submission) error {
			if sub.ResolvedAt != 0 && sub.ResolvedAt < cutoff {
				pruned++
				return batch.Delete(keyFor(sub.SettlementID), nil)
			}
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	if pruned == 0 {
		return 0, nil
	}
	return pruned, batch.Commit(pebble.Sync)
}
