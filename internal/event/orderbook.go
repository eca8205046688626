package event

import (
	"time"

	"github.com/google/uuid"
)

// InitializeOrderBook creates the book for a trading pair.
// Idempotency key: request_id.
type InitializeOrderBook struct {
	RequestID        uuid.UUID
	Authority        uuid.UUID
	BaseAsset        string
	QuoteAsset       string
	FeeBps           uint16
	FeeRecipient     uuid.UUID
	MinBaseOrderSize int64
	BaseUnit         int64
	Timestamp        time.Time
}

func (e *InitializeOrderBook) IdempotencyKey() string { return e.RequestID.String() }
func (e *InitializeOrderBook) EventType() EventType   { return EventTypeOrderBookInitialized }
func (e *InitializeOrderBook) OrderBook() *uuid.UUID  { return nil }
func (e *InitializeOrderBook) OccurredAt() time.Time  { return e.Timestamp }

// SetOrderBookActive pauses or resumes order placement.
type SetOrderBookActive struct {
	RequestID   uuid.UUID
	Authority   uuid.UUID
	OrderBookID uuid.UUID
	Active      bool
	Timestamp   time.Time
}

func (e *SetOrderBookActive) IdempotencyKey() string { return e.RequestID.String() }
func (e *SetOrderBookActive) EventType() EventType   { return EventTypeOrderBookStatusChanged }
func (e *SetOrderBookActive) OrderBook() *uuid.UUID  { return bookRef(e.OrderBookID) }
func (e *SetOrderBookActive) OccurredAt() time.Time  { return e.Timestamp }
