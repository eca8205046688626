package event

import (
	"time"

	"github.com/google/uuid"
)

// EventType discriminator for command payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeOrderBookInitialized
	EventTypeOrderBookStatusChanged
	EventTypeFundsDeposited
	EventTypeFundsWithdrawn
	EventTypeOrderPlaced
	EventTypeOrderCancelled
	EventTypeOrderClosed
	EventTypeCallbackAuthCreated
	EventTypeCallbackAuthRevoked
	EventTypeMatchQueued
	EventTypeMatchSettled
	EventTypeMatchReleased
)

// EventEnvelope wraps every applied command in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Order book context (nil for global events such as deposits)
	OrderBookID *uuid.UUID

	// Command timestamp assigned at ingress (NOT wall-clock at apply time)
	Timestamp time.Time

	// JSON-encoded command, enough to replay it
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all command payloads implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// OrderBook returns the order book context (nil for global events)
	OrderBook() *uuid.UUID

	// OccurredAt returns the ingress timestamp the core uses as "now"
	OccurredAt() time.Time
}

func (et EventType) String() string {
	switch et {
	case EventTypeOrderBookInitialized:
		return "OrderBookInitialized"
	case EventTypeOrderBookStatusChanged:
		return "OrderBookStatusChanged"
	case EventTypeFundsDeposited:
		return "FundsDeposited"
	case EventTypeFundsWithdrawn:
		return "FundsWithdrawn"
	case EventTypeOrderPlaced:
		return "OrderPlaced"
	case EventTypeOrderCancelled:
		return "OrderCancelled"
	case EventTypeOrderClosed:
		return "OrderClosed"
	case EventTypeCallbackAuthCreated:
		return "CallbackAuthCreated"
	case EventTypeCallbackAuthRevoked:
		return "CallbackAuthRevoked"
	case EventTypeMatchQueued:
		return "MatchQueued"
	case EventTypeMatchSettled:
		return "MatchSettled"
	case EventTypeMatchReleased:
		return "MatchReleased"
	default:
		return "Unknown"
	}
}

// ParseEventType is the inverse of String.
func ParseEventType(name string) EventType {
	for et := EventTypeOrderBookInitialized; et <= EventTypeMatchReleased; et++ {
		if et.String() == name {
			return et
		}
	}
	return EventTypeUnknown
}

func bookRef(id uuid.UUID) *uuid.UUID {
	return &id
}
