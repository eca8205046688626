package event

import (
	"time"

	"github.com/google/uuid"
)

// CreateCallbackAuth grants a keeper settlement rights on one book until ExpiresAt.
type CreateCallbackAuth struct {
	RequestID   uuid.UUID
	Authority   uuid.UUID
	OrderBookID uuid.UUID
	Keeper      uuid.UUID
	ExpiresAt   time.Time
	Timestamp   time.Time
}

func (c *CreateCallbackAuth) IdempotencyKey() string { return c.RequestID.String() }
func (c *CreateCallbackAuth) EventType() EventType   { return EventTypeCallbackAuthCreated }
func (c *CreateCallbackAuth) OrderBook() *uuid.UUID  { return bookRef(c.OrderBookID) }
func (c *CreateCallbackAuth) OccurredAt() time.Time  { return c.Timestamp }

// RevokeCallbackAuth deactivates a keeper's grant.
type RevokeCallbackAuth struct {
	RequestID   uuid.UUID
	Authority   uuid.UUID
	OrderBookID uuid.UUID
	Keeper      uuid.UUID
	Timestamp   time.Time
}

func (r *RevokeCallbackAuth) IdempotencyKey() string { return r.RequestID.String() }
func (r *RevokeCallbackAuth) EventType() EventType   { return EventTypeCallbackAuthRevoked }
func (r *RevokeCallbackAuth) OrderBook() *uuid.UUID  { return bookRef(r.OrderBookID) }
func (r *RevokeCallbackAuth) OccurredAt() time.Time  { return r.Timestamp }
