package event

import (
	"time"

	"github.com/google/uuid"
)

// PlaceOrder submits an encrypted limit order and locks its deposit.
// Idempotency key: request_id (client generated).
type PlaceOrder struct {
	RequestID       uuid.UUID
	OrderBookID     uuid.UUID
	Owner           uuid.UUID
	CipherPayload   []byte
	EncryptedAmount []byte
	Amount          int64 // base units
	DepositAsset    string
	DepositAmount   int64
	Timestamp       time.Time
}

func (p *PlaceOrder) IdempotencyKey() string { return p.RequestID.String() }
func (p *PlaceOrder) EventType() EventType   { return EventTypeOrderPlaced }
func (p *PlaceOrder) OrderBook() *uuid.UUID  { return bookRef(p.OrderBookID) }
func (p *PlaceOrder) OccurredAt() time.Time  { return p.Timestamp }

// CancelOrder refunds the escrow of an open order.
// Idempotency key: request_id.
type CancelOrder struct {
	RequestID   uuid.UUID
	OrderBookID uuid.UUID
	OrderID     uuid.UUID
	Owner       uuid.UUID
	Timestamp   time.Time
}

func (c *CancelOrder) IdempotencyKey() string { return c.RequestID.String() }
func (c *CancelOrder) EventType() EventType   { return EventTypeOrderCancelled }
func (c *CancelOrder) OrderBook() *uuid.UUID  { return bookRef(c.OrderBookID) }
func (c *CancelOrder) OccurredAt() time.Time  { return c.Timestamp }

// CloseOrder retires a filled or cancelled order.
type CloseOrder struct {
	RequestID   uuid.UUID
	OrderBookID uuid.UUID
	OrderID     uuid.UUID
	Owner       uuid.UUID
	Timestamp   time.Time
}

func (c *CloseOrder) IdempotencyKey() string { return c.RequestID.String() }
func (c *CloseOrder) EventType() EventType   { return EventTypeOrderClosed }
func (c *CloseOrder) OrderBook() *uuid.UUID  { return bookRef(c.OrderBookID) }
func (c *CloseOrder) OccurredAt() time.Time  { return c.Timestamp }
