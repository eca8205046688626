package event

import (
	"time"

	"github.com/google/uuid"
)

// Deposit credits an owner's available balance from outside the ledger.
// Idempotency key: deposit_id (from the custody bridge).
type Deposit struct {
	DepositID uuid.UUID
	Owner     uuid.UUID
	Asset     string
	Amount    int64
	Timestamp time.Time
}

func (d *Deposit) IdempotencyKey() string { return d.DepositID.String() }
func (d *Deposit) EventType() EventType   { return EventTypeFundsDeposited }
func (d *Deposit) OrderBook() *uuid.UUID  { return nil }
func (d *Deposit) OccurredAt() time.Time  { return d.Timestamp }

// Withdraw moves available balance out of the ledger.
type Withdraw struct {
	WithdrawalID uuid.UUID
	Owner        uuid.UUID
	Asset        string
	Amount       int64
	Timestamp    time.Time
}

func (w *Withdraw) IdempotencyKey() string { return w.WithdrawalID.String() }
func (w *Withdraw) EventType() EventType   { return EventTypeFundsWithdrawn }
func (w *Withdraw) OrderBook() *uuid.UUID  { return nil }
func (w *Withdraw) OccurredAt() time.Time  { return w.Timestamp }
