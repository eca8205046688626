package state

import (
	"ShadowSwap/internal/ledger"

	"github.com/google/uuid"
)

// Order is a single-sided limit order. Side and price live only inside the
// cipher payload; the ledger tracks size in base units for fill accounting.
type Order struct {
	ID              uuid.UUID
	OrderBookID     uuid.UUID
	Sequence        int64
	Owner           uuid.UUID
	Status          OrderStatus
	CipherPayload   []byte
	EncryptedAmount []byte
	EscrowID        uuid.UUID
	Amount          int64
	Filled          int64
	CreatedAt       int64
	UpdatedAt       int64
	Closed          bool
	Reservation     *Reservation // set while MatchedPending
}

// Reservation pins a MatchedPending order to the pair and fill it was
// queued for. Only that settlement, or a release, moves the order on.
type Reservation struct {
	Counterparty   uuid.UUID
	Keeper         uuid.UUID
	MatchedAmount  int64
	ExecutionPrice int64
	PriorStatus    OrderStatus
	ReservedAt     int64
}

// Expired reports whether the reservation has outlived MatchReservationTTL at now.
func (r *Reservation) Expired(now int64) bool {
	return now-r.ReservedAt >= MatchReservationTTL
}

// Remaining is the unfilled base amount.
func (o *Order) Remaining() int64 {
	return o.Amount - o.Filled
}

// CanonicalBytes for deterministic hashing
func (o *Order) CanonicalBytes() []byte {
	buf := make([]byte, 0, 128+len(o.CipherPayload)+len(o.EncryptedAmount))
	buf = append(buf, o.ID[:]...)
	buf = append(buf, o.OrderBookID[:]...)
	buf = appendInt64LE(buf, o.Sequence)
	buf = append(buf, o.Owner[:]...)
	buf = append(buf, byte(o.Status))
	buf = appendString(buf, string(o.CipherPayload))
	buf = appendString(buf, string(o.EncryptedAmount))
	buf = append(buf, o.EscrowID[:]...)
	buf = appendInt64LE(buf, o.Amount)
	buf = appendInt64LE(buf, o.Filled)
	buf = appendInt64LE(buf, o.CreatedAt)
	buf = appendInt64LE(buf, o.UpdatedAt)
	buf = appendBool(buf, o.Closed)
	if r := o.Reservation; r != nil {
		buf = append(buf, 1)
		buf = append(buf, r.Counterparty[:]...)
		buf = append(buf, r.Keeper[:]...)
		buf = appendInt64LE(buf, r.MatchedAmount)
		buf = appendInt64LE(buf, r.ExecutionPrice)
		buf = append(buf, byte(r.PriorStatus))
		buf = appendInt64LE(buf, r.ReservedAt)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

// Escrow records the custody account behind one order. The live balance is
// the ledger balance of escrow:<ID>:held:<Asset>.
type Escrow struct {
	ID          uuid.UUID
	OrderID     uuid.UUID
	OrderBookID uuid.UUID
	Owner       uuid.UUID
	Asset       ledger.AssetID
	Deposited   int64
	CreatedAt   int64
	Closed      bool
}

// CanonicalBytes for deterministic hashing
func (e *Escrow) CanonicalBytes() []byte {
	buf := make([]byte, 0, 96)
	buf = append(buf, e.ID[:]...)
	buf = append(buf, e.OrderID[:]...)
	buf = append(buf, e.OrderBookID[:]...)
	buf = append(buf, e.Owner[:]...)
	buf = appendString(buf, string(e.Asset))
	buf = appendInt64LE(buf, e.Deposited)
	buf = appendInt64LE(buf, e.CreatedAt)
	buf = appendBool(buf, e.Closed)
	return buf
}

// AccountKey is the ledger account holding this escrow's funds.
func (e *Escrow) AccountKey() ledger.AccountKey {
	return ledger.NewEscrowAccountKey(e.ID, e.Asset)
}
