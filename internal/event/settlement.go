package event

import (
	"time"

	"ShadowSwap/internal/identity"

	"github.com/google/uuid"
)

// QueueMatch reserves both orders of a pair (MatchedPending) for one fill
// ahead of settlement, so an owner cancel cannot land between match and
// settle. The fill is validated in full before anything is reserved.
type QueueMatch struct {
	RequestID      uuid.UUID
	OrderBookID    uuid.UUID
	Keeper         uuid.UUID
	BuyOrderID     uuid.UUID
	SellOrderID    uuid.UUID
	MatchedAmount  int64
	ExecutionPrice int64
	Timestamp      time.Time
}

func (q *QueueMatch) IdempotencyKey() string { return q.RequestID.String() }
func (q *QueueMatch) EventType() EventType   { return EventTypeMatchQueued }
func (q *QueueMatch) OrderBook() *uuid.UUID  { return bookRef(q.OrderBookID) }
func (q *QueueMatch) OccurredAt() time.Time  { return q.Timestamp }

// ReleaseMatch undoes a QueueMatch, returning both orders to the status
// they had before. Caller is the keeper, the book authority, or (once the
// reservation expired) the owner of either order.
type ReleaseMatch struct {
	RequestID   uuid.UUID
	OrderBookID uuid.UUID
	Caller      uuid.UUID
	BuyOrderID  uuid.UUID
	SellOrderID uuid.UUID
	Timestamp   time.Time
}

func (r *ReleaseMatch) IdempotencyKey() string { return r.RequestID.String() }
func (r *ReleaseMatch) EventType() EventType   { return EventTypeMatchReleased }
func (r *ReleaseMatch) OrderBook() *uuid.UUID  { return bookRef(r.OrderBookID) }
func (r *ReleaseMatch) OccurredAt() time.Time  { return r.Timestamp }

// SettleMatch is a keeper's settlement of one matched pair.
// Idempotency key: settlement id derived from (keeper, buy, sell, nonce), so a
// keeper retrying the same submission cannot settle twice.
type SettleMatch struct {
	OrderBookID    uuid.UUID
	Keeper         uuid.UUID
	BuyOrderID     uuid.UUID
	SellOrderID    uuid.UUID
	MatchedAmount  int64
	ExecutionPrice int64
	Nonce          int64
	Timestamp      time.Time
}

func (s *SettleMatch) SettlementID() uuid.UUID {
	return identity.SettlementID(s.Keeper, s.BuyOrderID, s.SellOrderID, s.Nonce)
}

func (s *SettleMatch) IdempotencyKey() string { return s.SettlementID().String() }
func (s *SettleMatch) EventType() EventType   { return EventTypeMatchSettled }
func (s *SettleMatch) OrderBook() *uuid.UUID  { return bookRef(s.OrderBookID) }
func (s *SettleMatch) OccurredAt() time.Time  { return s.Timestamp }

// TradeSettled is the outbound record of an applied settlement.
type TradeSettled struct {
	SettlementID    uuid.UUID `json:"settlement_id"`
	OrderBookID     uuid.UUID `json:"order_book"`
	Buyer           uuid.UUID `json:"buyer"`
	Seller          uuid.UUID `json:"seller"`
	BuyOrderID      uuid.UUID `json:"buyer_order_id"`
	SellOrderID     uuid.UUID `json:"seller_order_id"`
	BuySequence     int64     `json:"buyer_order_sequence"`
	SellSequence    int64     `json:"seller_order_sequence"`
	BaseAmount      int64     `json:"base_amount"`
	QuoteAmount     int64     `json:"quote_amount"`
	Fee             int64     `json:"fee"`
	ExecutionPrice  int64     `json:"execution_price"`
	BuyOrderStatus  string    `json:"buyer_order_status"`
	SellOrderStatus string    `json:"seller_order_status"`
	Sequence        int64     `json:"sequence"`
	Timestamp       time.Time `json:"timestamp"`
}
