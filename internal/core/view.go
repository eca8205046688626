package core

import (
	"ShadowSwap/internal/auth"
	"ShadowSwap/internal/ledger"
	"ShadowSwap/internal/state"

	"github.com/google/uuid"
)

// View is the read-only surface of the core. Values are copies; callers may
// keep them after the read returns.
type View interface {
	GetSequence() int64
	GetStateHash() [32]byte
	OrderBook(id uuid.UUID) (state.OrderBook, bool)
	OrderBooks() []state.OrderBook
	Order(id uuid.UUID) (state.Order, bool)
	ListOrders(bookID uuid.UUID, statuses ...state.OrderStatus) []state.Order
	Escrow(id uuid.UUID) (state.Escrow, bool)
	CallbackAuth(bookID, keeper uuid.UUID) (auth.CallbackAuthorization, bool)
	AvailableBalance(owner uuid.UUID, asset ledger.AssetID) int64
	EscrowBalance(escrowID uuid.UUID, asset ledger.AssetID) int64
}

var _ View = (*DeterministicCore)(nil)

func (c *DeterministicCore) OrderBook(id uuid.UUID) (state.OrderBook, bool) {
	b := c.orders.GetOrderBook(id)
	if b == nil {
		return state.OrderBook{}, false
	}
	return *b, true
}

func (c *DeterministicCore) OrderBooks() []state.OrderBook {
	books := c.orders.OrderBooks()
	out := make([]state.OrderBook, len(books))
	for i, b := range books {
		out[i] = *b
	}
	return out
}

func (c *DeterministicCore) Order(id uuid.UUID) (state.Order, bool) {
	o := c.orders.GetOrder(id)
	if o == nil {
		return state.Order{}, false
	}
	return *o, true
}

// ListOrders returns the book's orders in sequence order.
func (c *DeterministicCore) ListOrders(bookID uuid.UUID, statuses ...state.OrderStatus) []state.Order {
	orders := c.orders.ListOrders(bookID, statuses...)
	out := make([]state.Order, len(orders))
	for i, o := range orders {
		out[i] = *o
	}
	return out
}

func (c *DeterministicCore) Escrow(id uuid.UUID) (state.Escrow, bool) {
	e := c.orders.GetEscrow(id)
	if e == nil {
		return state.Escrow{}, false
	}
	return *e, true
}

func (c *DeterministicCore) CallbackAuth(bookID, keeper uuid.UUID) (auth.CallbackAuthorization, bool) {
	a := c.auths.Get(bookID, keeper)
	if a == nil {
		return auth.CallbackAuthorization{}, false
	}
	return *a, true
}

func (c *DeterministicCore) AvailableBalance(owner uuid.UUID, asset ledger.AssetID) int64 {
	return c.balanceTracker.GetUserAvailableBalance(owner, asset)
}

func (c *DeterministicCore) EscrowBalance(escrowID uuid.UUID, asset ledger.AssetID) int64 {
	return c.balanceTracker.GetEscrowBalance(escrowID, asset)
}
