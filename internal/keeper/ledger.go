package keeper

import (
	"context"

	"ShadowSwap/internal/auth"
	"ShadowSwap/internal/core"
	"ShadowSwap/internal/event"
	"ShadowSwap/internal/ledgererr"
	"ShadowSwap/internal/state"

	"github.com/google/uuid"
)

// SettleOutcome is the ledger's answer to a settlement.
type SettleOutcome struct {
	Trade     *event.TradeSettled // nil for a duplicate
	Duplicate bool
}

// LedgerClient is the ledger surface the keeper depends on. The gRPC client
// implements it for a remote ledger and LocalLedger for an in-process one.
type LedgerClient interface {
	GetCallbackAuth(ctx context.Context, bookID, keeper uuid.UUID) (auth.CallbackAuthorization, error)
	GetOrderBook(ctx context.Context, bookID uuid.UUID) (state.OrderBook, error)
	ListOpenOrders(ctx context.Context, bookID uuid.UUID) ([]state.Order, error)
	QueueMatch(ctx context.Context, cmd *event.QueueMatch) error
	SettleMatch(ctx context.Context, cmd *event.SettleMatch) (SettleOutcome, error)
	ReleaseMatch(ctx context.Context, cmd *event.ReleaseMatch) error
}

// LocalLedger serves LedgerClient from a Dispatcher in the same process.
type LocalLedger struct {
	d *core.Dispatcher
}

func NewLocalLedger(d *core.Dispatcher) *LocalLedger {
	return &LocalLedger{d: d}
}

func (l *LocalLedger) GetCallbackAuth(ctx context.Context, bookID, keeper uuid.UUID) (auth.CallbackAuthorization, error) {
	var (
		grant auth.CallbackAuthorization
		ok    bool
	)
	if err := l.d.Read(ctx, func(v core.View) { grant, ok = v.CallbackAuth(bookID, keeper) }); err != nil {
		return grant, err
	}
	if !ok {
		return grant, ledgererr.New(ledgererr.Unauthorized, "keeper %s has no grant on order book %s", keeper, bookID)
	}
	return grant, nil
}

func (l *LocalLedger) GetOrderBook(ctx context.Context, bookID uuid.UUID) (state.OrderBook, error) {
	var (
		book state.OrderBook
		ok   bool
	)
	if err := l.d.Read(ctx, func(v core.View) { book, ok = v.OrderBook(bookID) }); err != nil {
		return book, err
	}
	if !ok {
		return book, ledgererr.New(ledgererr.OrderBookNotFound, "order book %s", bookID)
	}
	return book, nil
}

func (l *LocalLedger) ListOpenOrders(ctx context.Context, bookID uuid.UUID) ([]state.Order, error) {
	var orders []state.Order
	err := l.d.Read(ctx, func(v core.View) {
		orders = v.ListOrders(bookID, state.StatusActive, state.StatusPartial, state.StatusMatchedPending)
	})
	return orders, err
}

func (l *LocalLedger) QueueMatch(ctx context.Context, cmd *event.QueueMatch) error {
	_, err := l.d.Submit(ctx, cmd)
	return err
}

func (l *LocalLedger) SettleMatch(ctx context.Context, cmd *event.SettleMatch) (SettleOutcome, error) {
	res, err := l.d.Submit(ctx, cmd)
	if err != nil {
		return SettleOutcome{}, err
	}
	return SettleOutcome{Trade: res.Trade, Duplicate: res.Duplicate}, nil
}

func (l *LocalLedger) ReleaseMatch(ctx context.Context, cmd *event.ReleaseMatch) error {
	_, err := l.d.Submit(ctx, cmd)
	return err
}
