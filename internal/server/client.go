package server

import (
	"context"

	"ShadowSwap/internal/auth"
	"ShadowSwap/internal/core"
	"ShadowSwap/internal/event"
	"ShadowSwap/internal/keeper"
	"ShadowSwap/internal/ledgererr"
	"ShadowSwap/internal/query"
	"ShadowSwap/internal/state"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// LedgerClient calls a remote ledger over gRPC. It implements
// keeper.LedgerClient and converts status errors back into ledger errors.
type LedgerClient struct {
	conn *grpc.ClientConn
}

var _ keeper.LedgerClient = (*LedgerClient)(nil)

// Dial connects to the ledger at target. Extra options are appended after
// the JSON codec and plaintext transport defaults.
func Dial(target string, opts ...grpc.DialOption) (*LedgerClient, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(JSONCodec{})),
	}
	conn, err := grpc.NewClient(target, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	return &LedgerClient{conn: conn}, nil
}

func (c *LedgerClient) Close() error {
	return c.conn.Close()
}

func (c *LedgerClient) invoke(ctx context.Context, method string, req, resp any) error {
	return FromStatus(c.conn.Invoke(ctx, fullMethod(method), req, resp))
}

func (c *LedgerClient) GetCallbackAuth(ctx context.Context, bookID, keeperID uuid.UUID) (auth.CallbackAuthorization, error) {
	var resp GetCallbackAuthResponse
	err := c.invoke(ctx, MethodGetCallbackAuth, &GetCallbackAuthRequest{OrderBookID: bookID, Keeper: keeperID}, &resp)
	return resp.Auth, err
}

func (c *LedgerClient) GetOrderBook(ctx context.Context, bookID uuid.UUID) (state.OrderBook, error) {
	var resp GetOrderBookResponse
	err := c.invoke(ctx, MethodGetOrderBook, &GetOrderBookRequest{OrderBookID: bookID}, &resp)
	return resp.OrderBook, err
}

func (c *LedgerClient) ListOpenOrders(ctx context.Context, bookID uuid.UUID) ([]state.Order, error) {
	var resp ListOpenOrdersResponse
	err := c.invoke(ctx, MethodListOpenOrders, &ListOpenOrdersRequest{OrderBookID: bookID}, &resp)
	return resp.Orders, err
}

func (c *LedgerClient) QueueMatch(ctx context.Context, cmd *event.QueueMatch) error {
	_, err := c.Submit(ctx, cmd)
	return err
}

func (c *LedgerClient) ReleaseMatch(ctx context.Context, cmd *event.ReleaseMatch) error {
	_, err := c.Submit(ctx, cmd)
	return err
}

func (c *LedgerClient) SettleMatch(ctx context.Context, cmd *event.SettleMatch) (keeper.SettleOutcome, error) {
	res, err := c.Submit(ctx, cmd)
	if err != nil {
		return keeper.SettleOutcome{}, err
	}
	return keeper.SettleOutcome{Trade: res.Trade, Duplicate: res.Duplicate}, nil
}

// Submit sends any command to the method registered for its type.
func (c *LedgerClient) Submit(ctx context.Context, evt event.Event) (*core.Result, error) {
	method, ok := commandMethods[evt.EventType()]
	if !ok {
		return nil, ledgererr.New(ledgererr.InvalidArgument, "no ledger method for %s", evt.EventType())
	}
	var res core.Result
	if err := c.invoke(ctx, method, evt, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *LedgerClient) GetBalances(ctx context.Context, owner uuid.UUID) ([]query.BalanceResponse, error) {
	var resp GetBalancesResponse
	err := c.invoke(ctx, MethodGetBalances, &GetBalancesRequest{Owner: owner}, &resp)
	return resp.Balances, err
}

func (c *LedgerClient) GetOrder(ctx context.Context, orderID uuid.UUID) (*query.OrderResponse, error) {
	var resp query.OrderResponse
	if err := c.invoke(ctx, MethodGetOrder, &GetOrderRequest{OrderID: orderID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *LedgerClient) ListOrders(ctx context.Context, req *ListOrdersRequest) ([]query.OrderResponse, error) {
	var resp ListOrdersResponse
	err := c.invoke(ctx, MethodListOrders, req, &resp)
	return resp.Orders, err
}

func (c *LedgerClient) ListTrades(ctx context.Context, req *ListTradesRequest) ([]query.TradeResponse, error) {
	var resp ListTradesResponse
	err := c.invoke(ctx, MethodListTrades, req, &resp)
	return resp.Trades, err
}

func (c *LedgerClient) ListJournals(ctx context.Context, req *ListJournalsRequest) ([]query.JournalHistoryEntry, error) {
	var resp ListJournalsResponse
	err := c.invoke(ctx, MethodListJournals, req, &resp)
	return resp.Journals, err
}

func (c *LedgerClient) VerifyIntegrity(ctx context.Context) (*query.IntegrityReport, error) {
	var resp query.IntegrityReport
	if err := c.invoke(ctx, MethodVerifyIntegrity, &VerifyIntegrityRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *LedgerClient) TakeSnapshot(ctx context.Context) (int64, error) {
	var resp TakeSnapshotResponse
	err := c.invoke(ctx, MethodTakeSnapshot, &TakeSnapshotRequest{}, &resp)
	return resp.Sequence, err
}

func (c *LedgerClient) GetSystemStatus(ctx context.Context) (*GetSystemStatusResponse, error) {
	var resp GetSystemStatusResponse
	if err := c.invoke(ctx, MethodGetSystemStatus, &GetSystemStatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

var commandMethods = map[event.EventType]string{
	event.EventTypeOrderBookInitialized:   MethodInitializeOrderBook,
	event.EventTypeOrderBookStatusChanged: MethodSetOrderBookActive,
	event.EventTypeFundsDeposited:         MethodDeposit,
	event.EventTypeFundsWithdrawn:         MethodWithdraw,
	event.EventTypeOrderPlaced:            MethodPlaceOrder,
	event.EventTypeOrderCancelled:         MethodCancelOrder,
	event.EventTypeOrderClosed:            MethodCloseOrder,
	event.EventTypeCallbackAuthCreated:    MethodCreateCallbackAuth,
	event.EventTypeCallbackAuthRevoked:    MethodRevokeCallbackAuth,
	event.EventTypeMatchQueued:            MethodQueueMatch,
	event.EventTypeMatchSettled:           MethodSettleMatch,
	event.EventTypeMatchReleased:          MethodReleaseMatch,
}
