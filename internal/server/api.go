package server

import (
	"ShadowSwap/internal/auth"
	"ShadowSwap/internal/query"
	"ShadowSwap/internal/state"

	"github.com/google/uuid"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "shadowswap.ledger.v1.LedgerService"

// Method names. Commands take the matching event struct as the request and
// return core.Result.
const (
	MethodGetCallbackAuth     = "GetCallbackAuth"
	MethodGetOrderBook        = "GetOrderBook"
	MethodListOpenOrders      = "ListOpenOrders"
	MethodQueueMatch          = "QueueMatch"
	MethodSettleMatch         = "SettleMatch"
	MethodReleaseMatch        = "ReleaseMatch"
	MethodInitializeOrderBook = "InitializeOrderBook"
	MethodSetOrderBookActive  = "SetOrderBookActive"
	MethodDeposit             = "Deposit"
	MethodWithdraw            = "Withdraw"
	MethodPlaceOrder          = "PlaceOrder"
	MethodCancelOrder         = "CancelOrder"
	MethodCloseOrder          = "CloseOrder"
	MethodCreateCallbackAuth  = "CreateCallbackAuth"
	MethodRevokeCallbackAuth  = "RevokeCallbackAuth"
	MethodGetBalances         = "GetBalances"
	MethodGetOrder            = "GetOrder"
	MethodListOrders          = "ListOrders"
	MethodListTrades          = "ListTrades"
	MethodListJournals        = "ListJournals"
	MethodVerifyIntegrity     = "VerifyIntegrity"
	MethodTakeSnapshot        = "TakeSnapshot"
	MethodGetSystemStatus     = "GetSystemStatus"
)

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// --- Keeper reads (served from live core state) ---

type GetCallbackAuthRequest struct {
	OrderBookID uuid.UUID `json:"order_book_id"`
	Keeper      uuid.UUID `json:"keeper"`
}

type GetCallbackAuthResponse struct {
	Auth auth.CallbackAuthorization `json:"auth"`
}

type GetOrderBookRequest struct {
	OrderBookID uuid.UUID `json:"order_book_id"`
}

type GetOrderBookResponse struct {
	OrderBook state.OrderBook `json:"order_book"`
}

type ListOpenOrdersRequest struct {
	OrderBookID uuid.UUID `json:"order_book_id"`
}

type ListOpenOrdersResponse struct {
	Orders []state.Order `json:"orders"`
}

// --- Projection queries ---

type GetBalancesRequest struct {
	Owner uuid.UUID `json:"owner"`
}

type GetBalancesResponse struct {
	Balances []query.BalanceResponse `json:"balances"`
}

type GetOrderRequest struct {
	OrderID uuid.UUID `json:"order_id"`
}

type ListOrdersRequest struct {
	Owner       *uuid.UUID `json:"owner,omitempty"`
	OrderBookID *uuid.UUID `json:"order_book_id,omitempty"`
	Status      string     `json:"status,omitempty"`
	Limit       int        `json:"limit,omitempty"`
	Before      *int64     `json:"before,omitempty"`
}

type ListOrdersResponse struct {
	Orders []query.OrderResponse `json:"orders"`
}

type ListTradesRequest struct {
	OrderBookID *uuid.UUID `json:"order_book_id,omitempty"`
	Owner       *uuid.UUID `json:"owner,omitempty"`
	Limit       int        `json:"limit,omitempty"`
	Before      *int64     `json:"before,omitempty"`
}

type ListTradesResponse struct {
	Trades []query.TradeResponse `json:"trades"`
}

type VerifyIntegrityRequest struct{}

type ListJournalsRequest struct {
	Owner  uuid.UUID `json:"owner"`
	Limit  int       `json:"limit,omitempty"`
	Before *int64    `json:"before,omitempty"`
}

type ListJournalsResponse struct {
	Journals []query.JournalHistoryEntry `json:"journals"`
}

// --- Admin ---

type TakeSnapshotRequest struct{}

type TakeSnapshotResponse struct {
	Sequence int64 `json:"sequence"` // -1 when there was nothing to snapshot
}

type GetSystemStatusRequest struct{}

type GetSystemStatusResponse struct {
	Uptime              string `json:"uptime"`
	PersistedSequence   int64  `json:"persisted_sequence"`
	ProjectionWatermark int64  `json:"projection_watermark"`
}
