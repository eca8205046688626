package server

import (
	"context"
	"time"

	"ShadowSwap/internal/core"
	"ShadowSwap/internal/event"
	"ShadowSwap/internal/ingestion"
	"ShadowSwap/internal/keeper"
	"ShadowSwap/internal/ledgererr"
	"ShadowSwap/internal/persistence"
	"ShadowSwap/internal/query"
	"ShadowSwap/internal/state"

	"google.golang.org/grpc"
)

// ServerDeps holds all dependencies needed by the ledger service.
type ServerDeps struct {
	Ledger      *keeper.LocalLedger
	Ingest      *ingestion.GRPCIngestService
	Queries     *query.QueryService
	SnapshotMgr *persistence.SnapshotManager
	Snapshotter *persistence.Snapshotter
	StartTime   time.Time
}

// LedgerServer implements the ledger gRPC service. Keeper reads are served
// from live core state; owner queries from the projection tables.
type LedgerServer struct {
	ledger      *keeper.LocalLedger
	ingest      *ingestion.GRPCIngestService
	queries     *query.QueryService
	snapMgr     *persistence.SnapshotManager
	snapshotter *persistence.Snapshotter
	startTime   time.Time
	now         func() time.Time
}

func NewLedgerServer(deps ServerDeps) *LedgerServer {
	return &LedgerServer{
		ledger:      deps.Ledger,
		ingest:      deps.Ingest,
		queries:     deps.Queries,
		snapMgr:     deps.SnapshotMgr,
		snapshotter: deps.Snapshotter,
		startTime:   deps.StartTime,
		now:         time.Now,
	}
}

func (s *LedgerServer) GetCallbackAuth(ctx context.Context, req *GetCallbackAuthRequest) (*GetCallbackAuthResponse, error) {
	grant, err := s.ledger.GetCallbackAuth(ctx, req.OrderBookID, req.Keeper)
	if err != nil {
		return nil, err
	}
	return &GetCallbackAuthResponse{Auth: grant}, nil
}

func (s *LedgerServer) GetOrderBook(ctx context.Context, req *GetOrderBookRequest) (*GetOrderBookResponse, error) {
	book, err := s.ledger.GetOrderBook(ctx, req.OrderBookID)
	if err != nil {
		return nil, err
	}
	return &GetOrderBookResponse{OrderBook: book}, nil
}

func (s *LedgerServer) ListOpenOrders(ctx context.Context, req *ListOpenOrdersRequest) (*ListOpenOrdersResponse, error) {
	orders, err := s.ledger.ListOpenOrders(ctx, req.OrderBookID)
	if err != nil {
		return nil, err
	}
	return &ListOpenOrdersResponse{Orders: orders}, nil
}

// Submit applies any command. The dispatcher stamps it with ledger time;
// a client timestamp is discarded.
func (s *LedgerServer) Submit(ctx context.Context, evt event.Event) (*core.Result, error) {
	return s.ingest.Apply(ctx, evt)
}

func (s *LedgerServer) GetBalances(ctx context.Context, req *GetBalancesRequest) (*GetBalancesResponse, error) {
	balances, err := s.queries.GetBalances(ctx, req.Owner)
	if err != nil {
		return nil, err
	}
	return &GetBalancesResponse{Balances: balances}, nil
}

func (s *LedgerServer) GetOrder(ctx context.Context, req *GetOrderRequest) (*query.OrderResponse, error) {
	return s.queries.GetOrder(ctx, req.OrderID)
}

func (s *LedgerServer) ListOrders(ctx context.Context, req *ListOrdersRequest) (*ListOrdersResponse, error) {
	f := query.OrderFilter{Owner: req.Owner, OrderBookID: req.OrderBookID}
	if req.Status != "" {
		st, err := state.ParseOrderStatus(req.Status)
		if err != nil {
			return nil, ledgererr.Wrap(ledgererr.InvalidArgument, err, "status")
		}
		f.Status = &st
	}
	orders, err := s.queries.ListOrders(ctx, f, query.Page{Limit: req.Limit, Before: req.Before})
	if err != nil {
		return nil, err
	}
	return &ListOrdersResponse{Orders: orders}, nil
}

func (s *LedgerServer) ListTrades(ctx context.Context, req *ListTradesRequest) (*ListTradesResponse, error) {
	trades, err := s.queries.ListTrades(ctx, req.OrderBookID, req.Owner, query.Page{Limit: req.Limit, Before: req.Before})
	if err != nil {
		return nil, err
	}
	return &ListTradesResponse{Trades: trades}, nil
}

func (s *LedgerServer) ListJournals(ctx context.Context, req *ListJournalsRequest) (*ListJournalsResponse, error) {
	entries, err := s.queries.GetJournalHistory(ctx, req.Owner, query.Page{Limit: req.Limit, Before: req.Before})
	if err != nil {
		return nil, err
	}
	return &ListJournalsResponse{Journals: entries}, nil
}

// --- Admin ---

func (s *LedgerServer) VerifyIntegrity(ctx context.Context, _ *VerifyIntegrityRequest) (*query.IntegrityReport, error) {
	return s.queries.VerifyIntegrity(ctx)
}

func (s *LedgerServer) TakeSnapshot(ctx context.Context, _ *TakeSnapshotRequest) (*TakeSnapshotResponse, error) {
	if s.snapshotter == nil {
		return nil, ledgererr.New(ledgererr.Unavailable, "snapshots are not configured")
	}
	seq, err := s.snapshotter.TakeSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	return &TakeSnapshotResponse{Sequence: seq}, nil
}

func (s *LedgerServer) GetSystemStatus(ctx context.Context, _ *GetSystemStatusRequest) (*GetSystemStatusResponse, error) {
	resp := &GetSystemStatusResponse{
		Uptime:              s.now().Sub(s.startTime).Round(time.Second).String(),
		PersistedSequence:   -1,
		ProjectionWatermark: -1,
	}
	if s.snapMgr != nil {
		seq, err := s.snapMgr.GetLatestSequence(ctx)
		if err != nil {
			return nil, ledgererr.Wrap(ledgererr.Unavailable, err, "latest sequence")
		}
		resp.PersistedSequence = seq
	}
	if s.queries != nil {
		wm, err := s.queries.Watermark(ctx)
		if err != nil {
			return nil, ledgererr.Wrap(ledgererr.Unavailable, err, "projection watermark")
		}
		resp.ProjectionWatermark = wm
	}
	return resp, nil
}

// ============================================================================
// Service descriptor
// ============================================================================

// unary adapts a typed method to a grpc.MethodDesc.
func unary[Req, Resp any](name string, call func(*LedgerServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			req := new(Req)
			if err := dec(req); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, r any) (any, error) {
				resp, err := call(srv.(*LedgerServer), ctx, r.(*Req))
				if err != nil {
					return nil, err
				}
				return resp, nil
			}
			if interceptor == nil {
				return handler(ctx, req)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, req, info, handler)
		},
	}
}

// command registers a method whose request is the command itself.
func command[Req any, P interface {
	*Req
	event.Event
}](name string) grpc.MethodDesc {
	return unary(name, func(s *LedgerServer, ctx context.Context, req *Req) (*core.Result, error) {
		return s.Submit(ctx, P(req))
	})
}

var ledgerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodGetCallbackAuth, (*LedgerServer).GetCallbackAuth),
		unary(MethodGetOrderBook, (*LedgerServer).GetOrderBook),
		unary(MethodListOpenOrders, (*LedgerServer).ListOpenOrders),
		command[event.QueueMatch](MethodQueueMatch),
		command[event.SettleMatch](MethodSettleMatch),
		command[event.ReleaseMatch](MethodReleaseMatch),
		command[event.InitializeOrderBook](MethodInitializeOrderBook),
		command[event.SetOrderBookActive](MethodSetOrderBookActive),
		command[event.Deposit](MethodDeposit),
		command[event.Withdraw](MethodWithdraw),
		command[event.PlaceOrder](MethodPlaceOrder),
		command[event.CancelOrder](MethodCancelOrder),
		command[event.CloseOrder](MethodCloseOrder),
		command[event.CreateCallbackAuth](MethodCreateCallbackAuth),
		command[event.RevokeCallbackAuth](MethodRevokeCallbackAuth),
		unary(MethodGetBalances, (*LedgerServer).GetBalances),
		unary(MethodGetOrder, (*LedgerServer).GetOrder),
		unary(MethodListOrders, (*LedgerServer).ListOrders),
		unary(MethodListTrades, (*LedgerServer).ListTrades),
		unary(MethodListJournals, (*LedgerServer).ListJournals),
		unary(MethodVerifyIntegrity, (*LedgerServer).VerifyIntegrity),
		unary(MethodTakeSnapshot, (*LedgerServer).TakeSnapshot),
		unary(MethodGetSystemStatus, (*LedgerServer).GetSystemStatus),
	},
	Metadata: "shadowswap/ledger/v1/ledger.json",
}

// RegisterLedgerService registers s on gs.
func RegisterLedgerService(gs grpc.ServiceRegistrar, s *LedgerServer) {
	gs.RegisterService(&ledgerServiceDesc, s)
}
