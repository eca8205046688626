package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ShadowSwap/internal/core"
	"ShadowSwap/internal/event"
	"ShadowSwap/internal/ingestion"
	"ShadowSwap/internal/keeper"
	"ShadowSwap/internal/ledgererr"
	"ShadowSwap/internal/observability"
	"ShadowSwap/internal/state"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

var (
	authority = uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	keeperID  = uuid.MustParse("00000000-0000-0000-0000-00000000000b")
	alice     = uuid.MustParse("00000000-0000-0000-0000-0000000000a1")
	t0        = time.UnixMicro(1_000_000).UTC()
)

// newLedgerServer runs a dispatcher over an empty core and wraps it in a
// LedgerServer without projections or snapshots.
func newLedgerServer(t *testing.T) *LedgerServer {
	t.Helper()
	c := core.NewDeterministicCore(0, make(chan core.CoreOutput, 1024), make(chan core.CoreOutput, 1024), nil, nil)
	d := core.NewDispatcher(c, 16, nil, zerolog.Nop(),
		core.WithClock(func() time.Time { return t0.Add(time.Second) }))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	t.Cleanup(func() { cancel(); <-done })

	ls := NewLedgerServer(ServerDeps{
		Ledger:    keeper.NewLocalLedger(d),
		Ingest:    ingestion.NewGRPCIngestService(d, nil),
		StartTime: t0,
	})
	ls.now = func() time.Time { return t0.Add(time.Second) }
	return ls
}

// dialBufconn serves ls over an in-memory listener and returns a client.
func dialBufconn(t *testing.T, ls *LedgerServer) *LedgerClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewGRPCServer("bufnet", "", ls, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()

	client, err := Dial("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		client.Close()
		cancel()
		<-done
	})
	return client
}

func initBook(t *testing.T, client *LedgerClient) uuid.UUID {
	t.Helper()
	res, err := client.Submit(context.Background(), &event.InitializeOrderBook{
		RequestID:        uuid.New(),
		Authority:        authority,
		BaseAsset:        "SOL",
		QuoteAsset:       "USDC",
		FeeBps:           30,
		FeeRecipient:     authority,
		MinBaseOrderSize: 1,
		BaseUnit:         1,
		Timestamp:        t0,
	})
	require.NoError(t, err)
	require.NotNil(t, res.OrderBook)
	return res.OrderBook.ID
}

// ============================================================================
// gRPC round trips
// ============================================================================

func TestLedgerClient_InitializeAndReadBook(t *testing.T) {
	client := dialBufconn(t, newLedgerServer(t))
	bookID := initBook(t, client)

	book, err := client.GetOrderBook(context.Background(), bookID)
	require.NoError(t, err)
	assert.Equal(t, bookID, book.ID)
	assert.Equal(t, uint16(30), book.FeeBps)
	assert.True(t, book.IsActive)

	orders, err := client.ListOpenOrders(context.Background(), bookID)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestLedgerClient_ErrorsKeepTheirCode(t *testing.T) {
	client := dialBufconn(t, newLedgerServer(t))
	ctx := context.Background()

	_, err := client.GetOrderBook(ctx, uuid.New())
	assert.True(t, ledgererr.Is(err, ledgererr.OrderBookNotFound), "got %v", err)
	assert.Equal(t, ledgererr.ClassValidation, ledgererr.ClassOf(err))

	bookID := initBook(t, client)
	_, err = client.GetCallbackAuth(ctx, bookID, keeperID)
	assert.True(t, ledgererr.Is(err, ledgererr.Unauthorized), "got %v", err)
	assert.Equal(t, ledgererr.ClassAuthorization, ledgererr.ClassOf(err))
}

func TestLedgerClient_CallbackAuthLifecycle(t *testing.T) {
	client := dialBufconn(t, newLedgerServer(t))
	ctx := context.Background()
	bookID := initBook(t, client)

	_, err := client.Submit(ctx, &event.CreateCallbackAuth{
		RequestID:   uuid.New(),
		Authority:   authority,
		OrderBookID: bookID,
		Keeper:      keeperID,
		ExpiresAt:   t0.Add(time.Hour),
		Timestamp:   t0.Add(time.Millisecond),
	})
	require.NoError(t, err)

	grant, err := client.GetCallbackAuth(ctx, bookID, keeperID)
	require.NoError(t, err)
	assert.Equal(t, keeperID, grant.Keeper)
	assert.Equal(t, int64(0), grant.Nonce)
	assert.True(t, grant.IsActive)
}

func TestLedgerClient_DuplicateCommandIsReported(t *testing.T) {
	client := dialBufconn(t, newLedgerServer(t))
	ctx := context.Background()

	dep := &event.Deposit{DepositID: uuid.New(), Owner: alice, Asset: "USDC", Amount: 500, Timestamp: t0}
	first, err := client.Submit(ctx, dep)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := client.Submit(ctx, dep)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
}

func TestLedgerServer_StampsLedgerTime(t *testing.T) {
	ls := newLedgerServer(t)
	dep := &event.Deposit{DepositID: uuid.New(), Owner: alice, Asset: "USDC", Amount: 1}
	_, err := ls.Submit(context.Background(), dep)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Second), dep.Timestamp)

	backdated := &event.Deposit{DepositID: uuid.New(), Owner: alice, Asset: "USDC", Amount: 1, Timestamp: t0.Add(-time.Hour)}
	_, err = ls.Submit(context.Background(), backdated)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Second), backdated.Timestamp, "client time is replaced")
}

func TestLedgerClient_ReleaseMatchRoundTrip(t *testing.T) {
	client := dialBufconn(t, newLedgerServer(t))
	ctx := context.Background()
	bookID := initBook(t, client)
	bob := uuid.New()

	submit := func(evt event.Event) *core.Result {
		t.Helper()
		res, err := client.Submit(ctx, evt)
		require.NoError(t, err, "%s", evt.EventType())
		return res
	}
	submit(&event.CreateCallbackAuth{RequestID: uuid.New(), Authority: authority, OrderBookID: bookID, Keeper: keeperID, ExpiresAt: t0.Add(time.Hour)})
	submit(&event.Deposit{DepositID: uuid.New(), Owner: alice, Asset: "USDC", Amount: 1000})
	submit(&event.Deposit{DepositID: uuid.New(), Owner: bob, Asset: "SOL", Amount: 10})
	buy := submit(&event.PlaceOrder{
		RequestID: uuid.New(), OrderBookID: bookID, Owner: alice, CipherPayload: []byte{1}, EncryptedAmount: []byte{1},
		Amount: 5, DepositAsset: "USDC", DepositAmount: 500,
	}).Order
	sell := submit(&event.PlaceOrder{
		RequestID: uuid.New(), OrderBookID: bookID, Owner: bob, CipherPayload: []byte{1}, EncryptedAmount: []byte{1},
		Amount: 5, DepositAsset: "SOL", DepositAmount: 5,
	}).Order

	require.NoError(t, client.QueueMatch(ctx, &event.QueueMatch{
		RequestID: uuid.New(), OrderBookID: bookID, Keeper: keeperID,
		BuyOrderID: buy.ID, SellOrderID: sell.ID, MatchedAmount: 5, ExecutionPrice: 100,
	}))
	orders, err := client.ListOpenOrders(ctx, bookID)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	for _, o := range orders {
		assert.Equal(t, state.StatusMatchedPending, o.Status)
		require.NotNil(t, o.Reservation)
		assert.Equal(t, keeperID, o.Reservation.Keeper)
	}

	// The buyer cannot take the pair back while the reservation holds.
	err = client.ReleaseMatch(ctx, &event.ReleaseMatch{RequestID: uuid.New(), OrderBookID: bookID, Caller: alice, BuyOrderID: buy.ID, SellOrderID: sell.ID})
	assert.True(t, ledgererr.Is(err, ledgererr.Unauthorized))

	require.NoError(t, client.ReleaseMatch(ctx, &event.ReleaseMatch{
		RequestID: uuid.New(), OrderBookID: bookID, Caller: keeperID, BuyOrderID: buy.ID, SellOrderID: sell.ID,
	}))
	orders, err = client.ListOpenOrders(ctx, bookID)
	require.NoError(t, err)
	for _, o := range orders {
		assert.Equal(t, state.StatusActive, o.Status)
		assert.Nil(t, o.Reservation)
	}
}

func TestGRPCHealth_FollowsLedgerReadiness(t *testing.T) {
	hc := observability.NewLedgerHealth(observability.StageRecovered)
	lis := bufconn.Listen(1 << 20)
	srv := NewGRPCServer("bufnet", "", newLedgerServer(t), hc, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Close()
		cancel()
		<-done
	})
	health := healthpb.NewHealthClient(conn)
	check := func() healthpb.HealthCheckResponse_ServingStatus {
		t.Helper()
		resp, err := health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
		require.NoError(t, err)
		return resp.Status
	}

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check())
	hc.Complete(observability.StageRecovered)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check())
	hc.Drain()
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check())
}

func TestLedgerServer_TakeSnapshotWithoutSnapshotter(t *testing.T) {
	ls := newLedgerServer(t)
	_, err := ls.TakeSnapshot(context.Background(), &TakeSnapshotRequest{})
	assert.True(t, ledgererr.Is(err, ledgererr.Unavailable))
}

func TestLedgerServer_SystemStatusWithoutStores(t *testing.T) {
	ls := newLedgerServer(t)
	st, err := ls.GetSystemStatus(context.Background(), &GetSystemStatusRequest{})
	require.NoError(t, err)
	assert.Equal(t, "1s", st.Uptime)
	assert.Equal(t, int64(-1), st.PersistedSequence)
	assert.Equal(t, int64(-1), st.ProjectionWatermark)
}

// ============================================================================
// HTTP gateway
// ============================================================================

func TestGateway_CommandThenRead(t *testing.T) {
	mux, err := NewGatewayMux(newLedgerServer(t))
	require.NoError(t, err)

	body, err := json.Marshal(&event.InitializeOrderBook{
		RequestID:        uuid.New(),
		Authority:        authority,
		BaseAsset:        "SOL",
		QuoteAsset:       "USDC",
		MinBaseOrderSize: 1,
		BaseUnit:         1,
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/commands/OrderBookInitialized", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res core.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.NotNil(t, res.OrderBook)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/order-books/"+res.OrderBook.ID.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got GetOrderBookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, res.OrderBook.ID, got.OrderBook.ID)
}

func TestGateway_ErrorResponses(t *testing.T) {
	mux, err := NewGatewayMux(newLedgerServer(t))
	require.NoError(t, err)

	cases := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantCode   ledgererr.Code
	}{
		{"bad uuid", http.MethodGet, "/v1/order-books/not-a-uuid", "", http.StatusBadRequest, ledgererr.InvalidArgument},
		{"missing book", http.MethodGet, "/v1/order-books/" + uuid.NewString(), "", http.StatusNotFound, ledgererr.OrderBookNotFound},
		{"unknown command", http.MethodPost, "/v1/commands/Nope", "{}", http.StatusBadRequest, ledgererr.InvalidArgument},
		{"malformed body", http.MethodPost, "/v1/commands/FundsDeposited", "{", http.StatusBadRequest, ledgererr.InvalidArgument},
		{"bad page", http.MethodGet, "/v1/owners/" + alice.String() + "/orders?limit=x", "", http.StatusBadRequest, ledgererr.InvalidArgument},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, bytes.NewBufferString(tc.body)))
			assert.Equal(t, tc.wantStatus, rec.Code)

			var body errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, string(tc.wantCode), body.Code)
		})
	}
}

func TestGateway_RejectsOversizedCommand(t *testing.T) {
	_, err := decodeCommand("FundsDeposited", bytes.NewReader(make([]byte, maxCommandBody+1)))
	assert.True(t, ledgererr.Is(err, ledgererr.InvalidArgument))
}
