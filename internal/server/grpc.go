package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"ShadowSwap/internal/event"
	"ShadowSwap/internal/ledgererr"
	"ShadowSwap/internal/observability"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// maxCommandBody bounds POST /v1/commands bodies. Cipher payloads are at
// most 512 bytes, so 64 KiB leaves room for JSON overhead only.
const maxCommandBody = 64 << 10

// GRPCServer wraps the gRPC server and the HTTP/JSON gateway.
type GRPCServer struct {
	grpcServer    *grpc.Server
	httpServer    *http.Server
	ledger        *LedgerServer
	grpcAddr      string
	httpAddr      string
	health        *observability.LedgerHealth
	logger        zerolog.Logger
}

// NewGRPCServer creates a gRPC server with the ledger, health and reflection
// services registered. With hc set, the gRPC health status follows the
// ledger's readiness; without it the server reports SERVING.
func NewGRPCServer(grpcAddr, httpAddr string, ledger *LedgerServer, hc *observability.LedgerHealth, logger zerolog.Logger) *GRPCServer {
	// The ledger service is selected by the "json" content subtype; health
	// and reflection keep the default proto codec.
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(statusInterceptor, loggingInterceptor(logger)),
	)

	RegisterLedgerService(grpcServer, ledger)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	if hc != nil {
		hc.Watch(func(ready bool) {
			st := healthpb.HealthCheckResponse_NOT_SERVING
			if ready {
				st = healthpb.HealthCheckResponse_SERVING
			}
			healthServer.SetServingStatus("", st)
			healthServer.SetServingStatus(ServiceName, st)
		})
	} else {
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	}

	// Reflection for grpcurl
	reflection.Register(grpcServer)

	return &GRPCServer{
		grpcServer:    grpcServer,
		ledger:        ledger,
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		health:        hc,
		logger:        logger,
	}
}

// statusInterceptor converts ledger errors into gRPC statuses.
func statusInterceptor(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	resp, err := handler(ctx, req)
	return resp, ToStatus(err)
}

func loggingInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if err != nil {
			code, _ := ledgererr.CodeOf(err)
			logger.Debug().
				Str("method", info.FullMethod).
				Str("code", string(code)).
				Err(err).
				Dur("took", time.Since(start)).
				Msg("rpc failed")
		}
		return resp, err
	}
}

// StartGRPC starts the gRPC server (blocking).
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves gRPC on lis until ctx is cancelled.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTPGateway starts the HTTP/JSON gateway (blocking). Routes call the
// ledger service in process.
func (s *GRPCServer) StartHTTPGateway(ctx context.Context) error {
	mux, err := NewGatewayMux(s.ledger)
	if err != nil {
		return err
	}

	httpMux := http.NewServeMux()
	if s.health != nil {
		httpMux.HandleFunc("/healthz", s.health.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.health.ReadinessHandler)
	} else {
		httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			fmt.Fprintf(w, `{"status":"ok"}`)
		})
	}
	httpMux.Handle("/", mux)

	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           httpMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.httpAddr).Msg("HTTP gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ============================================================================
// HTTP gateway
// ============================================================================

// NewGatewayMux builds the HTTP/JSON routes over ls.
func NewGatewayMux(ls *LedgerServer) (*runtime.ServeMux, error) {
	mux := runtime.NewServeMux()

	routes := []struct {
		method, path string
		h            runtime.HandlerFunc
	}{
		{http.MethodGet, "/v1/owners/{owner}/balances", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			owner, err := pathUUID(p, "owner")
			if err != nil {
				writeError(w, err)
				return
			}
			respond(w)(ls.GetBalances(r.Context(), &GetBalancesRequest{Owner: owner}))
		}},
		{http.MethodGet, "/v1/owners/{owner}/orders", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			owner, err := pathUUID(p, "owner")
			if err != nil {
				writeError(w, err)
				return
			}
			limit, before, err := pageParams(r)
			if err != nil {
				writeError(w, err)
				return
			}
			respond(w)(ls.ListOrders(r.Context(), &ListOrdersRequest{
				Owner:  &owner,
				Status: r.URL.Query().Get("status"),
				Limit:  limit,
				Before: before,
			}))
		}},
		{http.MethodGet, "/v1/owners/{owner}/journals", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			owner, err := pathUUID(p, "owner")
			if err != nil {
				writeError(w, err)
				return
			}
			limit, before, err := pageParams(r)
			if err != nil {
				writeError(w, err)
				return
			}
			respond(w)(ls.ListJournals(r.Context(), &ListJournalsRequest{Owner: owner, Limit: limit, Before: before}))
		}},
		{http.MethodGet, "/v1/orders/{order_id}", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			id, err := pathUUID(p, "order_id")
			if err != nil {
				writeError(w, err)
				return
			}
			respond(w)(ls.GetOrder(r.Context(), &GetOrderRequest{OrderID: id}))
		}},
		{http.MethodGet, "/v1/order-books/{book}", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			id, err := pathUUID(p, "book")
			if err != nil {
				writeError(w, err)
				return
			}
			respond(w)(ls.GetOrderBook(r.Context(), &GetOrderBookRequest{OrderBookID: id}))
		}},
		{http.MethodGet, "/v1/order-books/{book}/trades", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			id, err := pathUUID(p, "book")
			if err != nil {
				writeError(w, err)
				return
			}
			limit, before, err := pageParams(r)
			if err != nil {
				writeError(w, err)
				return
			}
			respond(w)(ls.ListTrades(r.Context(), &ListTradesRequest{OrderBookID: &id, Limit: limit, Before: before}))
		}},
		{http.MethodGet, "/v1/admin/integrity", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			respond(w)(ls.VerifyIntegrity(r.Context(), &VerifyIntegrityRequest{}))
		}},
		{http.MethodGet, "/v1/admin/status", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			respond(w)(ls.GetSystemStatus(r.Context(), &GetSystemStatusRequest{}))
		}},
		{http.MethodPost, "/v1/admin/snapshot", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			respond(w)(ls.TakeSnapshot(r.Context(), &TakeSnapshotRequest{}))
		}},
		{http.MethodPost, "/v1/commands/{type}", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			evt, err := decodeCommand(p["type"], r.Body)
			if err != nil {
				writeError(w, err)
				return
			}
			respond(w)(ls.Submit(r.Context(), evt))
		}},
	}

	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.path, rt.h); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", rt.method, rt.path, err)
		}
	}
	return mux, nil
}

// decodeCommand reads a command body. The path segment is the event type
// name the command produces, e.g. OrderPlaced.
func decodeCommand(typeName string, body io.Reader) (event.Event, error) {
	et := event.ParseEventType(typeName)
	if et == event.EventTypeUnknown {
		return nil, ledgererr.New(ledgererr.InvalidArgument, "unknown command type %q", typeName)
	}
	payload, err := io.ReadAll(io.LimitReader(body, maxCommandBody+1))
	if err != nil {
		return nil, ledgererr.Wrap(ledgererr.InvalidArgument, err, "read body")
	}
	if len(payload) > maxCommandBody {
		return nil, ledgererr.New(ledgererr.InvalidArgument, "body exceeds %d bytes", maxCommandBody)
	}
	evt, err := event.Decode(et, payload)
	if err != nil {
		return nil, ledgererr.Wrap(ledgererr.InvalidArgument, err, "decode command")
	}
	return evt, nil
}

func pathUUID(params map[string]string, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(params[name])
	if err != nil {
		return uuid.Nil, ledgererr.Wrap(ledgererr.InvalidArgument, err, name)
	}
	return id, nil
}

func pageParams(r *http.Request) (int, *int64, error) {
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, nil, ledgererr.Wrap(ledgererr.InvalidArgument, err, "limit")
		}
		limit = n
	}
	var before *int64
	if v := q.Get("before"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, nil, ledgererr.Wrap(ledgererr.InvalidArgument, err, "before")
		}
		before = &n
	}
	return limit, before, nil
}

// respond returns a sink for a (response, error) pair.
func respond(w http.ResponseWriter) func(any, error) {
	return func(resp any, err error) {
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	st := status.Convert(ToStatus(err))
	code, ok := ledgererr.CodeOf(err)
	if !ok {
		code = ledgererr.Internal
	}
	writeJSON(w, runtime.HTTPStatusFromCode(st.Code()), errorBody{Code: string(code), Message: st.Message()})
}

func writeJSON(w http.ResponseWriter, httpStatus int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(v)
}
