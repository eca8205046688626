package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ShadowSwap/internal/audit"
	"ShadowSwap/internal/config"
	"ShadowSwap/internal/decrypt"
	"ShadowSwap/internal/keeper"
	"ShadowSwap/internal/observability"
	"ShadowSwap/internal/outbox"
	"ShadowSwap/internal/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	logger := observability.NewLogger("keeper")

	cfg, err := config.LoadKeeper()
	if err != nil {
		logger.Fatal().Err(err).Msg("load configuration")
	}
	logger = observability.KeeperLogger(logger, cfg.KeeperID, cfg.OrderBookID)
	logger.Info().Str("ledger", cfg.LedgerAddr).Msg("settlement keeper starting")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// --- Metrics ---
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewKeeperMetrics(reg)
	go serveMetrics(ctx, cfg.MetricsAddr, reg, logger)

	// --- Decryption ---
	var dec decrypt.Decryptor
	if cfg.Decrypt.Mock {
		logger.Warn().Msg("mock decryption enabled, do not use in production")
		dec = decrypt.NewMockDecryptor()
	} else {
		mpc, err := decrypt.NewMPCClient(decrypt.MPCConfig{
			BaseURL:      cfg.Decrypt.MPCURL,
			ClientID:     cfg.Decrypt.ClientID,
			ClientSecret: cfg.Decrypt.ClientSecret,
			HTTPTimeout:  cfg.Decrypt.CallTimeout,
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("mpc client")
		}
		if err := mpc.Authenticate(ctx); err != nil {
			// The client re-authenticates on first use.
			logger.Warn().Err(err).Msg("initial MPC authentication failed")
		}
		dec = mpc
	}
	gateway := decrypt.NewGateway(dec, decrypt.GatewayConfig{
		ChunkSize:      cfg.Decrypt.ChunkSize,
		MaxConcurrency: cfg.Decrypt.MaxConcurrency,
		CallTimeout:    cfg.Decrypt.CallTimeout,
	}, metrics, logger)

	// --- Submission outbox ---
	store, err := outbox.Open(cfg.OutboxDir)
	if err != nil {
		logger.Fatal().Err(err).Str("dir", cfg.OutboxDir).Msg("open outbox")
	}
	defer store.Close()
	go pruneOutbox(ctx, store, cfg.OutboxTTL, logger)

	// --- Ledger connection ---
	ledger, err := server.Dial(cfg.LedgerAddr)
	if err != nil {
		logger.Fatal().Err(err).Msg("dial ledger")
	}
	defer ledger.Close()

	opts := []keeper.Option{
		keeper.WithOutbox(store),
		keeper.WithMetrics(metrics),
	}
	if len(cfg.KafkaBrokers) > 0 {
		sink := audit.NewKafkaSink(cfg.KafkaBrokers, cfg.AuditTopic)
		defer sink.Close()
		opts = append(opts, keeper.WithAuditSink(sink))
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.AuditTopic).Msg("audit sink enabled")
	}

	orch := keeper.NewOrchestrator(keeper.Config{
		KeeperID:     cfg.KeeperID,
		OrderBookID:  cfg.OrderBookID,
		PollInterval: cfg.PollInterval,
		CallTimeout:  cfg.CallTimeout,
		ErrorBackoff: cfg.ErrorBackoff,
		Quarantine:   cfg.Quarantine,
		Retry: keeper.Backoff{
			MaxAttempts: cfg.MaxRetries,
			Base:        cfg.RetryDelay,
			Max:         cfg.MaxRetryDelay,
		},
		TwoPhase:            cfg.TwoPhase,
		Prioritize:          cfg.Prioritize,
		MaxImmediateRefetch: 3,
	}, ledger, gateway, logger, opts...)

	if err := orch.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("keeper stopped with error")
		cancel()
		os.Exit(1)
	}
	logger.Info().Msg("keeper shutdown complete")
}

func pruneOutbox(ctx context.Context, store *outbox.Store, ttl time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.Prune(ttl)
			if err != nil {
				logger.Warn().Err(err).Msg("outbox prune failed")
				continue
			}
			if n > 0 {
				logger.Info().Int("removed", n).Msg("outbox pruned")
			}
		}
	}
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()
	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server failed")
	}
}
