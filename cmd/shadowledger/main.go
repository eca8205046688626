package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ShadowSwap/internal/config"
	"ShadowSwap/internal/core"
	"ShadowSwap/internal/ingestion"
	"ShadowSwap/internal/keeper"
	"ShadowSwap/internal/observability"
	"ShadowSwap/internal/persistence"
	"ShadowSwap/internal/projection"
	"ShadowSwap/internal/query"
	"ShadowSwap/internal/server"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	logger := observability.NewLogger("shadowledger")
	logger.Info().Msg("ShadowSwap ledger starting")

	cfg, err := config.LoadLedger()
	if err != nil {
		logger.Fatal().Err(err).Msg("load configuration")
	}

	if os.Getenv("GOGC") == "" {
		logger.Warn().Msg("GOGC not set, recommend GOGC=400 for production")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Three shutdown stages: ingress stops first, then the core, then the
	// workers that drain what the core produced.
	ingressCtx, stopIngress := context.WithCancel(context.Background())
	defer stopIngress()
	coreCtx, stopCore := context.WithCancel(context.Background())
	defer stopCore()
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ingressCtx); err != nil {
		logger.Fatal().Err(err).Msg("postgres ping")
	}
	logger.Info().Msg("Postgres connected")

	if err := persistence.NewMigrator(db, cfg.MigrationsDir, logger).Up(ingressCtx); err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}

	// --- Observability ---
	metrics := observability.NewMetrics()
	health := observability.NewLedgerHealth(observability.StageRecovered, observability.StageDispatcher, observability.StageIngress)

	// --- Channels ---
	// The persist channel blocks (backpressure); projection and publish drop.
	persistChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	projectionChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)
	publishChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)

	// --- Core ---
	dbChecker := persistence.NewPostgresIdempotencyChecker(db)
	deterministicCore := core.NewDeterministicCore(0, persistChan, projectionChan, dbChecker, metrics)

	errChan := make(chan error, 16)
	run := func(name string, fn func() error) {
		go func() {
			if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
				errChan <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	// 1. Persistence worker. It runs during recovery to drain the replayed
	// outputs; the writes are idempotent.
	persistDone := make(chan struct{})
	persistWorker := persistence.NewPersistenceWorker(db, persistChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics, logger).
		PublishTo(publishChan)
	run("persistence worker", func() error {
		defer close(persistDone)
		return persistWorker.Run(workerCtx)
	})

	// 2. Projection worker
	projWorker := projection.NewProjectionWorker(db, projectionChan, metrics, logger)
	run("projection worker", func() error { return projWorker.Run(workerCtx) })

	// --- Recovery: snapshot restore and replay ---
	snapMgr := persistence.NewSnapshotManager(db)
	if _, err := persistence.Recover(ingressCtx, snapMgr, deterministicCore, metrics, logger); err != nil {
		logger.Fatal().Err(err).Msg("recovery failed")
	}
	dbChecker.Activate()
	health.Complete(observability.StageRecovered)

	// 3. Dispatcher: the only goroutine touching the core from here on.
	dispatcher := core.NewDispatcher(deterministicCore, cfg.DispatchQueueSize, metrics, logger)
	dispatcherDone := make(chan struct{})
	run("dispatcher", func() error {
		defer close(dispatcherDone)
		return dispatcher.Run(coreCtx)
	})
	health.Complete(observability.StageDispatcher)

	// 4. Periodic snapshots
	snapshotter := persistence.NewSnapshotter(dispatcher, snapMgr, cfg.SnapshotInterval, metrics, logger)
	run("snapshotter", func() error { return snapshotter.Run(coreCtx) })

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()
	logger.Info().Msg("NATS connected")

	if err := ingestion.EnsureStreams(ingressCtx, js, logger); err != nil {
		logger.Fatal().Err(err).Msg("ensure NATS streams")
	}
	if err := ingestion.EnsureOutboundStream(ingressCtx, js, logger); err != nil {
		logger.Fatal().Err(err).Msg("ensure outbound stream")
	}

	// 5. Outbound publisher
	outboundPublisher := ingestion.NewOutboundPublisher(js, publishChan, logger)
	run("outbound publisher", func() error { return outboundPublisher.Run(workerCtx) })

	// 6. NATS -> dispatcher
	rawEventChan := make(chan ingestion.RawEvent, 4096)
	natsSubscriber := ingestion.NewNATSSubscriber(js, rawEventChan, logger)
	if err := natsSubscriber.Subscribe(ingressCtx, ingestion.DefaultSubjects()); err != nil {
		logger.Fatal().Err(err).Msg("nats subscribe")
	}
	ingestor := ingestion.NewIngestor(rawEventChan, dispatcher, metrics, logger)
	run("ingestor", func() error { return ingestor.Run(ingressCtx) })
	health.Complete(observability.StageIngress)

	// 7. gRPC and HTTP gateway
	ledgerServer := server.NewLedgerServer(server.ServerDeps{
		Ledger:      keeper.NewLocalLedger(dispatcher),
		Ingest:      ingestion.NewGRPCIngestService(dispatcher, metrics),
		Queries:     query.NewQueryService(db, metrics),
		SnapshotMgr: snapMgr,
		Snapshotter: snapshotter,
		StartTime:   time.Now(),
	})
	grpcServer := server.NewGRPCServer(cfg.GRPCAddr, cfg.HTTPAddr, ledgerServer, health, logger)
	run("grpc server", func() error { return grpcServer.StartGRPC(ingressCtx) })
	run("http gateway", func() error { return grpcServer.StartHTTPGateway(ingressCtx) })

	// 8. Prometheus metrics server
	run("metrics server", func() error { return serveMetrics(workerCtx, cfg.MetricsAddr, logger) })

	logger.Info().
		Int64("next_sequence", deterministicCore.GetSequence()).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("ShadowSwap ledger ready")

	// --- Wait for shutdown signal ---
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		logger.Error().Err(err).Msg("goroutine failed, shutting down")
	}
	health.Drain()

	// --- Graceful shutdown ---
	stopIngress()
	natsSubscriber.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Final snapshot while the dispatcher still serves reads.
	if seq, err := snapshotter.TakeSnapshot(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
	} else {
		logger.Info().Int64("sequence", seq).Msg("final snapshot saved")
	}

	stopCore()
	select {
	case <-dispatcherDone:
		// Nothing sends on the persist channel once the dispatcher is gone.
		close(persistChan)
		select {
		case <-persistDone:
		case <-shutdownCtx.Done():
			logger.Error().Msg("persistence worker did not finish before the shutdown deadline")
		}
		snapshotter.VerifyPending(shutdownCtx)
	case <-shutdownCtx.Done():
		// Blocked on a full persist channel. Unflushed commands are lost
		// and the next start resumes from the last durable sequence.
		logger.Error().Msg("dispatcher did not stop before the shutdown deadline")
	}
	stopWorkers()

	logger.Info().Msg("ShadowSwap ledger shutdown complete")
}

func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) error {
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              addr,
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		metricsServer.Shutdown(shutCtx)
	}()
	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
