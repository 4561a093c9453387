package main

import (
	"PerpMetrics/internal/core"
	"PerpMetrics/internal/ingestion"
	"PerpMetrics/internal/observability"
	"PerpMetrics/internal/persistence"
	"PerpMetrics/internal/position"
	"PerpMetrics/internal/query"
	"PerpMetrics/internal/server"
	"PerpMetrics/internal/tracker"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

const (
	priceConsumerName = "perpmetrics-prices"
	shutdownTimeout   = 30 * time.Second
)

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the valuation API, price subscriber and account tracker",
		Args:  cobra.NoArgs,
		RunE:  serveFunc,
	}
}

func serveFunc(c *cobra.Command, _ []string) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger := observability.NewLoggerWithLevel("perpmetrics", observability.ParseLogLevel(cfg.LogLevel))
	logger.Info().Msg("PerpMetrics starting")

	// --- Context with graceful shutdown ---
	ctx, cancel := context.WithCancel(c.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	healthChecker := observability.NewHealthChecker("database", "nats")

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("postgres open: %w", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	logger.Info().Msg("Postgres connected")

	applied, err := persistence.NewMigrator(db, persistence.MigrationsFrom(cfg.MigrationsDir), logger).Up(ctx)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info().Int("applied", applied).Msg("migrations up to date")
	healthChecker.SetDependency("database", true)

	store := persistence.NewSnapshotStore(db, cfg.VaultStride, metrics)
	writer := persistence.NewValuationWriter(db)

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, logger)
	if err != nil {
		return err
	}
	defer nc.Close()
	logger.Info().Msg("NATS connected")

	if err := ingestion.EnsureStreams(ctx, js, cfg.PriceStream, cfg.PriceSubject, cfg.ValuationStream); err != nil {
		return fmt.Errorf("ensure NATS streams: %w", err)
	}

	priceBook := ingestion.NewPriceBook(cfg.PriceMaxAge, metrics)
	subscriber := ingestion.NewPriceSubscriber(js, priceBook, metrics, logger)
	if err := subscriber.Subscribe(ctx, ingestion.PriceSubscriberConfig{
		StreamName:   cfg.PriceStream,
		Subject:      cfg.PriceSubject,
		ConsumerName: priceConsumerName,
	}); err != nil {
		return fmt.Errorf("price subscribe: %w", err)
	}
	healthChecker.SetDependency("nats", true)

	publisher := ingestion.NewValuationPublisher(js, cfg.PublishChanSize, metrics, logger)

	// --- Services ---
	pipeline := core.NewPipeline(cfg.NormalizerConfig(), cfg.PositionConfig(), metrics, logger)
	queryService := query.NewQueryService(store, priceBook, pipeline, query.Options{
		MarginFeeBps:   cfg.MarginFeeBps,
		RequestTimeout: cfg.RequestTimeout,
		Metrics:        metrics,
		Logger:         logger,
	})

	srv, err := server.New(cfg.GRPCAddr, cfg.HTTPAddr, server.Deps{
		Queries:       queryService,
		HealthChecker: healthChecker,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	// --- Account tracker ---
	persistChan := make(chan []persistence.ValuationRow, cfg.PersistChanSize)
	changes, err := core.NewChangeTracker(max(len(cfg.TrackedAccounts), 1))
	if err != nil {
		return err
	}
	trk, err := tracker.New(tracker.Config{
		Accounts:   cfg.TrackedAccounts,
		Interval:   cfg.ValuationInterval,
		Options:    position.Options{},
		Ledger:     store,
		Prices:     priceBook,
		Pipeline:   pipeline,
		Changes:    changes,
		PersistOut: persistChan,
		Publisher:  publisher,
		Metrics:    metrics,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	if digests, err := writer.LatestDigests(ctx); err != nil {
		logger.Warn().Err(err).Msg("could not load stored digests, first cycle rewrites every book")
	} else {
		trk.Prime(digests)
	}

	// --- Start goroutines ---
	errChan := make(chan error, 8)

	// 1. Persistence worker
	persistWorker := persistence.NewPersistenceWorker(writer, persistChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics, logger)
	persistDone := make(chan struct{})
	go func() {
		defer close(persistDone)
		if err := persistWorker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("persistence worker: %w", err)
		}
	}()

	// 2. Valuation publisher
	go func() {
		_ = publisher.Run(ctx)
	}()

	// 3. Tracked-account revaluation
	go func() {
		_ = trk.Run(ctx)
	}()

	// 4. gRPC server
	go func() {
		if err := srv.StartGRPC(ctx); err != nil {
			errChan <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	// 5. HTTP/JSON gateway
	go func() {
		if err := srv.StartHTTPGateway(ctx); err != nil {
			errChan <- fmt.Errorf("http gateway: %w", err)
		}
	}()

	// 6. Prometheus metrics server
	go func() {
		if err := serveMetrics(ctx, cfg.MetricsAddr); err != nil {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	logger.Info().
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Int("tracked_accounts", len(cfg.TrackedAccounts)).
		Msg("PerpMetrics ready")

	// --- Wait for shutdown signal ---
	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case runErr = <-errChan:
		logger.Error().Err(runErr).Msg("goroutine failed, shutting down")
	case <-ctx.Done():
	}

	// --- Graceful shutdown ---
	cancel()
	subscriber.Stop()

	select {
	case <-persistDone:
	case <-time.After(shutdownTimeout):
		logger.Warn().Msg("persistence worker did not finish before timeout")
	}

	logger.Info().Msg("PerpMetrics shutdown complete")
	return runErr
}

func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutCtx)
	}()
	if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
