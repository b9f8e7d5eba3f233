package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/httplog"
	"github.com/google/uuid"
	"github.com/marcelsud/webhook-relay/blob/s3"
	"github.com/marcelsud/webhook-relay/config"
	"github.com/marcelsud/webhook-relay/endpoint"
	endpointpg "github.com/marcelsud/webhook-relay/endpoint/postgres"
	"github.com/marcelsud/webhook-relay/forwarder"
	"github.com/marcelsud/webhook-relay/internal/database"
	"github.com/marcelsud/webhook-relay/metrics"
	redisqueue "github.com/marcelsud/webhook-relay/queue/redis"
	"github.com/marcelsud/webhook-relay/scheduler"
	"github.com/marcelsud/webhook-relay/stats"
	statspg "github.com/marcelsud/webhook-relay/stats/postgres"
	webhookpg "github.com/marcelsud/webhook-relay/webhook/postgres"
	"golang.org/x/sync/errgroup"
)

/* forwarder is the delivery process. One consumer, the retry scheduler,
 * the reconciler and the metrics server run under one errgroup and stop
 * together on the first signal.
 */

func main() {
	cfg, err := config.GetConfig()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	logger := httplog.NewLogger("webhook-relay-forwarder", httplog.Options{
		JSON:     true,
		LogLevel: cfg.LogLevel,
	})

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT,
	)
	defer stop()

	go func() {
		<-ctx.Done()
		time.Sleep(cfg.ShutdownTimeout())
		logger.Error().Dur("timeout", cfg.ShutdownTimeout()).Msg("forced shutdown after timeout")
		os.Exit(1)
	}()

	pool, err := database.NewPool(ctx, cfg.DatabaseURL, database.PoolOptions{MaxConns: 10})
	if err != nil {
		logger.Error().Err(err).Msg("connecting to database")
		return
	}
	defer pool.Close()

	blobs, err := s3.NewStore(s3.Options{
		Bucket:          cfg.S3Bucket,
		Region:          cfg.S3Region,
		Endpoint:        cfg.S3Endpoint,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
		UsePathStyle:    cfg.S3UsePathStyle,
	})
	if err != nil {
		logger.Error().Err(err).Msg("creating blob store")
		return
	}

	rdb, err := redisqueue.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Error().Err(err).Msg("connecting to redis")
		return
	}
	defer rdb.Close()

	workerID := cfg.WorkerID
	if workerID == "" {
		host, _ := os.Hostname()
		workerID = host + "-" + uuid.NewString()[:8]
	}
	q := redisqueue.NewQueue(rdb, workerID)
	logger = logger.With().Str("worker_id", workerID).Logger()

	// a restarted worker with a fixed id picks up what it held before the crash
	if n, err := q.RequeueInFlight(ctx, workerID); err != nil {
		logger.Error().Err(err).Msg("requeueing in-flight messages")
	} else if n > 0 {
		logger.Warn().Int("count", n).Msg("requeued in-flight messages")
	}

	events := webhookpg.NewRepository(pool)
	endpoints := endpoint.NewService(endpointpg.NewRepository(pool))
	aggregator := stats.NewAggregator(statspg.NewRepository(pool), logger)

	exporter, err := metrics.NewOTelExporter(metrics.NewCollector(q, events), nil)
	if err != nil {
		logger.Error().Err(err).Msg("creating metrics exporter")
		return
	}
	defer exporter.Shutdown(context.Background())
	recorder, err := metrics.NewRecorder(exporter.Meter())
	if err != nil {
		logger.Error().Err(err).Msg("creating delivery metrics")
		return
	}

	fwd := forwarder.New(forwarder.Config{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.RetryDelay(),
		Backoff:     cfg.BackoffMultiplier,
		Timeout:     cfg.DeliveryTimeout(),
	}, events, blobs, q, forwarder.NewHTTPSender(nil), aggregator, logger).
		WithSecrets(endpoints).
		WithMetrics(recorder)

	consumerCfg := forwarder.DefaultConsumerConfig()
	consumerCfg.DequeueTimeout = cfg.DequeueTimeout()
	consumer := forwarder.NewConsumer(consumerCfg, q, fwd, logger)

	retries := scheduler.NewRetryScheduler(scheduler.RetryConfig{
		PollInterval: cfg.RetryPollInterval(),
	}, q, fwd, logger)

	reconcilerCfg := scheduler.DefaultReconcilerConfig()
	reconcilerCfg.Interval = cfg.ReconcileInterval()
	reconcilerCfg.Threshold = cfg.ReconcileThreshold()
	reconciler := scheduler.NewReconciler(reconcilerCfg, events, q, logger)

	mux := http.NewServeMux()
	mux.Handle("/metrics", exporter.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy"}`))
	})
	metricsSrv := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return consumer.Run(gctx) })
	g.Go(func() error { return retries.Run(gctx) })
	g.Go(func() error { return reconciler.Run(gctx) })
	g.Go(func() error {
		logger.Info().Str("port", cfg.MetricsPort).Msg("metrics server listening")
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving metrics: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})

	logger.Info().Msg("forwarder started")
	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("forwarder stopped with error")
		return
	}
	logger.Info().Msg("forwarder stopped")
}
