package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/httplog"
	"github.com/marcelsud/webhook-relay/blob/s3"
	"github.com/marcelsud/webhook-relay/config"
	"github.com/marcelsud/webhook-relay/endpoint"
	endpointpg "github.com/marcelsud/webhook-relay/endpoint/postgres"
	"github.com/marcelsud/webhook-relay/internal/database"
	"github.com/marcelsud/webhook-relay/internal/http/chi"
	"github.com/marcelsud/webhook-relay/metrics"
	redisqueue "github.com/marcelsud/webhook-relay/queue/redis"
	"github.com/marcelsud/webhook-relay/stats"
	statspg "github.com/marcelsud/webhook-relay/stats/postgres"
	"github.com/marcelsud/webhook-relay/webhook"
	webhookpg "github.com/marcelsud/webhook-relay/webhook/postgres"
)

/* api is the intake process: it authenticates callbacks, stores them and
 * enqueues the first delivery attempt. Delivery happens in cmd/forwarder.
 *
 * Imports only go downward: main wires the business packages, which
 * import the storage layer.
 */

func main() {
	cfg, err := config.GetConfig()
	if err != nil {
		fmt.Println(err)
		return
	}
	logger := httplog.NewLogger("webhook-relay-api", httplog.Options{
		JSON:     true,
		LogLevel: cfg.LogLevel,
	})

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT,
	)
	defer stop()

	if cfg.AutoMigrate {
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			logger.Error().Err(err).Msg("running migrations")
			return
		}
		logger.Info().Msg("migrations applied")
	}

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
	q := redisqueue.NewQueue(rdb, "api")

	events := webhookpg.NewRepository(pool)
	endpoints := endpoint.NewService(endpointpg.NewRepository(pool))
	aggregator := stats.NewAggregator(statspg.NewRepository(pool), logger)
	s := webhook.NewService(events, blobs, q, aggregator, endpoints, logger)

	exporter, err := metrics.NewOTelExporter(metrics.NewCollector(q, events), nil)
	if err != nil {
		logger.Error().Err(err).Msg("creating metrics exporter")
		return
	}
	defer exporter.Shutdown(context.Background())

	r := chi.Handlers(ctx, s, chi.Options{
		Logger:          &logger,
		MaxPayloadBytes: cfg.MaxPayloadBytes,
		Metrics:         exporter.Handler(),
		Checks: map[string]chi.Check{
			"database": func(ctx context.Context) error { return pool.Ping(ctx) },
			"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		},
	})
	srv := &http.Server{
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		Addr:         ":" + cfg.Port,
		Handler:      r,
	}

	errShutdown := make(chan error, 1)
	go shutdown(srv, ctx, cfg.ShutdownTimeout(), errShutdown)
	logger.Info().Str("port", cfg.Port).Msg("listening")
	err = srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("serving http")
		return
	}
	if err := <-errShutdown; err != nil {
		logger.Error().Err(err).Msg("shutting down")
		return
	}
	logger.Info().Msg("server stopped")
}

func shutdown(server *http.Server, ctxShutdown context.Context, timeout time.Duration, errShutdown chan error) {
	<-ctxShutdown.Done()

	ctxTimeout, stop := context.WithTimeout(context.Background(), timeout)
	defer stop()

	err := server.Shutdown(ctxTimeout)
	switch {
	case err == nil:
		errShutdown <- nil
	case errors.Is(err, context.DeadlineExceeded):
		errShutdown <- fmt.Errorf("forcing closing the server after %s", timeout)
	default:
		errShutdown <- fmt.Errorf("forcing closing the server: %w", err)
	}
}
