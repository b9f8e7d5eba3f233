package chi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog"
	"github.com/marcelsud/webhook-relay/webhook"
	"github.com/rs/zerolog"
)

const (
	requestTimeout         = 30 * time.Second
	defaultMaxPayloadBytes = 1 << 20
)

// Check reports whether a dependency is reachable
type Check func(ctx context.Context) error

type Options struct {
	// Logger is the httplog logger; the zero value creates one named "webhook-relay"
	Logger          *zerolog.Logger
	MaxPayloadBytes int64
	// Checks run on GET /health, keyed by dependency name
	Checks map[string]Check
	// Metrics, when set, is served on GET /metrics
	Metrics http.Handler
}

// Handlers builds the intake API router
func Handlers(ctx context.Context, webhookService webhook.UseCase, opts Options) *chi.Mux {
	logger := httplog.NewLogger("webhook-relay", httplog.Options{
		JSON: true,
	})
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	if opts.MaxPayloadBytes <= 0 {
		opts.MaxPayloadBytes = defaultMaxPayloadBytes
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httplog.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "Not found"})
	})

	r.Route("/health", func(r chi.Router) {
		r.Get("/", health(opts.Checks))
		r.Get("/ready", ready(opts.Checks))
		r.Get("/live", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]bool{"alive": true})
		})
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/webhook/{endpointId}", func(r chi.Router) {
		r.Post("/", postWebhook(webhookService, opts.MaxPayloadBytes))
		r.Get("/events/{eventId}", getEventStatus(webhookService))
	})

	return r
}
