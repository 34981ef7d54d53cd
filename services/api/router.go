// Package api is the HTTP surface of the dispatch server: agent reports,
// order intake and assignment, reports, and the Telegram webhook.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"slsdispatch/services/coordinator"
	"slsdispatch/services/fleet"
	"slsdispatch/services/heartbeat"
	"slsdispatch/services/naming"
	"slsdispatch/services/notify"
	"slsdispatch/services/reports"
)

const defaultRateLimit = 600

// Chat answers Telegram commands. Satisfied by *notify.Telegram.
type Chat interface {
	Reply(ctx context.Context, chatID, tmpl string, data any) fleet.Delivery
	SendText(ctx context.Context, chatID, text string, kb *notify.InlineKeyboard) fleet.Delivery
	SendReport(ctx context.Context, chatID string, rep notify.Report) fleet.Delivery
}

// Pinger reports backend readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config controls runtime behaviour for the API handlers.
type Config struct {
	// WebhookSecret must match the webhook's token query parameter when set.
	WebhookSecret string
	// LeadChatID restricts assign callbacks when set.
	LeadChatID     string
	AllowedOrigins []string
	// RateLimit is requests per minute per client IP.
	RateLimit int
	Location  *time.Location
}

// Deps groups the domain services behind the handlers.
type Deps struct {
	Heartbeats  *heartbeat.Processor
	Coordinator *coordinator.Coordinator
	Names       *naming.Canonicalizer
	Reports     *reports.Builder
	Chat        Chat
	Ready       Pinger
}

// API wires dependencies and configuration for HTTP handlers.
type API struct {
	heartbeats  *heartbeat.Processor
	coordinator *coordinator.Coordinator
	names       *naming.Canonicalizer
	reports     *reports.Builder
	chat        Chat
	ready       Pinger
	config      Config
	log         zerolog.Logger
	now         func() time.Time
}

// New initialises the API layer with defaults applied to the provided configuration.
func New(deps Deps, cfg Config, logger zerolog.Logger) (*API, error) {
	switch {
	case deps.Heartbeats == nil:
		return nil, errors.New("heartbeat processor is required")
	case deps.Coordinator == nil:
		return nil, errors.New("coordinator is required")
	case deps.Names == nil:
		return nil, errors.New("canonicalizer is required")
	case deps.Reports == nil:
		return nil, errors.New("report builder is required")
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &API{
		heartbeats:  deps.Heartbeats,
		coordinator: deps.Coordinator,
		names:       deps.Names,
		reports:     deps.Reports,
		chat:        deps.Chat,
		ready:       deps.Ready,
		config:      cfg,
		log:         logger.With().Str("component", "api").Logger(),
		now:         time.Now,
	}, nil
}

// Routes constructs the chi router containing all API endpoints. mw wraps the
// versioned routes, typically the telemetry middleware.
func (a *API) Routes(mw ...func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	allowed := a.config.AllowedOrigins
	if len(allowed) == 0 {
		allowed = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowed,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         int((10 * time.Minute).Seconds()),
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", a.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(mw...)
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(httprate.LimitByIP(a.config.RateLimit, time.Minute))

		r.Post("/agents/register", a.handleRegister)
		r.Post("/agents/heartbeat", a.handleHeartbeat)
		r.Post("/agents/event", a.handleEvent)
		r.Get("/agents/workers", a.handleWorkers)

		r.Post("/orders", a.handleCreateOrder)
		r.Get("/orders", a.handleRecentOrders)
		r.Get("/orders/{id}", a.handleGetOrder)
		r.Post("/assign", a.handleAssign)

		r.Method(http.MethodGet, "/reports", gzhttp.GzipHandler(http.HandlerFunc(a.handleReport)))
		r.Post("/rules/reload", a.handleRulesReload)

		r.Post("/webhooks/telegram", a.handleTelegramWebhook)
	})

	return r
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	if a.ready != nil {
		ctx, cancel := withTimeout(r.Context())
		defer cancel()
		if err := a.ready.Ping(ctx); err != nil {
			respondError(w, http.StatusServiceUnavailable, err)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
