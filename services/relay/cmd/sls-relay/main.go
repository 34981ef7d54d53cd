package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-envconfig"

	"slsdispatch/pkg/bus"
	"slsdispatch/pkg/logging"
	"slsdispatch/pkg/render"
	"slsdispatch/services/notify"
	"slsdispatch/services/relay"
)

const serviceName = "sls-relay"

type config struct {
	NATSURL       string `env:"NATS_URL, required"`
	TelegramToken string `env:"TELEGRAM_BOT_TOKEN"`
	LeadChatID    string `env:"TEAM_LEAD_CHAT_ID"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL"`
	MetricsAddr   string `env:"METRICS_ADDR, default=:9102"`
	LogLevel      string `env:"LOG_LEVEL, default=info"`
	LogFormat     string `env:"LOG_FORMAT, default=json"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	logger := logging.Setup(serviceName, cfg.LogLevel, cfg.LogFormat)

	tg := notify.NewTelegram(notify.TelegramConfig{
		Token:      cfg.TelegramToken,
		LeadChatID: cfg.LeadChatID,
		PublicURL:  cfg.PublicBaseURL,
	}, render.MustNew(), logger)
	if !tg.Configured() {
		logger.Warn().Msg("telegram not configured; messages will be acked and skipped")
	}

	b, err := bus.New(cfg.NATSURL, nats.Name(serviceName))
	if err != nil {
		logger.Fatal().Err(err).Msg("connect nats")
	}
	defer b.Close()
	if err := b.EnsureStream(notify.StreamName, notify.Subjects...); err != nil {
		logger.Fatal().Err(err).Msg("ensure notice stream")
	}

	r, err := relay.New(b, tg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("init relay")
	}
	if err := r.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("start relay")
	}
	defer r.Close()

	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if !b.Connected() {
			http.Error(w, "nats disconnected", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	router.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics listener stopped")
		}
	}()

	logger.Info().Str("metrics_addr", cfg.MetricsAddr).Msg("relay running")
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info().Msg("relay stopped")
}
