package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"slsdispatch/pkg/bus"
	"slsdispatch/pkg/db"
	"slsdispatch/pkg/logging"
	"slsdispatch/pkg/render"
	"slsdispatch/pkg/s3"
	"slsdispatch/pkg/telemetry"
	"slsdispatch/services/agentstate"
	"slsdispatch/services/api"
	"slsdispatch/services/api/internal/config"
	"slsdispatch/services/coordinator"
	"slsdispatch/services/fleet"
	"slsdispatch/services/heartbeat"
	"slsdispatch/services/jobs"
	"slsdispatch/services/matcher"
	"slsdispatch/services/monitor"
	"slsdispatch/services/naming"
	"slsdispatch/services/notify"
	"slsdispatch/services/reports"
	"slsdispatch/services/store"
	"slsdispatch/services/taskboard"
)

const serviceName = "dispatch-api"

// backend is the persistence surface shared by the Postgres and memory stores.
type backend interface {
	heartbeat.Recorder
	coordinator.Store
	reports.Source
	LoadAgents(ctx context.Context) ([]fleet.Agent, error)
	Ping(ctx context.Context) error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	logger := logging.Setup(serviceName, cfg.LogLevel, cfg.LogFormat)

	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Str("timezone", cfg.Timezone).Msg("load timezone")
	}

	shutdownTracing, traceMW, err := telemetry.Init(ctx, serviceName, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("init telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown telemetry")
		}
	}()

	st, closeStore, err := openBackend(ctx, cfg.DBDSN, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open store")
	}
	defer closeStore()

	agents := agentstate.New()
	loaded, err := st.LoadAgents(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("load agents")
	}
	agents.Load(loaded)
	logger.Info().Int("agents", agents.Len()).Msg("agent state hydrated")

	names, err := naming.New(ctx, naming.FileLoader{YAMLPath: cfg.RulesYAML, XLSXPath: cfg.RulesXLSX}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("load naming rules")
	}

	var objects *s3.Client
	if cfg.ArchiveBucket != "" || cfg.ReportBucket != "" {
		objects, err = s3.NewClientFromEnv()
		if err != nil {
			logger.Fatal().Err(err).Msg("init s3 client")
		}
	}

	matchCfg, err := matcherConfig(cfg, objects)
	if err != nil {
		logger.Fatal().Err(err).Msg("init matcher")
	}
	suggester := matcher.NewService(matchCfg, logger)

	tg := notify.NewTelegram(notify.TelegramConfig{
		Token:      cfg.TelegramToken,
		LeadChatID: cfg.LeadChatID,
		PublicURL:  cfg.PublicBaseURL,
	}, render.MustNew(), logger)
	if !tg.Configured() {
		logger.Warn().Msg("telegram not configured; notices will be skipped")
	}

	var sink notify.Sink = tg
	if cfg.NATSURL != "" {
		b, err := bus.New(cfg.NATSURL, nats.Name(serviceName))
		if err != nil {
			logger.Fatal().Err(err).Msg("connect nats")
		}
		defer b.Close()
		if err := b.EnsureStream(notify.StreamName, notify.Subjects...); err != nil {
			logger.Fatal().Err(err).Msg("ensure notice stream")
		}
		sink = notify.NewBusSink(b)
		logger.Info().Msg("notices routed through the bus")
	}

	processor, err := heartbeat.New(agents, st, logger, heartbeat.WithNotifier(sink))
	if err != nil {
		logger.Fatal().Err(err).Msg("init heartbeat processor")
	}

	mon, err := monitor.New(agents, sink, st, monitor.Config{
		Interval:  cfg.MonitorInterval,
		Threshold: cfg.InactivityThreshold,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("init monitor")
	}

	deps := coordinator.Deps{
		Agents:   agents,
		Names:    names,
		Matcher:  suggester,
		Store:    st,
		Notifier: sink,
	}
	if cfg.MondayToken != "" {
		deps.Board = taskboard.NewMonday(taskboard.Config{
			Token:    cfg.MondayToken,
			BoardID:  cfg.MondayBoardID,
			Endpoint: cfg.MondayEndpoint,
		})
	}
	coord, err := coordinator.New(deps, coordinator.Config{AutoAssign: cfg.AutoAssign, Location: loc}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("init coordinator")
	}

	builder, err := reports.NewBuilder(st, cfg.HeartbeatInterval)
	if err != nil {
		logger.Fatal().Err(err).Msg("init report builder")
	}

	jobDeps := jobs.Deps{Scanner: mon, Reports: builder, Sender: tg}
	if objects != nil && cfg.ReportBucket != "" {
		jobDeps.Archiver = objects
	}
	sched, err := jobs.New(jobDeps, jobs.Config{
		ReportCron:    cfg.ReportCron,
		Location:      loc,
		ArchiveBucket: cfg.ReportBucket,
		ArchivePrefix: cfg.ArchivePrefix,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("init scheduler")
	}
	sched.Start(ctx)
	defer func() {
		if err := sched.Shutdown(); err != nil {
			logger.Error().Err(err).Msg("shutdown scheduler")
		}
	}()

	handlers, err := api.New(api.Deps{
		Heartbeats:  processor,
		Coordinator: coord,
		Names:       names,
		Reports:     builder,
		Chat:        tg,
		Ready:       st,
	}, api.Config{
		WebhookSecret:  cfg.WebhookSecret,
		LeadChatID:     cfg.LeadChatID,
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimit:      cfg.RateLimit,
		Location:       loc,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("init api")
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handlers.Routes(traceMW),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("starting dispatch api")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown server")
	}
}

func openBackend(ctx context.Context, dsn string, logger zerolog.Logger) (backend, func(), error) {
	if dsn == "" {
		logger.Warn().Msg("DB_DSN not set; using in-memory store")
		return store.NewMemory(), func() {}, nil
	}

	pool, err := db.Open(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	pg, err := store.NewPostgres(pool)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return pg, pool.Close, nil
}

func matcherConfig(cfg config.Config, objects *s3.Client) (matcher.Config, error) {
	var out matcher.Config
	if cfg.CorpusCSV != "" {
		if _, err := os.Stat(cfg.CorpusCSV); err != nil {
			return out, err
		}
		out.Corpus = matcher.CSVCorpus{Path: cfg.CorpusCSV}
	}
	if objects == nil || cfg.ArchiveBucket == "" {
		return out, nil
	}

	archive, err := matcher.NewArchive(objects, cfg.ArchiveBucket, cfg.ArchivePrefix, cfg.ArchiveCacheTTL)
	if err != nil {
		return out, err
	}
	links, err := matcher.NewPresignedLinks(objects, cfg.ArchiveBucket, cfg.LinkTTL)
	if err != nil {
		return out, err
	}
	out.Searcher = archive
	out.Links = links
	if out.Corpus == nil {
		out.Corpus = archive
	}
	return out, nil
}
