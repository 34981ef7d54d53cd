// Package jobs runs the periodic work of the dispatch server: the inactivity
// scan and the daily utilization report.
package jobs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"slsdispatch/services/fleet"
	"slsdispatch/services/notify"
	"slsdispatch/services/reports"
)

// DefaultReportCron sends the daily report at 19:00.
const DefaultReportCron = "0 19 * * *"

// Scanner is satisfied by *monitor.Monitor.
type Scanner interface {
	Tick(ctx context.Context) []fleet.Alert
	Interval() time.Duration
}

// ReportBuilder is satisfied by *reports.Builder.
type ReportBuilder interface {
	Build(ctx context.Context, r reports.Range, today time.Time) ([]reports.Line, error)
}

// ReportSender delivers a finished report to the lead.
type ReportSender interface {
	SendReport(ctx context.Context, chatID string, rep notify.Report) fleet.Delivery
}

// Archiver stores report CSVs. Satisfied by *s3.Client.
type Archiver interface {
	PutObject(ctx context.Context, bucket, key, contentType string, body []byte) error
}

// Config tunes the scheduler.
type Config struct {
	// ReportCron is a standard five-field cron expression; empty disables the report.
	ReportCron string
	Location   *time.Location
	// ArchiveBucket enables S3 archival of each report.
	ArchiveBucket string
	ArchivePrefix string
}

// Deps groups the collaborators. Only Scanner is required.
type Deps struct {
	Scanner  Scanner
	Reports  ReportBuilder
	Sender   ReportSender
	Archiver Archiver
}

// Scheduler owns the gocron scheduler.
type Scheduler struct {
	sched  gocron.Scheduler
	deps   Deps
	cfg    Config
	report cron.Schedule
	log    zerolog.Logger
	now    func() time.Time

	mu  sync.Mutex
	ctx context.Context
}

// New validates the configuration and registers the jobs. Nothing runs until Start.
func New(deps Deps, cfg Config, logger zerolog.Logger) (*Scheduler, error) {
	if deps.Scanner == nil {
		return nil, errors.New("scanner is required")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	s := &Scheduler{
		deps: deps,
		cfg:  cfg,
		log:  logger.With().Str("component", "jobs").Logger(),
		now:  time.Now,
		ctx:  context.Background(),
	}

	if cfg.ReportCron != "" {
		sched, err := cron.ParseStandard(cfg.ReportCron)
		if err != nil {
			return nil, fmt.Errorf("%w: report cron %q: %v", fleet.ErrValidation, cfg.ReportCron, err)
		}
		if deps.Reports == nil {
			return nil, errors.New("report builder is required when a report cron is set")
		}
		s.report = sched
	}

	gs, err := gocron.NewScheduler(gocron.WithLocation(cfg.Location))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	s.sched = gs

	if _, err := gs.NewJob(
		gocron.DurationJob(deps.Scanner.Interval()),
		gocron.NewTask(func() { s.scan() }),
		gocron.WithName("inactivity-scan"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		_ = gs.Shutdown()
		return nil, fmt.Errorf("register inactivity scan: %w", err)
	}

	if s.report != nil {
		if _, err := gs.NewJob(
			gocron.CronJob(cfg.ReportCron, false),
			gocron.NewTask(func() {
				if err := s.RunDailyReport(s.context()); err != nil {
					s.log.Error().Err(err).Msg("daily report failed")
				}
			}),
			gocron.WithName("daily-report"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		); err != nil {
			_ = gs.Shutdown()
			return nil, fmt.Errorf("register daily report: %w", err)
		}
	}

	return s, nil
}

// SetClock overrides the time source used for report days.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// Start runs the jobs until ctx is cancelled or Shutdown is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.sched.Start()
	ev := s.log.Info().Dur("scan_interval", s.deps.Scanner.Interval())
	if next, ok := s.NextReport(); ok {
		ev = ev.Time("next_report", next)
	}
	ev.Msg("scheduler started")
}

// Shutdown stops the scheduler and waits for running jobs.
func (s *Scheduler) Shutdown() error {
	return s.sched.Shutdown()
}

// NextReport returns when the daily report will run next.
func (s *Scheduler) NextReport() (time.Time, bool) {
	if s.report == nil {
		return time.Time{}, false
	}
	return s.report.Next(s.now().In(s.cfg.Location)), true
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *Scheduler) scan() {
	ctx := s.context()
	if ctx.Err() != nil {
		return
	}
	if alerts := s.deps.Scanner.Tick(ctx); len(alerts) > 0 {
		s.log.Debug().Int("alerts", len(alerts)).Msg("inactivity scan raised alerts")
	}
}

// RunDailyReport builds today's report, archives the CSV when a bucket is
// configured, and sends it to the lead. Archive and delivery failures are
// logged; only a failed build is returned.
func (s *Scheduler) RunDailyReport(ctx context.Context) error {
	if s.deps.Reports == nil {
		return errors.New("report builder is not configured")
	}
	today := s.now().In(s.cfg.Location)
	lines, err := s.deps.Reports.Build(ctx, reports.Daily, today)
	if err != nil {
		return fmt.Errorf("build report: %w", err)
	}
	rep, err := notify.NewReport(reports.Daily, reports.Days(reports.Daily, today), lines)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	if s.deps.Archiver != nil && s.cfg.ArchiveBucket != "" {
		key := path.Join(s.cfg.ArchivePrefix, "reports", "utilization-"+rep.To+".csv")
		if err := s.deps.Archiver.PutObject(ctx, s.cfg.ArchiveBucket, key, "text/csv", bytes.Clone(rep.CSV)); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("archive report failed")
		} else {
			s.log.Info().Str("bucket", s.cfg.ArchiveBucket).Str("key", key).Msg("report archived")
		}
	}

	if s.deps.Sender != nil {
		if d := s.deps.Sender.SendReport(ctx, "", rep); !d.Delivered && !d.NotConfigured() {
			s.log.Warn().Str("reason", d.Reason).Msg("report delivery failed")
		}
	}

	s.log.Info().Int("rows", len(lines)).Str("day", rep.To).Msg("daily report complete")
	return nil
}
