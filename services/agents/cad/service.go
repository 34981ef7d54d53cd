// Package cad is the workstation agent: it probes the CAD application,
// reports heartbeats, raises local inactivity notices and reports finished
// artifacts dropped into the job folder.
package cad

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"slsdispatch/services/fleet"
)

// Service runs the agent loop. All fields below client are owned by the loop
// goroutine.
type Service struct {
	cfg    Config
	probe  Prober
	client *client
	log    zerolog.Logger
	now    func() time.Time
	notice func(msg string)

	registered bool
	taskID     *string
	lastActive time.Time
	alerted    bool
}

type registerRequest struct {
	AgentID  string `json:"agent_id"`
	User     string `json:"user"`
	Hostname string `json:"hostname"`
}

type heartbeatResponse struct {
	OK           bool    `json:"ok"`
	ActiveTaskID *string `json:"active_task_id"`
}

// NewService builds the agent loop around probe.
func NewService(cfg Config, probe Prober, logger zerolog.Logger) *Service {
	s := &Service{
		cfg:    cfg,
		probe:  probe,
		client: newClient(cfg),
		log:    logger.With().Str("component", "cad-agent").Str("agent_id", cfg.AgentID).Logger(),
		now:    time.Now,
	}
	s.notice = func(msg string) { s.log.Warn().Msg(msg) }
	s.lastActive = s.now()
	return s
}

// Run ticks until ctx is cancelled. The done-file watcher runs alongside when
// a job root is configured.
func (s *Service) Run(ctx context.Context) error {
	if s.cfg.JobRoot != "" {
		w := NewDoneWatcher(s.cfg, s.client, s.log)
		go func() {
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.log.Error().Err(err).Str("job_root", s.cfg.JobRoot).Msg("done-file watcher stopped")
			}
		}()
	}

	s.Tick(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one probe-report-evaluate cycle. Errors are logged; the next tick
// starts over from a fresh snapshot.
func (s *Service) Tick(ctx context.Context) {
	if !s.registered {
		if err := s.register(ctx); err != nil {
			s.log.Warn().Err(err).Msg("register failed")
			return
		}
		s.registered = true
		s.log.Info().Str("api", s.cfg.API).Msg("registered")
	}

	snap, err := s.probe.Snapshot(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("probe failed")
		return
	}

	now := s.now()
	if snap.AppRunning || snap.AppForeground {
		s.lastActive = now
		s.alerted = false
	}

	if err := s.heartbeat(ctx, snap); err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Status == http.StatusNotFound {
			// the server forgot us; register again next tick
			s.registered = false
		}
		s.log.Warn().Err(err).Msg("heartbeat failed")
	}

	s.checkInactivity(ctx, now)
}

func (s *Service) register(ctx context.Context) error {
	return s.client.post(ctx, "/v1/agents/register", registerRequest{
		AgentID:  s.cfg.AgentID,
		User:     s.cfg.User,
		Hostname: s.cfg.Hostname,
	}, nil)
}

func (s *Service) heartbeat(ctx context.Context, snap Snapshot) error {
	report := fleet.HeartbeatReport{
		AgentID:         s.cfg.AgentID,
		IsAppRunning:    snap.AppRunning,
		IsAppForeground: snap.AppForeground,
		AppVersion:      snap.AppVersion,
		CPU5m:           snap.CPU5m,
		IdleMinutes:     snap.IdleMinutes,
		OSVersion:       snap.OSVersion,
		ActiveTaskID:    s.taskID,
	}
	var resp heartbeatResponse
	if err := s.client.post(ctx, "/v1/agents/heartbeat", report, &resp); err != nil {
		return err
	}
	s.adopt(resp.ActiveTaskID)
	return nil
}

// adopt takes the server's view of the active task. A new task starts a new
// inactivity episode.
func (s *Service) adopt(task *string) {
	if task != nil && *task == "" {
		task = nil
	}
	if sameTask(s.taskID, task) {
		return
	}
	if task != nil {
		id := *task
		s.taskID = &id
		s.lastActive = s.now()
		s.alerted = false
		s.log.Info().Str("task_id", id).Msg("task assigned")
		return
	}
	s.log.Info().Str("task_id", *s.taskID).Msg("task cleared")
	s.taskID = nil
}

func sameTask(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (s *Service) checkInactivity(ctx context.Context, now time.Time) {
	if s.taskID == nil || s.alerted {
		return
	}
	threshold := time.Duration(s.cfg.InactivityMinutes) * time.Minute
	if now.Sub(s.lastActive) < threshold {
		return
	}
	s.alerted = true

	s.notice(fmt.Sprintf("You have an active task (%s). Please resume work.", *s.taskID))
	err := s.client.post(ctx, "/v1/agents/event", fleet.AgentEvent{
		AgentID: s.cfg.AgentID,
		Type:    fleet.EventInactiveThreshold,
		TaskID:  s.taskID,
		Meta:    map[string]any{"minutes": int(now.Sub(s.lastActive).Minutes())},
	}, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("inactivity event failed")
	}
}

// TaskID returns the task the agent currently believes it holds.
func (s *Service) TaskID() string {
	if s.taskID == nil {
		return ""
	}
	return *s.taskID
}
