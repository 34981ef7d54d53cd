// Package heartbeat folds agent reports and events into the agent state store.
package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"slsdispatch/pkg/metrics"
	"slsdispatch/services/agentstate"
	"slsdispatch/services/fleet"
)

const defaultPersistTimeout = 5 * time.Second

// Recorder persists history. Every call is best-effort from the processor's
// point of view except RecordEvent issued for an agent-posted event.
type Recorder interface {
	RecordHeartbeat(ctx context.Context, rec fleet.HeartbeatRecord) error
	SaveAgent(ctx context.Context, agent fleet.Agent) error
	RecordEvent(ctx context.Context, rec fleet.EventRecord) error
}

// CompletionNotifier is told when an agent finishes an artifact.
type CompletionNotifier interface {
	NotifyCompletion(ctx context.Context, c fleet.Completion) fleet.Delivery
}

// RegisterRequest is the body of an agent registration.
type RegisterRequest struct {
	AgentID  string `json:"agent_id"`
	User     string `json:"user"`
	Hostname string `json:"hostname"`
}

// Processor applies heartbeats, registrations and agent events.
type Processor struct {
	agents   *agentstate.Store
	recorder Recorder
	notifier CompletionNotifier
	log      zerolog.Logger
	now      func() time.Time

	persistTimeout time.Duration
}

// Option customises a Processor.
type Option func(*Processor)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// WithNotifier sets the sink for file completion notices.
func WithNotifier(n CompletionNotifier) Option {
	return func(p *Processor) { p.notifier = n }
}

// New builds a Processor. recorder may be nil, in which case nothing is persisted.
func New(agents *agentstate.Store, recorder Recorder, logger zerolog.Logger, opts ...Option) (*Processor, error) {
	if agents == nil {
		return nil, errors.New("agent store is required")
	}
	p := &Processor{
		agents:         agents,
		recorder:       recorder,
		log:            logger.With().Str("component", "heartbeat").Logger(),
		now:            time.Now,
		persistTimeout: defaultPersistTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Register creates or refreshes an agent. Registration is authoritative: it is
// the only way an agent enters the store.
func (p *Processor) Register(ctx context.Context, req RegisterRequest) (fleet.Agent, error) {
	id := strings.TrimSpace(req.AgentID)
	if id == "" {
		return fleet.Agent{}, fmt.Errorf("%w: agent_id is required", fleet.ErrValidation)
	}

	agent, created := p.agents.Register(id, strings.TrimSpace(req.User), strings.TrimSpace(req.Hostname), p.now())
	if created {
		p.log.Info().Str("agent_id", id).Str("user", agent.User).Str("hostname", agent.Hostname).Msg("agent registered")
	}
	p.saveAgent(ctx, agent)
	return agent, nil
}

// Process applies one heartbeat report. The state update always happens first;
// history persistence afterwards is best-effort.
func (p *Processor) Process(ctx context.Context, report fleet.HeartbeatReport) (fleet.Agent, error) {
	id := strings.TrimSpace(report.AgentID)
	if id == "" {
		metrics.Heartbeats.WithLabelValues("invalid").Inc()
		return fleet.Agent{}, fmt.Errorf("%w: agent_id is required", fleet.ErrValidation)
	}

	now := p.now()
	agent, err := p.agents.Update(id, func(a *fleet.Agent) {
		apply(a, report, now)
	})
	if err != nil {
		metrics.Heartbeats.WithLabelValues("unknown_agent").Inc()
		return fleet.Agent{}, err
	}
	metrics.Heartbeats.WithLabelValues("ok").Inc()

	if p.recorder != nil {
		rec := fleet.HeartbeatRecord{
			AgentID:         id,
			IsAppRunning:    report.IsAppRunning,
			IsAppForeground: report.IsAppForeground,
			AppVersion:      report.AppVersion,
			CPU5m:           report.CPU5m,
			IdleMinutes:     report.IdleMinutes,
			OSVersion:       report.OSVersion,
			ActiveTaskID:    report.ActiveTaskID,
			TS:              now,
		}
		p.bestEffort(ctx, "heartbeat", id, func(ctx context.Context) error {
			return p.recorder.RecordHeartbeat(ctx, rec)
		})
	}
	p.saveAgent(ctx, agent)

	return agent, nil
}

func apply(a *fleet.Agent, r fleet.HeartbeatReport, now time.Time) {
	a.LastSeen = now
	a.IsAppRunning = r.IsAppRunning
	a.IsAppForeground = r.IsAppForeground
	a.CPU5m = r.CPU5m
	a.IdleMinutes = r.IdleMinutes
	if r.OSVersion != "" {
		a.OSVersion = r.OSVersion
	}
	if r.AppVersion != "" {
		a.AppVersion = r.AppVersion
	}

	// The server owns the task. A reported task is only adopted before the
	// server has assigned or released one, so a stale agent cache cannot
	// resurrect a finished task or override a reassignment.
	if r.ActiveTaskID != nil && *r.ActiveTaskID != "" && !a.HasTask() && a.TaskSince.IsZero() {
		task := *r.ActiveTaskID
		a.ActiveTaskID = &task
		a.TaskSince = now
		a.InactiveAlerted = false
	}

	if r.Active() {
		a.LastActiveTS = now
		a.InactiveAlerted = false
	}
}

// HandleEvent applies an agent-posted event. file_done releases the agent's
// active task and notifies the team lead; the event row is written last and
// a storage failure never rejects the event.
func (p *Processor) HandleEvent(ctx context.Context, evt fleet.AgentEvent) error {
	id := strings.TrimSpace(evt.AgentID)
	if id == "" {
		return fmt.Errorf("%w: agent_id is required", fleet.ErrValidation)
	}
	if !fleet.ValidEventType(evt.Type) {
		return fmt.Errorf("%w: unsupported event type %q", fleet.ErrValidation, evt.Type)
	}

	agent, err := p.agents.Get(id)
	if err != nil {
		return err
	}

	now := p.now()
	defer p.recordEvent(ctx, fleet.EventRecord{
		ID:      uuid.NewString(),
		AgentID: id,
		Type:    evt.Type,
		TaskID:  evt.TaskID,
		Meta:    evt.Meta,
		TS:      now,
	})

	if evt.Type != fleet.EventFileDone {
		p.log.Info().Str("agent_id", id).Str("type", evt.Type).Str("task_id", agent.TaskID()).Msg("agent event")
		return nil
	}

	taskID := agent.TaskID()
	if evt.TaskID != nil && *evt.TaskID != "" {
		taskID = *evt.TaskID
	}

	agent, err = p.agents.Update(id, func(a *fleet.Agent) {
		if a.TaskID() == taskID || taskID == "" {
			a.ActiveTaskID = nil
			a.TaskSince = now
			a.InactiveAlerted = false
		}
	})
	if err != nil {
		return err
	}
	p.saveAgent(ctx, agent)

	path, _ := evt.Meta["path"].(string)
	p.log.Info().Str("agent_id", id).Str("task_id", taskID).Str("path", path).Msg("artifact completed")

	if p.notifier != nil {
		d := p.notifier.NotifyCompletion(ctx, fleet.Completion{AgentID: id, User: agent.User, TaskID: taskID, Path: path})
		metrics.Deliveries.WithLabelValues("completion", metrics.Outcome(d.Delivered)).Inc()
		if !d.Delivered && !d.NotConfigured() {
			p.log.Warn().Str("agent_id", id).Str("reason", d.Reason).Msg("completion notice not delivered")
		}
	}
	return nil
}

// recordEvent stores the event history row after the state change. Like
// heartbeat history it is best-effort.
func (p *Processor) recordEvent(ctx context.Context, rec fleet.EventRecord) {
	if p.recorder == nil {
		return
	}
	p.bestEffort(ctx, "event", rec.AgentID, func(ctx context.Context) error {
		return p.recorder.RecordEvent(ctx, rec)
	})
}

func (p *Processor) saveAgent(ctx context.Context, agent fleet.Agent) {
	if p.recorder == nil {
		return
	}
	p.bestEffort(ctx, "agent", agent.AgentID, func(ctx context.Context) error {
		return p.recorder.SaveAgent(ctx, agent)
	})
}

func (p *Processor) bestEffort(ctx context.Context, kind, agentID string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(ctx, p.persistTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		metrics.PersistFailures.WithLabelValues(kind).Inc()
		p.log.Warn().Err(err).Str("agent_id", agentID).Str("kind", kind).Msg("persist failed")
	}
}
