// Package monitor detects agents that hold a task but have shown no activity
// for longer than the inactivity threshold.
package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"slsdispatch/pkg/metrics"
	"slsdispatch/services/agentstate"
	"slsdispatch/services/fleet"
)

const (
	// DefaultInterval is the scan cadence.
	DefaultInterval = 30 * time.Second
	// DefaultThreshold is how long an agent may hold a task without activity.
	DefaultThreshold = 15 * time.Minute
)

// State is the inactivity state of one agent.
type State string

const (
	StateNoTask          State = "NO_TASK"
	StateActive          State = "ACTIVE"
	StateInactivePending State = "INACTIVE_PENDING"
	StateInactiveAlerted State = "INACTIVE_ALERTED"
)

// AlertSink delivers inactivity alerts.
type AlertSink interface {
	NotifyAlert(ctx context.Context, alert fleet.Alert) fleet.Delivery
}

// EventRecorder persists raised alerts as events.
type EventRecorder interface {
	RecordEvent(ctx context.Context, rec fleet.EventRecord) error
}

// Config tunes the monitor.
type Config struct {
	Interval  time.Duration
	Threshold time.Duration
}

// Monitor scans the agent store and raises one alert per inactive episode.
type Monitor struct {
	agents   *agentstate.Store
	sink     AlertSink
	recorder EventRecorder
	cfg      Config
	log      zerolog.Logger
	now      func() time.Time

	afterSnapshot func(fleet.Agent)
}

// New builds a Monitor. sink and recorder may be nil.
func New(agents *agentstate.Store, sink AlertSink, recorder EventRecorder, cfg Config, logger zerolog.Logger) (*Monitor, error) {
	if agents == nil {
		return nil, errors.New("agent store is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	return &Monitor{
		agents:   agents,
		sink:     sink,
		recorder: recorder,
		cfg:      cfg,
		log:      logger.With().Str("component", "monitor").Logger(),
		now:      time.Now,
	}, nil
}

// SetClock overrides the time source used by Tick.
func (m *Monitor) SetClock(now func() time.Time) {
	m.now = now
}

// Interval returns the configured scan cadence.
func (m *Monitor) Interval() time.Duration {
	return m.cfg.Interval
}

// Classify returns the state of a at now. An agent counts as ACTIVE when it
// showed activity within the last scan interval.
func Classify(a fleet.Agent, now time.Time, cfg Config) State {
	if !a.HasTask() {
		return StateNoTask
	}
	if a.InactiveAlerted {
		return StateInactiveAlerted
	}
	if now.Sub(a.InactiveSince()) < cfg.Interval {
		return StateActive
	}
	return StateInactivePending
}

func due(a fleet.Agent, now time.Time, threshold time.Duration) bool {
	return a.HasTask() && !a.InactiveAlerted && now.Sub(a.InactiveSince()) >= threshold
}

// Tick runs one scan at the monitor's current time.
func (m *Monitor) Tick(ctx context.Context) []fleet.Alert {
	return m.Scan(ctx, m.now())
}

// Scan evaluates every agent from a snapshot and returns the alerts raised.
// The alerted flag is set under the agent's lock before delivery and stays set
// when delivery fails.
func (m *Monitor) Scan(ctx context.Context, now time.Time) []fleet.Alert {
	start := time.Now()
	defer func() { metrics.ScanDuration.Observe(time.Since(start).Seconds()) }()

	counts := map[State]int{StateNoTask: 0, StateActive: 0, StateInactivePending: 0, StateInactiveAlerted: 0}
	var alerts []fleet.Alert

	for _, snap := range m.agents.List() {
		if !due(snap, now, m.cfg.Threshold) {
			counts[Classify(snap, now, m.cfg)]++
			continue
		}

		if m.afterSnapshot != nil {
			m.afterSnapshot(snap)
		}

		var alert fleet.Alert
		fired := false
		current, err := m.agents.Update(snap.AgentID, func(a *fleet.Agent) {
			// A heartbeat may have landed since the snapshot.
			if !due(*a, now, m.cfg.Threshold) {
				return
			}
			a.InactiveAlerted = true
			fired = true
			alert = fleet.Alert{
				AgentID: a.AgentID,
				Type:    fleet.EventInactiveThreshold,
				TaskID:  a.TaskID(),
				User:    a.User,
				Since:   a.InactiveSince(),
			}
		})
		if err != nil {
			continue
		}
		if !fired {
			counts[Classify(current, now, m.cfg)]++
			continue
		}

		counts[StateInactiveAlerted]++
		m.raise(ctx, alert, now)
		alerts = append(alerts, alert)
	}

	for state, n := range counts {
		metrics.AgentStates.WithLabelValues(string(state)).Set(float64(n))
	}
	return alerts
}

func (m *Monitor) raise(ctx context.Context, alert fleet.Alert, now time.Time) {
	m.log.Warn().
		Str("agent_id", alert.AgentID).
		Str("task_id", alert.TaskID).
		Dur("inactive_for", now.Sub(alert.Since)).
		Msg("agent inactive")

	if m.recorder != nil {
		task := alert.TaskID
		rec := fleet.EventRecord{
			ID:      uuid.NewString(),
			AgentID: alert.AgentID,
			Type:    alert.Type,
			TaskID:  &task,
			Meta:    map[string]any{"source": "monitor", "since": alert.Since.UTC().Format(time.RFC3339)},
			TS:      now,
		}
		if err := m.recorder.RecordEvent(ctx, rec); err != nil {
			metrics.PersistFailures.WithLabelValues("event").Inc()
			m.log.Warn().Err(err).Str("agent_id", alert.AgentID).Msg("record alert event failed")
		}
	}

	if m.sink == nil {
		metrics.Alerts.WithLabelValues("skipped").Inc()
		return
	}
	d := m.sink.NotifyAlert(ctx, alert)
	metrics.Alerts.WithLabelValues(metrics.Outcome(d.Delivered)).Inc()
	if !d.Delivered {
		m.log.Warn().Str("agent_id", alert.AgentID).Str("reason", d.Reason).Msg("alert not delivered")
	}
}
