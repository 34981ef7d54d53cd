package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slsdispatch/pkg/metrics"
	"slsdispatch/services/agentstate"
	"slsdispatch/services/fleet"
)

type recordingSink struct {
	alerts []fleet.Alert
	fail   bool
}

func (s *recordingSink) NotifyAlert(_ context.Context, a fleet.Alert) fleet.Delivery {
	s.alerts = append(s.alerts, a)
	if s.fail {
		return fleet.Failed(errors.New("telegram 502"))
	}
	return fleet.Delivered()
}

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func setup(t *testing.T, sink AlertSink) (*Monitor, *agentstate.Store) {
	t.Helper()
	store := agentstate.New()
	m, err := New(store, sink, nil, Config{}, zerolog.Nop())
	require.NoError(t, err)
	return m, store
}

func assign(store *agentstate.Store, id, task string, lastActive time.Time) {
	store.Register(id, "user-"+id, "host-"+id, t0)
	_, _ = store.Update(id, func(a *fleet.Agent) {
		a.ActiveTaskID = strPtr(task)
		a.LastActiveTS = lastActive
	})
}

func TestClassify(t *testing.T) {
	cfg := Config{Interval: DefaultInterval, Threshold: DefaultThreshold}
	tests := []struct {
		name  string
		agent fleet.Agent
		now   time.Time
		want  State
	}{
		{"no task", fleet.Agent{LastActiveTS: t0}, t0.Add(time.Hour), StateNoTask},
		{"active", fleet.Agent{ActiveTaskID: strPtr("T"), LastActiveTS: t0}, t0.Add(10 * time.Second), StateActive},
		{"pending", fleet.Agent{ActiveTaskID: strPtr("T"), LastActiveTS: t0}, t0.Add(5 * time.Minute), StateInactivePending},
		{"alerted", fleet.Agent{ActiveTaskID: strPtr("T"), LastActiveTS: t0, InactiveAlerted: true}, t0.Add(20 * time.Minute), StateInactiveAlerted},
		{"task since newer", fleet.Agent{ActiveTaskID: strPtr("T"), LastActiveTS: t0, TaskSince: t0.Add(30 * time.Minute)}, t0.Add(30*time.Minute + 5*time.Second), StateActive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.agent, tt.now, cfg))
		})
	}
}

func TestScanAlertsOncePerEpisode(t *testing.T) {
	sink := &recordingSink{}
	m, store := setup(t, sink)
	assign(store, "a1", "TASK-1", t0)
	ctx := context.Background()

	assert.Empty(t, m.Scan(ctx, t0.Add(14*time.Minute)))

	alerts := m.Scan(ctx, t0.Add(15*time.Minute))
	require.Len(t, alerts, 1)
	assert.Equal(t, fleet.Alert{
		AgentID: "a1",
		Type:    "inactive_threshold",
		TaskID:  "TASK-1",
		User:    "user-a1",
		Since:   t0,
	}, alerts[0])

	for i := 1; i <= 10; i++ {
		assert.Empty(t, m.Scan(ctx, t0.Add(15*time.Minute+time.Duration(i)*30*time.Second)))
	}
	assert.Len(t, sink.alerts, 1)

	got, err := store.Get("a1")
	require.NoError(t, err)
	assert.True(t, got.InactiveAlerted)
}

func TestScanNewEpisodeAfterActivity(t *testing.T) {
	sink := &recordingSink{}
	m, store := setup(t, sink)
	assign(store, "a1", "TASK-1", t0)
	ctx := context.Background()

	require.Len(t, m.Scan(ctx, t0.Add(16*time.Minute)), 1)

	resumed := t0.Add(20 * time.Minute)
	_, err := store.Update("a1", func(a *fleet.Agent) {
		a.LastActiveTS = resumed
		a.InactiveAlerted = false
	})
	require.NoError(t, err)

	assert.Empty(t, m.Scan(ctx, resumed.Add(10*time.Minute)))
	assert.Len(t, m.Scan(ctx, resumed.Add(15*time.Minute)), 1)
	assert.Len(t, sink.alerts, 2)
}

func TestScanIgnoresAgentsWithoutTask(t *testing.T) {
	sink := &recordingSink{}
	m, store := setup(t, sink)
	store.Register("idle", "u", "h", t0)

	assert.Empty(t, m.Scan(context.Background(), t0.Add(24*time.Hour)))
	assert.Empty(t, sink.alerts)
}

func TestScanDeliveryFailureKeepsFlag(t *testing.T) {
	sink := &recordingSink{fail: true}
	m, store := setup(t, sink)
	assign(store, "a1", "TASK-1", t0)
	ctx := context.Background()

	require.Len(t, m.Scan(ctx, t0.Add(15*time.Minute)), 1)
	assert.Empty(t, m.Scan(ctx, t0.Add(16*time.Minute)))

	got, err := store.Get("a1")
	require.NoError(t, err)
	assert.True(t, got.InactiveAlerted)
}

func TestScanWithoutSink(t *testing.T) {
	m, store := setup(t, nil)
	assign(store, "a1", "TASK-1", t0)
	assert.Len(t, m.Scan(context.Background(), t0.Add(time.Hour)), 1)
}

func TestTickUsesClock(t *testing.T) {
	m, store := setup(t, &recordingSink{})
	assign(store, "a1", "TASK-1", t0)
	m.SetClock(func() time.Time { return t0.Add(time.Hour) })
	assert.Len(t, m.Tick(context.Background()), 1)
	assert.Equal(t, DefaultInterval, m.Interval())
}

func stateGauge(t *testing.T, state State) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, metrics.AgentStates.WithLabelValues(string(state)).Write(&m))
	return m.GetGauge().GetValue()
}

func TestScanCountsStateAfterRace(t *testing.T) {
	sink := &recordingSink{}
	m, store := setup(t, sink)
	assign(store, "a1", "TASK-1", t0)
	ctx := context.Background()

	// The task finishes between the snapshot and the locked re-check.
	m.afterSnapshot = func(a fleet.Agent) {
		_, err := store.Update(a.AgentID, func(a *fleet.Agent) {
			a.ActiveTaskID = nil
			a.TaskSince = t0.Add(20 * time.Minute)
		})
		require.NoError(t, err)
	}

	assert.Empty(t, m.Scan(ctx, t0.Add(20*time.Minute)))
	assert.Empty(t, sink.alerts)
	assert.Equal(t, 1.0, stateGauge(t, StateNoTask))
	assert.Equal(t, 0.0, stateGauge(t, StateActive))
	assert.Equal(t, 0.0, stateGauge(t, StateInactivePending))
}
