package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slsdispatch/services/fleet"
)

func TestMemoryOrders(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	first := fleet.Order{CustomerName: "Ada", CanonicalFilename: "ER_SOL_ROU_PLT_7_0.3dm", CreatedAt: base}
	require.NoError(t, m.CreateOrder(ctx, &first, []fleet.Suggestion{{Filename: "a.3dm", Score: 90}}))
	second := fleet.Order{CustomerName: "Bob", CreatedAt: base.Add(time.Minute)}
	require.NoError(t, m.CreateOrder(ctx, &second, nil))

	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, int64(2), second.ID)

	got, sugg, err := m.GetOrder(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.CustomerName)
	assert.Equal(t, map[string]any{}, got.ExternalTaskRef)
	require.Len(t, sugg, 1)
	assert.Equal(t, 90, sugg[0].Score)

	require.NoError(t, m.SetExternalTaskRef(ctx, 1, map[string]any{"item_id": "42"}))
	got, _, err = m.GetOrder(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "42", got.ExternalTaskRef["item_id"])

	recent, err := m.RecentOrders(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, int64(2), recent[0].ID)

	_, _, err = m.GetOrder(ctx, 99)
	assert.ErrorIs(t, err, fleet.ErrOrderNotFound)
	assert.ErrorIs(t, m.SetExternalTaskRef(ctx, 99, nil), fleet.ErrOrderNotFound)
}

func TestMemoryAssignments(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	midnight := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	order := fleet.Order{CustomerName: "Ada"}
	require.NoError(t, m.CreateOrder(ctx, &order, nil))

	for _, a := range []fleet.Assignment{
		{OrderID: order.ID, AgentID: "a1", TaskID: "T1", TS: midnight.Add(-time.Hour)},
		{OrderID: order.ID, AgentID: "a1", TaskID: "T2", TS: midnight.Add(time.Hour)},
		{OrderID: order.ID, AgentID: "a2", TaskID: "T3", TS: midnight.Add(2 * time.Hour)},
	} {
		require.NoError(t, m.CreateAssignment(ctx, &a))
		assert.NotZero(t, a.ID)
	}

	counts, err := m.AssignmentsSince(ctx, midnight)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a1": 1, "a2": 1}, counts)

	latest, err := m.LatestAssignment(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "a2", latest.AgentID)

	err = m.CreateAssignment(ctx, &fleet.Assignment{OrderID: 77, AgentID: "a1"})
	assert.ErrorIs(t, err, fleet.ErrOrderNotFound)
}

func TestMemoryHeartbeatCounts(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	recs := []fleet.HeartbeatRecord{
		{AgentID: "b", IsAppRunning: true, TS: day.Add(time.Hour)},
		{AgentID: "a", IsAppForeground: true, TS: day.Add(time.Hour)},
		{AgentID: "a", TS: day.Add(2 * time.Hour)},
		{AgentID: "a", IsAppRunning: true, TS: day.AddDate(0, 0, 1)},
		{AgentID: "a", IsAppRunning: true, TS: day.Add(-time.Second)},
	}
	for _, r := range recs {
		require.NoError(t, m.RecordHeartbeat(ctx, r))
	}

	counts, err := m.HeartbeatCounts(ctx, day, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, "a", counts[0].AgentID)
	assert.Equal(t, 1, counts[0].ActiveTicks)
	assert.Equal(t, 2, counts[0].Heartbeats)
	assert.Equal(t, "b", counts[1].AgentID)
	assert.Equal(t, 1, counts[1].ActiveTicks)
}

func TestMemoryEventsDedupe(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	rec := fleet.EventRecord{ID: "e-1", AgentID: "a", Type: fleet.EventFileDone}
	require.NoError(t, m.RecordEvent(ctx, rec))
	require.NoError(t, m.RecordEvent(ctx, rec))
	require.NoError(t, m.RecordEvent(ctx, fleet.EventRecord{AgentID: "a", Type: fleet.EventInactiveThreshold}))

	assert.Len(t, m.Events(), 2)
}

func TestMemoryAgentsRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	task := "T1"

	require.NoError(t, m.SaveAgent(ctx, fleet.Agent{AgentID: "b"}))
	require.NoError(t, m.SaveAgent(ctx, fleet.Agent{AgentID: "a", ActiveTaskID: &task}))
	task = "mutated"

	agents, err := m.LoadAgents(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 2)
	assert.Equal(t, "a", agents[0].AgentID)
	assert.Equal(t, "T1", agents[0].TaskID())
}
