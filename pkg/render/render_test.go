package render

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slsdispatch/services/fleet"
)

func TestRenderOrders(t *testing.T) {
	e, err := New()
	require.NoError(t, err)

	out, err := e.Render(Orders, []fleet.Order{
		{ID: 2, CustomerName: "Bob", CanonicalFilename: "wb_pt.3dm"},
		{ID: 1, CustomerName: "Ada", CanonicalFilename: "er_pt.3dm"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Last 2 orders:\n#2 Bob - wb_pt.3dm\n#1 Ada - er_pt.3dm", out)

	out, err = e.Render(Orders, []fleet.Order(nil))
	require.NoError(t, err)
	assert.Equal(t, "No orders yet.", out)
}

func TestRenderWorkers(t *testing.T) {
	e := MustNew()
	task := "TASK-9"

	out, err := e.Render(Workers, []fleet.Agent{
		{AgentID: "a1", User: "alice", ActiveTaskID: &task, CPU5m: 12.34, IdleMinutes: 3},
		{AgentID: "a2"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Workers:\nalice: busy(TASK-9), cpu=12.3, idle=3m\na2: free, cpu=0.0, idle=0m", out)
}

func TestRenderAlert(t *testing.T) {
	e := MustNew()
	out, err := e.Render(Alert, fleet.Alert{
		AgentID: "a1",
		TaskID:  "TASK-1",
		Since:   time.Date(2026, 3, 2, 9, 5, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, "⚠️ a1 has been inactive on TASK-1 since 09:05", out)
}

func TestRenderUnknownTemplate(t *testing.T) {
	_, err := MustNew().Render("nope.tmpl", nil)
	assert.Error(t, err)

	var nilEngine *Engine
	_, err = nilEngine.Render(Help, nil)
	assert.Error(t, err)
}
