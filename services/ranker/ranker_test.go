package ranker

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slsdispatch/services/fleet"
)

func strPtr(s string) *string { return &s }

func ids(c []Candidate) []string {
	out := make([]string, len(c))
	for i := range c {
		out[i] = c[i].AgentID
	}
	return out
}

func TestRankFreeAgentsFirst(t *testing.T) {
	agents := []fleet.Agent{
		{AgentID: "a1", ActiveTaskID: strPtr("TASK-1"), CPU5m: 5, IdleMinutes: 10},
		{AgentID: "a2", CPU5m: 2, IdleMinutes: 5},
		{AgentID: "a3", CPU5m: 1, IdleMinutes: 1},
	}
	got := Rank(agents, map[string]int{"a3": 3})
	assert.Equal(t, []string{"a3", "a2", "a1"}, ids(got))
	assert.Equal(t, 3, got[0].TasksToday)
	assert.True(t, got[2].Busy())
}

func TestRankTieBreakers(t *testing.T) {
	tests := []struct {
		name   string
		agents []fleet.Agent
		today  map[string]int
		want   []string
	}{
		{
			name: "idle minutes after cpu",
			agents: []fleet.Agent{
				{AgentID: "x", CPU5m: 1, IdleMinutes: 9},
				{AgentID: "y", CPU5m: 1, IdleMinutes: 2},
			},
			want: []string{"y", "x"},
		},
		{
			name: "tasks today last",
			agents: []fleet.Agent{
				{AgentID: "x", CPU5m: 1, IdleMinutes: 2},
				{AgentID: "y", CPU5m: 1, IdleMinutes: 2},
			},
			today: map[string]int{"x": 4, "y": 1},
			want:  []string{"y", "x"},
		},
		{
			name: "empty task id counts as free",
			agents: []fleet.Agent{
				{AgentID: "x", CPU5m: 0, ActiveTaskID: strPtr("T")},
				{AgentID: "y", CPU5m: 50, ActiveTaskID: strPtr("")},
			},
			want: []string{"y", "x"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(Rank(tt.agents, tt.today)))
		})
	}
}

func TestRankTruncatesAndHandlesFewAgents(t *testing.T) {
	assert.Empty(t, Rank(nil, nil))

	agents := []fleet.Agent{{AgentID: "a"}, {AgentID: "b"}, {AgentID: "c"}, {AgentID: "d"}}
	assert.Len(t, Rank(agents, nil), DefaultLimit)
	assert.Len(t, Rank(agents[:2], nil), 2)
	assert.Len(t, RankN(agents, nil, -1), 4)
}

func TestRankIndependentOfInputOrder(t *testing.T) {
	agents := []fleet.Agent{
		{AgentID: "a", CPU5m: 1}, {AgentID: "b", CPU5m: 1}, {AgentID: "c", CPU5m: 1},
		{AgentID: "d", CPU5m: 0, ActiveTaskID: strPtr("T")}, {AgentID: "e", CPU5m: 3},
	}
	want := ids(RankN(agents, nil, -1))

	r := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := append([]fleet.Agent(nil), agents...)
		r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		assert.Equal(t, want, ids(RankN(shuffled, nil, -1)))
	}
	assert.Equal(t, []string{"a", "b", "c", "e", "d"}, want)
}

func TestFirstFree(t *testing.T) {
	c, ok := FirstFree([]Candidate{{AgentID: "a", ActiveTaskID: strPtr("T")}, {AgentID: "b"}})
	require.True(t, ok)
	assert.Equal(t, "b", c.AgentID)

	_, ok = FirstFree([]Candidate{{AgentID: "a", ActiveTaskID: strPtr("T")}})
	assert.False(t, ok)
}
