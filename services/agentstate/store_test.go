package agentstate

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slsdispatch/services/fleet"
)

func TestRegisterAndGet(t *testing.T) {
	s := New()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	a, created := s.Register("a1", "ana", "ws-01", now)
	require.True(t, created)
	assert.Equal(t, now, a.RegisteredAt)

	_, created = s.Register("a1", "ana", "ws-02", now.Add(time.Hour))
	assert.False(t, created)

	got, err := s.Get("a1")
	require.NoError(t, err)
	assert.Equal(t, "ws-02", got.Hostname)
	assert.Equal(t, now, got.RegisteredAt)
}

func TestGetUnknownAgent(t *testing.T) {
	s := New()
	_, err := s.Get("ghost")
	require.Error(t, err)
	assert.True(t, errors.Is(err, fleet.ErrUnknownAgent))

	_, err = s.Update("ghost", func(*fleet.Agent) {})
	assert.True(t, errors.Is(err, fleet.ErrUnknownAgent))
}

func TestUpsertAppliesOnlySetFields(t *testing.T) {
	s := New()
	cpu := 12.5
	task := "TASK-7"
	taskPtr := &task
	s.Upsert("a1", Patch{CPU5m: &cpu, ActiveTaskID: &taskPtr})

	idle := 3.0
	got := s.Upsert("a1", Patch{IdleMinutes: &idle})
	assert.Equal(t, 12.5, got.CPU5m)
	assert.Equal(t, 3.0, got.IdleMinutes)
	require.NotNil(t, got.ActiveTaskID)
	assert.Equal(t, "TASK-7", *got.ActiveTaskID)

	var cleared *string
	got = s.Upsert("a1", Patch{ActiveTaskID: &cleared})
	assert.Nil(t, got.ActiveTaskID)
}

func TestListReturnsCopies(t *testing.T) {
	s := New()
	task := "TASK-1"
	taskPtr := &task
	s.Upsert("a1", Patch{ActiveTaskID: &taskPtr})

	list := s.List()
	require.Len(t, list, 1)
	*list[0].ActiveTaskID = "mutated"

	got, err := s.Get("a1")
	require.NoError(t, err)
	assert.Equal(t, "TASK-1", *got.ActiveTaskID)
}

func TestConcurrentUpdatesAcrossAgents(t *testing.T) {
	s := New()
	const agents = 8
	const perAgent = 200
	for i := 0; i < agents; i++ {
		s.Register(fmt.Sprintf("a%d", i), "u", "h", time.Now())
	}

	var wg sync.WaitGroup
	for i := 0; i < agents; i++ {
		id := fmt.Sprintf("a%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perAgent; j++ {
				_, err := s.Update(id, func(a *fleet.Agent) { a.CPU5m++ })
				if err != nil {
					t.Errorf("update %s: %v", id, err)
					return
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < perAgent; j++ {
			_ = s.List()
		}
	}()
	wg.Wait()

	for _, a := range s.List() {
		assert.Equal(t, float64(perAgent), a.CPU5m, a.AgentID)
	}
}

func TestLoadSeedsAgents(t *testing.T) {
	s := New()
	seen := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	s.Load([]fleet.Agent{{AgentID: "a1", User: "ana", LastSeen: seen}, {AgentID: ""}})

	assert.Equal(t, 1, s.Len())
	got, err := s.Get("a1")
	require.NoError(t, err)
	assert.Equal(t, seen, got.RegisteredAt)
}

func TestUpdateLocksOnlyItsAgent(t *testing.T) {
	s := New()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	s.Register("a", "ana", "ws-01", now)
	s.Register("b", "bo", "ws-02", now)

	holding := make(chan struct{})
	release := make(chan struct{})
	doneA := make(chan struct{})
	go func() {
		defer close(doneA)
		_, _ = s.Update("a", func(a *fleet.Agent) {
			close(holding)
			<-release
			a.CPU5m = 1
		})
	}()
	<-holding

	doneB := make(chan error, 1)
	go func() {
		_, err := s.Update("b", func(a *fleet.Agent) { a.CPU5m = 2 })
		doneB <- err
	}()

	select {
	case err := <-doneB:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		close(release)
		t.Fatal("update of b blocked behind a")
	}
	got, err := s.Get("b")
	require.NoError(t, err)
	assert.Equal(t, 2.0, got.CPU5m)

	close(release)
	<-doneA
	got, err = s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.CPU5m)
}
