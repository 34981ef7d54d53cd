package store

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"slsdispatch/services/fleet"
	"slsdispatch/services/reports"
)

// Memory keeps everything in process. Data is lost on restart.
type Memory struct {
	mu          sync.RWMutex
	agents      map[string]fleet.Agent
	heartbeats  []fleet.HeartbeatRecord
	events      []fleet.EventRecord
	eventIDs    map[string]struct{}
	orders      map[int64]fleet.Order
	suggestions map[int64][]fleet.Suggestion
	assignments []fleet.Assignment
	nextOrder   int64
	nextAssign  int64
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		agents:      map[string]fleet.Agent{},
		eventIDs:    map[string]struct{}{},
		orders:      map[int64]fleet.Order{},
		suggestions: map[int64][]fleet.Suggestion{},
	}
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) SaveAgent(_ context.Context, agent fleet.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[agent.AgentID] = agent.Clone()
	return nil
}

func (m *Memory) LoadAgents(context.Context) ([]fleet.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]fleet.Agent, 0, len(m.agents))
	for _, a := range m.agents {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out, nil
}

func (m *Memory) RecordHeartbeat(_ context.Context, rec fleet.HeartbeatRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heartbeats = append(m.heartbeats, rec)
	return nil
}

func (m *Memory) RecordEvent(_ context.Context, rec fleet.EventRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID != "" {
		if _, seen := m.eventIDs[rec.ID]; seen {
			return nil
		}
		m.eventIDs[rec.ID] = struct{}{}
	}
	rec.Meta = maps.Clone(rec.Meta)
	m.events = append(m.events, rec)
	return nil
}

// Events returns a copy of the recorded events.
func (m *Memory) Events() []fleet.EventRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]fleet.EventRecord(nil), m.events...)
}

// Heartbeats returns a copy of the recorded heartbeats.
func (m *Memory) Heartbeats() []fleet.HeartbeatRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]fleet.HeartbeatRecord(nil), m.heartbeats...)
}

func (m *Memory) CreateOrder(_ context.Context, order *fleet.Order, suggestions []fleet.Suggestion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextOrder++
	order.ID = m.nextOrder
	stored := *order
	stored.ExternalTaskRef = maps.Clone(order.ExternalTaskRef)
	if stored.ExternalTaskRef == nil {
		stored.ExternalTaskRef = map[string]any{}
	}
	m.orders[order.ID] = stored
	m.suggestions[order.ID] = append([]fleet.Suggestion(nil), suggestions...)
	return nil
}

func (m *Memory) SetExternalTaskRef(_ context.Context, orderID int64, ref map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: %d", fleet.ErrOrderNotFound, orderID)
	}
	o.ExternalTaskRef = maps.Clone(ref)
	m.orders[orderID] = o
	return nil
}

func (m *Memory) GetOrder(_ context.Context, id int64) (fleet.Order, []fleet.Suggestion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return fleet.Order{}, nil, fmt.Errorf("%w: %d", fleet.ErrOrderNotFound, id)
	}
	o.ExternalTaskRef = maps.Clone(o.ExternalTaskRef)
	return o, append([]fleet.Suggestion(nil), m.suggestions[id]...), nil
}

func (m *Memory) RecentOrders(_ context.Context, limit int) ([]fleet.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]fleet.Order, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) CreateAssignment(_ context.Context, a *fleet.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[a.OrderID]; !ok {
		return fmt.Errorf("%w: %d", fleet.ErrOrderNotFound, a.OrderID)
	}
	m.nextAssign++
	a.ID = m.nextAssign
	m.assignments = append(m.assignments, *a)
	return nil
}

func (m *Memory) LatestAssignment(_ context.Context, orderID int64) (fleet.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.assignments) - 1; i >= 0; i-- {
		if m.assignments[i].OrderID == orderID {
			return m.assignments[i], nil
		}
	}
	return fleet.Assignment{}, fmt.Errorf("%w: no assignment for order %d", fleet.ErrOrderNotFound, orderID)
}

func (m *Memory) AssignmentsSince(_ context.Context, since time.Time) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := map[string]int{}
	for _, a := range m.assignments {
		if !a.TS.Before(since) {
			out[a.AgentID]++
		}
	}
	return out, nil
}

func (m *Memory) HeartbeatCounts(_ context.Context, from, to time.Time) ([]reports.AgentCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byAgent := map[string]*reports.AgentCount{}
	for _, hb := range m.heartbeats {
		if hb.TS.Before(from) || !hb.TS.Before(to) {
			continue
		}
		c, ok := byAgent[hb.AgentID]
		if !ok {
			c = &reports.AgentCount{AgentID: hb.AgentID}
			byAgent[hb.AgentID] = c
		}
		c.Heartbeats++
		if hb.IsAppRunning || hb.IsAppForeground {
			c.ActiveTicks++
		}
	}
	out := make([]reports.AgentCount, 0, len(byAgent))
	for _, c := range byAgent {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out, nil
}
