// Package agentstate holds the authoritative in-memory view of every registered agent.
package agentstate

import (
	"fmt"
	"sync"
	"time"

	"slsdispatch/services/fleet"
)

type entry struct {
	mu    sync.Mutex
	agent fleet.Agent
}

// Store keeps one mutex per agent. The index lock is only held to find or
// create an entry, so writers for different agents never contend.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// New returns an empty Store.
func New() *Store {
	return &Store{entries: make(map[string]*entry)}
}

// Patch is a partial update applied by Upsert. Nil fields are left untouched.
type Patch struct {
	User            *string
	Hostname        *string
	LastSeen        *time.Time
	ActiveTaskID    **string
	IsAppRunning    *bool
	IsAppForeground *bool
	CPU5m           *float64
	IdleMinutes     *float64
	LastActiveTS    *time.Time
	InactiveAlerted *bool
}

func (p Patch) apply(a *fleet.Agent) {
	if p.User != nil {
		a.User = *p.User
	}
	if p.Hostname != nil {
		a.Hostname = *p.Hostname
	}
	if p.LastSeen != nil {
		a.LastSeen = *p.LastSeen
	}
	if p.ActiveTaskID != nil {
		a.ActiveTaskID = *p.ActiveTaskID
	}
	if p.IsAppRunning != nil {
		a.IsAppRunning = *p.IsAppRunning
	}
	if p.IsAppForeground != nil {
		a.IsAppForeground = *p.IsAppForeground
	}
	if p.CPU5m != nil {
		a.CPU5m = *p.CPU5m
	}
	if p.IdleMinutes != nil {
		a.IdleMinutes = *p.IdleMinutes
	}
	if p.LastActiveTS != nil {
		a.LastActiveTS = *p.LastActiveTS
	}
	if p.InactiveAlerted != nil {
		a.InactiveAlerted = *p.InactiveAlerted
	}
}

func (s *Store) lookup(id string) (*entry, bool) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	return e, ok
}

func (s *Store) lookupOrCreate(id string) *entry {
	if e, ok := s.lookup(id); ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		return e
	}
	e := &entry{agent: fleet.Agent{AgentID: id}}
	s.entries[id] = e
	return e
}

// Register creates the agent if needed and refreshes its identity fields.
// It returns the stored agent and whether it was newly created.
func (s *Store) Register(id, user, hostname string, now time.Time) (fleet.Agent, bool) {
	e := s.lookupOrCreate(id)

	e.mu.Lock()
	defer e.mu.Unlock()
	created := e.agent.RegisteredAt.IsZero()
	if created {
		e.agent.RegisteredAt = now
	}
	e.agent.User = user
	e.agent.Hostname = hostname
	return e.agent.Clone(), created
}

// Upsert applies p to the agent, creating it when absent.
func (s *Store) Upsert(id string, p Patch) fleet.Agent {
	e := s.lookupOrCreate(id)

	e.mu.Lock()
	defer e.mu.Unlock()
	p.apply(&e.agent)
	return e.agent.Clone()
}

// Update runs fn against the stored agent under its lock. Agents that were
// never registered are rejected with fleet.ErrUnknownAgent.
func (s *Store) Update(id string, fn func(a *fleet.Agent)) (fleet.Agent, error) {
	e, ok := s.lookup(id)
	if !ok {
		return fleet.Agent{}, fmt.Errorf("%w: %s", fleet.ErrUnknownAgent, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.agent)
	return e.agent.Clone(), nil
}

// Get returns a copy of the agent.
func (s *Store) Get(id string) (fleet.Agent, error) {
	e, ok := s.lookup(id)
	if !ok {
		return fleet.Agent{}, fmt.Errorf("%w: %s", fleet.ErrUnknownAgent, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.agent.Clone(), nil
}

// List returns a snapshot of all agents in no particular order. Each agent is
// internally consistent; the set as a whole is not a point-in-time view.
func (s *Store) List() []fleet.Agent {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]fleet.Agent, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.agent.Clone())
		e.mu.Unlock()
	}
	return out
}

// Load seeds the store from persisted agents. Existing entries are overwritten.
func (s *Store) Load(agents []fleet.Agent) {
	for _, a := range agents {
		if a.AgentID == "" {
			continue
		}
		e := s.lookupOrCreate(a.AgentID)
		e.mu.Lock()
		e.agent = a.Clone()
		if e.agent.RegisteredAt.IsZero() {
			e.agent.RegisteredAt = a.LastSeen
		}
		e.mu.Unlock()
	}
}

// Len returns the number of known agents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
