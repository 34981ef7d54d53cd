// Package ranker orders agents by availability for new work.
package ranker

import (
	"sort"

	"slsdispatch/services/fleet"
)

// DefaultLimit is how many candidates Rank returns.
const DefaultLimit = 3

// Candidate is one ranked agent.
type Candidate struct {
	AgentID      string  `json:"agent_id"`
	User         string  `json:"user"`
	CPU5m        float64 `json:"cpu_5m"`
	IdleMinutes  float64 `json:"idle_minutes"`
	ActiveTaskID *string `json:"active_task_id"`
	TasksToday   int     `json:"tasks_today"`
}

// Busy reports whether the candidate already holds a task.
func (c Candidate) Busy() bool {
	return c.ActiveTaskID != nil && *c.ActiveTaskID != ""
}

// Rank returns the top DefaultLimit candidates.
func Rank(agents []fleet.Agent, tasksToday map[string]int) []Candidate {
	return RankN(agents, tasksToday, DefaultLimit)
}

// RankN sorts by (busy, cpu_5m, idle_minutes, tasks_today), all ascending with
// free agents first, and returns the first n. Remaining ties fall back to
// agent id so the result does not depend on input order.
func RankN(agents []fleet.Agent, tasksToday map[string]int, n int) []Candidate {
	out := make([]Candidate, 0, len(agents))
	for _, a := range agents {
		a = a.Clone()
		out = append(out, Candidate{
			AgentID:      a.AgentID,
			User:         a.User,
			CPU5m:        a.CPU5m,
			IdleMinutes:  a.IdleMinutes,
			ActiveTaskID: a.ActiveTaskID,
			TasksToday:   tasksToday[a.AgentID],
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Busy() != b.Busy() {
			return !a.Busy()
		}
		if a.CPU5m != b.CPU5m {
			return a.CPU5m < b.CPU5m
		}
		if a.IdleMinutes != b.IdleMinutes {
			return a.IdleMinutes < b.IdleMinutes
		}
		if a.TasksToday != b.TasksToday {
			return a.TasksToday < b.TasksToday
		}
		return a.AgentID < b.AgentID
	})

	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// FirstFree returns the best candidate without a task.
func FirstFree(cands []Candidate) (Candidate, bool) {
	for _, c := range cands {
		if !c.Busy() {
			return c, true
		}
	}
	return Candidate{}, false
}
