package fleet

import "time"

// Event types accepted from agents and emitted by the monitor.
const (
	EventFileDone          = "file_done"
	EventInactiveThreshold = "inactive_threshold"
)

// Agent is the server-side view of one CAD operator workstation.
type Agent struct {
	AgentID  string `json:"agent_id"`
	User     string `json:"user"`
	Hostname string `json:"hostname"`

	LastSeen     time.Time `json:"last_seen"`
	ActiveTaskID *string   `json:"active_task_id"`
	// TaskSince is when ActiveTaskID last changed.
	TaskSince time.Time `json:"task_since"`

	IsAppRunning    bool    `json:"is_target_app_running"`
	IsAppForeground bool    `json:"is_target_app_foreground"`
	CPU5m           float64 `json:"cpu_5m"`
	IdleMinutes     float64 `json:"idle_minutes"`
	OSVersion       string  `json:"os_version,omitempty"`
	AppVersion      string  `json:"app_version,omitempty"`

	LastActiveTS    time.Time `json:"last_active_ts"`
	InactiveAlerted bool      `json:"inactive_alerted"`
	RegisteredAt    time.Time `json:"registered_at"`
}

// HasTask reports whether the agent currently holds a task.
func (a Agent) HasTask() bool {
	return a.ActiveTaskID != nil && *a.ActiveTaskID != ""
}

// TaskID returns the active task id or the empty string.
func (a Agent) TaskID() string {
	if a.ActiveTaskID == nil {
		return ""
	}
	return *a.ActiveTaskID
}

// InactiveSince is the start of the current inactivity window.
func (a Agent) InactiveSince() time.Time {
	if a.TaskSince.After(a.LastActiveTS) {
		return a.TaskSince
	}
	return a.LastActiveTS
}

// Clone returns a deep copy safe to hand out of the state store.
func (a Agent) Clone() Agent {
	out := a
	if a.ActiveTaskID != nil {
		id := *a.ActiveTaskID
		out.ActiveTaskID = &id
	}
	return out
}

// HeartbeatReport is the periodic snapshot posted by an agent.
type HeartbeatReport struct {
	AgentID         string  `json:"agent_id"`
	IsAppRunning    bool    `json:"is_running"`
	IsAppForeground bool    `json:"is_foreground"`
	AppVersion      string  `json:"target_app_version,omitempty"`
	CPU5m           float64 `json:"cpu_5m"`
	IdleMinutes     float64 `json:"idle_minutes"`
	OSVersion       string  `json:"os_version,omitempty"`
	ActiveTaskID    *string `json:"active_task_id"`
}

// Active reports whether the snapshot carries an activity signal.
func (r HeartbeatReport) Active() bool {
	return r.IsAppRunning || r.IsAppForeground
}

// HeartbeatRecord is the append-only persisted form of a report.
type HeartbeatRecord struct {
	AgentID         string
	IsAppRunning    bool
	IsAppForeground bool
	AppVersion      string
	CPU5m           float64
	IdleMinutes     float64
	OSVersion       string
	ActiveTaskID    *string
	TS              time.Time
}

// AgentEvent is a discrete signal posted by an agent.
type AgentEvent struct {
	AgentID string         `json:"agent_id"`
	Type    string         `json:"type"`
	TaskID  *string        `json:"task_id"`
	Meta    map[string]any `json:"meta"`
}

// EventRecord is the persisted form of an agent or monitor event.
type EventRecord struct {
	ID      string
	AgentID string
	Type    string
	TaskID  *string
	Meta    map[string]any
	TS      time.Time
}

// Alert is emitted once per inactive episode.
type Alert struct {
	AgentID string    `json:"agent_id"`
	Type    string    `json:"type"`
	TaskID  string    `json:"task_id"`
	User    string    `json:"user,omitempty"`
	Since   time.Time `json:"since"`
}

// ValidEventType reports whether t is an event type agents may post.
func ValidEventType(t string) bool {
	switch t {
	case EventFileDone, EventInactiveThreshold:
		return true
	default:
		return false
	}
}

// Completion is raised when an agent reports a finished artifact.
type Completion struct {
	AgentID string `json:"agent_id"`
	User    string `json:"user,omitempty"`
	TaskID  string `json:"task_id,omitempty"`
	Path    string `json:"path,omitempty"`
}
