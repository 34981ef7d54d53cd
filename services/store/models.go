package store

import (
	"time"

	"gorm.io/datatypes"

	"slsdispatch/services/fleet"
)

type agentModel struct {
	AgentID         string     `gorm:"column:agent_id;primaryKey"`
	User            string     `gorm:"column:user"`
	Hostname        string     `gorm:"column:hostname"`
	LastSeen        *time.Time `gorm:"column:last_seen"`
	ActiveTaskID    *string    `gorm:"column:active_task_id"`
	TaskSince       *time.Time `gorm:"column:task_since"`
	IsAppRunning    bool       `gorm:"column:is_app_running"`
	IsAppForeground bool       `gorm:"column:is_app_foreground"`
	CPU5m           float64    `gorm:"column:cpu_5m"`
	IdleMinutes     float64    `gorm:"column:idle_minutes"`
	OSVersion       string     `gorm:"column:os_version"`
	AppVersion      string     `gorm:"column:app_version"`
	LastActiveTS    *time.Time `gorm:"column:last_active_ts"`
	InactiveAlerted bool       `gorm:"column:inactive_alerted"`
	RegisteredAt    time.Time  `gorm:"column:registered_at"`
}

func (agentModel) TableName() string { return "agents" }

func agentFromFleet(a fleet.Agent) agentModel {
	return agentModel{
		AgentID:         a.AgentID,
		User:            a.User,
		Hostname:        a.Hostname,
		LastSeen:        timePtr(a.LastSeen),
		ActiveTaskID:    a.Clone().ActiveTaskID,
		TaskSince:       timePtr(a.TaskSince),
		IsAppRunning:    a.IsAppRunning,
		IsAppForeground: a.IsAppForeground,
		CPU5m:           a.CPU5m,
		IdleMinutes:     a.IdleMinutes,
		OSVersion:       a.OSVersion,
		AppVersion:      a.AppVersion,
		LastActiveTS:    timePtr(a.LastActiveTS),
		InactiveAlerted: a.InactiveAlerted,
		RegisteredAt:    a.RegisteredAt,
	}
}

func (m agentModel) toFleet() fleet.Agent {
	return fleet.Agent{
		AgentID:         m.AgentID,
		User:            m.User,
		Hostname:        m.Hostname,
		LastSeen:        timeVal(m.LastSeen),
		ActiveTaskID:    m.ActiveTaskID,
		TaskSince:       timeVal(m.TaskSince),
		IsAppRunning:    m.IsAppRunning,
		IsAppForeground: m.IsAppForeground,
		CPU5m:           m.CPU5m,
		IdleMinutes:     m.IdleMinutes,
		OSVersion:       m.OSVersion,
		AppVersion:      m.AppVersion,
		LastActiveTS:    timeVal(m.LastActiveTS),
		InactiveAlerted: m.InactiveAlerted,
		RegisteredAt:    m.RegisteredAt,
	}
}

type heartbeatModel struct {
	ID              int64     `gorm:"column:id;primaryKey"`
	AgentID         string    `gorm:"column:agent_id"`
	IsAppRunning    bool      `gorm:"column:is_app_running"`
	IsAppForeground bool      `gorm:"column:is_app_foreground"`
	AppVersion      string    `gorm:"column:app_version"`
	OSVersion       string    `gorm:"column:os_version"`
	ActiveTaskID    *string   `gorm:"column:active_task_id"`
	CPU5m           float64   `gorm:"column:cpu_5m"`
	IdleMinutes     float64   `gorm:"column:idle_minutes"`
	CreatedAt       time.Time `gorm:"column:created_at"`
}

func (heartbeatModel) TableName() string { return "heartbeats" }

type eventModel struct {
	ID        int64             `gorm:"column:id;primaryKey"`
	UID       *string           `gorm:"column:uid"`
	AgentID   string            `gorm:"column:agent_id"`
	Type      string            `gorm:"column:type"`
	TaskID    *string           `gorm:"column:task_id"`
	Meta      datatypes.JSONMap `gorm:"column:meta"`
	CreatedAt time.Time         `gorm:"column:created_at"`
}

func (eventModel) TableName() string { return "events" }

type orderModel struct {
	ID                int64             `gorm:"column:id;primaryKey"`
	CustomerName      string            `gorm:"column:customer_name"`
	CustomerEmail     string            `gorm:"column:customer_email"`
	CustomerPhone     string            `gorm:"column:customer_phone"`
	Category          string            `gorm:"column:category"`
	Design            string            `gorm:"column:design"`
	Stone             string            `gorm:"column:stone"`
	Metal             string            `gorm:"column:metal"`
	Size              *float64          `gorm:"column:size"`
	Price             *float64          `gorm:"column:price"`
	Instructions      string            `gorm:"column:instructions"`
	CanonicalFilename string            `gorm:"column:canonical_filename"`
	ExternalTaskRef   datatypes.JSONMap `gorm:"column:external_task_ref"`
	CreatedAt         time.Time         `gorm:"column:created_at"`
}

func (orderModel) TableName() string { return "orders" }

func orderFromFleet(o fleet.Order) orderModel {
	return orderModel{
		ID:                o.ID,
		CustomerName:      o.CustomerName,
		CustomerEmail:     o.CustomerEmail,
		CustomerPhone:     o.CustomerPhone,
		Category:          o.Category,
		Design:            o.Design,
		Stone:             o.Stone,
		Metal:             o.Metal,
		Size:              o.Size,
		Price:             o.Price,
		Instructions:      o.Instructions,
		CanonicalFilename: o.CanonicalFilename,
		ExternalTaskRef:   datatypes.JSONMap(o.ExternalTaskRef),
		CreatedAt:         o.CreatedAt,
	}
}

func (m orderModel) toFleet() fleet.Order {
	ref := map[string]any(m.ExternalTaskRef)
	if ref == nil {
		ref = map[string]any{}
	}
	return fleet.Order{
		ID:                m.ID,
		CustomerName:      m.CustomerName,
		CustomerEmail:     m.CustomerEmail,
		CustomerPhone:     m.CustomerPhone,
		Category:          m.Category,
		Design:            m.Design,
		Stone:             m.Stone,
		Metal:             m.Metal,
		Size:              m.Size,
		Price:             m.Price,
		Instructions:      m.Instructions,
		CanonicalFilename: m.CanonicalFilename,
		ExternalTaskRef:   ref,
		CreatedAt:         m.CreatedAt,
	}
}

type suggestionModel struct {
	ID       int64  `gorm:"column:id;primaryKey"`
	OrderID  int64  `gorm:"column:order_id"`
	Rank     int    `gorm:"column:rank"`
	Filename string `gorm:"column:filename"`
	Path     string `gorm:"column:path"`
	Size     int64  `gorm:"column:size"`
	Score    int    `gorm:"column:score"`
	TempLink string `gorm:"column:temp_link"`
}

func (suggestionModel) TableName() string { return "suggestions" }

func (m suggestionModel) toFleet() fleet.Suggestion {
	return fleet.Suggestion{Filename: m.Filename, Path: m.Path, Size: m.Size, Score: m.Score, TempLink: m.TempLink}
}

type assignmentModel struct {
	ID        int64     `gorm:"column:id;primaryKey" db:"id"`
	OrderID   int64     `gorm:"column:order_id" db:"order_id"`
	AgentID   string    `gorm:"column:agent_id" db:"agent_id"`
	TaskID    string    `gorm:"column:task_id" db:"task_id"`
	CreatedAt time.Time `gorm:"column:created_at" db:"created_at"`
}

func (assignmentModel) TableName() string { return "assignments" }

func (m assignmentModel) toFleet() fleet.Assignment {
	return fleet.Assignment{ID: m.ID, OrderID: m.OrderID, AgentID: m.AgentID, TaskID: m.TaskID, TS: m.CreatedAt}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func timeVal(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
