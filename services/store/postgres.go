// Package store persists agents, heartbeats, events, orders and assignments.
// Postgres is the production backend; Memory serves local runs and tests.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"slsdispatch/pkg/db"
	"slsdispatch/services/fleet"
	"slsdispatch/services/reports"
)

// Postgres uses gorm for row writes and pgxscan for aggregate reads. Both run
// on the same pool.
type Postgres struct {
	orm  *gorm.DB
	pool *pgxpool.Pool
}

// NewPostgres wraps an open pool.
func NewPostgres(pool *pgxpool.Pool) (*Postgres, error) {
	orm, err := db.OpenORM(pool)
	if err != nil {
		return nil, fmt.Errorf("open orm: %w", err)
	}
	return &Postgres{orm: orm, pool: pool}, nil
}

// Ping checks connectivity.
func (p *Postgres) Ping(ctx context.Context) error {
	return db.Ping(ctx, p.pool)
}

// SaveAgent upserts the full agent row.
func (p *Postgres) SaveAgent(ctx context.Context, agent fleet.Agent) error {
	m := agentFromFleet(agent)
	if m.RegisteredAt.IsZero() {
		m.RegisteredAt = time.Now()
	}
	return p.orm.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "agent_id"}}, UpdateAll: true}).
		Create(&m).Error
}

// LoadAgents returns every persisted agent for startup hydration.
func (p *Postgres) LoadAgents(ctx context.Context) ([]fleet.Agent, error) {
	var rows []agentModel
	if err := p.orm.WithContext(ctx).Order("agent_id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]fleet.Agent, len(rows))
	for i, r := range rows {
		out[i] = r.toFleet()
	}
	return out, nil
}

// RecordHeartbeat appends one heartbeat row.
func (p *Postgres) RecordHeartbeat(ctx context.Context, rec fleet.HeartbeatRecord) error {
	m := heartbeatModel{
		AgentID:         rec.AgentID,
		IsAppRunning:    rec.IsAppRunning,
		IsAppForeground: rec.IsAppForeground,
		AppVersion:      rec.AppVersion,
		OSVersion:       rec.OSVersion,
		ActiveTaskID:    rec.ActiveTaskID,
		CPU5m:           rec.CPU5m,
		IdleMinutes:     rec.IdleMinutes,
		CreatedAt:       rec.TS,
	}
	return p.orm.WithContext(ctx).Create(&m).Error
}

// RecordEvent appends one event row. A replayed event id is ignored.
func (p *Postgres) RecordEvent(ctx context.Context, rec fleet.EventRecord) error {
	m := eventModel{
		AgentID:   rec.AgentID,
		Type:      rec.Type,
		TaskID:    rec.TaskID,
		Meta:      datatypes.JSONMap(rec.Meta),
		CreatedAt: rec.TS,
	}
	if rec.ID != "" {
		id := rec.ID
		m.UID = &id
	}
	return p.orm.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "uid"}}, DoNothing: true}).
		Create(&m).Error
}

// CreateOrder inserts the order and its ranked suggestions in one transaction
// and sets order.ID.
func (p *Postgres) CreateOrder(ctx context.Context, order *fleet.Order, suggestions []fleet.Suggestion) error {
	return p.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m := orderFromFleet(*order)
		if m.ExternalTaskRef == nil {
			m.ExternalTaskRef = datatypes.JSONMap{}
		}
		if err := tx.Omit("id").Create(&m).Error; err != nil {
			return err
		}
		if len(suggestions) > 0 {
			rows := make([]suggestionModel, len(suggestions))
			for i, s := range suggestions {
				rows[i] = suggestionModel{
					OrderID:  m.ID,
					Rank:     i + 1,
					Filename: s.Filename,
					Path:     s.Path,
					Size:     s.Size,
					Score:    s.Score,
					TempLink: s.TempLink,
				}
			}
			if err := tx.Omit("id").Create(&rows).Error; err != nil {
				return err
			}
		}
		order.ID = m.ID
		return nil
	})
}

// SetExternalTaskRef stores the task board reference for an order.
func (p *Postgres) SetExternalTaskRef(ctx context.Context, orderID int64, ref map[string]any) error {
	res := p.orm.WithContext(ctx).
		Model(&orderModel{}).
		Where("id = ?", orderID).
		Update("external_task_ref", datatypes.JSONMap(ref))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %d", fleet.ErrOrderNotFound, orderID)
	}
	return nil
}

// GetOrder returns an order with its suggestions in rank order.
func (p *Postgres) GetOrder(ctx context.Context, id int64) (fleet.Order, []fleet.Suggestion, error) {
	var m orderModel
	if err := p.orm.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fleet.Order{}, nil, fmt.Errorf("%w: %d", fleet.ErrOrderNotFound, id)
		}
		return fleet.Order{}, nil, err
	}
	var rows []suggestionModel
	if err := p.orm.WithContext(ctx).Where("order_id = ?", id).Order("rank").Find(&rows).Error; err != nil {
		return fleet.Order{}, nil, err
	}
	out := make([]fleet.Suggestion, len(rows))
	for i, r := range rows {
		out[i] = r.toFleet()
	}
	return m.toFleet(), out, nil
}

// RecentOrders lists the newest orders first.
func (p *Postgres) RecentOrders(ctx context.Context, limit int) ([]fleet.Order, error) {
	var rows []orderModel
	if err := p.orm.WithContext(ctx).Order("created_at DESC, id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]fleet.Order, len(rows))
	for i, r := range rows {
		out[i] = r.toFleet()
	}
	return out, nil
}

// CreateAssignment appends an assignment row and sets a.ID.
func (p *Postgres) CreateAssignment(ctx context.Context, a *fleet.Assignment) error {
	m := assignmentModel{OrderID: a.OrderID, AgentID: a.AgentID, TaskID: a.TaskID, CreatedAt: a.TS}
	if err := p.orm.WithContext(ctx).Omit("id").Create(&m).Error; err != nil {
		return err
	}
	a.ID = m.ID
	return nil
}

// LatestAssignment returns the current assignee row for an order.
func (p *Postgres) LatestAssignment(ctx context.Context, orderID int64) (fleet.Assignment, error) {
	var m assignmentModel
	err := db.Get(ctx, p.pool, &m, `
		SELECT id, order_id, agent_id, task_id, created_at
		FROM assignments
		WHERE order_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, orderID)
	if err != nil {
		if db.NotFound(err) {
			return fleet.Assignment{}, fmt.Errorf("%w: no assignment for order %d", fleet.ErrOrderNotFound, orderID)
		}
		return fleet.Assignment{}, err
	}
	return m.toFleet(), nil
}

type agentCount struct {
	AgentID string `db:"agent_id"`
	N       int    `db:"n"`
}

// AssignmentsSince counts assignments per agent created at or after since.
func (p *Postgres) AssignmentsSince(ctx context.Context, since time.Time) (map[string]int, error) {
	var rows []agentCount
	if err := db.Select(ctx, p.pool, &rows, `
		SELECT agent_id, count(*) AS n
		FROM assignments
		WHERE created_at >= $1
		GROUP BY agent_id`, since); err != nil {
		return nil, err
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.AgentID] = r.N
	}
	return out, nil
}

// HeartbeatCounts tallies heartbeats per agent in [from, to).
func (p *Postgres) HeartbeatCounts(ctx context.Context, from, to time.Time) ([]reports.AgentCount, error) {
	var rows []reports.AgentCount
	if err := db.Select(ctx, p.pool, &rows, `
		SELECT agent_id,
		       count(*) FILTER (WHERE is_app_running OR is_app_foreground) AS active_ticks,
		       count(*) AS heartbeats
		FROM heartbeats
		WHERE created_at >= $1 AND created_at < $2
		GROUP BY agent_id
		ORDER BY agent_id`, from, to); err != nil {
		return nil, err
	}
	return rows, nil
}
