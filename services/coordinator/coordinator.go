// Package coordinator runs order intake and assignment: canonicalize, score
// the archive, rank agents, persist, then fan out to the task board and the
// notification channel.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"slsdispatch/pkg/metrics"
	"slsdispatch/services/agentstate"
	"slsdispatch/services/fleet"
	"slsdispatch/services/matcher"
	"slsdispatch/services/naming"
	"slsdispatch/services/notify"
	"slsdispatch/services/ranker"
)

// Store persists orders and assignments.
type Store interface {
	CreateOrder(ctx context.Context, order *fleet.Order, suggestions []fleet.Suggestion) error
	SetExternalTaskRef(ctx context.Context, orderID int64, ref map[string]any) error
	GetOrder(ctx context.Context, id int64) (fleet.Order, []fleet.Suggestion, error)
	RecentOrders(ctx context.Context, limit int) ([]fleet.Order, error)
	CreateAssignment(ctx context.Context, a *fleet.Assignment) error
	AssignmentsSince(ctx context.Context, since time.Time) (map[string]int, error)
	SaveAgent(ctx context.Context, agent fleet.Agent) error
}

// Suggester scores a filename against the archive.
type Suggester interface {
	Suggest(ctx context.Context, filename string) ([]matcher.Match, matcher.Mode)
}

// TaskBoard creates the external draft item for an order.
type TaskBoard interface {
	CreateItem(ctx context.Context, order fleet.Order) (map[string]any, error)
}

// Notifier is the subset of notify.Sink the coordinator uses.
type Notifier interface {
	NotifyOrder(ctx context.Context, n notify.OrderNotice) fleet.Delivery
	NotifyAssignment(ctx context.Context, n notify.AssignmentNotice) fleet.Delivery
}

// Config tunes the coordinator.
type Config struct {
	// AutoAssign hands each new order to the best free agent.
	AutoAssign bool
	// Location defines "today" for the per-agent assignment count.
	Location *time.Location
	// SideTimeout bounds each task-board and notification call.
	SideTimeout time.Duration
}

// Coordinator wires the intake pipeline.
type Coordinator struct {
	agents   *agentstate.Store
	names    *naming.Canonicalizer
	matcher  Suggester
	store    Store
	board    TaskBoard
	notifier Notifier
	cfg      Config
	log      zerolog.Logger
	now      func() time.Time
}

// Deps groups the required and optional collaborators.
type Deps struct {
	Agents   *agentstate.Store
	Names    *naming.Canonicalizer
	Matcher  Suggester
	Store    Store
	Board    TaskBoard
	Notifier Notifier
}

// New validates deps and returns a Coordinator. Board and Notifier are optional.
func New(deps Deps, cfg Config, logger zerolog.Logger) (*Coordinator, error) {
	switch {
	case deps.Agents == nil:
		return nil, errors.New("agent store is required")
	case deps.Names == nil:
		return nil, errors.New("canonicalizer is required")
	case deps.Matcher == nil:
		return nil, errors.New("matcher is required")
	case deps.Store == nil:
		return nil, errors.New("store is required")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.SideTimeout <= 0 {
		cfg.SideTimeout = 15 * time.Second
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Discard{}
	}
	return &Coordinator{
		agents:   deps.Agents,
		names:    deps.Names,
		matcher:  deps.Matcher,
		store:    deps.Store,
		board:    deps.Board,
		notifier: deps.Notifier,
		cfg:      cfg,
		log:      logger.With().Str("component", "coordinator").Logger(),
		now:      time.Now,
	}, nil
}

// SetClock overrides the time source.
func (c *Coordinator) SetClock(now func() time.Time) {
	c.now = now
}

// OrderRequest is an incoming order.
type OrderRequest struct {
	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`
	CustomerPhone string `json:"customer_phone,omitempty"`
	naming.Attributes
	Price        *float64 `json:"price,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
}

// Validate checks the request before any side effect.
func (r OrderRequest) Validate() error {
	if strings.TrimSpace(r.CustomerName) == "" {
		return fmt.Errorf("%w: customer_name is required", fleet.ErrValidation)
	}
	if _, err := mail.ParseAddress(strings.TrimSpace(r.CustomerEmail)); err != nil {
		return fmt.Errorf("%w: customer_email is invalid", fleet.ErrValidation)
	}
	if r.Price != nil && *r.Price < 0 {
		return fmt.Errorf("%w: price must not be negative", fleet.ErrValidation)
	}
	return r.Attributes.Validate()
}

// IntakeResult is returned by CreateOrder and GetOrder.
type IntakeResult struct {
	ID              int64              `json:"id"`
	Filename        string             `json:"filename"`
	Suggestions     []fleet.Suggestion `json:"suggestions"`
	Workers         []ranker.Candidate `json:"workers"`
	ExternalTaskRef map[string]any     `json:"external_task_ref"`
	Assignment      *fleet.Assignment  `json:"assignment,omitempty"`
}

// CreateOrder runs the intake pipeline. Only validation and the order write can
// fail the call; task board and notification failures are logged.
func (c *Coordinator) CreateOrder(ctx context.Context, req OrderRequest) (IntakeResult, error) {
	if err := req.Validate(); err != nil {
		metrics.Orders.WithLabelValues("invalid").Inc()
		return IntakeResult{}, err
	}

	filename := c.names.Canonicalize(req.Attributes)
	matches, mode := c.matcher.Suggest(ctx, filename)
	suggestions := toSuggestions(matches)
	workers := ranker.Rank(c.agents.List(), c.tasksToday(ctx))

	order := fleet.Order{
		CustomerName:      strings.TrimSpace(req.CustomerName),
		CustomerEmail:     strings.TrimSpace(req.CustomerEmail),
		CustomerPhone:     strings.TrimSpace(req.CustomerPhone),
		Category:          req.Category,
		Design:            req.Design,
		Stone:             req.Stone,
		Metal:             req.Metal,
		Size:              req.Size,
		Price:             req.Price,
		Instructions:      req.Instructions,
		CanonicalFilename: filename,
		ExternalTaskRef:   map[string]any{},
		CreatedAt:         c.now(),
	}
	if err := c.store.CreateOrder(ctx, &order, suggestions); err != nil {
		metrics.Orders.WithLabelValues("error").Inc()
		return IntakeResult{}, fmt.Errorf("persist order: %w", err)
	}
	metrics.Orders.WithLabelValues("ok").Inc()
	c.log.Info().
		Int64("order_id", order.ID).
		Str("filename", filename).
		Str("match_mode", string(mode)).
		Int("suggestions", len(suggestions)).
		Msg("order received")

	order.ExternalTaskRef = c.createBoardItem(ctx, order)

	d := c.sideCall(ctx, func(ctx context.Context) fleet.Delivery {
		return c.notifier.NotifyOrder(ctx, notify.OrderNotice{Order: order, Suggestions: suggestions, Workers: workers})
	})
	c.logDelivery("order", order.ID, d)

	result := IntakeResult{
		ID:              order.ID,
		Filename:        filename,
		Suggestions:     suggestions,
		Workers:         workers,
		ExternalTaskRef: order.ExternalTaskRef,
	}

	if c.cfg.AutoAssign {
		if best, ok := ranker.FirstFree(workers); ok {
			a, err := c.Assign(ctx, AssignRequest{OrderID: order.ID, AgentID: best.AgentID})
			if err != nil {
				c.log.Warn().Err(err).Int64("order_id", order.ID).Str("agent_id", best.AgentID).Msg("auto-assign failed")
			} else {
				result.Assignment = &a
			}
		}
	}

	return result, nil
}

func (c *Coordinator) createBoardItem(ctx context.Context, order fleet.Order) map[string]any {
	if c.board == nil {
		return map[string]any{}
	}
	var ref map[string]any
	d := c.sideCall(ctx, func(ctx context.Context) fleet.Delivery {
		var err error
		ref, err = c.board.CreateItem(ctx, order)
		if err != nil {
			return fleet.Failed(err)
		}
		return fleet.Delivered()
	})
	c.logDelivery("task_board", order.ID, d)
	if !d.Delivered || ref == nil {
		return map[string]any{}
	}
	if err := c.store.SetExternalTaskRef(ctx, order.ID, ref); err != nil {
		c.log.Warn().Err(err).Int64("order_id", order.ID).Msg("store task board reference failed")
	}
	return ref
}

func (c *Coordinator) sideCall(ctx context.Context, fn func(context.Context) fleet.Delivery) fleet.Delivery {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.SideTimeout)
	defer cancel()
	return fn(ctx)
}

func (c *Coordinator) logDelivery(channel string, orderID int64, d fleet.Delivery) {
	if d.NotConfigured() {
		metrics.Deliveries.WithLabelValues(channel, "skipped").Inc()
		return
	}
	metrics.Deliveries.WithLabelValues(channel, metrics.Outcome(d.Delivered)).Inc()
	if !d.Delivered {
		c.log.Warn().Str("channel", channel).Int64("order_id", orderID).Str("reason", d.Reason).Msg("side channel failed")
	}
}

func (c *Coordinator) tasksToday(ctx context.Context) map[string]int {
	now := c.now().In(c.cfg.Location)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, c.cfg.Location)
	counts, err := c.store.AssignmentsSince(ctx, midnight)
	if err != nil {
		c.log.Warn().Err(err).Msg("count today's assignments failed")
		return map[string]int{}
	}
	return counts
}

// AssignRequest hands an order to an agent. An empty TaskID becomes TASK-<order_id>.
type AssignRequest struct {
	OrderID int64  `json:"order_id"`
	AgentID string `json:"agent_id"`
	TaskID  string `json:"task_id"`
}

// Assign records the assignment and makes it the agent's active task.
func (c *Coordinator) Assign(ctx context.Context, req AssignRequest) (fleet.Assignment, error) {
	agentID := strings.TrimSpace(req.AgentID)
	if req.OrderID <= 0 {
		return fleet.Assignment{}, fmt.Errorf("%w: order_id is required", fleet.ErrValidation)
	}
	if agentID == "" {
		return fleet.Assignment{}, fmt.Errorf("%w: agent_id is required", fleet.ErrValidation)
	}
	taskID := strings.TrimSpace(req.TaskID)
	if taskID == "" {
		taskID = fleet.TaskIDForOrder(req.OrderID)
	}

	if _, err := c.agents.Get(agentID); err != nil {
		return fleet.Assignment{}, err
	}
	order, _, err := c.store.GetOrder(ctx, req.OrderID)
	if err != nil {
		return fleet.Assignment{}, err
	}

	now := c.now()
	a := fleet.Assignment{OrderID: order.ID, AgentID: agentID, TaskID: taskID, TS: now}
	if err := c.store.CreateAssignment(ctx, &a); err != nil {
		return fleet.Assignment{}, fmt.Errorf("persist assignment: %w", err)
	}

	agent, err := c.agents.Update(agentID, func(ag *fleet.Agent) {
		ag.ActiveTaskID = &taskID
		ag.TaskSince = now
		ag.InactiveAlerted = false
	})
	if err != nil {
		return fleet.Assignment{}, err
	}
	if err := c.store.SaveAgent(ctx, agent); err != nil {
		metrics.PersistFailures.WithLabelValues("agent").Inc()
		c.log.Warn().Err(err).Str("agent_id", agentID).Msg("persist agent failed")
	}

	c.log.Info().Int64("order_id", order.ID).Str("agent_id", agentID).Str("task_id", taskID).Msg("order assigned")

	d := c.sideCall(ctx, func(ctx context.Context) fleet.Delivery {
		return c.notifier.NotifyAssignment(ctx, notify.AssignmentNotice{
			Assignment:   a,
			User:         agent.User,
			Filename:     order.CanonicalFilename,
			CustomerName: order.CustomerName,
		})
	})
	c.logDelivery("assignment", order.ID, d)

	return a, nil
}

// GetOrder returns the stored intake result with a fresh worker ranking.
func (c *Coordinator) GetOrder(ctx context.Context, id int64) (IntakeResult, error) {
	order, suggestions, err := c.store.GetOrder(ctx, id)
	if err != nil {
		return IntakeResult{}, err
	}
	ref := order.ExternalTaskRef
	if ref == nil {
		ref = map[string]any{}
	}
	return IntakeResult{
		ID:              order.ID,
		Filename:        order.CanonicalFilename,
		Suggestions:     suggestions,
		Workers:         ranker.Rank(c.agents.List(), c.tasksToday(ctx)),
		ExternalTaskRef: ref,
	}, nil
}

// RecentOrders lists the newest orders first.
func (c *Coordinator) RecentOrders(ctx context.Context, limit int) ([]fleet.Order, error) {
	if limit <= 0 {
		limit = 10
	}
	return c.store.RecentOrders(ctx, limit)
}

// Workers returns every agent ordered by id.
func (c *Coordinator) Workers() []fleet.Agent {
	agents := c.agents.List()
	sort.Slice(agents, func(i, j int) bool { return agents[i].AgentID < agents[j].AgentID })
	return agents
}

func toSuggestions(matches []matcher.Match) []fleet.Suggestion {
	out := make([]fleet.Suggestion, len(matches))
	for i, m := range matches {
		out[i] = fleet.Suggestion{Filename: m.Filename, Path: m.Path, Size: m.Size, Score: m.Score, TempLink: m.TempLink}
	}
	return out
}
