// Package notify delivers human-facing notices about orders, assignments and
// agent inactivity.
package notify

import (
	"context"

	"slsdispatch/services/fleet"
	"slsdispatch/services/ranker"
)

// Bus subjects carrying notices between the API process and the relay.
const (
	SubjectAlert      = "sls.alerts.inactive"
	SubjectOrder      = "sls.orders.created"
	SubjectAssignment = "sls.assignments.created"
	SubjectCompletion = "sls.tasks.completed"
)

// OrderNotice announces a new order with its suggestions and candidates.
type OrderNotice struct {
	Order       fleet.Order        `json:"order"`
	Suggestions []fleet.Suggestion `json:"suggestions"`
	Workers     []ranker.Candidate `json:"workers"`
}

// AssignmentNotice announces that an order was handed to an agent.
type AssignmentNotice struct {
	Assignment   fleet.Assignment `json:"assignment"`
	User         string           `json:"user"`
	Filename     string           `json:"filename"`
	CustomerName string           `json:"customer_name"`
}

// Sink receives every notice kind. Implementations never return bare errors;
// the Delivery result carries the outcome.
type Sink interface {
	NotifyAlert(ctx context.Context, alert fleet.Alert) fleet.Delivery
	NotifyOrder(ctx context.Context, n OrderNotice) fleet.Delivery
	NotifyAssignment(ctx context.Context, n AssignmentNotice) fleet.Delivery
	NotifyCompletion(ctx context.Context, c fleet.Completion) fleet.Delivery
}

// Discard is a Sink used when no channel is configured.
type Discard struct{}

func (Discard) NotifyAlert(context.Context, fleet.Alert) fleet.Delivery {
	return fleet.Skipped("notification sink")
}

func (Discard) NotifyOrder(context.Context, OrderNotice) fleet.Delivery {
	return fleet.Skipped("notification sink")
}

func (Discard) NotifyAssignment(context.Context, AssignmentNotice) fleet.Delivery {
	return fleet.Skipped("notification sink")
}

func (Discard) NotifyCompletion(context.Context, fleet.Completion) fleet.Delivery {
	return fleet.Skipped("notification sink")
}
