package notify

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"slsdispatch/services/fleet"
)

// StreamName is the JetStream stream holding every notice subject.
const StreamName = "SLS_NOTICES"

// Subjects lists every notice subject.
var Subjects = []string{SubjectAlert, SubjectOrder, SubjectAssignment, SubjectCompletion}

// Publisher is satisfied by *bus.Bus.
type Publisher interface {
	Publish(ctx context.Context, subj, msgID string, v any) error
}

// BusSink publishes notices for the relay to deliver.
type BusSink struct {
	pub Publisher
}

// NewBusSink wraps a publisher.
func NewBusSink(pub Publisher) *BusSink {
	return &BusSink{pub: pub}
}

func (s *BusSink) publish(ctx context.Context, subj, msgID string, v any) fleet.Delivery {
	if s == nil || s.pub == nil {
		return fleet.Skipped("bus")
	}
	if err := s.pub.Publish(ctx, subj, msgID, v); err != nil {
		return fleet.Failed(fmt.Errorf("%w: publish %s: %v", fleet.ErrTransientDelivery, subj, err))
	}
	return fleet.Delivered()
}

func (s *BusSink) NotifyAlert(ctx context.Context, alert fleet.Alert) fleet.Delivery {
	id := "alert-" + alert.AgentID + "-" + strconv.FormatInt(alert.Since.UnixNano(), 10)
	return s.publish(ctx, SubjectAlert, id, alert)
}

func (s *BusSink) NotifyOrder(ctx context.Context, n OrderNotice) fleet.Delivery {
	return s.publish(ctx, SubjectOrder, "order-"+strconv.FormatInt(n.Order.ID, 10), n)
}

func (s *BusSink) NotifyAssignment(ctx context.Context, n AssignmentNotice) fleet.Delivery {
	id := "assignment-" + strconv.FormatInt(n.Assignment.ID, 10)
	if n.Assignment.ID == 0 {
		id = uuid.NewString()
	}
	return s.publish(ctx, SubjectAssignment, id, n)
}

func (s *BusSink) NotifyCompletion(ctx context.Context, c fleet.Completion) fleet.Delivery {
	return s.publish(ctx, SubjectCompletion, uuid.NewString(), c)
}
