package notify

import (
	"context"
	"errors"
	"strings"

	"slsdispatch/services/fleet"
)

// Fanout delivers every notice to each sink in turn. The result is Delivered
// when at least one sink delivered, Skipped when none was configured.
type Fanout []Sink

func (f Fanout) each(fn func(Sink) fleet.Delivery) fleet.Delivery {
	var (
		reasons   []string
		errs      []error
		delivered bool
		attempted bool
	)
	for _, s := range f {
		if s == nil {
			continue
		}
		d := fn(s)
		if d.NotConfigured() {
			continue
		}
		attempted = true
		if d.Delivered {
			delivered = true
			continue
		}
		reasons = append(reasons, d.Reason)
		errs = append(errs, d.Err)
	}
	switch {
	case delivered:
		return fleet.Delivered()
	case !attempted:
		return fleet.Skipped("notification sink")
	default:
		return fleet.Delivery{Reason: strings.Join(reasons, "; "), Err: errors.Join(errs...)}
	}
}

func (f Fanout) NotifyAlert(ctx context.Context, alert fleet.Alert) fleet.Delivery {
	return f.each(func(s Sink) fleet.Delivery { return s.NotifyAlert(ctx, alert) })
}

func (f Fanout) NotifyOrder(ctx context.Context, n OrderNotice) fleet.Delivery {
	return f.each(func(s Sink) fleet.Delivery { return s.NotifyOrder(ctx, n) })
}

func (f Fanout) NotifyAssignment(ctx context.Context, n AssignmentNotice) fleet.Delivery {
	return f.each(func(s Sink) fleet.Delivery { return s.NotifyAssignment(ctx, n) })
}

func (f Fanout) NotifyCompletion(ctx context.Context, c fleet.Completion) fleet.Delivery {
	return f.each(func(s Sink) fleet.Delivery { return s.NotifyCompletion(ctx, c) })
}
