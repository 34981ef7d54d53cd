// Package relay consumes notices from the bus and delivers them to the
// configured chat sink. It lets the API publish without waiting on Telegram.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"slsdispatch/pkg/bus"
	"slsdispatch/pkg/metrics"
	"slsdispatch/services/fleet"
	"slsdispatch/services/notify"
)

// Subscriber is satisfied by *bus.Bus.
type Subscriber interface {
	Subscribe(ctx context.Context, subj, durable string, fn bus.Handler) (io.Closer, error)
}

// Relay forwards bus notices to a Sink.
type Relay struct {
	sub  Subscriber
	sink notify.Sink
	log  zerolog.Logger

	subsMu sync.Mutex
	subs   []io.Closer
}

// New creates a relay bound to the provided dependencies.
func New(sub Subscriber, sink notify.Sink, logger zerolog.Logger) (*Relay, error) {
	if sub == nil {
		return nil, errors.New("subscriber is required")
	}
	if sink == nil {
		return nil, errors.New("sink is required")
	}
	return &Relay{sub: sub, sink: sink, log: logger.With().Str("component", "relay").Logger()}, nil
}

// Start registers durable consumers for every notice subject.
func (r *Relay) Start(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}

	specs := []struct {
		subject string
		durable string
		handler bus.Handler
	}{
		{notify.SubjectAlert, "relay-alerts", r.handleAlert},
		{notify.SubjectOrder, "relay-orders", r.handleOrder},
		{notify.SubjectAssignment, "relay-assignments", r.handleAssignment},
		{notify.SubjectCompletion, "relay-completions", r.handleCompletion},
	}

	for _, spec := range specs {
		closer, err := r.sub.Subscribe(ctx, spec.subject, spec.durable, spec.handler)
		if err != nil {
			r.Close()
			return fmt.Errorf("subscribe %s: %w", spec.subject, err)
		}
		r.subsMu.Lock()
		r.subs = append(r.subs, closer)
		r.subsMu.Unlock()
	}
	return nil
}

// Close tears down active subscriptions.
func (r *Relay) Close() error {
	if r == nil {
		return nil
	}

	r.subsMu.Lock()
	defer r.subsMu.Unlock()

	var firstErr error
	for _, sub := range r.subs {
		if sub == nil {
			continue
		}
		if err := sub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.subs = nil
	return firstErr
}

func (r *Relay) handleAlert(ctx context.Context, data []byte) error {
	var alert fleet.Alert
	if err := json.Unmarshal(data, &alert); err != nil {
		return r.drop("alert", err)
	}
	return r.settle("alert", r.sink.NotifyAlert(ctx, alert))
}

func (r *Relay) handleOrder(ctx context.Context, data []byte) error {
	var n notify.OrderNotice
	if err := json.Unmarshal(data, &n); err != nil {
		return r.drop("order", err)
	}
	return r.settle("order", r.sink.NotifyOrder(ctx, n))
}

func (r *Relay) handleAssignment(ctx context.Context, data []byte) error {
	var n notify.AssignmentNotice
	if err := json.Unmarshal(data, &n); err != nil {
		return r.drop("assignment", err)
	}
	return r.settle("assignment", r.sink.NotifyAssignment(ctx, n))
}

func (r *Relay) handleCompletion(ctx context.Context, data []byte) error {
	var c fleet.Completion
	if err := json.Unmarshal(data, &c); err != nil {
		return r.drop("completion", err)
	}
	return r.settle("completion", r.sink.NotifyCompletion(ctx, c))
}

// drop acks a message that can never be delivered.
func (r *Relay) drop(kind string, err error) error {
	r.log.Warn().Err(err).Str("kind", kind).Msg("dropping malformed notice")
	return nil
}

// settle records the outcome of the single delivery attempt. Every notice is
// acked: a failed chat send is logged and counted, never redelivered, so a
// flaky sink cannot post the same message twice.
func (r *Relay) settle(kind string, d fleet.Delivery) error {
	switch {
	case d.Delivered:
		metrics.Deliveries.WithLabelValues("relay_"+kind, "ok").Inc()
	case d.NotConfigured():
		metrics.Deliveries.WithLabelValues("relay_"+kind, "skipped").Inc()
	default:
		metrics.Deliveries.WithLabelValues("relay_"+kind, "error").Inc()
		r.log.Error().Err(d.Err).Str("kind", kind).Str("reason", d.Reason).Msg("delivery failed")
	}
	return nil
}
