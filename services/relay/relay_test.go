package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slsdispatch/pkg/bus"
	"slsdispatch/services/fleet"
	"slsdispatch/services/notify"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

type fakeSubscriber struct {
	handlers map[string]bus.Handler
	closed   int
	failOn   string
}

func (f *fakeSubscriber) Subscribe(_ context.Context, subj, durable string, fn bus.Handler) (io.Closer, error) {
	if subj == f.failOn {
		return nil, errors.New("stream missing")
	}
	if f.handlers == nil {
		f.handlers = map[string]bus.Handler{}
	}
	f.handlers[subj] = fn
	return closerFunc(func() error { f.closed++; return nil }), nil
}

type recordingSink struct {
	notify.Discard
	alerts []fleet.Alert
	result fleet.Delivery
}

func (s *recordingSink) NotifyAlert(_ context.Context, a fleet.Alert) fleet.Delivery {
	s.alerts = append(s.alerts, a)
	return s.result
}

func TestRelayDeliversAlerts(t *testing.T) {
	sub := &fakeSubscriber{}
	sink := &recordingSink{result: fleet.Delivered()}
	r, err := New(sub, sink, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))
	assert.Len(t, sub.handlers, 4)

	data, err := json.Marshal(fleet.Alert{AgentID: "a1", TaskID: "T1"})
	require.NoError(t, err)
	require.NoError(t, sub.handlers[notify.SubjectAlert](context.Background(), data))
	require.Len(t, sink.alerts, 1)
	assert.Equal(t, "a1", sink.alerts[0].AgentID)

	require.NoError(t, r.Close())
	assert.Equal(t, 4, sub.closed)
}

func TestRelayAckSemantics(t *testing.T) {
	sub := &fakeSubscriber{}
	sink := &recordingSink{}
	r, err := New(sub, sink, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))
	handle := sub.handlers[notify.SubjectAlert]
	ctx := context.Background()

	// malformed payloads are acked and dropped
	assert.NoError(t, handle(ctx, []byte("{")))

	// failures are acked too, transient or not
	sink.result = fleet.Failed(errors.Join(fleet.ErrTransientDelivery, errors.New("timeout")))
	assert.NoError(t, handle(ctx, []byte(`{"agent_id":"a1"}`)))

	sink.result = fleet.Failed(errors.New("template error"))
	assert.NoError(t, handle(ctx, []byte(`{"agent_id":"a1"}`)))

	sink.result = fleet.Skipped("telegram")
	assert.NoError(t, handle(ctx, []byte(`{"agent_id":"a1"}`)))

	// discarded order notices are acked
	assert.NoError(t, sub.handlers[notify.SubjectOrder](ctx, []byte(`{"order":{"id":1}}`)))
}

// ackingSubscriber mimics the bus: a handler error sends the message back for
// another attempt.
type ackingSubscriber struct {
	fakeSubscriber
	attempts int
}

func (a *ackingSubscriber) deliver(ctx context.Context, subj string, data []byte, maxAttempts int) {
	for i := 0; i < maxAttempts; i++ {
		a.attempts++
		if err := a.handlers[subj](ctx, data); err == nil {
			return
		}
	}
}

func TestRelayDeliversFailedNoticeOnce(t *testing.T) {
	sub := &ackingSubscriber{}
	sink := &recordingSink{result: fleet.Failed(errors.Join(fleet.ErrTransientDelivery, errors.New("502 bad gateway")))}
	r, err := New(sub, sink, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))

	data, err := json.Marshal(fleet.Alert{AgentID: "a1", TaskID: "T1"})
	require.NoError(t, err)
	sub.deliver(context.Background(), notify.SubjectAlert, data, 5)

	assert.Equal(t, 1, sub.attempts)
	assert.Len(t, sink.alerts, 1)
}

func TestRelayStartFailureClosesSubscriptions(t *testing.T) {
	sub := &fakeSubscriber{failOn: notify.SubjectAssignment}
	r, err := New(sub, notify.Discard{}, zerolog.Nop())
	require.NoError(t, err)

	assert.Error(t, r.Start(context.Background()))
	assert.Equal(t, 2, sub.closed)
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(nil, notify.Discard{}, zerolog.Nop())
	assert.Error(t, err)
	_, err = New(&fakeSubscriber{}, nil, zerolog.Nop())
	assert.Error(t, err)
}
