package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aescanero/dagrun/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

type recorder struct {
	mu     sync.Mutex
	events []ports.Event
}

func (r *recorder) handle(ctx context.Context, event ports.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, len(r.events))
	for i, e := range r.events {
		ids[i] = e.ID
	}
	return ids
}

func TestInMemoryEventBus_DeliversInOrder(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx := context.Background()
	bus := NewInMemoryEventBus(zap.NewNop())
	defer bus.Close()

	r := &recorder{}
	require.NoError(t, bus.Subscribe(ctx, ports.TopicRunEvents, r.handle))

	other := &recorder{}
	require.NoError(t, bus.Subscribe(ctx, ports.TopicTaskEvents, other.handle))

	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, bus.Publish(ctx, ports.TopicRunEvents, ports.Event{ID: id, RunID: "run-1"}))
	}

	require.Eventually(t, func() bool {
		return len(r.ids()) == 3
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"1", "2", "3"}, r.ids())
	assert.Empty(t, other.ids())
}

func TestInMemoryEventBus_ContextCancelRemovesSubscription(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	bus := NewInMemoryEventBus(zap.NewNop())
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, bus.Subscribe(ctx, ports.TopicRunEvents, (&recorder{}).handle))
	require.Equal(t, 1, bus.Subscribers(ports.TopicRunEvents))

	cancel()

	require.Eventually(t, func() bool {
		return bus.Subscribers(ports.TopicRunEvents) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestInMemoryEventBus_Unsubscribe(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx := context.Background()
	bus := NewInMemoryEventBus(zap.NewNop())

	r := &recorder{}
	require.NoError(t, bus.Subscribe(ctx, ports.TopicRunEvents, r.handle))
	require.NoError(t, bus.Unsubscribe(ctx, ports.TopicRunEvents))
	require.Equal(t, 0, bus.Subscribers(ports.TopicRunEvents))

	require.NoError(t, bus.Publish(ctx, ports.TopicRunEvents, ports.Event{ID: "1"}))
	require.NoError(t, bus.Close())

	// goleak verifies the delivery goroutine has exited
	assert.Empty(t, r.ids())
}
