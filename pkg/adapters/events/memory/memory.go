package memory

import (
	"context"
	"sync"

	"github.com/aescanero/dagrun/pkg/ports"
	"go.uber.org/zap"
)

const subscriptionBuffer = 64

// InMemoryEventBus implements EventBus using in-memory handlers.
// Each subscription receives events in publish order on its own goroutine.
type InMemoryEventBus struct {
	subscribers map[string][]*subscription
	logger      *zap.Logger
	nextID      uint64
	mu          sync.RWMutex
}

var _ ports.EventBus = (*InMemoryEventBus)(nil)

type subscription struct {
	id      uint64
	topic   string
	handler ports.EventHandler
	events  chan ports.Event
	done    chan struct{}
	once    sync.Once
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

// NewInMemoryEventBus creates a new in-memory event bus
func NewInMemoryEventBus(logger *zap.Logger) *InMemoryEventBus {
	return &InMemoryEventBus{
		subscribers: make(map[string][]*subscription),
		logger:      logger,
	}
}

// Publish publishes an event to all subscribers of a topic.
// Events are dropped for subscribers whose buffer is full.
func (e *InMemoryEventBus) Publish(ctx context.Context, topic string, event ports.Event) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, sub := range e.subscribers[topic] {
		select {
		case sub.events <- event:
		case <-sub.done:
		default:
			e.logger.Warn("subscriber buffer full, dropping event",
				zap.String("topic", topic),
				zap.String("event_id", event.ID),
				zap.String("type", string(event.Type)))
		}
	}

	return nil
}

// Subscribe delivers events on topic to handler until ctx is done,
// the topic is unsubscribed or the bus is closed
func (e *InMemoryEventBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	e.mu.Lock()
	e.nextID++
	sub := &subscription{
		id:      e.nextID,
		topic:   topic,
		handler: handler,
		events:  make(chan ports.Event, subscriptionBuffer),
		done:    make(chan struct{}),
	}
	e.subscribers[topic] = append(e.subscribers[topic], sub)
	e.mu.Unlock()

	go e.deliver(ctx, sub)

	return nil
}

func (e *InMemoryEventBus) deliver(ctx context.Context, sub *subscription) {
	for {
		select {
		case <-ctx.Done():
			e.remove(sub)
			return
		case <-sub.done:
			return
		case event := <-sub.events:
			if err := sub.handler(ctx, event); err != nil {
				e.logger.Debug("handler error",
					zap.String("topic", sub.topic),
					zap.String("event_id", event.ID),
					zap.Error(err))
			}
		}
	}
}

// Unsubscribe removes all subscriptions from a topic
func (e *InMemoryEventBus) Unsubscribe(ctx context.Context, topic string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, sub := range e.subscribers[topic] {
		sub.stop()
	}
	delete(e.subscribers, topic)
	return nil
}

// Close stops every subscription
func (e *InMemoryEventBus) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, subs := range e.subscribers {
		for _, sub := range subs {
			sub.stop()
		}
	}
	e.subscribers = make(map[string][]*subscription)
	return nil
}

// remove drops a single subscription
func (e *InMemoryEventBus) remove(sub *subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sub.stop()

	subs := e.subscribers[sub.topic]
	for i, s := range subs {
		if s.id == sub.id {
			e.subscribers[sub.topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(e.subscribers[sub.topic]) == 0 {
		delete(e.subscribers, sub.topic)
	}
}

// Subscribers returns the number of active subscriptions on a topic
func (e *InMemoryEventBus) Subscribers(topic string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return len(e.subscribers[topic])
}
