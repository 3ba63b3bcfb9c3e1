package bus

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/oklog/ulid/v2"

	"github.com/pardeema/bot-attack-simulator/pkg/event"
)

// subscriptionBuffer bounds how far a subscriber may fall behind before
// events are dropped for it. The orchestrator publishes sequentially, so a
// subscriber that keeps draining never loses an event.
const subscriptionBuffer = 128

// MemoryBus is the in-process Bus implementation. A single instance is
// shared by the run orchestrator (publisher) and every stream handler
// (subscribers).
type MemoryBus struct {
	mu            sync.RWMutex
	subscriptions map[string]*memorySubscription
	closed        atomic.Bool
}

// NewMemoryBus creates an empty in-process event bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subscriptions: make(map[string]*memorySubscription),
	}
}

// Publish sends the event to every active subscription without blocking.
func (b *MemoryBus) Publish(ctx context.Context, env event.Envelope) error {
	if b.closed.Load() {
		return ErrClosed
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscriptions {
		if sub.closed.Load() {
			continue
		}
		// Non-blocking send: a stalled observer drops, the run never waits.
		select {
		case sub.events <- env:
		default:
		}
	}
	return nil
}

// Subscribe attaches a new observer with its own buffered channel.
func (b *MemoryBus) Subscribe(ctx context.Context) (Subscription, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	sub := &memorySubscription{
		id:     ulid.Make().String(),
		events: make(chan event.Envelope, subscriptionBuffer),
		bus:    b,
	}

	b.mu.Lock()
	b.subscriptions[sub.id] = sub
	b.mu.Unlock()

	return sub, nil
}

// Close tears down the bus and every remaining subscription.
func (b *MemoryBus) Close() error {
	if b.closed.Swap(true) {
		return ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subscriptions {
		if !sub.closed.Swap(true) {
			close(sub.events)
		}
		delete(b.subscriptions, id)
	}
	return nil
}

// SubscriberCount reports the number of active subscriptions.
func (b *MemoryBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscriptions)
}

// memorySubscription implements Subscription for MemoryBus.
type memorySubscription struct {
	id     string
	events chan event.Envelope
	bus    *MemoryBus
	closed atomic.Bool
}

func (s *memorySubscription) Events() <-chan event.Envelope {
	return s.events
}

func (s *memorySubscription) Unsubscribe() error {
	if s.closed.Swap(true) {
		return nil
	}

	s.bus.mu.Lock()
	delete(s.bus.subscriptions, s.id)
	s.bus.mu.Unlock()

	close(s.events)
	return nil
}

func (s *memorySubscription) ID() string {
	return s.id
}
