package bus

import (
	"context"
	"sync"
	"time"
)

// LocalBus is the in-process default. A single-host console does not need a
// broker; the NATS backend exists for multi-node installs (build tag 'nats').
type LocalBus struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[string]map[uint64]Handler
}

func NewLocalBus() *LocalBus { return &LocalBus{handlers: map[string]map[uint64]Handler{}} }

func (b *LocalBus) Publish(ctx context.Context, e Event) error {
	b.mu.RLock()
	hs := make([]Handler, 0, len(b.handlers[e.Topic]))
	for _, h := range b.handlers[e.Topic] {
		hs = append(hs, h)
	}
	b.mu.RUnlock()
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	// fan out asynchronously so a slow subscriber never blocks a publisher
	for _, h := range hs {
		go h(ctx, e)
	}
	return nil
}

// Subscribe registers h for topic. Handlers are keyed by a unique ID so an
// unsubscribe always removes its own handler, whatever else was removed first.
func (b *LocalBus) Subscribe(topic string, h Handler) (func(), error) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if b.handlers[topic] == nil {
		b.handlers[topic] = map[uint64]Handler{}
	}
	b.handlers[topic][id] = h
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[topic], id)
	}, nil
}

func (b *LocalBus) Close() error { return nil }
