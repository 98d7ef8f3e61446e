// Package events implements a small in-process event bus: typed
// filter-and-dispatch registration where the subscription handle is the
// cancellation token.
package events

import (
	"slices"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Bus fans one event type out to its current subscribers. Handlers run on the
// publishing goroutine, in subscription order; publishers that must not block
// dispatch from their own loop (network readers, for instance) publish from a
// separate goroutine.
type Bus[T any] struct {
	mu   sync.Mutex
	seq  uint64
	subs map[uint64]func(T)
}

func NewBus[T any]() *Bus[T] {
	return &Bus[T]{
		subs: make(map[uint64]func(T)),
	}
}

// Subscription is the handle returned by Subscribe. Cancel unregisters the
// handler; it is safe to call more than once.
type Subscription struct {
	cancel func()
	once   sync.Once
}

func (s *Subscription) Cancel() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}

func (b *Bus[T]) Subscribe(fn func(T)) *Subscription {
	b.mu.Lock()
	id := b.seq
	b.seq++
	b.subs[id] = fn
	b.mu.Unlock()

	log.Debugf("events: subscribed handler %d", id)

	return &Subscription{cancel: func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		log.Debugf("events: cancelled handler %d", id)
	}}
}

// Publish delivers the event to every handler subscribed at call time.
func (b *Bus[T]) Publish(ev T) {
	b.mu.Lock()
	handlers := make([]func(T), 0, len(b.subs))
	ids := make([]uint64, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	// Map iteration order is random; deliver in subscription order.
	slices.Sort(ids)
	for _, id := range ids {
		handlers = append(handlers, b.subs[id])
	}
	b.mu.Unlock()

	for _, fn := range handlers {
		fn(ev)
	}
}

// Len reports the number of active subscriptions.
func (b *Bus[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
