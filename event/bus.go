package event

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/semflow/metrics"
)

// DefaultBufferSize is the per-subscription buffer when none is configured.
const DefaultBufferSize = 256

// Filter selects which events a subscription receives. Zero values match
// everything.
type Filter struct {
	// ExecutionID restricts delivery to one execution when non-empty.
	ExecutionID string

	// Kinds restricts delivery to the listed kinds when non-empty.
	Kinds []Kind
}

func (f Filter) matches(e Event) bool {
	if f.ExecutionID != "" && f.ExecutionID != e.ExecutionID {
		return false
	}
	if len(f.Kinds) == 0 {
		return true
	}
	for _, k := range f.Kinds {
		if k == e.Kind {
			return true
		}
	}
	return false
}

// Subscription is one consumer's bounded view of the bus.
type Subscription struct {
	id      string
	filter  Filter
	ch      chan Event
	dropped int64 // guarded by the bus mutex
}

// ID returns the subscription's unique id.
func (s *Subscription) ID() string { return s.id }

// Events returns the delivery channel. It is closed by Unsubscribe and by
// Bus.Close.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Bus fans events out to subscriptions. Publish is non-blocking: when a
// subscription's buffer is full the oldest buffered event is discarded to
// make room, and the running drop count rides on the next delivered event.
// Per-execution ordering is preserved within a single subscription.
type Bus struct {
	mu     sync.Mutex
	subs   map[string]*Subscription
	buffer int
	closed bool
}

// NewBus creates a bus. bufferSize <= 0 selects DefaultBufferSize.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		subs:   make(map[string]*Subscription),
		buffer: bufferSize,
	}
}

// Subscribe registers a consumer for events matching the filter.
func (b *Bus) Subscribe(filter Filter) *Subscription {
	sub := &Subscription{
		id:     uuid.NewString(),
		filter: filter,
		ch:     make(chan Event, b.buffer),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes the subscription and closes its channel. Safe to call
// more than once.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub.id]; !ok {
		return
	}
	delete(b.subs, sub.id)
	close(sub.ch)
}

// Publish delivers the event to every matching subscription without
// blocking. A zero timestamp is stamped with the current time.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	metrics.EventsPublished.Inc()

	for _, sub := range b.subs {
		if !sub.filter.matches(e) {
			continue
		}
		b.deliver(sub, e)
	}
}

// deliver enqueues the event, evicting the oldest buffered event on
// overflow. Called with the bus mutex held, so eviction always frees a slot
// before the retry.
func (b *Bus) deliver(sub *Subscription, e Event) {
	for {
		ev := e
		ev.Dropped = sub.dropped

		select {
		case sub.ch <- ev:
			sub.dropped = 0
			return
		default:
		}

		select {
		case <-sub.ch:
			sub.dropped++
			metrics.EventsDropped.Inc()
		default:
			// Consumer drained the buffer between the two selects; retry.
		}
	}
}

// Close closes every subscription channel and rejects further publishes.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}
