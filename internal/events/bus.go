package events

import (
	"sync"
	"sync/atomic"
	"time"
)

const DefaultBufferSize = 64

// Bus fans queue events out to subscribers.
//
// Publish never blocks: every subscription owns a bounded buffer and, once it is
// full, the oldest buffered event is discarded to make room for the new one.
// Events reach a given subscriber in publish order.
type Bus[I any] struct {
	mu         sync.Mutex
	subs       map[uint64]*Subscription[I]
	nextID     uint64
	seq        uint64
	bufferSize int
	closed     bool
	done       chan struct{}

	dropped atomic.Uint64
}

// Subscription is a single consumer registration on a Bus.
type Subscription[I any] struct {
	id    uint64
	bus   *Bus[I]
	kinds map[Kind]bool
	ch    chan Event[I]

	dropped atomic.Uint64
}

// NewBus creates a bus whose subscriptions buffer up to bufferSize events.
func NewBus[I any](bufferSize int) *Bus[I] {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus[I]{
		subs:       make(map[uint64]*Subscription[I]),
		bufferSize: bufferSize,
		done:       make(chan struct{}),
	}
}

// Subscribe registers for the given kinds, or for every kind when none are given.
// Subscribing to a closed bus returns an already closed subscription.
func (b *Bus[I]) Subscribe(kinds ...Kind) *Subscription[I] {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := &Subscription[I]{
		bus: b,
		ch:  make(chan Event[I], b.bufferSize),
	}
	if len(kinds) > 0 {
		s.kinds = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			s.kinds[k] = true
		}
	}

	if b.closed {
		close(s.ch)
		return s
	}

	b.nextID++
	s.id = b.nextID
	b.subs[s.id] = s
	return s
}

// Publish stamps e with the next bus sequence number and hands it to every
// interested subscription without waiting for any of them.
func (b *Bus[I]) Publish(e Event[I]) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.seq++
	e.Seq = b.seq
	if e.At.IsZero() {
		e.At = time.Now()
	}

	for _, s := range b.subs {
		if s.kinds != nil && !s.kinds[e.Kind] {
			continue
		}
		s.offer(e)
	}
}

// offer buffers e, evicting the oldest buffered event when the buffer is full.
// Callers hold the bus lock, so offer is the only sender on s.ch.
func (s *Subscription[I]) offer(e Event[I]) {
	for {
		select {
		case s.ch <- e:
			return
		default:
		}

		select {
		case <-s.ch:
			s.dropped.Add(1)
			s.bus.dropped.Add(1)
		default:
		}
	}
}

// Dropped returns how many events were discarded across all subscriptions.
func (b *Bus[I]) Dropped() uint64 {
	return b.dropped.Load()
}

// Subscribers returns the number of live subscriptions.
func (b *Bus[I]) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close closes every subscription. Later publishes are ignored.
func (b *Bus[I]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
	for id, s := range b.subs {
		delete(b.subs, id)
		close(s.ch)
	}
}

// Done is closed once the bus is closed.
func (b *Bus[I]) Done() <-chan struct{} {
	return b.done
}

// Events returns the channel events are delivered on. It is closed when the
// subscription or the bus is closed.
func (s *Subscription[I]) Events() <-chan Event[I] {
	return s.ch
}

// Dropped returns how many events this subscription lost to buffer overflow.
func (s *Subscription[I]) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unregisters the subscription and closes its channel. Safe to call twice.
func (s *Subscription[I]) Close() {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[s.id]; !ok {
		return
	}
	delete(b.subs, s.id)
	close(s.ch)
}

// OnItemAdded calls fn for every ItemAdded event on a dedicated goroutine.
// The returned function cancels the subscription.
func (b *Bus[I]) OnItemAdded(fn func(item I)) (cancel func()) {
	return b.listen(ItemAdded, func(e Event[I]) {
		if e.Item != nil {
			fn(*e.Item)
		}
	})
}

// OnFrontChanged calls fn with the new front item, or nil when the queue emptied.
func (b *Bus[I]) OnFrontChanged(fn func(front *I)) (cancel func()) {
	return b.listen(FrontChanged, func(e Event[I]) {
		fn(e.Item)
	})
}

// OnItemRemoved calls fn for every item that left the queue.
func (b *Bus[I]) OnItemRemoved(fn func(item I, reason Reason)) (cancel func()) {
	return b.listen(ItemRemoved, func(e Event[I]) {
		if e.Item != nil {
			fn(*e.Item, e.Reason)
		}
	})
}

func (b *Bus[I]) listen(kind Kind, fn func(Event[I])) func() {
	sub := b.Subscribe(kind)
	go func() {
		for e := range sub.Events() {
			fn(e)
		}
	}()
	return sub.Close
}
