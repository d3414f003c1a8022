package queue

import (
	"log/slog"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dovewarden/jukebox/internal/events"
	"github.com/google/uuid"
)

// Options configures a Queue.
type Options struct {
	// Capacity bounds the number of queued items. Zero means unbounded.
	Capacity int
	// EventBuffer is the per-subscription buffer size of the event bus.
	EventBuffer int
	Logger      *slog.Logger
}

// Queue is a vote-ordered collection of payloads.
//
// Items are kept in (score descending, insertion sequence ascending) order. All
// mutations run under one lock, and each one compares the front item before and
// after the change so that a FrontChanged event is published exactly when the
// front identity differs.
type Queue[T any, V comparable] struct {
	mu      sync.RWMutex
	order   []*Item[T]
	index   map[ItemID]*Item[T]
	ledger  *Ledger[V]
	nextSeq uint64

	capacity int
	bus      *events.Bus[Item[T]]
	logger   *slog.Logger

	// operation counters
	enqueueCount uint64
	voteCount    uint64
	takeCount    uint64
	removeCount  uint64
	frontChanges uint64
}

// Stats is a point-in-time copy of the queue's operation counters.
type Stats struct {
	Enqueues     uint64
	Votes        uint64
	Takes        uint64
	Removals     uint64
	FrontChanges uint64
}

// New creates an empty queue with its own event bus.
func New[T any, V comparable](opts Options) *Queue[T, V] {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	capacity := opts.Capacity
	if capacity < 0 {
		capacity = 0
	}
	return &Queue[T, V]{
		index:    make(map[ItemID]*Item[T]),
		ledger:   NewLedger[V](),
		capacity: capacity,
		bus:      events.NewBus[Item[T]](opts.EventBuffer),
		logger:   logger,
	}
}

// Events returns the bus queue notifications are published on.
func (q *Queue[T, V]) Events() *events.Bus[Item[T]] {
	return q.bus
}

// Enqueue appends payload behind every item with a score of zero or more and
// returns its handle. It fails only when the queue is bounded and full.
func (q *Queue[T, V]) Enqueue(payload T) (ItemID, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.capacity > 0 && len(q.order) >= q.capacity {
		return "", ErrQueueFull
	}

	before := q.frontID()

	q.nextSeq++
	it := &Item[T]{
		ID:         ItemID(uuid.NewString()),
		Seq:        q.nextSeq,
		EnqueuedAt: time.Now(),
		Payload:    payload,
	}
	q.insert(it)
	q.index[it.ID] = it
	q.ledger.Track(it.ID)
	atomic.AddUint64(&q.enqueueCount, 1)

	q.logger.Debug("Item enqueued", "item_id", it.ID, "seq", it.Seq, "queue_len", len(q.order))
	q.publish(events.ItemAdded, it, "")
	q.publishFrontChange(before)

	return it.ID, nil
}

// Vote records voter's direction on id and moves the item to its new position.
func (q *Queue[T, V]) Vote(id ItemID, voter V, dir Direction) error {
	_, err := q.ScoredVote(id, voter, dir)
	return err
}

// ScoredVote is Vote returning the score the item has right after the vote.
func (q *Queue[T, V]) ScoredVote(id ItemID, voter V, dir Direction) (int, error) {
	if !dir.Valid() {
		return 0, ErrInvalidDirection
	}
	return q.rescore(id, func() (int, error) {
		return q.ledger.RecordVote(id, voter, dir)
	})
}

// RetractVote withdraws voter's vote on id, if there is one.
func (q *Queue[T, V]) RetractVote(id ItemID, voter V) error {
	_, err := q.ScoredRetract(id, voter)
	return err
}

// ScoredRetract is RetractVote returning the score the item has right after.
func (q *Queue[T, V]) ScoredRetract(id ItemID, voter V) (int, error) {
	return q.rescore(id, func() (int, error) {
		return q.ledger.RetractVote(id, voter)
	})
}

func (q *Queue[T, V]) rescore(id ItemID, apply func() (int, error)) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.index[id]
	if !ok {
		return 0, ErrUnknownItem
	}

	before := q.frontID()
	pos := q.position(it)

	score, err := apply()
	if err != nil {
		return 0, err
	}
	atomic.AddUint64(&q.voteCount, 1)

	if score == it.Score {
		return score, nil
	}

	q.order = slices.Delete(q.order, pos, pos+1)
	it.Score = score
	q.insert(it)

	q.logger.Debug("Item rescored", "item_id", it.ID, "score", score, "position", q.position(it))
	q.publish(events.ScoreChanged, it, "")
	q.publishFrontChange(before)
	return score, nil
}

// TryTakeNext removes and returns the front item. It never waits; ok is false
// when the queue is empty.
func (q *Queue[T, V]) TryTakeNext() (item Item[T], ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.order) == 0 {
		return Item[T]{}, false
	}

	before := q.frontID()
	it := q.order[0]
	q.drop(0)
	atomic.AddUint64(&q.takeCount, 1)

	q.logger.Debug("Item taken", "item_id", it.ID, "score", it.Score, "queue_len", len(q.order))
	q.publish(events.ItemRemoved, it, events.ReasonTaken)
	q.publishFrontChange(before)

	return *it, true
}

// Remove takes id out of the queue regardless of its position.
// It returns false if id is not queued.
func (q *Queue[T, V]) Remove(id ItemID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.index[id]
	if !ok {
		return false
	}

	before := q.frontID()
	q.drop(q.position(it))
	atomic.AddUint64(&q.removeCount, 1)

	q.logger.Debug("Item removed", "item_id", it.ID, "queue_len", len(q.order))
	q.publish(events.ItemRemoved, it, events.ReasonRemoved)
	q.publishFrontChange(before)
	return true
}

// PeekFront returns the front item without removing it.
func (q *Queue[T, V]) PeekFront() (Item[T], bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if len(q.order) == 0 {
		return Item[T]{}, false
	}
	return *q.order[0], true
}

// IsFront reports whether id currently occupies the front position.
func (q *Queue[T, V]) IsFront(id ItemID) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return len(q.order) > 0 && q.order[0].ID == id
}

// Get returns a snapshot of a queued item.
func (q *Queue[T, V]) Get(id ItemID) (Item[T], bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	it, ok := q.index[id]
	if !ok {
		return Item[T]{}, false
	}
	return *it, true
}

// Position returns the zero-based position of id.
func (q *Queue[T, V]) Position(id ItemID) (int, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	it, ok := q.index[id]
	if !ok {
		return 0, false
	}
	return q.position(it), true
}

// Locate returns a snapshot of id together with its zero-based position, both
// read under the same lock.
func (q *Queue[T, V]) Locate(id ItemID) (Item[T], int, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	it, ok := q.index[id]
	if !ok {
		return Item[T]{}, 0, false
	}
	return *it, q.position(it), true
}

// Votes returns the active votes on id.
func (q *Queue[T, V]) Votes(id ItemID) (map[V]Direction, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if _, ok := q.index[id]; !ok {
		return nil, false
	}
	return q.ledger.Votes(id), true
}

// Snapshot returns every queued item in play order.
func (q *Queue[T, V]) Snapshot() []Item[T] {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]Item[T], len(q.order))
	for i, it := range q.order {
		out[i] = *it
	}
	return out
}

// Len returns the number of queued items.
func (q *Queue[T, V]) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.order)
}

// Capacity returns the configured bound, zero when unbounded.
func (q *Queue[T, V]) Capacity() int {
	return q.capacity
}

// Stats returns the operation counters.
func (q *Queue[T, V]) Stats() Stats {
	return Stats{
		Enqueues:     atomic.LoadUint64(&q.enqueueCount),
		Votes:        atomic.LoadUint64(&q.voteCount),
		Takes:        atomic.LoadUint64(&q.takeCount),
		Removals:     atomic.LoadUint64(&q.removeCount),
		FrontChanges: atomic.LoadUint64(&q.frontChanges),
	}
}

// Close closes the event bus and with it every subscription.
func (q *Queue[T, V]) Close() {
	q.bus.Close()
}

// The helpers below expect q.mu to be held.

func (q *Queue[T, V]) frontID() ItemID {
	if len(q.order) == 0 {
		return ""
	}
	return q.order[0].ID
}

// insert places it at the position its current key dictates.
func (q *Queue[T, V]) insert(it *Item[T]) {
	i := sort.Search(len(q.order), func(i int) bool {
		return Before(*it, *q.order[i])
	})
	q.order = slices.Insert(q.order, i, it)
}

// position locates it by binary search on its key. The order is strict, so the
// first element not ordered before it is it.
func (q *Queue[T, V]) position(it *Item[T]) int {
	return sort.Search(len(q.order), func(i int) bool {
		return !Before(*q.order[i], *it)
	})
}

func (q *Queue[T, V]) drop(pos int) {
	it := q.order[pos]
	q.order = slices.Delete(q.order, pos, pos+1)
	delete(q.index, it.ID)
	q.ledger.ClearItem(it.ID)
}

func (q *Queue[T, V]) publish(kind events.Kind, it *Item[T], reason events.Reason) {
	snap := *it
	q.bus.Publish(events.Event[Item[T]]{Kind: kind, Item: &snap, Reason: reason})
}

func (q *Queue[T, V]) publishFrontChange(before ItemID) {
	after := q.frontID()
	if after == before {
		return
	}
	atomic.AddUint64(&q.frontChanges, 1)

	var front *Item[T]
	if len(q.order) > 0 {
		snap := *q.order[0]
		front = &snap
	}
	q.logger.Debug("Front changed", "previous", before, "front", after)
	q.bus.Publish(events.Event[Item[T]]{Kind: events.FrontChanged, Item: front})
}
