package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dovewarden/jukebox/internal/events"
	"github.com/dovewarden/jukebox/internal/metrics"
	"github.com/dovewarden/jukebox/internal/queue"
	"github.com/redis/go-redis/v9"
)

const (
	QUEUE_KEY     = "queue"
	ITEMS_KEY     = "items"
	FRONT_KEY     = "front"
	HISTORY_KEY   = "history"
	FRONT_CHANNEL = "front-changed"

	opTimeout = 2 * time.Second
)

// Source is the queue being mirrored.
type Source[T any] interface {
	Snapshot() []queue.Item[T]
	Events() *events.Bus[queue.Item[T]]
}

// Options configures a Mirror.
type Options struct {
	Namespace      string
	HistorySize    int
	ResyncInterval time.Duration
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
}

// Mirror keeps a Redis projection of a queue for readers outside the process.
//
// The queue order lives in a sorted set scored by negated vote score, with
// members prefixed by the zero-padded insertion sequence so that equal scores
// fall back to insertion order. Item bodies live in a hash, the front item id
// in a plain key, and items taken for playback are pushed to a capped list.
type Mirror[T any] struct {
	server *miniredis.Miniredis // nil when talking to an external Redis
	client *redis.Client
	ns     string
	source Source[T]

	historySize    int64
	resyncInterval time.Duration
	logger         *slog.Logger
	metrics        *metrics.Metrics

	started atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	// operation counters
	appliedCount uint64
	resyncCount  uint64
	errorCount   uint64
}

// NewInMemory starts a miniredis server and mirrors source into it.
// addr allows pinning the listen address (for testing); empty picks a free port.
func NewInMemory[T any](addr string, source Source[T], opts Options) (*Mirror[T], error) {
	s := miniredis.NewMiniRedis()
	if addr != "" {
		if err := s.StartAddr(addr); err != nil {
			return nil, fmt.Errorf("failed to start miniredis at %s: %w", addr, err)
		}
	} else {
		if err := s.Start(); err != nil {
			return nil, fmt.Errorf("failed to start miniredis: %w", err)
		}
	}

	m, err := newMirror(s.Addr(), source, opts)
	if err != nil {
		s.Close()
		return nil, err
	}
	m.server = s
	return m, nil
}

// NewExternal mirrors source into the Redis server at addr.
func NewExternal[T any](addr string, source Source[T], opts Options) (*Mirror[T], error) {
	return newMirror(addr, source, opts)
}

func newMirror[T any](addr string, source Source[T], opts Options) (*Mirror[T], error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", addr, err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ns := opts.Namespace
	if ns == "" {
		ns = "jukebox"
	}
	historySize := opts.HistorySize
	if historySize <= 0 {
		historySize = 100
	}
	interval := opts.ResyncInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	return &Mirror[T]{
		client:         client,
		ns:             ns,
		source:         source,
		historySize:    int64(historySize),
		resyncInterval: interval,
		logger:         logger,
		metrics:        opts.Metrics,
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}, nil
}

func (m *Mirror[T]) key(name string) string {
	return fmt.Sprintf("%s:%s", m.ns, name)
}

// member encodes the ordering tie-break into the sorted set member.
func member(id queue.ItemID, seq uint64) string {
	return fmt.Sprintf("%020d:%s", seq, id)
}

func memberID(member string) queue.ItemID {
	if i := strings.IndexByte(member, ':'); i >= 0 {
		return queue.ItemID(member[i+1:])
	}
	return queue.ItemID(member)
}

// Start subscribes to the queue, resyncs once and then applies events as they
// arrive. A full resync also runs every resync interval to repair anything lost
// to dropped events.
func (m *Mirror[T]) Start(ctx context.Context) {
	sub := m.source.Events().Subscribe()
	m.logger.Info("Starting queue mirror", "namespace", m.ns, "resync_interval", m.resyncInterval)
	m.started.Store(true)

	go func() {
		defer close(m.doneCh)
		defer sub.Close()

		if err := m.Resync(ctx); err != nil {
			m.logger.Error("Initial mirror resync failed", "error", err)
		}

		ticker := time.NewTicker(m.resyncInterval)
		defer ticker.Stop()

		evts := sub.Events()
		for {
			select {
			case <-m.stopCh:
				m.logger.Info("Queue mirror stopping")
				return
			case <-ctx.Done():
				return
			case e, ok := <-evts:
				if !ok {
					evts = nil
					continue
				}
				if err := m.Apply(ctx, e); err != nil {
					m.logger.Error("Failed to mirror queue event", "kind", e.Kind, "seq", e.Seq, "error", err)
				}
			case <-ticker.C:
				if dropped := sub.Dropped(); dropped > 0 {
					m.logger.Warn("Mirror subscription dropped events", "dropped", dropped)
				}
				if err := m.Resync(ctx); err != nil {
					m.logger.Error("Periodic mirror resync failed", "error", err)
				}
			}
		}
	}()
}

// Stop ends the event loop started by Start. It returns at once if Start was
// never called.
func (m *Mirror[T]) Stop(ctx context.Context) error {
	m.logger.Info("Stopping queue mirror")
	select {
	case <-m.stopCh:
	default:
		close(m.stopCh)
	}
	if !m.started.Load() {
		return nil
	}

	select {
	case <-m.doneCh:
		m.logger.Info("Queue mirror stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Apply writes a single queue event to Redis.
func (m *Mirror[T]) Apply(ctx context.Context, e events.Event[queue.Item[T]]) error {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var err error
	switch e.Kind {
	case events.ItemAdded, events.ScoreChanged:
		err = m.upsert(opCtx, e.Item)
	case events.ItemRemoved:
		err = m.remove(opCtx, e.Item, e.Reason)
	case events.FrontChanged:
		err = m.setFront(opCtx, e.Item)
	default:
		return nil
	}
	if err != nil {
		return m.fail(err)
	}
	atomic.AddUint64(&m.appliedCount, 1)
	return nil
}

func (m *Mirror[T]) upsert(ctx context.Context, it *queue.Item[T]) error {
	if it == nil {
		return nil
	}
	body, err := json.Marshal(it)
	if err != nil {
		return fmt.Errorf("failed to encode item %s: %w", it.ID, err)
	}

	// A rescored item keeps its member, so ZADD only moves it.
	_, err = m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, m.key(ITEMS_KEY), string(it.ID), body)
		pipe.ZAdd(ctx, m.key(QUEUE_KEY), redis.Z{
			Score:  -float64(it.Score),
			Member: member(it.ID, it.Seq),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to upsert item %s: %w", it.ID, err)
	}
	return nil
}

func (m *Mirror[T]) remove(ctx context.Context, it *queue.Item[T], reason events.Reason) error {
	if it == nil {
		return nil
	}
	var body []byte
	if reason == events.ReasonTaken {
		var err error
		if body, err = json.Marshal(it); err != nil {
			return fmt.Errorf("failed to encode item %s: %w", it.ID, err)
		}
	}

	_, err := m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, m.key(QUEUE_KEY), member(it.ID, it.Seq))
		pipe.HDel(ctx, m.key(ITEMS_KEY), string(it.ID))
		if body != nil {
			pipe.LPush(ctx, m.key(HISTORY_KEY), body)
			pipe.LTrim(ctx, m.key(HISTORY_KEY), 0, m.historySize-1)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to remove item %s: %w", it.ID, err)
	}
	return nil
}

func (m *Mirror[T]) setFront(ctx context.Context, front *queue.Item[T]) error {
	var id string
	_, err := m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if front == nil {
			pipe.Del(ctx, m.key(FRONT_KEY))
		} else {
			id = string(front.ID)
			pipe.Set(ctx, m.key(FRONT_KEY), id, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set front: %w", err)
	}

	// Publishing with no subscribers succeeds with zero receivers.
	if err := m.client.Publish(ctx, m.key(FRONT_CHANNEL), id).Err(); err != nil {
		return fmt.Errorf("failed to publish front change: %w", err)
	}
	return nil
}

// Resync replaces the mirrored queue with the current queue snapshot.
// The played history is left untouched.
func (m *Mirror[T]) Resync(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	snap := m.source.Snapshot()
	bodies := make([][]byte, len(snap))
	for i := range snap {
		body, err := json.Marshal(snap[i])
		if err != nil {
			return m.fail(fmt.Errorf("failed to encode item %s: %w", snap[i].ID, err))
		}
		bodies[i] = body
	}

	_, err := m.client.TxPipelined(opCtx, func(pipe redis.Pipeliner) error {
		pipe.Del(opCtx, m.key(QUEUE_KEY), m.key(ITEMS_KEY))
		for i, it := range snap {
			pipe.HSet(opCtx, m.key(ITEMS_KEY), string(it.ID), bodies[i])
			pipe.ZAdd(opCtx, m.key(QUEUE_KEY), redis.Z{
				Score:  -float64(it.Score),
				Member: member(it.ID, it.Seq),
			})
		}
		if len(snap) == 0 {
			pipe.Del(opCtx, m.key(FRONT_KEY))
		} else {
			pipe.Set(opCtx, m.key(FRONT_KEY), string(snap[0].ID), 0)
		}
		return nil
	})
	if err != nil {
		return m.fail(fmt.Errorf("failed to resync queue: %w", err))
	}

	atomic.AddUint64(&m.resyncCount, 1)
	m.logger.Debug("Mirror resynced", "items", len(snap))
	return nil
}

func (m *Mirror[T]) fail(err error) error {
	atomic.AddUint64(&m.errorCount, 1)
	if m.metrics != nil {
		m.metrics.RedisErrors.Inc()
	}
	return err
}

// Order returns the mirrored queue order.
func (m *Mirror[T]) Order(ctx context.Context) ([]queue.ItemID, error) {
	// Ascending by score: highest vote score first
	members, err := m.client.ZRange(ctx, m.key(QUEUE_KEY), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read queue order: %w", err)
	}
	ids := make([]queue.ItemID, len(members))
	for i, mem := range members {
		ids[i] = memberID(mem)
	}
	return ids, nil
}

// Item returns the mirrored body of a queued item.
func (m *Mirror[T]) Item(ctx context.Context, id queue.ItemID) (queue.Item[T], bool, error) {
	var it queue.Item[T]
	body, err := m.client.HGet(ctx, m.key(ITEMS_KEY), string(id)).Bytes()
	if err == redis.Nil {
		return it, false, nil
	}
	if err != nil {
		return it, false, fmt.Errorf("failed to read item %s: %w", id, err)
	}
	if err := json.Unmarshal(body, &it); err != nil {
		return it, false, fmt.Errorf("failed to decode item %s: %w", id, err)
	}
	return it, true, nil
}

// Front returns the mirrored front item id.
// Returns false if the queue was empty at the last update.
func (m *Mirror[T]) Front(ctx context.Context) (queue.ItemID, bool, error) {
	id, err := m.client.Get(ctx, m.key(FRONT_KEY)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read front: %w", err)
	}
	return queue.ItemID(id), true, nil
}

// History returns up to n items most recently taken for playback, newest first.
func (m *Mirror[T]) History(ctx context.Context, n int) ([]queue.Item[T], error) {
	if n <= 0 || int64(n) > m.historySize {
		n = int(m.historySize)
	}
	raw, err := m.client.LRange(ctx, m.key(HISTORY_KEY), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	out := make([]queue.Item[T], 0, len(raw))
	for _, body := range raw {
		var it queue.Item[T]
		if err := json.Unmarshal([]byte(body), &it); err != nil {
			return nil, fmt.Errorf("failed to decode history entry: %w", err)
		}
		out = append(out, it)
	}
	return out, nil
}

// SubscribeFront subscribes to front change notifications. Each message payload
// is the new front item id, empty when the queue emptied.
func (m *Mirror[T]) SubscribeFront(ctx context.Context) *redis.PubSub {
	return m.client.Subscribe(ctx, m.key(FRONT_CHANNEL))
}

// Stats returns the number of applied events, resyncs and failed operations.
func (m *Mirror[T]) Stats() (applied, resyncs, failures uint64) {
	return atomic.LoadUint64(&m.appliedCount), atomic.LoadUint64(&m.resyncCount), atomic.LoadUint64(&m.errorCount)
}

// HealthCheck checks connectivity to Redis.
func (m *Mirror[T]) HealthCheck(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

// Close closes the client and, in in-memory mode, the embedded server.
func (m *Mirror[T]) Close() error {
	if err := m.client.Close(); err != nil {
		return fmt.Errorf("failed to close client: %w", err)
	}
	if m.server != nil {
		m.server.Close()
	}
	return nil
}
