package player

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dovewarden/jukebox/internal/events"
	"github.com/dovewarden/jukebox/internal/metrics"
	"github.com/dovewarden/jukebox/internal/queue"
	"github.com/dovewarden/jukebox/internal/song"
)

// Player is the interface for anything that can play a song to completion.
type Player interface {
	// Play blocks until s has finished playing or ctx is cancelled.
	Play(ctx context.Context, s song.Song) error
}

// Queue is the part of the voteable queue the coordinator consumes.
type Queue interface {
	TryTakeNext() (queue.Item[song.Request], bool)
	Events() *events.Bus[queue.Item[song.Request]]
}

// Playing describes the song currently being played.
type Playing struct {
	Item      queue.Item[song.Request]
	Song      song.Song
	Index     int
	StartedAt time.Time
}

// Coordinator takes requests from the front of the queue one at a time and plays
// their songs in order. When the queue is empty it waits for the front to change
// instead of polling.
type Coordinator struct {
	queue   Queue
	player  Player
	logger  *slog.Logger
	metrics *metrics.Metrics

	stopCh      chan struct{}
	wake        chan struct{}
	wg          sync.WaitGroup
	cancelRun   context.CancelFunc
	cancelFront func()

	mu            sync.Mutex
	current       *Playing
	cancelSong    context.CancelFunc
	skipRequested bool

	playedCount  uint64
	skippedCount uint64
	failedCount  uint64
}

// NewCoordinator creates a coordinator. m may be nil.
func NewCoordinator(q Queue, p Player, logger *slog.Logger, m *metrics.Metrics) *Coordinator {
	return &Coordinator{
		queue:   q,
		player:  p,
		logger:  logger,
		metrics: m,
		stopCh:  make(chan struct{}),
		wake:    make(chan struct{}, 1),
	}
}

// Start begins consuming the queue.
func (c *Coordinator) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancelRun = cancel

	// Register before the first TryTakeNext so no wake-up can be missed. An
	// empty queue only gains an item through a front change.
	bus := c.queue.Events()
	c.cancelFront = bus.OnFrontChanged(func(front *queue.Item[song.Request]) {
		if front == nil {
			c.logger.Info("Queue is empty")
			return
		}
		c.logger.Info("Up next", "item_id", front.ID, "title", front.Payload.Title(), "score", front.Score)
		c.signal()
	})

	c.wg.Add(1)
	go c.run(runCtx, bus.Done())
	c.logger.Info("Playback coordinator started")
}

// signal records a pending wake-up. Repeated signals coalesce into one.
func (c *Coordinator) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Coordinator) run(ctx context.Context, closed <-chan struct{}) {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopCh:
			c.logger.Debug("Coordinator stopping")
			return
		case <-ctx.Done():
			return
		default:
		}

		item, ok := c.queue.TryTakeNext()
		if !ok {
			// idle until something reaches the front
			select {
			case <-c.stopCh:
				c.logger.Debug("Coordinator stopping")
				return
			case <-ctx.Done():
				return
			case <-closed:
				c.logger.Debug("Queue closed, coordinator stopping")
				return
			case <-c.wake:
			}
			continue
		}

		if c.metrics != nil {
			c.metrics.ItemsTaken.Inc()
		}
		c.playItem(ctx, item)
	}
}

// playItem plays every song of the request, moving past failures and skips.
func (c *Coordinator) playItem(ctx context.Context, item queue.Item[song.Request]) {
	c.logger.Info("Starting request",
		"item_id", item.ID,
		"title", item.Payload.Title(),
		"requested_by", item.Payload.RequestedBy,
		"score", item.Score,
		"songs", len(item.Payload.Songs),
	)

	for i, s := range item.Payload.Songs {
		if ctx.Err() != nil {
			return
		}

		songCtx, cancel := context.WithCancel(ctx)
		c.mu.Lock()
		c.current = &Playing{Item: item, Song: s, Index: i, StartedAt: time.Now()}
		c.cancelSong = cancel
		c.skipRequested = false
		c.mu.Unlock()

		err := c.player.Play(songCtx, s)
		cancel()

		c.mu.Lock()
		skipped := c.skipRequested
		c.current = nil
		c.cancelSong = nil
		c.skipRequested = false
		c.mu.Unlock()

		switch {
		case ctx.Err() != nil:
			c.logger.Info("Playback interrupted", "item_id", item.ID, "song", s.String())
			return
		case skipped:
			atomic.AddUint64(&c.skippedCount, 1)
			if c.metrics != nil {
				c.metrics.SongsSkipped.Inc()
			}
			c.logger.Info("Song skipped", "item_id", item.ID, "song", s.String())
		case err != nil:
			atomic.AddUint64(&c.failedCount, 1)
			if c.metrics != nil {
				c.metrics.PlaybackErrors.Inc()
			}
			c.logger.Error("Playback failed", "item_id", item.ID, "song", s.String(), "error", err)
		default:
			atomic.AddUint64(&c.playedCount, 1)
			if c.metrics != nil {
				c.metrics.SongsPlayed.Inc()
			}
			c.logger.Debug("Song finished", "item_id", item.ID, "song", s.String())
		}
	}
}

// Skip ends the current song early. It returns false when nothing is playing.
func (c *Coordinator) Skip() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil || c.cancelSong == nil {
		return false
	}
	c.skipRequested = true
	c.cancelSong()
	return true
}

// NowPlaying returns the song being played, if any.
func (c *Coordinator) NowPlaying() (Playing, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return Playing{}, false
	}
	return *c.current, true
}

// Stats returns how many songs were played to completion, skipped and failed.
func (c *Coordinator) Stats() (played, skipped, failed uint64) {
	return atomic.LoadUint64(&c.playedCount), atomic.LoadUint64(&c.skippedCount), atomic.LoadUint64(&c.failedCount)
}

// Stop interrupts the current song and waits for the coordinator to exit.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.logger.Info("Stopping playback coordinator")
	select {
	case <-c.stopCh:
		// already closed
	default:
		close(c.stopCh)
	}
	if c.cancelRun != nil {
		c.cancelRun()
	}
	if c.cancelFront != nil {
		c.cancelFront()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("Playback coordinator stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
