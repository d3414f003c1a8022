package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	RequestsReceived prometheus.Counter
	RequestsRejected prometheus.Counter
	ItemsEnqueued    prometheus.Counter
	EnqueueErrors    prometheus.Counter
	VotesCast        *prometheus.CounterVec
	VoteErrors       prometheus.Counter
	ItemsRemoved     prometheus.Counter
	ItemsTaken       prometheus.Counter
	SongsPlayed      prometheus.Counter
	SongsSkipped     prometheus.Counter
	PlaybackErrors   prometheus.Counter
	RedisErrors      prometheus.Counter

	reg prometheus.Registerer
}

// New creates and registers all metrics.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsReceived: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "jukebox_requests_received_total",
				Help: "Total number of song requests received",
			},
		),
		RequestsRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "jukebox_requests_rejected_total",
				Help: "Total number of song requests that failed validation",
			},
		),
		ItemsEnqueued: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "jukebox_items_enqueued_total",
				Help: "Total number of requests successfully enqueued",
			},
		),
		EnqueueErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "jukebox_enqueue_errors_total",
				Help: "Total number of enqueue errors",
			},
		),
		VotesCast: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jukebox_votes_cast_total",
				Help: "Total number of accepted votes by direction",
			},
			[]string{"direction"},
		),
		VoteErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "jukebox_vote_errors_total",
				Help: "Total number of rejected votes",
			},
		),
		ItemsRemoved: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "jukebox_items_removed_total",
				Help: "Total number of items removed out of band",
			},
		),
		ItemsTaken: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "jukebox_items_taken_total",
				Help: "Total number of items taken from the front for playback",
			},
		),
		SongsPlayed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "jukebox_songs_played_total",
				Help: "Total number of songs played to completion",
			},
		),
		SongsSkipped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "jukebox_songs_skipped_total",
				Help: "Total number of songs skipped",
			},
		),
		PlaybackErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "jukebox_playback_errors_total",
				Help: "Total number of songs that failed to play",
			},
		),
		RedisErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "jukebox_redis_errors_total",
				Help: "Total number of Redis operation errors",
			},
		),
		reg: reg,
	}

	reg.MustRegister(
		m.RequestsReceived,
		m.RequestsRejected,
		m.ItemsEnqueued,
		m.EnqueueErrors,
		m.VotesCast,
		m.VoteErrors,
		m.ItemsRemoved,
		m.ItemsTaken,
		m.SongsPlayed,
		m.SongsSkipped,
		m.PlaybackErrors,
		m.RedisErrors,
	)

	return m
}

// RegisterQueue exposes live queue state that is read on scrape.
func (m *Metrics) RegisterQueue(length func() int, droppedEvents, frontChanges func() uint64) {
	m.reg.MustRegister(
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "jukebox_queue_length",
				Help: "Number of items currently queued",
			},
			func() float64 { return float64(length()) },
		),
		prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Name: "jukebox_events_dropped_total",
				Help: "Total number of queue events dropped by slow subscribers",
			},
			func() float64 { return float64(droppedEvents()) },
		),
		prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Name: "jukebox_front_changes_total",
				Help: "Total number of times the next item to play changed",
			},
			func() float64 { return float64(frontChanges()) },
		),
	)
}
