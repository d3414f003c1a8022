package mirror

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dovewarden/jukebox/internal/events"
	"github.com/dovewarden/jukebox/internal/metrics"
	"github.com/dovewarden/jukebox/internal/queue"
	"github.com/prometheus/client_golang/prometheus"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMirror(t *testing.T, ns string) (*queue.Queue[string, string], *Mirror[string]) {
	t.Helper()
	q := queue.New[string, string](queue.Options{EventBuffer: 256, Logger: testLogger()})
	m, err := NewInMemory[string]("", q, Options{
		Namespace:      ns,
		HistorySize:    3,
		ResyncInterval: time.Hour,
		Logger:         testLogger(),
	})
	if err != nil {
		t.Fatalf("failed to create mirror: %v", err)
	}
	t.Cleanup(func() {
		q.Close()
		if cerr := m.Close(); cerr != nil {
			t.Fatalf("failed to close mirror: %v", cerr)
		}
	})
	return q, m
}

func mustEnqueue(t *testing.T, q *queue.Queue[string, string], payload string) queue.ItemID {
	t.Helper()
	id, err := q.Enqueue(payload)
	if err != nil {
		t.Fatalf("enqueue %s: %v", payload, err)
	}
	return id
}

// waitForOrder polls the mirrored order until it matches the queue snapshot.
func waitForOrder(t *testing.T, q *queue.Queue[string, string], m *Mirror[string]) []queue.ItemID {
	t.Helper()
	ctx := context.Background()
	deadline := time.Now().Add(3 * time.Second)
	for {
		got, err := m.Order(ctx)
		if err != nil {
			t.Fatalf("failed to read order: %v", err)
		}
		snap := q.Snapshot()
		if sameOrder(got, snap) {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatalf("mirror order %v never matched queue %v", got, ids(snap))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func ids(snap []queue.Item[string]) []queue.ItemID {
	out := make([]queue.ItemID, len(snap))
	for i, it := range snap {
		out[i] = it.ID
	}
	return out
}

func sameOrder(got []queue.ItemID, snap []queue.Item[string]) bool {
	if len(got) != len(snap) {
		return false
	}
	for i := range got {
		if got[i] != snap[i].ID {
			return false
		}
	}
	return true
}

func TestResyncMirrorsOrder(t *testing.T) {
	q, m := newTestMirror(t, "testns")
	ctx := context.Background()

	a := mustEnqueue(t, q, "A")
	b := mustEnqueue(t, q, "B")
	c := mustEnqueue(t, q, "C")
	if err := q.Vote(c, "alice", queue.Up); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if err := q.Vote(a, "alice", queue.Down); err != nil {
		t.Fatalf("vote: %v", err)
	}

	if err := m.Resync(ctx); err != nil {
		t.Fatalf("resync: %v", err)
	}

	order, err := m.Order(ctx)
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	want := []queue.ItemID{c, b, a}
	if len(order) != 3 || order[0] != want[0] || order[1] != want[1] || order[2] != want[2] {
		t.Fatalf("expected order %v, got %v", want, order)
	}

	front, ok, err := m.Front(ctx)
	if err != nil || !ok || front != c {
		t.Fatalf("expected front %s, got %s (ok=%v err=%v)", c, front, ok, err)
	}

	it, ok, err := m.Item(ctx, c)
	if err != nil || !ok {
		t.Fatalf("expected item C, got ok=%v err=%v", ok, err)
	}
	if it.Payload != "C" || it.Score != 1 {
		t.Fatalf("unexpected mirrored item %+v", it)
	}
}

func TestEqualScoresKeepInsertionOrder(t *testing.T) {
	q, m := newTestMirror(t, "testns_ties")
	ctx := context.Background()

	// More than nine items so that lexicographic member order would differ
	// from numeric order without zero padding.
	for i := 0; i < 12; i++ {
		mustEnqueue(t, q, string(rune('a'+i)))
	}
	if err := m.Resync(ctx); err != nil {
		t.Fatalf("resync: %v", err)
	}

	order, err := m.Order(ctx)
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	if !sameOrder(order, q.Snapshot()) {
		t.Fatalf("mirror order %v differs from queue", order)
	}
}

func TestStartAppliesEvents(t *testing.T) {
	q, m := newTestMirror(t, "testns_events")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mustEnqueue(t, q, "before-start")
	m.Start(ctx)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := m.Stop(stopCtx); err != nil {
			t.Fatalf("failed to stop mirror: %v", err)
		}
	}()

	waitForOrder(t, q, m)

	b := mustEnqueue(t, q, "B")
	c := mustEnqueue(t, q, "C")
	if err := q.Vote(c, "alice", queue.Up); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if err := q.Vote(b, "bob", queue.Up); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if err := q.Vote(b, "carol", queue.Up); err != nil {
		t.Fatalf("vote: %v", err)
	}
	waitForOrder(t, q, m)

	deadline := time.Now().Add(3 * time.Second)
	for {
		front, ok, err := m.Front(ctx)
		if err != nil {
			t.Fatalf("front: %v", err)
		}
		if ok && front == b {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected mirrored front %s, got %s (ok=%v)", b, front, ok)
		}
		time.Sleep(10 * time.Millisecond)
	}

	taken, ok := q.TryTakeNext()
	if !ok || taken.ID != b {
		t.Fatalf("expected to take B, got %+v", taken)
	}
	q.Remove(c)
	waitForOrder(t, q, m)

	deadline = time.Now().Add(3 * time.Second)
	for {
		history, err := m.History(ctx, 10)
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		if len(history) == 1 {
			if history[0].ID != b || history[0].Score != 2 {
				t.Fatalf("unexpected history entry %+v", history[0])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected one history entry, got %d", len(history))
		}
		time.Sleep(10 * time.Millisecond)
	}

	applied, resyncs, failures := m.Stats()
	if applied == 0 || resyncs == 0 || failures != 0 {
		t.Fatalf("unexpected stats applied=%d resyncs=%d failures=%d", applied, resyncs, failures)
	}
}

func TestStopWithoutStart(t *testing.T) {
	_, m := newTestMirror(t, "testns_nostart")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	begin := time.Now()
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if elapsed := time.Since(begin); elapsed > time.Second {
		t.Fatalf("stop of an unstarted mirror took %v", elapsed)
	}
	// a second stop is a no-op as well
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestApplyTakenTrimsHistory(t *testing.T) {
	q, m := newTestMirror(t, "testns_history")
	ctx := context.Background()

	for _, p := range []string{"A", "B", "C", "D", "E"} {
		mustEnqueue(t, q, p)
	}
	if err := m.Resync(ctx); err != nil {
		t.Fatalf("resync: %v", err)
	}
	for i := 0; i < 5; i++ {
		it, ok := q.TryTakeNext()
		if !ok {
			t.Fatal("expected item")
		}
		e := events.Event[queue.Item[string]]{Kind: events.ItemRemoved, Item: &it, Reason: events.ReasonTaken}
		if err := m.Apply(ctx, e); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}

	history, err := m.History(ctx, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected history capped at 3, got %d", len(history))
	}
	// Newest first
	if history[0].Payload != "E" || history[2].Payload != "C" {
		t.Fatalf("unexpected history order: %s .. %s", history[0].Payload, history[2].Payload)
	}

	order, err := m.Order(ctx)
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	if len(order) != 0 {
		t.Fatalf("expected empty mirrored queue, got %v", order)
	}
}

func TestApplyRemovedSkipsHistory(t *testing.T) {
	q, m := newTestMirror(t, "testns_removed")
	ctx := context.Background()

	id := mustEnqueue(t, q, "A")
	if err := m.Resync(ctx); err != nil {
		t.Fatalf("resync: %v", err)
	}
	it, _ := q.Get(id)
	q.Remove(id)

	e := events.Event[queue.Item[string]]{Kind: events.ItemRemoved, Item: &it, Reason: events.ReasonRemoved}
	if err := m.Apply(ctx, e); err != nil {
		t.Fatalf("apply: %v", err)
	}
	history, err := m.History(ctx, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected no history for removed item, got %d", len(history))
	}
	if _, ok, _ := m.Item(ctx, id); ok {
		t.Fatal("expected removed item body to be gone")
	}
}

func TestFrontChangePublished(t *testing.T) {
	q, m := newTestMirror(t, "testns_pubsub")
	ctx := context.Background()

	pubsub := m.SubscribeFront(ctx)
	defer func() {
		_ = pubsub.Close()
	}()
	if _, err := pubsub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	id := mustEnqueue(t, q, "A")
	it, _ := q.Get(id)
	if err := m.Apply(ctx, events.Event[queue.Item[string]]{Kind: events.FrontChanged, Item: &it}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	select {
	case msg := <-pubsub.Channel():
		if msg.Payload != string(id) {
			t.Fatalf("expected payload %s, got %s", id, msg.Payload)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for front change message")
	}

	if err := m.Apply(ctx, events.Event[queue.Item[string]]{Kind: events.FrontChanged}); err != nil {
		t.Fatalf("apply empty front: %v", err)
	}
	if _, ok, err := m.Front(ctx); err != nil || ok {
		t.Fatalf("expected no front, got ok=%v err=%v", ok, err)
	}
}

func TestExternalMode(t *testing.T) {
	s := miniredis.RunT(t)

	q := queue.New[string, string](queue.Options{Logger: testLogger()})
	defer q.Close()

	m, err := NewExternal[string](s.Addr(), q, Options{Namespace: "ext", Logger: testLogger()})
	if err != nil {
		t.Fatalf("failed to create external mirror: %v", err)
	}
	defer func() {
		if cerr := m.Close(); cerr != nil {
			t.Fatalf("failed to close mirror: %v", cerr)
		}
	}()

	ctx := context.Background()
	if err := m.HealthCheck(ctx); err != nil {
		t.Fatalf("health check: %v", err)
	}

	id := mustEnqueue(t, q, "A")
	if err := m.Resync(ctx); err != nil {
		t.Fatalf("resync: %v", err)
	}

	// Read the raw keys straight from the server
	members, err := s.ZMembers("ext:" + QUEUE_KEY)
	if err != nil {
		t.Fatalf("zmembers: %v", err)
	}
	if len(members) != 1 || memberID(members[0]) != id {
		t.Fatalf("unexpected members %v", members)
	}
	front, err := s.Get("ext:" + FRONT_KEY)
	if err != nil || front != string(id) {
		t.Fatalf("expected front %s, got %q (err=%v)", id, front, err)
	}
}

func TestExternalModeUnreachable(t *testing.T) {
	q := queue.New[string, string](queue.Options{Logger: testLogger()})
	defer q.Close()

	s := miniredis.NewMiniRedis()
	if err := s.Start(); err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	addr := s.Addr()
	s.Close()

	if _, err := NewExternal[string](addr, q, Options{Logger: testLogger()}); err == nil {
		t.Fatal("expected error for unreachable redis")
	}
}

func TestFailuresAreCounted(t *testing.T) {
	q, m := newTestMirror(t, "testns_fail")
	reg := prometheus.NewRegistry()
	m.metrics = metrics.New(reg)

	m.server.SetError("simulated failure")
	defer m.server.SetError("")

	mustEnqueue(t, q, "A")
	if err := m.Resync(context.Background()); err == nil {
		t.Fatal("expected resync to fail")
	}
	if _, _, failures := m.Stats(); failures != 1 {
		t.Fatalf("expected 1 failure, got %d", failures)
	}
}
