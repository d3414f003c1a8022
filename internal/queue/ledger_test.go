package queue

import (
	"errors"
	"testing"
)

func TestLedgerRecordVoteUnknownItem(t *testing.T) {
	l := NewLedger[string]()
	if _, err := l.RecordVote("missing", "alice", Up); !errors.Is(err, ErrUnknownItem) {
		t.Fatalf("expected ErrUnknownItem, got %v", err)
	}
	if _, err := l.RetractVote("missing", "alice"); !errors.Is(err, ErrUnknownItem) {
		t.Fatalf("expected ErrUnknownItem on retract, got %v", err)
	}
}

func TestLedgerReplaceSemantics(t *testing.T) {
	l := NewLedger[string]()
	l.Track("song")

	steps := []struct {
		voter string
		dir   Direction
		want  int
	}{
		{"alice", Up, 1},
		{"alice", Up, 1},   // repeat is a no-op
		{"bob", Up, 2},     // second voter stacks
		{"alice", Down, 0}, // flip moves by two
		{"alice", Down, 0},
		{"bob", Down, -2},
		{"bob", Up, 0},
	}
	for i, s := range steps {
		got, err := l.RecordVote("song", s.voter, s.dir)
		if err != nil {
			t.Fatalf("step %d: unexpected error: %v", i, err)
		}
		if got != s.want {
			t.Fatalf("step %d (%s %s): expected score %d, got %d", i, s.voter, s.dir, s.want, got)
		}
	}

	votes := l.Votes("song")
	if len(votes) != 2 || votes["alice"] != Down || votes["bob"] != Up {
		t.Fatalf("unexpected votes: %v", votes)
	}
}

func TestLedgerRetractVote(t *testing.T) {
	l := NewLedger[string]()
	l.Track("song")

	if _, err := l.RecordVote("song", "alice", Down); err != nil {
		t.Fatalf("vote: %v", err)
	}
	score, err := l.RetractVote("song", "alice")
	if err != nil {
		t.Fatalf("retract: %v", err)
	}
	if score != 0 {
		t.Fatalf("expected score 0 after retract, got %d", score)
	}

	// Retracting without an active vote is a no-op
	score, err = l.RetractVote("song", "alice")
	if err != nil || score != 0 {
		t.Fatalf("expected (0, nil), got (%d, %v)", score, err)
	}
}

func TestLedgerInvalidDirection(t *testing.T) {
	l := NewLedger[string]()
	l.Track("song")
	if _, err := l.RecordVote("song", "alice", Direction(3)); !errors.Is(err, ErrInvalidDirection) {
		t.Fatalf("expected ErrInvalidDirection, got %v", err)
	}
	if s, _ := l.Score("song"); s != 0 {
		t.Fatalf("invalid vote changed score to %d", s)
	}
}

func TestLedgerClearItem(t *testing.T) {
	l := NewLedger[int]()
	l.Track("song")
	if _, err := l.RecordVote("song", 7, Up); err != nil {
		t.Fatalf("vote: %v", err)
	}

	l.ClearItem("song")
	l.ClearItem("song") // unknown ids are ignored

	if _, ok := l.Score("song"); ok {
		t.Fatal("expected cleared item to be unknown")
	}
	if l.Len() != 0 {
		t.Fatalf("expected empty ledger, got %d items", l.Len())
	}
	if _, err := l.RecordVote("song", 7, Up); !errors.Is(err, ErrUnknownItem) {
		t.Fatalf("expected ErrUnknownItem after clear, got %v", err)
	}
}

func TestParseDirection(t *testing.T) {
	cases := map[string]Direction{"up": Up, "UP": Up, "+1": Up, " down ": Down, "-1": Down}
	for in, want := range cases {
		got, err := ParseDirection(in)
		if err != nil {
			t.Fatalf("ParseDirection(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseDirection(%q) = %s, want %s", in, got, want)
		}
	}

	for _, in := range []string{"", "sideways", "0"} {
		if _, err := ParseDirection(in); !errors.Is(err, ErrInvalidDirection) {
			t.Fatalf("ParseDirection(%q): expected ErrInvalidDirection, got %v", in, err)
		}
	}
}
