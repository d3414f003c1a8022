package queue

// Ledger records, per queued item, the direction each voter currently holds and
// the resulting score.
//
// A Ledger is not safe for concurrent use; Queue serializes access to it.
type Ledger[V comparable] struct {
	items map[ItemID]*tally[V]
}

type tally[V comparable] struct {
	votes map[V]Direction
	score int
}

func NewLedger[V comparable]() *Ledger[V] {
	return &Ledger[V]{items: make(map[ItemID]*tally[V])}
}

// Track starts accounting for a newly queued item with a score of zero.
func (l *Ledger[V]) Track(id ItemID) {
	if _, ok := l.items[id]; ok {
		return
	}
	l.items[id] = &tally[V]{votes: make(map[V]Direction)}
}

// RecordVote sets voter's direction on id and returns the new score.
// A previous vote by the same voter is replaced, so flipping moves the score by
// two and repeating a vote leaves it unchanged.
func (l *Ledger[V]) RecordVote(id ItemID, voter V, dir Direction) (int, error) {
	if !dir.Valid() {
		return 0, ErrInvalidDirection
	}
	t, ok := l.items[id]
	if !ok {
		return 0, ErrUnknownItem
	}

	if prev, voted := t.votes[voter]; voted {
		t.score -= int(prev)
	}
	t.votes[voter] = dir
	t.score += int(dir)
	return t.score, nil
}

// RetractVote removes voter's contribution to id, if any, and returns the new score.
func (l *Ledger[V]) RetractVote(id ItemID, voter V) (int, error) {
	t, ok := l.items[id]
	if !ok {
		return 0, ErrUnknownItem
	}
	if prev, voted := t.votes[voter]; voted {
		t.score -= int(prev)
		delete(t.votes, voter)
	}
	return t.score, nil
}

// ClearItem forgets every vote on id. Unknown ids are ignored.
func (l *Ledger[V]) ClearItem(id ItemID) {
	delete(l.items, id)
}

// Score returns the current score of id.
func (l *Ledger[V]) Score(id ItemID) (int, bool) {
	t, ok := l.items[id]
	if !ok {
		return 0, false
	}
	return t.score, true
}

// Votes returns a copy of the active votes on id.
func (l *Ledger[V]) Votes(id ItemID) map[V]Direction {
	t, ok := l.items[id]
	if !ok {
		return nil
	}
	out := make(map[V]Direction, len(t.votes))
	for v, d := range t.votes {
		out[v] = d
	}
	return out
}

// Len returns the number of tracked items.
func (l *Ledger[V]) Len() int {
	return len(l.items)
}
