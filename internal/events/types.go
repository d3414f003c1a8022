package events

import "time"

// Kind identifies what happened to the queue.
type Kind string

const (
	ItemAdded    Kind = "item_added"
	FrontChanged Kind = "front_changed"
	ItemRemoved  Kind = "item_removed"
	ScoreChanged Kind = "score_changed"
)

// Reason explains why an item left the queue.
type Reason string

const (
	ReasonTaken   Reason = "taken"
	ReasonRemoved Reason = "removed"
)

// Event is a single queue notification.
// Item is nil only for a FrontChanged event reporting an empty queue.
type Event[I any] struct {
	Seq    uint64
	Kind   Kind
	Item   *I
	Reason Reason
	At     time.Time
}
