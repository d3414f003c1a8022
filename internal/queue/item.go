package queue

import (
	"fmt"
	"strings"
	"time"
)

// ItemID is the handle returned by Enqueue. It stays valid until the item leaves the queue.
type ItemID string

// Item is a snapshot of a queued payload and its ordering key.
type Item[T any] struct {
	ID         ItemID    `json:"id"`
	Seq        uint64    `json:"seq"`
	Score      int       `json:"score"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Payload    T         `json:"payload"`
}

// Before reports whether a is ordered ahead of b: higher score first, then earlier insertion.
func Before[T any](a, b Item[T]) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Seq < b.Seq
}

// Direction is the sign of a vote.
type Direction int8

const (
	Up   Direction = 1
	Down Direction = -1
)

func (d Direction) Valid() bool {
	return d == Up || d == Down
}

func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	default:
		return fmt.Sprintf("Direction(%d)", int8(d))
	}
}

// ParseDirection accepts "up"/"down" and the "+1"/"-1" shorthands.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "up", "+1", "1":
		return Up, nil
	case "down", "-1":
		return Down, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidDirection, s)
	}
}
