package queue

import "errors"

var (
	ErrUnknownItem      = errors.New("item is not queued")
	ErrQueueFull        = errors.New("queue is full")
	ErrInvalidDirection = errors.New("vote direction must be up or down")
)
