package order

import (
	"errors"
	"sync"
)

var (
	// ErrQueueFull means the intake buffer cannot take another intent. The
	// caller must release the reservation it already made; dropping silently
	// would leak committed stock.
	ErrQueueFull = errors.New("order: intake queue full")

	// ErrQueueClosed means the process is shutting down.
	ErrQueueClosed = errors.New("order: intake queue closed")
)

// Queue is the bounded FIFO buffer between admission and fulfillment.
// Capacity is fixed at startup.
type Queue struct {
	ch chan Intent

	mu     sync.RWMutex
	closed bool
}

func NewQueue(size int) *Queue {
	return &Queue{ch: make(chan Intent, size)}
}

// Enqueue never blocks the admission path: a full buffer is reported as
// ErrQueueFull instead.
func (q *Queue) Enqueue(it Intent) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- it:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops intake. Intents already buffered stay readable until drained.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

// Items exposes the drain side to the fulfillment worker.
func (q *Queue) Items() <-chan Intent { return q.ch }

// Len reports the number of buffered intents.
func (q *Queue) Len() int { return len(q.ch) }
