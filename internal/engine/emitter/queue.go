// Package emitter moves closed flows from the table to the sinks without ever
// blocking packet intake.
package emitter

import (
	"context"
	"sync"
	"sync/atomic"
)

// Queue is a bounded FIFO. Offer never blocks: when the queue is full the
// oldest item is discarded and counted.
type Queue[T any] struct {
	ch      chan T
	offerMu sync.Mutex
	dropped atomic.Uint64
}

// NewQueue creates a queue holding at most capacity items.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue[T]{ch: make(chan T, capacity)}
}

// Offer enqueues item, dropping the oldest queued item if there is no room.
// It reports whether an item was dropped.
func (q *Queue[T]) Offer(item T) (dropped bool) {
	q.offerMu.Lock()
	defer q.offerMu.Unlock()
	for {
		select {
		case q.ch <- item:
			return dropped
		default:
		}
		select {
		case <-q.ch:
			q.dropped.Add(1)
			dropped = true
		default:
		}
	}
}

// Put enqueues item, waiting for room. Used on shutdown where nothing may be
// lost.
func (q *Queue[T]) Put(ctx context.Context, item T) error {
	select {
	case q.ch <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// C is the receive side of the queue.
func (q *Queue[T]) C() <-chan T { return q.ch }

// Close ends the queue. No Offer or Put may follow.
func (q *Queue[T]) Close() { close(q.ch) }

func (q *Queue[T]) Len() int        { return len(q.ch) }
func (q *Queue[T]) Cap() int        { return cap(q.ch) }
func (q *Queue[T]) Dropped() uint64 { return q.dropped.Load() }
