// Package queue provides a bounded, context-aware FIFO that carries items
// from one producer flow to one consumer flow.
//
// Enqueue blocks while the queue is full, so a slow consumer throttles its
// producer. Close stops new items from entering but leaves buffered items
// deliverable: Dequeue keeps returning them in order and only reports
// ErrClosed once the queue is both closed and empty. An Enqueue racing
// Close either lands before Close returns or fails with ErrClosed, so no
// accepted item is ever lost.
//
//	q, _ := queue.New[protocol.Message](128)
//	go func() {
//		defer q.Close()
//		_ = q.Enqueue(ctx, msg)
//	}()
//	for {
//		msg, err := q.Dequeue(ctx)
//		if errors.Is(err, queue.ErrClosed) {
//			break
//		}
//	}
package queue

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrClosed is returned by Enqueue after Close, and by Dequeue once the
	// queue is closed and drained.
	ErrClosed = errors.New("queue closed")

	// ErrInvalidCapacity is returned by New for a capacity below one.
	ErrInvalidCapacity = errors.New("queue capacity must be at least 1")
)

// Queue is a fixed-capacity FIFO. All methods are safe for concurrent use;
// callers need no external locking.
type Queue[T any] struct {
	items chan T

	// closing wakes blocked producers; sealed is closed once no producer
	// can still add an item.
	closing   chan struct{}
	sealed    chan struct{}
	mu        sync.RWMutex
	closeOnce sync.Once
}

// New creates a Queue holding at most capacity items.
func New[T any](capacity int) (*Queue[T], error) {
	if capacity < 1 {
		return nil, ErrInvalidCapacity
	}
	return &Queue[T]{
		items:   make(chan T, capacity),
		closing: make(chan struct{}),
		sealed:  make(chan struct{}),
	}, nil
}

// Enqueue appends item, blocking while the queue is full. It returns
// ErrClosed if the queue is closed before or while waiting, and ctx.Err()
// if ctx ends first.
func (q *Queue[T]) Enqueue(ctx context.Context, item T) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	select {
	case <-q.closing:
		return ErrClosed
	default:
	}

	// Free space wins over a concurrently cancelled ctx.
	select {
	case q.items <- item:
		return nil
	default:
	}

	select {
	case q.items <- item:
		return nil
	case <-q.closing:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue removes the oldest item, blocking while the queue is empty and
// open. Buffered items remain available after Close.
func (q *Queue[T]) Dequeue(ctx context.Context) (T, error) {
	var zero T

	select {
	case item := <-q.items:
		return item, nil
	default:
	}

	select {
	case item := <-q.items:
		return item, nil
	case <-q.sealed:
		select {
		case item := <-q.items:
			return item, nil
		default:
			return zero, ErrClosed
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Close stops the queue from accepting items and wakes every blocked
// caller. It returns once in-flight Enqueue calls have finished. Calling
// Close more than once is a no-op.
func (q *Queue[T]) Close() {
	q.closeOnce.Do(func() {
		close(q.closing)
		q.mu.Lock()
		close(q.sealed)
		q.mu.Unlock()
	})
}

// IsClosed reports whether Close has been called.
func (q *Queue[T]) IsClosed() bool {
	select {
	case <-q.closing:
		return true
	default:
		return false
	}
}

// Len returns the number of buffered items.
func (q *Queue[T]) Len() int {
	return len(q.items)
}

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int {
	return cap(q.items)
}
