package pipeline

import "time"

// Queue is a bounded queue connecting pipeline stages. Producers choose
// a drop policy per call; consumers poll with a timeout instead of
// blocking indefinitely.
type Queue[T any] struct {
	ch chan T
}

// NewQueue creates a queue with the given capacity.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{ch: make(chan T, capacity)}
}

// Offer enqueues v if there is room. It returns false, leaving the
// queue unchanged, when the queue is full.
func (q *Queue[T]) Offer(v T) bool {
	select {
	case q.ch <- v:
		return true
	default:
		return false
	}
}

// OfferDropOldest enqueues v, evicting the oldest entry if the queue is
// full. It returns true when an entry was evicted to make room.
func (q *Queue[T]) OfferDropOldest(v T) bool {
	dropped := false
	for {
		select {
		case q.ch <- v:
			return dropped
		default:
		}
		select {
		case <-q.ch:
			dropped = true
		default:
		}
	}
}

// Poll dequeues the next entry, waiting up to timeout for one to
// arrive. The second return is false when the timeout expired.
func (q *Queue[T]) Poll(timeout time.Duration) (T, bool) {
	select {
	case v := <-q.ch:
		return v, true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case v := <-q.ch:
		return v, true
	case <-timer.C:
		var zero T
		return zero, false
	}
}

// Len returns the number of queued entries
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity
func (q *Queue[T]) Cap() int {
	return cap(q.ch)
}
