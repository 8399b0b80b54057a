package store

import "sync"

// A feed delivers values to a single subscriber without ever blocking the
// publisher. An undelivered value is replaced by a newer one.
type feed[T any] struct {
	mu     sync.Mutex
	ch     chan T
	closed bool
}

func newFeed[T any]() *feed[T] {
	return &feed[T]{ch: make(chan T, 1)}
}

func (f *feed[T]) publish(value T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	select {
	case f.ch <- value:
		return
	default:
	}
	// the subscriber has not taken the previous value yet; it only needs the newest.
	select {
	case <-f.ch:
	default:
	}
	f.ch <- value
}

func (f *feed[T]) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	close(f.ch)
}
