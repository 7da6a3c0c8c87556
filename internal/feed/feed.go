// Package feed provides a typed publish/subscribe channel used to wire
// playback surfaces and ad modules to their consumers.
package feed

import (
	"sort"
	"sync"
)

// Feed delivers values of type T to every current subscriber.
// Subscribers are called in subscription order on the publisher's goroutine.
type Feed[T any] struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(T)
	closed bool
}

// New creates an empty feed
func New[T any]() *Feed[T] {
	return &Feed[T]{subs: make(map[int]func(T))}
}

// Subscribe registers fn and returns a function that removes it.
// The returned function is safe to call more than once. Subscribing to a
// closed feed returns a no-op unsubscribe and fn is never called.
func (f *Feed[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return func() {}
	}
	if f.subs == nil {
		f.subs = make(map[int]func(T))
	}

	id := f.nextID
	f.nextID++
	f.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
		})
	}
}

// Publish sends v to all subscribers. Publishing on a closed feed is a no-op.
func (f *Feed[T]) Publish(v T) {
	f.mu.RLock()
	if f.closed {
		f.mu.RUnlock()
		return
	}
	ids := make([]int, 0, len(f.subs))
	for id := range f.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(T), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, f.subs[id])
	}
	f.mu.RUnlock()

	// Call outside the lock so subscribers may unsubscribe themselves
	for _, fn := range fns {
		fn(v)
	}
}

// Len returns the number of active subscribers
func (f *Feed[T]) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

// Close drops all subscribers and rejects further publishes
func (f *Feed[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.subs = nil
}
