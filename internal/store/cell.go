// Package store provides a minimal observable state cell.
//
// A [Cell] holds a single value and notifies subscribed listeners whenever
// the value is replaced. Notification is synchronous and in subscription
// order, on the goroutine that called [Cell.Set]. This mirrors the
// subscribe/notify contract of a reactive UI store while remaining safe for
// concurrent use from multiple goroutines.
package store

import "sync"

// listener pairs a subscription id with its callback so that delivery order
// stays stable while unsubscription remains O(n).
type listener[T any] struct {
	id int
	fn func(T)
}

// Cell is an observable container for a single value of type T.
//
// The zero value is not usable; create cells with [New]. All methods are safe
// for concurrent use. Listeners are invoked without the internal lock held,
// so a listener may call [Cell.Get] (and even [Cell.Set], though re-entrant
// sets deliver notifications in their call order and can livelock if
// unconditional).
type Cell[T any] struct {
	mu        sync.Mutex
	value     T
	listeners []listener[T]
	nextID    int
}

// New creates a Cell holding initial.
func New[T any](initial T) *Cell[T] {
	return &Cell[T]{value: initial}
}

// Get returns the current value.
func (c *Cell[T]) Get() T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Set replaces the current value and synchronously notifies all listeners in
// subscription order. Set does not compare the old and new values; every call
// produces a notification.
func (c *Cell[T]) Set(v T) {
	c.mu.Lock()
	c.value = v
	snapshot := make([]listener[T], len(c.listeners))
	copy(snapshot, c.listeners)
	c.mu.Unlock()

	for _, l := range snapshot {
		l.fn(v)
	}
}

// Subscribe registers fn to be called on every subsequent [Cell.Set]. It does
// not invoke fn with the current value; callers that need it should read
// [Cell.Get] after subscribing. The returned function cancels the
// subscription and is safe to call more than once.
func (c *Cell[T]) Subscribe(fn func(T)) (cancel func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners = append(c.listeners, listener[T]{id: id, fn: fn})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, l := range c.listeners {
			if l.id == id {
				c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}
