// Package events provides a small instance-owned publish-subscribe
// primitive. Each Broadcaster is owned by exactly one publisher; there is
// no process-wide registry.
package events

import "sync"

// Broadcaster fans events of type T out to registered subscribers.
// Dispatch is synchronous and in subscription order, so a publisher that
// emits A before B is observed as A before B by every subscriber.
//
// The zero value is not usable; create instances with NewBroadcaster.
type Broadcaster[T any] struct {
	mu     sync.Mutex
	nextID int
	subs   []subscriber[T]
}

type subscriber[T any] struct {
	id int
	fn func(T)
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{}
}

// Subscribe registers fn to be called for every subsequent Emit. The
// returned function removes the subscription; calling it more than once
// is harmless.
func (b *Broadcaster[T]) Subscribe(fn func(T)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.subs = append(b.subs, subscriber[T]{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Emit delivers evt to every current subscriber. The subscriber list is
// snapshotted under the lock, so callbacks may subscribe or unsubscribe
// without deadlocking.
func (b *Broadcaster[T]) Emit(evt T) {
	b.mu.Lock()
	snapshot := make([]subscriber[T], len(b.subs))
	copy(snapshot, b.subs)
	b.mu.Unlock()

	for _, s := range snapshot {
		s.fn(evt)
	}
}

// Len returns the number of active subscriptions.
func (b *Broadcaster[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
