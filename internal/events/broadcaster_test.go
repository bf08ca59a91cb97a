package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBroadcaster_SubscribeAndEmit(t *testing.T) {
	b := NewBroadcaster[string]()

	var got []string
	b.Subscribe(func(s string) { got = append(got, s) })

	b.Emit("one")
	b.Emit("two")

	assert.Equal(t, []string{"one", "two"}, got)
}

func TestBroadcaster_MultipleSubscribersInOrder(t *testing.T) {
	b := NewBroadcaster[int]()

	var order []string
	b.Subscribe(func(int) { order = append(order, "first") })
	b.Subscribe(func(int) { order = append(order, "second") })

	b.Emit(1)

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestBroadcaster_Unsubscribe(t *testing.T) {
	b := NewBroadcaster[int]()

	calls := 0
	unsubscribe := b.Subscribe(func(int) { calls++ })

	b.Emit(1)
	unsubscribe()
	b.Emit(2)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, b.Len())

	// Double unsubscribe is a no-op.
	unsubscribe()
}

func TestBroadcaster_UnsubscribeDuringEmit(t *testing.T) {
	b := NewBroadcaster[int]()

	var unsubscribe func()
	calls := 0
	unsubscribe = b.Subscribe(func(int) {
		calls++
		unsubscribe()
	})

	b.Emit(1)
	b.Emit(2)

	assert.Equal(t, 1, calls)
}

func TestBroadcaster_ConcurrentEmit(t *testing.T) {
	b := NewBroadcaster[int]()

	var mu sync.Mutex
	total := 0
	b.Subscribe(func(n int) {
		mu.Lock()
		total += n
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Emit(1)
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, total)
}
