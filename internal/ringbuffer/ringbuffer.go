package ringbuffer

import (
	"fmt"
	"sync"

	"github.com/your-org/roadrunner-sentry/internal/protocol"
)

// RingBuffer is a fixed capacity FIFO. Pushing onto a full buffer overwrites
// the oldest element.
//
// All methods are safe for concurrent use.
type RingBuffer[T any] struct {
	mu    sync.Mutex
	items []T
	// head is the index of the oldest element.
	head  int
	count int
}

// New creates a ring buffer holding at most capacity elements.
func New[T any](capacity int) (*RingBuffer[T], error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: ring buffer capacity must be at least 1, got %d", protocol.ErrInvalidConfiguration, capacity)
	}
	return &RingBuffer[T]{items: make([]T, capacity)}, nil
}

// Push appends item. It reports whether an older element was evicted.
func (r *RingBuffer[T]) Push(item T) (evicted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tail := (r.head + r.count) % len(r.items)
	r.items[tail] = item
	if r.count == len(r.items) {
		r.head = (r.head + 1) % len(r.items)
		return true
	}
	r.count++
	return false
}

// ToSlice returns a copy of the elements in insertion order.
func (r *RingBuffer[T]) ToSlice() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot()
}

func (r *RingBuffer[T]) snapshot() []T {
	out := make([]T, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.items[(r.head+i)%len(r.items)]
	}
	return out
}

// PeekFront returns the oldest element without removing it.
func (r *RingBuffer[T]) PeekFront() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.count == 0 {
		return zero, false
	}
	return r.items[r.head], true
}

// PeekBack returns the newest element without removing it.
func (r *RingBuffer[T]) PeekBack() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.count == 0 {
		return zero, false
	}
	return r.items[(r.head+r.count-1)%len(r.items)], true
}

// Shift removes and returns the oldest element.
func (r *RingBuffer[T]) Shift() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.count == 0 {
		return zero, false
	}
	item := r.items[r.head]
	r.items[r.head] = zero
	r.head = (r.head + 1) % len(r.items)
	r.count--
	return item, true
}

// Count returns the number of stored elements.
func (r *RingBuffer[T]) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Cap returns the capacity fixed at construction.
func (r *RingBuffer[T]) Cap() int {
	return len(r.items)
}

// IsFull reports whether the next Push evicts an element.
func (r *RingBuffer[T]) IsFull() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count == len(r.items)
}

// Clear removes every element.
func (r *RingBuffer[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reset()
}

// Drain returns the elements in insertion order and empties the buffer.
func (r *RingBuffer[T]) Drain() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.snapshot()
	r.reset()
	return out
}

func (r *RingBuffer[T]) reset() {
	clear(r.items)
	r.head = 0
	r.count = 0
}
