package buffer

import (
	"slices"
	"sync"
)

// Queue is a thread-safe bounded FIFO. When full, pushing drops the oldest
// item and hands it back to the caller.
type Queue[T any] struct {
	mu       sync.Mutex
	data     []T
	capacity int
}

// New creates a new Queue with the specified capacity.
func New[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue[T]{
		data:     make([]T, 0, capacity),
		capacity: capacity,
	}
}

// Push adds an item. If the queue is full, the oldest item is dropped and
// returned with true.
func (q *Queue[T]) Push(item T) (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var evicted T
	dropped := false
	if len(q.data) >= q.capacity {
		evicted = q.data[0]
		dropped = true
		q.data = q.data[1:]
	}
	q.data = append(q.data, item)
	return evicted, dropped
}

// RemoveFunc deletes every item for which match returns true and reports how
// many were removed.
func (q *Queue[T]) RemoveFunc(match func(T) bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	before := len(q.data)
	q.data = slices.DeleteFunc(q.data, match)
	return before - len(q.data)
}

// Len returns the current number of items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.data)
}
