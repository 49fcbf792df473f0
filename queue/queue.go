package queue

import "sync"

// Queue is a bounded ring of recent entries. When full, Enqueue overwrites
// the oldest one. It is safe for concurrent use.
type Queue[T any] struct {
	mu    sync.RWMutex
	items []T
	head  int
	size  int
}

// New creates a queue that holds at most capacity elements.
// A non-positive capacity is treated as 1.
func New[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{items: make([]T, capacity)}
}

// Enqueue appends item, evicting the oldest entry at capacity.
func (q *Queue[T]) Enqueue(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	tail := (q.head + q.size) % len(q.items)
	q.items[tail] = item
	if q.size < len(q.items) {
		q.size++
		return
	}
	q.head = (q.head + 1) % len(q.items)
}

// Last returns up to n of the newest elements, oldest first.
func (q *Queue[T]) Last(n int) []T {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if n > q.size {
		n = q.size
	}
	if n <= 0 {
		return []T{}
	}
	out := make([]T, n)
	start := q.head + q.size - n
	for i := 0; i < n; i++ {
		out[i] = q.items[(start+i)%len(q.items)]
	}
	return out
}

// Len returns the number of retained entries.
func (q *Queue[T]) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.size
}
