// Package ringbuf provides a fixed-capacity ring that keeps the newest
// values and overwrites the oldest. A Ring is not safe for concurrent use;
// callers hold their own lock.
package ringbuf

// Ring holds the last Cap() values pushed.
type Ring[T any] struct {
	buf  []T
	head uint64 // total pushes; next slot is head % len(buf)
}

// New creates a ring. Capacities below 1 become 1.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v, evicting the oldest value when the ring is full.
func (r *Ring[T]) Push(v T) {
	r.buf[r.head%uint64(len(r.buf))] = v
	r.head++
}

// Len returns the number of values held.
func (r *Ring[T]) Len() int {
	if r.head < uint64(len(r.buf)) {
		return int(r.head)
	}
	return len(r.buf)
}

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

// Evicted returns how many values have been overwritten so far.
func (r *Ring[T]) Evicted() uint64 {
	return r.head - uint64(r.Len())
}

// Do calls fn for each held value, oldest first.
func (r *Ring[T]) Do(fn func(T)) {
	n := uint64(r.Len())
	size := uint64(len(r.buf))
	for i := r.head - n; i < r.head; i++ {
		fn(r.buf[i%size])
	}
}

// Snapshot returns a copy of the held values, oldest first.
func (r *Ring[T]) Snapshot() []T {
	out := make([]T, 0, r.Len())
	r.Do(func(v T) { out = append(out, v) })
	return out
}
