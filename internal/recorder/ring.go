package recorder

// Ring is a fixed-capacity FIFO buffer. Once full, each Push evicts the
// oldest item. Ring is not safe for concurrent use; Recorder guards it.
type Ring[T any] struct {
	items []T
	head  int // index of the oldest item
	size  int
}

// NewRing returns an empty ring holding at most capacity items. A
// non-positive capacity is treated as 1.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{items: make([]T, capacity)}
}

// Push appends v, evicting the oldest item when the ring is full.
func (r *Ring[T]) Push(v T) {
	if r.size < len(r.items) {
		r.items[(r.head+r.size)%len(r.items)] = v
		r.size++
		return
	}
	r.items[r.head] = v
	r.head = (r.head + 1) % len(r.items)
}

// Items returns the contents oldest first.
func (r *Ring[T]) Items() []T {
	out := make([]T, r.size)
	for i := range out {
		out[i] = r.items[(r.head+i)%len(r.items)]
	}
	return out
}

func (r *Ring[T]) Len() int { return r.size }
func (r *Ring[T]) Cap() int { return len(r.items) }

// Clear empties the ring without releasing its storage.
func (r *Ring[T]) Clear() {
	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.head, r.size = 0, 0
}
