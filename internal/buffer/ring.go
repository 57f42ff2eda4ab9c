// Package buffer holds a fixed-capacity ring that keeps the most recent
// entries. It is not safe for concurrent use; owners guard it.
package buffer

type Ring[T any] struct {
	entries []T
	start   int
	count   int
}

func NewRing[T any](size int) *Ring[T] {
	if size <= 0 {
		size = 1
	}
	return &Ring[T]{
		entries: make([]T, size),
	}
}

// Add appends entry, overwriting the oldest one when full. It reports
// whether an entry was evicted.
func (r *Ring[T]) Add(entry T) bool {
	if r == nil || len(r.entries) == 0 {
		return false
	}

	if r.count < len(r.entries) {
		index := (r.start + r.count) % len(r.entries)
		r.entries[index] = entry
		r.count++
		return false
	}

	r.entries[r.start] = entry
	r.start = (r.start + 1) % len(r.entries)
	return true
}

func (r *Ring[T]) Len() int {
	if r == nil {
		return 0
	}
	return r.count
}

func (r *Ring[T]) Cap() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}

// Reset drops every entry and releases references held by the backing slice.
func (r *Ring[T]) Reset() {
	if r == nil {
		return
	}
	var zero T
	for i := range r.entries {
		r.entries[i] = zero
	}
	r.start = 0
	r.count = 0
}

// List returns entries oldest first.
func (r *Ring[T]) List() []T {
	if r == nil || r.count == 0 {
		return nil
	}

	out := make([]T, r.count)
	for i := 0; i < r.count; i++ {
		index := (r.start + i) % len(r.entries)
		out[i] = r.entries[index]
	}
	return out
}

// Each visits entries oldest first until fn returns false.
func (r *Ring[T]) Each(fn func(T) bool) {
	if r == nil || fn == nil {
		return
	}
	for i := 0; i < r.count; i++ {
		if !fn(r.entries[(r.start+i)%len(r.entries)]) {
			return
		}
	}
}
