package wisp

// bufferGrowChunk is the fixed number of elements a dynBuffer grows by
// when it runs out of capacity, matching original_source/src/buffer.c's
// `buf->capacity + 16`.
const bufferGrowChunk = 16

// dynBuffer is a growable, typed sequence with amortised O(1) append. It
// exists as its own type (rather than a bare Go slice) because several
// callers care about the same things original_source/include/buffer.h's
// buffer_t cared about: whether an append just reallocated (so a caller
// holding a pointer into the backing array knows to refresh it), and a
// remove operation keyed by a predicate rather than an index.
type dynBuffer[T any] struct {
	data []T
}

// Push appends elem, growing the backing array by bufferGrowChunk elements
// when full. The returned bool is true exactly when the append caused a
// reallocation, mirroring buffer_push's return value in buffer.c.
func (b *dynBuffer[T]) Push(elem T) bool {
	reallocated := len(b.data) == cap(b.data)
	if reallocated {
		grown := make([]T, len(b.data), cap(b.data)+bufferGrowChunk)
		copy(grown, b.data)
		b.data = grown
	}
	b.data = append(b.data, elem)
	return reallocated
}

// At returns a pointer to the element at i, or nil if i is out of range.
func (b *dynBuffer[T]) At(i int) *T {
	if i < 0 || i >= len(b.data) {
		return nil
	}
	return &b.data[i]
}

// Last returns a pointer to the final element, or nil if the buffer is
// empty.
func (b *dynBuffer[T]) Last() *T {
	if len(b.data) == 0 {
		return nil
	}
	return &b.data[len(b.data)-1]
}

// Len reports the number of elements currently stored.
func (b *dynBuffer[T]) Len() int {
	return len(b.data)
}

// Splice removes the length elements starting at start.
func (b *dynBuffer[T]) Splice(start, length int) {
	if start < 0 || start >= len(b.data) || length <= 0 {
		return
	}
	end := start + length
	if end > len(b.data) {
		end = len(b.data)
	}
	b.data = append(b.data[:start], b.data[end:]...)
}

// RemoveFunc removes every element for which match returns true, scanning
// in reverse. original_source's buffer_remove compares against a raw
// element pointer and does not stop at the first hit -- it keeps walking
// and removes every match it finds (see SPEC_FULL.md's Open Question
// resolution). A predicate is the Go-idiomatic stand-in for "address
// equality" since wisp's buffers don't hand out interior pointers across
// GC boundaries.
func (b *dynBuffer[T]) RemoveFunc(match func(*T) bool) {
	for i := len(b.data) - 1; i >= 0; i-- {
		if match(&b.data[i]) {
			b.data = append(b.data[:i], b.data[i+1:]...)
		}
	}
}

// Slice returns the buffer's elements as a plain slice. Mutating the
// returned slice mutates the buffer.
func (b *dynBuffer[T]) Slice() []T {
	return b.data
}
