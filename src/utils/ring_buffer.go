package utils

// -----------------------------------------------------------------------------
// RingBuffer is a fixed-size circular buffer.
// Appending to a full buffer overwrites the oldest element and returns it.
// -----------------------------------------------------------------------------

type RingBuffer[T any] struct {
	data     []T
	capacity int
	index    int // Next write position
	size     int // Current number of elements
}

// -----------------------------------------------------------------------------

// NewRingBuffer creates a new buffer with fixed capacity
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		capacity = 1000
	}

	return &RingBuffer[T]{
		data:     make([]T, capacity),
		capacity: capacity,
	}
}

// -----------------------------------------------------------------------------

// Append adds an element. When the buffer was full, the overwritten oldest
// element is returned with evicted=true.
func (rb *RingBuffer[T]) Append(item T) (old T, evicted bool) {
	if rb.size == rb.capacity {
		old, evicted = rb.data[rb.index], true
	}

	rb.data[rb.index] = item
	rb.index = (rb.index + 1) % rb.capacity

	if rb.size < rb.capacity {
		rb.size++
	}
	return old, evicted
}

// -----------------------------------------------------------------------------

// PopOldest removes and returns the oldest element.
func (rb *RingBuffer[T]) PopOldest() (T, bool) {
	var zero T
	if rb.size == 0 {
		return zero, false
	}
	start := rb.oldestIndex()
	item := rb.data[start]
	rb.data[start] = zero
	rb.size--
	return item, true
}

// -----------------------------------------------------------------------------

// GetLatest returns up to n latest elements, oldest first
func (rb *RingBuffer[T]) GetLatest(n int) []T {
	if rb.size == 0 || n <= 0 {
		return []T{}
	}

	count := n
	if n > rb.size {
		count = rb.size
	}

	result := make([]T, count)
	startIdx := (rb.index - count + rb.capacity) % rb.capacity
	for i := 0; i < count; i++ {
		result[i] = rb.data[(startIdx+i)%rb.capacity]
	}
	return result
}

// -----------------------------------------------------------------------------

// GetAll returns all data in insertion order (oldest to newest)
func (rb *RingBuffer[T]) GetAll() []T {
	return rb.GetLatest(rb.size)
}

// -----------------------------------------------------------------------------

// IsFull returns whether buffer is full
func (rb *RingBuffer[T]) IsFull() bool {
	return rb.size == rb.capacity
}

// -----------------------------------------------------------------------------

// Clear resets the buffer
func (rb *RingBuffer[T]) Clear() {
	var zero T
	for i := range rb.data {
		rb.data[i] = zero
	}
	rb.index = 0
	rb.size = 0
}

// -----------------------------------------------------------------------------

func (rb *RingBuffer[T]) oldestIndex() int {
	return (rb.index - rb.size + rb.capacity) % rb.capacity
}
