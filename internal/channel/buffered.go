package channel

// Buffered is a FIFO channel. With a positive capacity, Send blocks while
// the buffer is full; with capacity 0 the buffer is unbounded and Send never
// blocks.
type Buffered[T any] struct {
	core[T]
	capacity int
}

var _ Channel[int] = (*Buffered[int])(nil)

// NewBuffered creates a Buffered channel. A capacity of 0 means unbounded.
func NewBuffered[T any](capacity int) *Buffered[T] {
	if capacity < 0 {
		capacity = 0
	}
	b := &Buffered[T]{capacity: capacity}
	b.init(&fifo[T]{capacity: capacity})
	return b
}

// Cap returns the configured capacity (0 for unbounded).
func (b *Buffered[T]) Cap() int {
	return b.capacity
}
