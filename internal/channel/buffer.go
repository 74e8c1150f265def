package channel

// buffer is the storage policy behind a core. It is only touched with the
// core's mutex held.
type buffer[T any] interface {
	len() int
	full() bool
	put(item T)
	take() T
}

// fifo is an ordered queue. capacity 0 means unbounded.
type fifo[T any] struct {
	items    []T
	capacity int
}

func (f *fifo[T]) len() int { return len(f.items) }

func (f *fifo[T]) full() bool {
	return f.capacity > 0 && len(f.items) >= f.capacity
}

func (f *fifo[T]) put(item T) {
	f.items = append(f.items, item)
}

func (f *fifo[T]) take() T {
	var zero T
	item := f.items[0]
	f.items[0] = zero
	f.items = f.items[1:]
	if len(f.items) == 0 {
		f.items = nil
	}
	return item
}

// latest keeps only the most recent value.
type latest[T any] struct {
	item T
	ok   bool
}

func (l *latest[T]) len() int {
	if l.ok {
		return 1
	}
	return 0
}

func (l *latest[T]) full() bool { return false }

func (l *latest[T]) put(item T) {
	l.item = item
	l.ok = true
}

func (l *latest[T]) take() T {
	var zero T
	item := l.item
	l.item = zero
	l.ok = false
	return item
}

// handoff has no storage: it is always full and always empty, so every
// transfer goes straight from a parked sender to a receiver or vice versa.
type handoff[T any] struct{}

func (handoff[T]) len() int   { return 0 }
func (handoff[T]) full() bool { return true }

func (handoff[T]) put(T) {
	panic("channel: put on rendezvous buffer")
}

func (handoff[T]) take() T {
	panic("channel: take on rendezvous buffer")
}
