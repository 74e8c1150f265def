package channel

// Conflated holds at most one pending value. Send and Offer never block and
// never return ErrFull: a new value replaces any value not yet received, so a
// receiver always sees the latest one.
type Conflated[T any] struct {
	core[T]
}

var _ Channel[int] = (*Conflated[int])(nil)

// NewConflated creates an empty Conflated channel.
func NewConflated[T any]() *Conflated[T] {
	c := &Conflated[T]{}
	c.init(&latest[T]{})
	return c
}
