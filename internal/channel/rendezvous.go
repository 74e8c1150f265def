package channel

// Rendezvous is an unbuffered channel. Send blocks until a receiver takes the
// item; Offer succeeds only when a receiver is already waiting. Items are
// never stored, so Len is always 0 and a closed Rendezvous is finished at
// once.
type Rendezvous[T any] struct {
	core[T]
}

var _ Channel[int] = (*Rendezvous[int])(nil)

// NewRendezvous creates a Rendezvous channel.
func NewRendezvous[T any]() *Rendezvous[T] {
	r := &Rendezvous[T]{}
	r.init(handoff[T]{})
	return r
}
