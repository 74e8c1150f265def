// Package channel provides closable, awaitable channels with three buffering
// policies sharing one contract:
//
//   - Buffered: FIFO queue, bounded or unbounded.
//   - Conflated: holds at most one value; a new send replaces the pending one.
//   - Rendezvous: no buffer; a send completes only when a receiver takes it.
//
// A channel is "finished" once it is closed and drained. Unlike a Go channel,
// closing never panics on a concurrent send: blocked senders fail with
// ErrClosed, and receivers keep draining buffered items until ErrClosed.
package channel

import (
	"context"
	"errors"
	"fmt"
	"iter"
)

var (
	// ErrClosed is returned by send operations on a closed channel and by
	// receive operations on a closed, drained channel.
	ErrClosed = errors.New("channel: closed")

	// ErrFull is returned by Offer when no slot is available.
	ErrFull = errors.New("channel: full")

	// ErrEmpty is returned by Poll when no item is available.
	ErrEmpty = errors.New("channel: empty")
)

// Kind selects a buffering policy for New.
type Kind string

const (
	KindBuffered   Kind = "buffered"
	KindConflated  Kind = "conflated"
	KindRendezvous Kind = "rendezvous"
)

// Channel is the contract shared by Buffered, Conflated and Rendezvous.
type Channel[T any] interface {
	// Send blocks until the item is accepted, the channel is closed
	// (ErrClosed) or ctx is done (ctx.Err()).
	Send(ctx context.Context, item T) error

	// Offer accepts the item without blocking, or returns ErrFull/ErrClosed.
	Offer(item T) error

	// Receive blocks until an item is available. Once the channel is closed
	// and drained it returns ErrClosed.
	Receive(ctx context.Context) (T, error)

	// Poll returns an item without blocking, or ErrEmpty/ErrClosed.
	Poll() (T, error)

	// Close marks the channel closed. It is safe to call more than once.
	Close()

	// Join blocks until the channel is closed and drained, or ctx is done.
	Join(ctx context.Context) error

	// All yields received items until the channel is closed and drained or
	// ctx is done.
	All(ctx context.Context) iter.Seq[T]

	// Len reports the number of buffered items.
	Len() int

	// Closed reports whether Close has been called.
	Closed() bool
}

// New builds a channel of the given kind. Capacity only applies to
// KindBuffered, where 0 means unbounded.
func New[T any](kind Kind, capacity int) (Channel[T], error) {
	switch kind {
	case KindBuffered:
		if capacity < 0 {
			return nil, fmt.Errorf("channel: negative capacity %d", capacity)
		}
		return NewBuffered[T](capacity), nil
	case KindConflated:
		return NewConflated[T](), nil
	case KindRendezvous:
		return NewRendezvous[T](), nil
	default:
		return nil, fmt.Errorf("channel: unknown kind %q", kind)
	}
}
