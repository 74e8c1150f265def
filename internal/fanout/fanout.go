// Package fanout broadcasts values to many subscribers, each with its own
// channel.
package fanout

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/sweeney/pirage/internal/channel"
	"github.com/sweeney/pirage/internal/metrics"
)

// Subscription is one subscriber's feed.
type Subscription[T any] struct {
	ID string
	C  channel.Channel[T]
}

// Broadcaster delivers every published value to every subscriber without
// blocking. A subscriber whose channel is full misses the value; a closed
// channel is unsubscribed.
type Broadcaster[T any] struct {
	kind     channel.Kind
	capacity int

	mu     sync.Mutex
	subs   map[string]*Subscription[T]
	order  []string
	closed bool
}

// New creates a broadcaster whose subscriber channels are built with
// channel.New(kind, capacity).
func New[T any](kind channel.Kind, capacity int) (*Broadcaster[T], error) {
	if _, err := channel.New[T](kind, capacity); err != nil {
		return nil, err
	}
	return &Broadcaster[T]{
		kind:     kind,
		capacity: capacity,
		subs:     make(map[string]*Subscription[T]),
	}, nil
}

// Subscribe adds a subscriber. After Close it returns a closed subscription.
func (b *Broadcaster[T]) Subscribe() *Subscription[T] {
	// kind and capacity were validated by New.
	ch, _ := channel.New[T](b.kind, b.capacity)
	sub := &Subscription[T]{ID: uuid.NewString(), C: ch}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		ch.Close()
		return sub
	}
	b.subs[sub.ID] = sub
	b.order = append(b.order, sub.ID)
	metrics.SetSubscribers(len(b.subs))
	return sub
}

// Unsubscribe removes and closes a subscriber. Unknown IDs are ignored.
func (b *Broadcaster[T]) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(id)
}

func (b *Broadcaster[T]) removeLocked(id string) {
	sub, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	for i, x := range b.order {
		if x == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	sub.C.Close()
	metrics.SetSubscribers(len(b.subs))
}

// Publish offers v to every subscriber in subscription order. It returns the
// number of subscribers that accepted it.
func (b *Broadcaster[T]) Publish(v T) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	delivered := 0
	var gone []string
	for _, id := range b.order {
		err := b.subs[id].C.Offer(v)
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, channel.ErrFull):
			metrics.RecordFanoutDrop()
		case errors.Is(err, channel.ErrClosed):
			gone = append(gone, id)
		}
	}
	for _, id := range gone {
		b.removeLocked(id)
	}
	return delivered
}

// Len returns the number of subscribers.
func (b *Broadcaster[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Subscribers drain what they have
// and then see channel.ErrClosed.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, id := range append([]string(nil), b.order...) {
		b.removeLocked(id)
	}
}
