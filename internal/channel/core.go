package channel

import (
	"context"
	"errors"
	"iter"
	"sync"
)

// waiter is a parked Send or Receive. It is completed at most once, with the
// owning channel's mutex held.
type waiter[T any] struct {
	item  T
	err   error
	done  bool
	ready chan struct{}
}

func newWaiter[T any](item T) *waiter[T] {
	return &waiter[T]{item: item, ready: make(chan struct{})}
}

func (w *waiter[T]) complete(item T, err error) {
	w.item = item
	w.err = err
	w.done = true
	close(w.ready)
}

// waitQueue is an arrival-ordered list of parked waiters.
type waitQueue[T any] struct {
	ws []*waiter[T]
}

func (q *waitQueue[T]) len() int { return len(q.ws) }

func (q *waitQueue[T]) push(w *waiter[T]) {
	q.ws = append(q.ws, w)
}

// pop removes the oldest waiter, or returns nil.
func (q *waitQueue[T]) pop() *waiter[T] {
	if len(q.ws) == 0 {
		return nil
	}
	w := q.ws[0]
	q.ws[0] = nil
	q.ws = q.ws[1:]
	return w
}

// popBack removes the newest waiter, or returns nil.
func (q *waitQueue[T]) popBack() *waiter[T] {
	n := len(q.ws)
	if n == 0 {
		return nil
	}
	w := q.ws[n-1]
	q.ws[n-1] = nil
	q.ws = q.ws[:n-1]
	return w
}

func (q *waitQueue[T]) remove(w *waiter[T]) {
	for i, x := range q.ws {
		if x == w {
			copy(q.ws[i:], q.ws[i+1:])
			q.ws[len(q.ws)-1] = nil
			q.ws = q.ws[:len(q.ws)-1]
			return
		}
	}
}

func (q *waitQueue[T]) drain() []*waiter[T] {
	ws := q.ws
	q.ws = nil
	return ws
}

// core implements the shared channel contract over a buffer policy.
//
// Waiters are released by direct hand-off: an offered item goes straight to
// the oldest parked receiver, and a freed slot is immediately filled from the
// oldest parked sender. Exactly one waiter is released per state change and a
// released waiter can never be overtaken by a later arrival.
//
// Invariant: receivers only park while the buffer is empty, senders only park
// while it is full.
type core[T any] struct {
	mu        sync.Mutex
	buf       buffer[T]
	closed    bool
	finished  bool
	done      chan struct{}
	senders   waitQueue[T]
	receivers waitQueue[T]
}

func (c *core[T]) init(buf buffer[T]) {
	c.buf = buf
	c.done = make(chan struct{})
}

// Send implements Channel.
func (c *core[T]) Send(ctx context.Context, item T) error {
	c.mu.Lock()
	err := c.offerLocked(item)
	if !errors.Is(err, ErrFull) {
		c.mu.Unlock()
		return err
	}
	w := newWaiter(item)
	c.senders.push(w)
	c.mu.Unlock()

	select {
	case <-w.ready:
		return w.err
	case <-ctx.Done():
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if w.done {
		// Completed before we reacquired the lock; the outcome stands.
		return w.err
	}
	c.senders.remove(w)
	return ctx.Err()
}

// Offer implements Channel.
func (c *core[T]) Offer(item T) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offerLocked(item)
}

func (c *core[T]) offerLocked(item T) error {
	if c.closed {
		return ErrClosed
	}
	if r := c.receivers.pop(); r != nil {
		r.complete(item, nil)
		return nil
	}
	if c.buf.full() {
		return ErrFull
	}
	c.buf.put(item)
	return nil
}

// Receive implements Channel.
func (c *core[T]) Receive(ctx context.Context) (T, error) {
	var zero T

	c.mu.Lock()
	item, err := c.pollLocked()
	if !errors.Is(err, ErrEmpty) {
		c.mu.Unlock()
		return item, err
	}
	w := newWaiter(zero)
	c.receivers.push(w)
	c.mu.Unlock()

	select {
	case <-w.ready:
		return w.item, w.err
	case <-ctx.Done():
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if w.done {
		// An item was handed over before we saw the cancellation; return it
		// rather than drop it.
		return w.item, w.err
	}
	c.receivers.remove(w)
	return zero, ctx.Err()
}

// Poll implements Channel.
func (c *core[T]) Poll() (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pollLocked()
}

func (c *core[T]) pollLocked() (T, error) {
	var zero T
	if c.buf.len() == 0 {
		// Only a rendezvous channel can have a parked sender here.
		if s := c.senders.pop(); s != nil {
			s.complete(s.item, nil)
			return s.item, nil
		}
		if c.closed {
			return zero, ErrClosed
		}
		return zero, ErrEmpty
	}

	item := c.buf.take()
	if s := c.senders.pop(); s != nil {
		c.buf.put(s.item)
		s.complete(s.item, nil)
	}
	if c.closed && c.buf.len() == 0 {
		c.finishLocked()
	}
	return item, nil
}

// Close implements Channel. Parked senders fail with ErrClosed. Parked
// receivers that outnumber the buffered items can never be satisfied and
// fail too; the rest drain normally.
func (c *core[T]) Close() {
	var zero T

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true

	for _, s := range c.senders.drain() {
		s.complete(s.item, ErrClosed)
	}
	for c.receivers.len() > c.buf.len() {
		c.receivers.popBack().complete(zero, ErrClosed)
	}
	if c.buf.len() == 0 {
		c.finishLocked()
	}
}

func (c *core[T]) finishLocked() {
	if c.finished {
		return
	}
	c.finished = true
	close(c.done)
}

// Join implements Channel.
func (c *core[T]) Join(ctx context.Context) error {
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// All implements Channel. Iteration ends silently on ErrClosed or when ctx
// is done.
func (c *core[T]) All(ctx context.Context) iter.Seq[T] {
	return func(yield func(T) bool) {
		for {
			item, err := c.Receive(ctx)
			if err != nil {
				return
			}
			if !yield(item) {
				return
			}
		}
	}
}

// Len implements Channel.
func (c *core[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.len()
}

// Closed implements Channel.
func (c *core[T]) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// waiting reports parked senders and receivers. Used by tests to sequence
// goroutines without sleeping.
func (c *core[T]) waiting() (senders, receivers int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.senders.len(), c.receivers.len()
}
