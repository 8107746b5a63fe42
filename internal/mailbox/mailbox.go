// Package mailbox provides the single-slot handoff used between pipeline stages.
//
// A Slot holds at most one item. Send blocks while the previous item has not
// been taken, so a slow consumer throttles its producer instead of letting a
// backlog build up. The consumer is never more than one item behind.
package mailbox

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by Send and Recv after Close.
var ErrClosed = errors.New("mailbox: slot closed")

// Slot is a capacity-1 channel with context-aware operations.
type Slot[T any] struct {
	name string
	ch   chan T
	done chan struct{}
	once sync.Once

	sent     atomic.Uint64
	received atomic.Uint64
	blocked  atomic.Uint64
}

// Stats is a snapshot of slot counters.
type Stats struct {
	Name         string `json:"name"`
	Sent         uint64 `json:"sent"`
	Received     uint64 `json:"received"`
	BlockedSends uint64 `json:"blocked_sends"`
	Pending      int    `json:"pending"`
}

// New creates an empty slot. The name only shows up in stats.
func New[T any](name string) *Slot[T] {
	return &Slot[T]{
		name: name,
		ch:   make(chan T, 1),
		done: make(chan struct{}),
	}
}

// Send places v in the slot, waiting for the previous item to be consumed.
func (s *Slot[T]) Send(ctx context.Context, v T) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}

	// Fast path: slot is empty.
	select {
	case s.ch <- v:
		s.sent.Add(1)
		return nil
	default:
	}

	s.blocked.Add(1)
	select {
	case s.ch <- v:
		s.sent.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
}

// Recv takes the pending item, waiting until one is available.
func (s *Slot[T]) Recv(ctx context.Context) (T, error) {
	var zero T
	select {
	case v := <-s.ch:
		s.received.Add(1)
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-s.done:
		return zero, ErrClosed
	}
}

// Len reports how many items are pending (0 or 1).
func (s *Slot[T]) Len() int {
	return len(s.ch)
}

// Close wakes all blocked senders and receivers. An item still in the slot
// is discarded. Close is idempotent.
func (s *Slot[T]) Close() {
	s.once.Do(func() { close(s.done) })
}

// Stats returns a snapshot of the slot counters.
func (s *Slot[T]) Stats() Stats {
	return Stats{
		Name:         s.name,
		Sent:         s.sent.Load(),
		Received:     s.received.Load(),
		BlockedSends: s.blocked.Load(),
		Pending:      len(s.ch),
	}
}
