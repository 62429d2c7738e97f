package unit

import (
	"context"
	"errors"
	"sync"
)

// ErrMailboxClosed is returned by Put and Take once a mailbox is closed and drained.
var ErrMailboxClosed = errors.New("unit: mailbox closed")

// Mailbox is an unbounded FIFO with a single consumer. Put never blocks.
type Mailbox[T any] struct {
	mu     sync.Mutex
	items  []T  // Protected by mu
	closed bool // Protected by mu
	notify chan struct{}
}

// NewMailbox creates an empty mailbox.
func NewMailbox[T any]() *Mailbox[T] {
	return &Mailbox[T]{notify: make(chan struct{}, 1)}
}

// Put appends v.
func (m *Mailbox[T]) Put(v T) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrMailboxClosed
	}
	m.items = append(m.items, v)
	m.mu.Unlock()

	m.wake()
	return nil
}

// Take removes the oldest item, blocking until one arrives. Items queued
// before Close are still handed out.
func (m *Mailbox[T]) Take(ctx context.Context) (T, error) {
	var zero T
	for {
		m.mu.Lock()
		if len(m.items) > 0 {
			v := m.items[0]
			m.items[0] = zero
			m.items = m.items[1:]
			m.mu.Unlock()
			return v, nil
		}
		closed := m.closed
		m.mu.Unlock()

		if closed {
			return zero, ErrMailboxClosed
		}
		select {
		case <-m.notify:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Len returns the number of queued items.
func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Close stops further Puts and releases a blocked Take once drained.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.wake()
}

func (m *Mailbox[T]) wake() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}
