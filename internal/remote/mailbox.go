package remote

import (
	"sync"
	"sync/atomic"
)

// Mailbox is a one-slot channel whose unread value is overwritten by
// newer ones. Put never blocks.
type Mailbox[T any] struct {
	mu     sync.Mutex
	ch     chan T
	closed bool
	drops  atomic.Uint64
}

// NewMailbox returns an open mailbox.
func NewMailbox[T any]() *Mailbox[T] {
	return &Mailbox[T]{ch: make(chan T, 1)}
}

// Put replaces any unread value with v. It reports false after Close.
func (m *Mailbox[T]) Put(v T) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}
	select {
	case <-m.ch:
		m.drops.Add(1)
	default:
	}
	m.ch <- v
	return true
}

// C returns the receive side.
func (m *Mailbox[T]) C() <-chan T {
	return m.ch
}

// Drops returns how many unread values were overwritten.
func (m *Mailbox[T]) Drops() uint64 {
	return m.drops.Load()
}

// Close closes the receive side. Calling it twice is harmless.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	close(m.ch)
}

// Closed reports whether Close was called.
func (m *Mailbox[T]) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
