package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrMailboxClosed is returned by Push after Close.
	ErrMailboxClosed = errors.New("mailbox closed")
	// ErrMailboxFull is returned by Push when the peer is not draining its queue.
	ErrMailboxFull = errors.New("mailbox full")
)

// Writer is the destination a Mailbox pump drains into.
type Writer interface {
	Write(data []byte) error
}

// Mailbox is the outbound handle of one connection. Pushes from any goroutine
// are queued without blocking and written by a single Pump goroutine, so
// payloads never interleave on the wire and a slow peer only fills its own queue.
type Mailbox struct {
	id     ConnID
	queue  chan []byte
	mu     sync.Mutex
	closed bool
}

// NewMailbox creates a Mailbox for the given connection.
//
// Postcondition: Returns an open Mailbox holding up to size pending payloads
// (64 when size is not positive).
func NewMailbox(id ConnID, size int) *Mailbox {
	if size <= 0 {
		size = 64
	}
	return &Mailbox{
		id:    id,
		queue: make(chan []byte, size),
	}
}

// ID returns the connection identity the mailbox delivers to.
func (m *Mailbox) ID() ConnID {
	return m.id
}

// Push enqueues data for delivery.
//
// Postcondition: data is queued, or ErrMailboxClosed / ErrMailboxFull is returned
// and data is dropped.
func (m *Mailbox) Push(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("%s: %w", m.id, ErrMailboxClosed)
	}
	select {
	case m.queue <- data:
		return nil
	default:
		return fmt.Errorf("%s: %w", m.id, ErrMailboxFull)
	}
}

// Pump writes queued payloads to w until the mailbox is closed and drained,
// ctx is cancelled, or a write fails.
//
// Postcondition: Returns nil after Close has drained the queue, ctx.Err() on
// cancellation, or the first write error.
func (m *Mailbox) Pump(ctx context.Context, w Writer) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-m.queue:
			if !ok {
				return nil
			}
			if err := w.Write(data); err != nil {
				return fmt.Errorf("writing to %s: %w", m.id, err)
			}
		}
	}
}

// Close stops accepting new payloads. Already queued payloads are still
// delivered by Pump. Close is idempotent.
func (m *Mailbox) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		m.closed = true
		close(m.queue)
	}
	return nil
}

// IsClosed reports whether the mailbox has been closed.
func (m *Mailbox) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Pending returns the number of queued payloads.
func (m *Mailbox) Pending() int {
	return len(m.queue)
}
