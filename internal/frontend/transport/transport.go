// Package transport defines the connection abstraction shared by the TCP
// listener and the WebSocket gateway.
package transport

import (
	"context"
	"errors"
	"net"
)

// ErrLineTooLong is returned by Stream.ReadLine when a line exceeded the
// configured maximum. The oversized line has been consumed and discarded;
// the stream remains usable.
var ErrLineTooLong = errors.New("line too long")

// Stream is one client connection carrying newline-delimited protocol lines.
type Stream interface {
	// ReadLine returns the next line without its trailing newline. It returns
	// io.EOF when the peer closes the connection, after first returning any
	// unterminated final line.
	ReadLine() ([]byte, error)
	// Write sends data to the peer. Concurrent writes never interleave.
	Write(data []byte) error
	// RemoteAddr returns the peer address, used as the connection identity.
	RemoteAddr() net.Addr
	// Close closes the connection, unblocking pending reads and writes.
	Close() error
}

// SessionHandler processes a connected client.
// Implementations handle the command loop for a single client.
type SessionHandler interface {
	HandleSession(ctx context.Context, conn Stream) error
}
