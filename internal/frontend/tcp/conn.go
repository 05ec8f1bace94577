package tcp

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cory-johannsen/islemulti/internal/config"
	"github.com/cory-johannsen/islemulti/internal/frontend/transport"
)

// Conn wraps a TCP connection with newline framing and serialized writes.
// Commands split across several reads are reassembled before being returned.
type Conn struct {
	raw     net.Conn
	reader  *bufio.Reader
	mu      sync.Mutex
	maxLine int
	// readErr is the terminal read error held back while a final
	// unterminated line is returned.
	readErr error

	readTimeout  time.Duration
	writeTimeout time.Duration
}

// NewConn wraps a raw TCP connection.
//
// Precondition: raw must be a valid, open network connection.
// Postcondition: Returns a Conn ready for reading and writing.
func NewConn(raw net.Conn, cfg config.ListenerConfig) *Conn {
	return &Conn{
		raw:          raw,
		reader:       bufio.NewReaderSize(raw, cfg.ReadBufferSize),
		maxLine:      cfg.MaxLineLength,
		readTimeout:  cfg.ReadTimeout,
		writeTimeout: cfg.WriteTimeout,
	}
}

// ReadLine reads the next '\n'-terminated line and returns it without the
// terminator. Lines longer than the configured maximum are consumed and
// reported as transport.ErrLineTooLong. Bytes after the last newline when the
// peer closes its side are returned as a final line, and io.EOF on the next call.
//
// Postcondition: Returns a line owned by the caller, or an error (including io.EOF).
func (c *Conn) ReadLine() ([]byte, error) {
	if c.readErr != nil {
		return nil, c.readErr
	}
	if c.readTimeout > 0 {
		_ = c.raw.SetReadDeadline(time.Now().Add(c.readTimeout))
	}

	var line []byte
	tooLong := false
	for {
		frag, err := c.reader.ReadSlice('\n')
		if !tooLong {
			line = append(line, frag...)
			n := len(line)
			if n > 0 && line[n-1] == '\n' {
				n--
			}
			if n > c.maxLine {
				tooLong = true
				line = nil
			}
		}

		switch {
		case err == nil:
			if tooLong {
				return nil, transport.ErrLineTooLong
			}
			return line[:len(line)-1], nil
		case errors.Is(err, bufio.ErrBufferFull):
			// Line spans more than one buffer; keep reading.
			continue
		case errors.Is(err, io.EOF) && (tooLong || len(line) > 0):
			c.readErr = err
			if tooLong {
				return nil, transport.ErrLineTooLong
			}
			return line, nil
		default:
			return nil, err
		}
	}
}

// Write sends raw bytes to the client, bounded by the write timeout.
//
// Postcondition: The data is written to the connection or an error is returned.
func (c *Conn) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	_, err := c.raw.Write(data)
	return err
}

// Close closes the underlying TCP connection.
//
// Postcondition: The connection is closed and no longer usable.
func (c *Conn) Close() error {
	return c.raw.Close()
}

// RemoteAddr returns the remote network address of the client.
func (c *Conn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}
