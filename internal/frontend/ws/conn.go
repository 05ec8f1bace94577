package ws

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cory-johannsen/islemulti/internal/config"
	"github.com/cory-johannsen/islemulti/internal/frontend/transport"
)

var newline = []byte("\n")

// Addr identifies a WebSocket peer. Its string form is prefixed with the
// scheme so it never collides with a TCP peer address.
type Addr struct {
	net.Addr
}

func (a Addr) Network() string { return "ws" }

func (a Addr) String() string { return "ws://" + a.Addr.String() }

// Conn adapts a WebSocket connection to transport.Stream. Each message may
// carry one or more newline separated lines; the end of a message also ends
// a line. Messages are streamed, so an oversized line is discarded like on
// TCP without bounding the message size. Outbound payloads are sent as text
// messages.
type Conn struct {
	ws        *websocket.Conn
	reader    *bufio.Reader
	inMessage bool
	maxLine   int
	mu        sync.Mutex

	readTimeout  time.Duration
	writeTimeout time.Duration
}

// NewConn wraps an upgraded WebSocket connection.
//
// Precondition: ws must be open.
// Postcondition: Returns a Conn ready for reading and writing.
func NewConn(ws *websocket.Conn, cfg config.ListenerConfig) *Conn {
	return &Conn{
		ws:           ws,
		reader:       bufio.NewReaderSize(nil, cfg.ReadBufferSize),
		maxLine:      cfg.MaxLineLength,
		readTimeout:  cfg.ReadTimeout,
		writeTimeout: cfg.WriteTimeout,
	}
}

// ReadLine returns the next line. Empty trailing segments of a message are
// skipped. A close frame from the peer is reported as io.EOF.
func (c *Conn) ReadLine() ([]byte, error) {
	for {
		if !c.inMessage {
			if c.readTimeout > 0 {
				_ = c.ws.SetReadDeadline(time.Now().Add(c.readTimeout))
			}
			_, r, err := c.ws.NextReader()
			if err != nil {
				return nil, readError(err)
			}
			c.reader.Reset(r)
			c.inMessage = true
		}

		line, tooLong, ended, err := c.nextLine()
		if ended {
			c.inMessage = false
		}
		switch {
		case err != nil:
			return nil, readError(err)
		case tooLong:
			return nil, transport.ErrLineTooLong
		case ended && len(line) == 0:
			continue
		}
		return line, nil
	}
}

// nextLine reads up to the next '\n' or the end of the current message.
// ended reports that the message is exhausted.
func (c *Conn) nextLine() (line []byte, tooLong, ended bool, err error) {
	for {
		frag, rerr := c.reader.ReadSlice('\n')
		if !tooLong {
			line = append(line, frag...)
			if len(bytes.TrimSuffix(line, newline)) > c.maxLine {
				tooLong = true
				line = nil
			}
		}
		switch {
		case rerr == nil:
			return bytes.TrimSuffix(line, newline), tooLong, false, nil
		case errors.Is(rerr, bufio.ErrBufferFull):
			continue
		case errors.Is(rerr, io.EOF):
			return line, tooLong, true, nil
		default:
			return nil, false, true, rerr
		}
	}
}

func readError(err error) error {
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return io.EOF
	}
	return err
}

// Write sends data as a single text message.
func (c *Conn) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return Addr{c.ws.RemoteAddr()}
}

// Close closes the underlying network connection without a close handshake.
func (c *Conn) Close() error {
	return c.ws.Close()
}
