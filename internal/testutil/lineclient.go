package testutil

import (
	"bufio"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"testing"
	"time"
)

// LineClient is a newline protocol test client for integration testing.
type LineClient struct {
	conn   net.Conn
	reader *bufio.Reader
	t      *testing.T
}

// NewLineClient dials the given address and returns a test client.
//
// Precondition: addr must be a valid "host:port" string with a listening server.
// Postcondition: Returns a connected LineClient or fails the test.
func NewLineClient(t *testing.T, addr string) *LineClient {
	t.Helper()
	start := time.Now()

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		t.Fatalf("connecting to %s: %v [%s]", addr, err, time.Since(start))
	}

	t.Cleanup(func() {
		conn.Close()
	})

	t.Logf("line client %s connected to %s [%s]", conn.LocalAddr(), addr, time.Since(start))
	return &LineClient{
		conn:   conn,
		reader: bufio.NewReader(conn),
		t:      t,
	}
}

// LocalAddr returns the client side address, which the server sees as the
// connection identity.
func (c *LineClient) LocalAddr() string {
	return c.conn.LocalAddr().String()
}

// Send writes text followed by a newline.
//
// Precondition: text should not contain a trailing newline.
// Postcondition: text + \n is written to the connection.
func (c *LineClient) Send(text string) {
	c.t.Helper()
	c.SendRaw(text + "\n")
}

// SendRaw writes data exactly as given.
func (c *LineClient) SendRaw(data string) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := io.WriteString(c.conn, data); err != nil {
		c.t.Fatalf("sending %q: %v", data, err)
	}
}

// ReadLine returns the next line including its trailing newline.
//
// Postcondition: Returns the line, or fails the test on timeout or error.
func (c *LineClient) ReadLine(timeout time.Duration) string {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	line, err := c.reader.ReadString('\n')
	if err != nil {
		c.t.Fatalf("reading line: got %q, error: %v", line, err)
	}
	return line
}

// ReadUntil reads lines until one contains substr. It returns everything read
// up to and including the matching line.
//
// Precondition: substr must be non-empty.
// Postcondition: Returns the accumulated output containing substr, or fails on timeout.
func (c *LineClient) ReadUntil(substr string, timeout time.Duration) string {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))

	var buf strings.Builder
	for {
		line, err := c.reader.ReadString('\n')
		buf.WriteString(line)
		if strings.Contains(line, substr) {
			return buf.String()
		}
		if err != nil {
			c.t.Fatalf("reading until %q: got %q, error: %v", substr, buf.String(), err)
		}
	}
}

// ExpectNothing fails the test if any data arrives within wait.
func (c *LineClient) ExpectNothing(wait time.Duration) {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(wait))
	line, err := c.reader.ReadString('\n')
	if line != "" {
		c.t.Fatalf("expected no data, got %q", line)
	}
	if err != nil && !errors.Is(err, os.ErrDeadlineExceeded) {
		c.t.Fatalf("expected no data, got error: %v", err)
	}
}

// ExpectClosed fails the test unless the server closes the connection within timeout.
func (c *LineClient) ExpectClosed(timeout time.Duration) {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	for {
		line, err := c.reader.ReadString('\n')
		if err == nil {
			continue
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			c.t.Fatalf("connection still open after %s (pending %q)", timeout, line)
		}
		return
	}
}

// CloseWrite half-closes the connection so the server reads EOF while the
// client can still receive.
func (c *LineClient) CloseWrite() {
	c.t.Helper()
	tcp, ok := c.conn.(*net.TCPConn)
	if !ok {
		c.t.Fatalf("CloseWrite on %T", c.conn)
	}
	if err := tcp.CloseWrite(); err != nil {
		c.t.Fatalf("half-closing: %v", err)
	}
}

// Close closes the underlying connection.
func (c *LineClient) Close() {
	c.conn.Close()
}

