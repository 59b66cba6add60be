// Package transporttest provides an in-memory transport.Conn for exercising
// sessions and rooms without sockets.
//
// Pipe returns the server side, which the code under test uses, and a
// Client that the test drives:
//
//	conn, client := transporttest.Pipe()
//	go handler.Run(ctx) // reads from conn
//	client.SendJSON(t, map[string]any{"action": "login", ...})
//	resp := client.RecvJSON(t)
package transporttest

import (
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// DefaultTimeout bounds every blocking receive in tests.
const DefaultTimeout = 2 * time.Second

// ErrWriteFailed is returned by the server side after FailWrites.
var ErrWriteFailed = errors.New("transporttest: write failed")

// Frame is one message written by the server side.
type Frame struct {
	Data  []byte
	Chunk bool
}

// Conn is the server side of the pipe.
type Conn struct {
	fromClient chan []byte
	toClient   chan Frame
	stop       chan struct{}
	closeOnce  sync.Once
	failWrites atomic.Bool
	addr       string
}

// Client is the test side of the pipe.
type Client struct {
	conn *Conn
}

// Pipe creates a connected server/client pair.
func Pipe() (*Conn, *Client) {
	c := &Conn{
		fromClient: make(chan []byte, 64),
		toClient:   make(chan Frame, 4096),
		stop:       make(chan struct{}),
		addr:       "pipe",
	}
	return c, &Client{conn: c}
}

// ReadFrame blocks until the client sends a frame or the pipe closes.
func (c *Conn) ReadFrame() ([]byte, error) {
	select {
	case p := <-c.fromClient:
		return p, nil
	case <-c.stop:
		return nil, io.EOF
	}
}

func (c *Conn) write(f Frame) error {
	if c.failWrites.Load() {
		return ErrWriteFailed
	}
	select {
	case <-c.stop:
		return io.ErrClosedPipe
	default:
	}
	select {
	case c.toClient <- f:
		return nil
	case <-c.stop:
		return io.ErrClosedPipe
	}
}

// WriteFrame queues a protocol frame for the client.
func (c *Conn) WriteFrame(p []byte) error {
	return c.write(Frame{Data: append([]byte(nil), p...)})
}

// WriteChunk queues a raw chunk for the client.
func (c *Conn) WriteChunk(p []byte) error {
	return c.write(Frame{Data: append([]byte(nil), p...), Chunk: true})
}

// Close closes both sides. It can be called multiple times.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.stop) })
	return nil
}

// RemoteAddr returns a fixed placeholder.
func (c *Conn) RemoteAddr() string {
	return c.addr
}

// Closed reports whether the pipe was closed.
func (c *Conn) Closed() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

// Done is closed when the pipe closes.
func (c *Conn) Done() <-chan struct{} {
	return c.stop
}

// Server returns the server side of the pipe.
func (cl *Client) Server() *Conn {
	return cl.conn
}

// FailWrites makes every later server write fail, simulating a dead peer.
func (cl *Client) FailWrites() {
	cl.conn.failWrites.Store(true)
}

// Close hangs up from the client side.
func (cl *Client) Close() {
	_ = cl.conn.Close()
}

// Send delivers a raw frame to the server.
func (cl *Client) Send(t testing.TB, p []byte) {
	t.Helper()
	select {
	case cl.conn.fromClient <- p:
	case <-cl.conn.stop:
		t.Fatalf("send on closed pipe")
	case <-time.After(DefaultTimeout):
		t.Fatalf("send timed out")
	}
}

// SendJSON marshals v and sends it as one frame.
func (cl *Client) SendJSON(t testing.TB, v any) {
	t.Helper()
	p, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	cl.Send(t, p)
}

// Recv waits for the next frame written by the server.
func (cl *Client) Recv(t testing.TB) Frame {
	t.Helper()
	f, ok := cl.TryRecv(DefaultTimeout)
	if !ok {
		t.Fatalf("no frame from server within %s", DefaultTimeout)
	}
	return f
}

// TryRecv waits up to timeout for a frame.
func (cl *Client) TryRecv(timeout time.Duration) (Frame, bool) {
	select {
	case f := <-cl.conn.toClient:
		return f, true
	case <-time.After(timeout):
		return Frame{}, false
	}
}

// RecvJSON decodes the next frame as a JSON object.
func (cl *Client) RecvJSON(t testing.TB) map[string]any {
	t.Helper()
	f := cl.Recv(t)
	var m map[string]any
	if err := json.Unmarshal(f.Data, &m); err != nil {
		t.Fatalf("frame %q is not JSON: %v", f.Data, err)
	}
	return m
}

// RecvText returns the next frame as a string.
func (cl *Client) RecvText(t testing.TB) string {
	t.Helper()
	return string(cl.Recv(t).Data)
}

// ExpectNone fails if the server writes anything within timeout.
func (cl *Client) ExpectNone(t testing.TB, timeout time.Duration) {
	t.Helper()
	if f, ok := cl.TryRecv(timeout); ok {
		t.Fatalf("unexpected frame %q", f.Data)
	}
}
