// Package transport frames the client byte stream into discrete messages.
// Sessions only see Conn; the concrete framing is a 4-byte length prefix on
// raw TCP or one message per frame on WebSocket.
package transport

import (
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// DefaultMaxFrameSize bounds a single inbound frame.
	DefaultMaxFrameSize = 1 << 20
	// DefaultWriteTimeout caps how long one outbound frame may block.
	DefaultWriteTimeout = 10 * time.Second
	// ChunkSize is the payload size used when streaming file bytes.
	ChunkSize = 32 * 1024
)

var (
	// ErrFrameTooLarge is returned when a peer announces an oversized frame.
	ErrFrameTooLarge = errors.New("transport: frame too large")
	// ErrClosed is returned by operations on a closed connection.
	ErrClosed = errors.New("transport: connection closed")
)

// Conn is one framed, ordered, reliable client connection. Write methods
// are safe for concurrent use; ReadFrame must only be called by the
// goroutine owning the session.
type Conn interface {
	// ReadFrame blocks until the next complete frame arrives.
	ReadFrame() ([]byte, error)
	// WriteFrame sends a protocol frame (JSON or chat text).
	WriteFrame(p []byte) error
	// WriteChunk sends a frame of raw file bytes.
	WriteChunk(p []byte) error
	// Close tears the connection down. Safe to call more than once.
	Close() error
	// RemoteAddr identifies the peer for logging.
	RemoteAddr() string
}

// Options tunes a connection. Zero values select the defaults; a zero
// IdleTimeout disables the idle read deadline.
type Options struct {
	MaxFrameSize int64
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	PingInterval time.Duration
}

func (o Options) sanitize() Options {
	if o.MaxFrameSize <= 0 {
		o.MaxFrameSize = DefaultMaxFrameSize
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.IdleTimeout < 0 {
		o.IdleTimeout = 0
	}
	return o
}

// IsClosed reports whether err only signals that the peer went away, as
// opposed to a fault worth logging at error level.
func IsClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, ErrClosed) {
		return true
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}
