package transport

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSConn adapts a gorilla WebSocket connection. Protocol frames travel as
// text messages and file chunks as binary messages.
type WSConn struct {
	conn    *websocket.Conn
	opts    Options
	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// NewWSConn wraps conn and, when opts.PingInterval is set, starts the
// keepalive loop.
func NewWSConn(conn *websocket.Conn, opts Options) *WSConn {
	opts = opts.sanitize()
	conn.SetReadLimit(opts.MaxFrameSize)

	c := &WSConn{
		conn: conn,
		opts: opts,
		done: make(chan struct{}),
	}
	c.setupReadConnection()
	if opts.PingInterval > 0 {
		go c.pingLoop()
	}
	return c
}

// setupReadConnection extends the idle deadline whenever a pong arrives.
func (c *WSConn) setupReadConnection() {
	if c.opts.IdleTimeout <= 0 {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.IdleTimeout))
	})
}

func (c *WSConn) pingLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(c.opts.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// ReadFrame returns the payload of the next text or binary message.
func (c *WSConn) ReadFrame() ([]byte, error) {
	if c.opts.IdleTimeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.opts.IdleTimeout)); err != nil {
			return nil, err
		}
	}

	_, p, err := c.conn.ReadMessage()
	if errors.Is(err, websocket.ErrReadLimit) {
		return nil, ErrFrameTooLarge
	}
	return p, err
}

// WriteFrame sends p as a text message.
func (c *WSConn) WriteFrame(p []byte) error {
	return c.write(websocket.TextMessage, p)
}

// WriteChunk sends p as a binary message.
func (c *WSConn) WriteChunk(p []byte) error {
	return c.write(websocket.BinaryMessage, p)
}

func (c *WSConn) write(messageType int, p []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, p)
}

// Close sends a close message, best effort, and closes the socket.
func (c *WSConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		deadline := time.Now().Add(time.Second)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// RemoteAddr returns the peer address.
func (c *WSConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
