package transport

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

const headerSize = 4

// TCPConn frames a net.Conn with a big-endian uint32 length prefix.
type TCPConn struct {
	conn    net.Conn
	reader  *bufio.Reader
	opts    Options
	writeMu sync.Mutex
	header  [headerSize]byte

	closeOnce sync.Once
	closeErr  error
}

// NewTCPConn wraps conn.
func NewTCPConn(conn net.Conn, opts Options) *TCPConn {
	return &TCPConn{
		conn:   conn,
		reader: bufio.NewReader(conn),
		opts:   opts.sanitize(),
	}
}

// ReadFrame reads one length-prefixed frame.
func (c *TCPConn) ReadFrame() ([]byte, error) {
	if c.opts.IdleTimeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.opts.IdleTimeout)); err != nil {
			return nil, err
		}
	}

	if _, err := io.ReadFull(c.reader, c.header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(c.header[:])
	if int64(n) > c.opts.MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}

	frame := make([]byte, n)
	if _, err := io.ReadFull(c.reader, frame); err != nil {
		return nil, err
	}
	return frame, nil
}

// WriteFrame writes p as one frame.
func (c *TCPConn) WriteFrame(p []byte) error {
	return c.write(p)
}

// WriteChunk writes p as one frame; TCP does not distinguish raw chunks.
func (c *TCPConn) WriteChunk(p []byte) error {
	return c.write(p)
}

// write sends the header and payload under the write lock with the
// configured deadline.
func (c *TCPConn) write(p []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
		return err
	}

	var header [headerSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(p)))
	buffers := net.Buffers{header[:], p}
	_, err := buffers.WriteTo(c.conn)
	return err
}

// Close closes the socket once.
func (c *TCPConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// RemoteAddr returns the peer address.
func (c *TCPConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// DialTCP connects to a TCP listener speaking the same framing. Tools and
// tests use it as the client side.
func DialTCP(addr string, opts Options) (*TCPConn, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, err
	}
	return NewTCPConn(conn, opts), nil
}
