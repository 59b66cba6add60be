package transport

import (
	"errors"
	"fmt"
	"io"
)

// ErrOverrun is returned when a peer sends more raw bytes than it declared.
var ErrOverrun = errors.New("transport: received more bytes than declared")

// ReadExact consumes chunk frames from conn and writes exactly size bytes
// to w, however the sender split them. Pass io.Discard to drain.
func ReadExact(conn Conn, w io.Writer, size int64) error {
	var received int64
	for received < size {
		chunk, err := conn.ReadFrame()
		if err != nil {
			return err
		}
		if received+int64(len(chunk)) > size {
			return fmt.Errorf("%w: %d > %d", ErrOverrun, received+int64(len(chunk)), size)
		}
		if _, err := w.Write(chunk); err != nil {
			return err
		}
		received += int64(len(chunk))
	}
	return nil
}

type chunkWriter struct {
	conn Conn
}

func (w chunkWriter) Write(p []byte) (int, error) {
	if err := w.conn.WriteChunk(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// WriteExact streams exactly size bytes from r to conn as chunk frames of
// at most ChunkSize bytes.
func WriteExact(conn Conn, r io.Reader, size int64) error {
	buf := make([]byte, ChunkSize)
	n, err := io.CopyBuffer(chunkWriter{conn: conn}, io.LimitReader(r, size), buf)
	if err != nil {
		return err
	}
	if n != size {
		return fmt.Errorf("short source: %d of %d bytes: %w", n, size, io.ErrUnexpectedEOF)
	}
	return nil
}
