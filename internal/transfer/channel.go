package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/Tyrowin/roomchat/internal/transport"
)

var (
	// ErrInvalidMetadata is returned when a metadata frame cannot be parsed
	// or declares a negative size.
	ErrInvalidMetadata = errors.New("invalid file metadata")
	// ErrTooLarge is returned when an upload exceeds the configured limit.
	ErrTooLarge = errors.New("file exceeds upload limit")
)

// DefaultMaxUploadSize bounds uploads when no limit is configured.
const DefaultMaxUploadSize = 64 << 20

// Metadata precedes the raw bytes of a file in both directions.
type Metadata struct {
	Size     int64  `json:"size"`
	FileName string `json:"file_name"`
}

type fileList struct {
	StatusCode int      `json:"status_code"`
	FileList   []string `json:"file_list"`
}

type fileHeader struct {
	StatusCode int    `json:"status_code"`
	Size       int64  `json:"size"`
	FileName   string `json:"file_name"`
}

type fileRequest struct {
	FileName string `json:"file_name"`
}

// LockFunc runs fn inside the room's broadcast lock.
type LockFunc func(fn func() error) error

// Channel runs the upload and download flows for one storage area. It is
// shared by all sessions; per-transfer state lives on the stack.
type Channel struct {
	storage *Storage
	maxSize int64
	logger  *slog.Logger
}

// NewChannel returns a channel storing files in storage. A non-positive
// maxSize selects DefaultMaxUploadSize.
func NewChannel(storage *Storage, maxSize int64, logger *slog.Logger) *Channel {
	if maxSize <= 0 {
		maxSize = DefaultMaxUploadSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{storage: storage, maxSize: maxSize, logger: logger}
}

// Storage returns the underlying storage area.
func (c *Channel) Storage() *Storage {
	return c.storage
}

func readMetadata(conn transport.Conn) (Metadata, error) {
	frame, err := conn.ReadFrame()
	if err != nil {
		return Metadata{}, err
	}
	var meta Metadata
	if err := json.Unmarshal(frame, &meta); err != nil {
		return Metadata{}, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	if meta.Size < 0 {
		return Metadata{}, fmt.Errorf("%w: negative size %d", ErrInvalidMetadata, meta.Size)
	}
	return meta, nil
}

func writeJSON(conn transport.Conn, v any) error {
	p, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.WriteFrame(p)
}

// Upload reads a metadata frame and the declared bytes from conn and stores
// them in room. When the metadata names an unusable file or exceeds the
// size limit, the declared bytes are still consumed so the next frame on
// the connection is a request again.
func (c *Channel) Upload(ctx context.Context, conn transport.Conn, room string) (Metadata, error) {
	if err := ctx.Err(); err != nil {
		return Metadata{}, err
	}
	meta, err := readMetadata(conn)
	if err != nil {
		return Metadata{}, err
	}
	logger := c.logger.With(slog.String("room", room), slog.String("file", meta.FileName), slog.Int64("size", meta.Size))

	reject := func(cause error) (Metadata, error) {
		if err := transport.ReadExact(conn, io.Discard, meta.Size); err != nil {
			return meta, err
		}
		logger.Info("upload rejected", slog.Any("reason", cause))
		return meta, cause
	}
	if err := ValidateFileName(meta.FileName); err != nil {
		return reject(err)
	}
	if meta.Size > c.maxSize {
		return reject(fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, meta.Size, c.maxSize))
	}

	err = c.storage.Save(room, meta.FileName, func(w io.Writer) error {
		return transport.ReadExact(conn, w, meta.Size)
	})
	if err != nil {
		return meta, err
	}
	logger.Info("file uploaded")
	return meta, nil
}

// Drain consumes an upload without storing it.
func (c *Channel) Drain(ctx context.Context, conn transport.Conn) (Metadata, error) {
	if err := ctx.Err(); err != nil {
		return Metadata{}, err
	}
	meta, err := readMetadata(conn)
	if err != nil {
		return Metadata{}, err
	}
	return meta, transport.ReadExact(conn, io.Discard, meta.Size)
}

// Download offers the room's file list, reads the client's choice and
// streams the chosen file. The header and bytes are written inside lock so
// no broadcast line lands in the middle of the file.
func (c *Channel) Download(ctx context.Context, conn transport.Conn, room string, lock LockFunc) (Metadata, error) {
	if err := ctx.Err(); err != nil {
		return Metadata{}, err
	}
	names, err := c.storage.List(room)
	if err != nil {
		return Metadata{}, err
	}
	if err := writeJSON(conn, fileList{StatusCode: 200, FileList: names}); err != nil {
		return Metadata{}, err
	}

	frame, err := conn.ReadFrame()
	if err != nil {
		return Metadata{}, err
	}
	var req fileRequest
	if err := json.Unmarshal(frame, &req); err != nil {
		return Metadata{}, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}

	f, size, err := c.storage.Open(room, req.FileName)
	if err != nil {
		return Metadata{FileName: req.FileName}, err
	}
	defer f.Close()

	meta := Metadata{Size: size, FileName: req.FileName}
	err = lock(func() error {
		if err := writeJSON(conn, fileHeader{StatusCode: 200, Size: size, FileName: req.FileName}); err != nil {
			return err
		}
		return transport.WriteExact(conn, f, size)
	})
	if err != nil {
		return meta, err
	}
	c.logger.Info("file downloaded", slog.String("room", room), slog.String("file", meta.FileName), slog.Int64("size", size))
	return meta, nil
}
