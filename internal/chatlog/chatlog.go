// Package chatlog stores the append-only message history of each room. A
// room's log is replayed in full to every member that joins it.
package chatlog

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Log is the ordered history of one room.
type Log interface {
	// Append adds one line at the end of the log.
	Append(ctx context.Context, line string) error
	// ReadAll returns every line in append order. A log that was never
	// written reads as empty.
	ReadAll(ctx context.Context) ([]string, error)
	// Delete discards the log. Deleting a missing log is not an error.
	Delete(ctx context.Context) error
}

// Factory returns the log of the named room.
type Factory func(room string) Log

// FileLog keeps a room's log as a text file, one line per entry.
type FileLog struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewFileLog returns the log stored at dir/chat_room_<room>.log.
func NewFileLog(dir, room string, logger *slog.Logger) *FileLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileLog{
		path:   filepath.Join(dir, "chat_room_"+room+".log"),
		logger: logger.With(slog.String("room", room)),
	}
}

// FileFactory builds FileLogs rooted at dir, creating dir if needed.
func FileFactory(dir string, logger *slog.Logger) (Factory, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return func(room string) Log {
		return NewFileLog(dir, room, logger)
	}, nil
}

// Path returns the backing file path.
func (l *FileLog) Path() string {
	return l.path
}

// Append writes line followed by a newline. Embedded line breaks are
// replaced by spaces so an entry always occupies one line.
func (l *FileLog) Append(_ context.Context, line string) error {
	line = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(line)

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log: %w", err)
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to append log: %w", err)
	}
	return f.Close()
}

// ReadAll reads the whole file. A missing file yields an empty slice.
func (l *FileLog) ReadAll(_ context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open log: %w", err)
	}
	defer f.Close()

	lines := []string{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log: %w", err)
	}
	return lines, nil
}

// Delete removes the file, logging a warning when it was already gone.
func (l *FileLog) Delete(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.Remove(l.path); err != nil {
		l.logger.Warn("could not delete room log", slog.String("path", l.path), slog.Any("error", err))
	}
	return nil
}
