// Package transfer moves file bytes between a client connection and the
// per-room storage area. The wire contract is a JSON metadata frame
// {"size": n, "file_name": "..."} followed by exactly n raw bytes carried
// in chunk frames.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	// ErrFileNotFound is returned when a room has no file by that name.
	ErrFileNotFound = errors.New("file not found")
	// ErrInvalidFileName is returned for names that are not plain base names.
	ErrInvalidFileName = errors.New("invalid file name")
)

const maxFileNameLen = 255

// ValidateFileName accepts plain base names only, so a client can never
// address anything outside its room's directory.
func ValidateFileName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return ErrInvalidFileName
	case len(name) > maxFileNameLen:
		return ErrInvalidFileName
	case strings.ContainsAny(name, "/\\\x00"):
		return ErrInvalidFileName
	case filepath.Base(name) != name:
		return ErrInvalidFileName
	}
	return nil
}

// Storage lays files out as <root>/<room>/<file>.
type Storage struct {
	root string
}

// NewStorage creates root if needed.
func NewStorage(root string) (*Storage, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create files directory: %w", err)
	}
	return &Storage{root: root}, nil
}

// Root returns the storage root directory.
func (s *Storage) Root() string {
	return s.root
}

func (s *Storage) roomDir(room string) (string, error) {
	if err := ValidateFileName(room); err != nil {
		return "", fmt.Errorf("invalid room directory %q", room)
	}
	return filepath.Join(s.root, room), nil
}

// List returns the sorted file names stored for room. A room that never
// received a file has an empty list.
func (s *Storage) List(room string) ([]string, error) {
	dir, err := s.roomDir(room)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), tempPrefix) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

const tempPrefix = ".upload-"

// Save stores a file produced by fill. The content is written to a
// temporary file first and only renamed into place when fill succeeds, so
// readers never see a partial upload.
func (s *Storage) Save(room, name string, fill func(w io.Writer) error) error {
	if err := ValidateFileName(name); err != nil {
		return err
	}
	dir, err := s.roomDir(room)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create room directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err := fill(tmp); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close upload: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("failed to store upload: %w", err)
	}
	committed = true
	return nil
}

// Open returns the named file and its size. The caller closes it.
func (s *Storage) Open(room, name string) (*os.File, int64, error) {
	if err := ValidateFileName(name); err != nil {
		return nil, 0, err
	}
	dir, err := s.roomDir(room)
	if err != nil {
		return nil, 0, err
	}

	f, err := os.Open(filepath.Join(dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open %s: %w", name, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("failed to stat %s: %w", name, err)
	}
	if !info.Mode().IsRegular() {
		_ = f.Close()
		return nil, 0, fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	return f, info.Size(), nil
}

// RemoveRoom deletes everything stored for room. Its signature matches
// chat.RemoveHook.
func (s *Storage) RemoveRoom(_ context.Context, room string) error {
	dir, err := s.roomDir(room)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove files of %s: %w", room, err)
	}
	return nil
}
