package transfer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/transport"
	"github.com/Tyrowin/roomchat/internal/transport/transporttest"
)

func newTestChannel(t *testing.T, maxSize int64) *Channel {
	t.Helper()
	storage, err := NewStorage(filepath.Join(t.TempDir(), "files"))
	require.NoError(t, err)
	return NewChannel(storage, maxSize, nil)
}

func noLock(fn func() error) error { return fn() }

func sendChunked(t *testing.T, client *transporttest.Client, data []byte, chunk int) {
	t.Helper()
	for len(data) > 0 {
		n := chunk
		if n > len(data) {
			n = len(data)
		}
		client.Send(t, data[:n])
		data = data[n:]
	}
}

func TestValidateFileName(t *testing.T) {
	valid := []string{"x.txt", "report 2024.pdf", ".hidden", "a..b"}
	for _, name := range valid {
		assert.NoError(t, ValidateFileName(name), name)
	}
	invalid := []string{"", ".", "..", "../x", "a/b", `a\b`, "nul\x00", strings.Repeat("a", 256)}
	for _, name := range invalid {
		assert.ErrorIs(t, ValidateFileName(name), ErrInvalidFileName, name)
	}
}

func TestUploadThenDownloadRoundTrip(t *testing.T) {
	ctx := context.Background()
	ch := newTestChannel(t, 0)
	payload := bytes.Repeat([]byte("0123456789"), 1000)
	require.Len(t, payload, 10000)

	conn, client := transporttest.Pipe()
	client.SendJSON(t, Metadata{Size: int64(len(payload)), FileName: "x.txt"})
	// Uneven chunks exercise accumulation across reads.
	sendChunked(t, client, payload, 3333)

	meta, err := ch.Upload(ctx, conn, "general")
	require.NoError(t, err)
	assert.Equal(t, Metadata{Size: 10000, FileName: "x.txt"}, meta)

	client.SendJSON(t, map[string]string{"file_name": "x.txt"})
	locked := false
	meta, err = ch.Download(ctx, conn, "general", func(fn func() error) error {
		locked = true
		return fn()
	})
	require.NoError(t, err)
	assert.True(t, locked)
	assert.Equal(t, int64(10000), meta.Size)

	listing := client.RecvJSON(t)
	assert.Equal(t, float64(200), listing["status_code"])
	assert.Equal(t, []any{"x.txt"}, listing["file_list"])

	header := client.RecvJSON(t)
	assert.Equal(t, float64(200), header["status_code"])
	assert.Equal(t, float64(10000), header["size"])
	assert.Equal(t, "x.txt", header["file_name"])

	var got bytes.Buffer
	for got.Len() < len(payload) {
		f := client.Recv(t)
		require.True(t, f.Chunk)
		got.Write(f.Data)
	}
	assert.Equal(t, payload, got.Bytes())
	client.ExpectNone(t, 0)
}

func TestUploadZeroBytes(t *testing.T) {
	ch := newTestChannel(t, 0)
	conn, client := transporttest.Pipe()
	client.SendJSON(t, Metadata{Size: 0, FileName: "empty"})

	_, err := ch.Upload(context.Background(), conn, "general")
	require.NoError(t, err)

	names, err := ch.Storage().List("general")
	require.NoError(t, err)
	assert.Equal(t, []string{"empty"}, names)
}

func TestUploadInvalidNameDrainsBytes(t *testing.T) {
	ch := newTestChannel(t, 0)
	conn, client := transporttest.Pipe()
	client.SendJSON(t, Metadata{Size: 5, FileName: "../escape"})
	client.Send(t, []byte("hello"))
	client.Send(t, []byte(`{"action":"next"}`))

	_, err := ch.Upload(context.Background(), conn, "general")
	assert.ErrorIs(t, err, ErrInvalidFileName)

	next, err := conn.ReadFrame()
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"next"}`, string(next))

	_, statErr := os.Stat(filepath.Join(ch.Storage().Root(), "escape"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestUploadTooLarge(t *testing.T) {
	ch := newTestChannel(t, 4)
	conn, client := transporttest.Pipe()
	client.SendJSON(t, Metadata{Size: 5, FileName: "big"})
	client.Send(t, []byte("hello"))

	_, err := ch.Upload(context.Background(), conn, "general")
	assert.ErrorIs(t, err, ErrTooLarge)

	names, err := ch.Storage().List("general")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestUploadMalformedMetadata(t *testing.T) {
	ch := newTestChannel(t, 0)
	conn, client := transporttest.Pipe()
	client.Send(t, []byte("not json"))

	_, err := ch.Upload(context.Background(), conn, "general")
	assert.ErrorIs(t, err, ErrInvalidMetadata)

	client.SendJSON(t, Metadata{Size: -1, FileName: "x"})
	_, err = ch.Upload(context.Background(), conn, "general")
	assert.ErrorIs(t, err, ErrInvalidMetadata)
}

func TestUploadOverrunFails(t *testing.T) {
	ch := newTestChannel(t, 0)
	conn, client := transporttest.Pipe()
	client.SendJSON(t, Metadata{Size: 3, FileName: "x.txt"})
	client.Send(t, []byte("toolong"))

	_, err := ch.Upload(context.Background(), conn, "general")
	assert.ErrorIs(t, err, transport.ErrOverrun)

	names, err := ch.Storage().List("general")
	require.NoError(t, err)
	assert.Empty(t, names, "partial upload must not become visible")
}

func TestUploadConnectionDropLeavesNoFile(t *testing.T) {
	ch := newTestChannel(t, 0)
	conn, client := transporttest.Pipe()
	client.SendJSON(t, Metadata{Size: 10, FileName: "x.txt"})
	client.Send(t, []byte("abc"))

	done := make(chan error, 1)
	go func() {
		_, err := ch.Upload(context.Background(), conn, "general")
		done <- err
	}()
	client.Close()

	err := <-done
	assert.True(t, errors.Is(err, io.EOF))
	names, listErr := ch.Storage().List("general")
	require.NoError(t, listErr)
	assert.Empty(t, names)
}

func TestDrainConsumesUpload(t *testing.T) {
	ch := newTestChannel(t, 0)
	conn, client := transporttest.Pipe()
	client.SendJSON(t, Metadata{Size: 4, FileName: "x.txt"})
	client.Send(t, []byte("ab"))
	client.Send(t, []byte("cd"))

	meta, err := ch.Drain(context.Background(), conn)
	require.NoError(t, err)
	assert.Equal(t, "x.txt", meta.FileName)

	names, err := ch.Storage().List("general")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestDownloadMissingFile(t *testing.T) {
	ch := newTestChannel(t, 0)
	conn, client := transporttest.Pipe()
	client.SendJSON(t, map[string]string{"file_name": "nope.txt"})

	_, err := ch.Download(context.Background(), conn, "general", noLock)
	assert.ErrorIs(t, err, ErrFileNotFound)

	listing := client.RecvJSON(t)
	assert.Equal(t, []any{}, listing["file_list"])
	client.ExpectNone(t, 0)
}

func TestRemoveRoom(t *testing.T) {
	ctx := context.Background()
	ch := newTestChannel(t, 0)
	require.NoError(t, ch.Storage().Save("general", "a.txt", func(w io.Writer) error {
		_, err := w.Write([]byte("a"))
		return err
	}))

	require.NoError(t, ch.Storage().RemoveRoom(ctx, "general"))
	names, err := ch.Storage().List("general")
	require.NoError(t, err)
	assert.Empty(t, names)

	// Removing a room without files is fine.
	assert.NoError(t, ch.Storage().RemoveRoom(ctx, "other"))
}

func TestSaveFailureRemovesTempFile(t *testing.T) {
	ch := newTestChannel(t, 0)
	boom := errors.New("boom")
	err := ch.Storage().Save("general", "a.txt", func(w io.Writer) error {
		_, _ = w.Write([]byte("partial"))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	entries, err := os.ReadDir(filepath.Join(ch.Storage().Root(), "general"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}
