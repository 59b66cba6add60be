package transport

import (
	"bytes"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tcpPair(t *testing.T, opts Options) (*TCPConn, *TCPConn) {
	t.Helper()
	a, b := net.Pipe()
	server, client := NewTCPConn(a, opts), NewTCPConn(b, opts)
	t.Cleanup(func() {
		_ = server.Close()
		_ = client.Close()
	})
	return server, client
}

func TestTCPConnRoundTrip(t *testing.T) {
	server, client := tcpPair(t, Options{})

	go func() {
		_ = client.WriteFrame([]byte(`{"action":"login"}`))
		_ = client.WriteFrame(nil)
	}()

	frame, err := server.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, `{"action":"login"}`, string(frame))

	frame, err = server.ReadFrame()
	require.NoError(t, err)
	assert.Empty(t, frame)
}

func TestTCPConnRejectsOversizedFrame(t *testing.T) {
	server, client := tcpPair(t, Options{MaxFrameSize: 8})

	go func() { _ = client.WriteFrame([]byte("this is longer than eight")) }()

	_, err := server.ReadFrame()
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestTCPConnEOFOnClose(t *testing.T) {
	server, client := tcpPair(t, Options{})
	require.NoError(t, client.Close())

	_, err := server.ReadFrame()
	require.Error(t, err)
	assert.True(t, IsClosed(err))
}

func TestTCPConnIdleTimeout(t *testing.T) {
	server, _ := tcpPair(t, Options{IdleTimeout: 20 * time.Millisecond})

	_, err := server.ReadFrame()
	var netErr net.Error
	require.True(t, errors.As(err, &netErr))
	assert.True(t, netErr.Timeout())
}

func TestStreamAcrossArbitraryChunks(t *testing.T) {
	server, client := tcpPair(t, Options{})
	payload := bytes.Repeat([]byte("0123456789"), 10_000)

	go func() {
		// Odd chunk sizes on purpose.
		rest := payload
		for len(rest) > 0 {
			n := 777
			if n > len(rest) {
				n = len(rest)
			}
			_ = client.WriteChunk(rest[:n])
			rest = rest[n:]
		}
	}()

	var got bytes.Buffer
	require.NoError(t, ReadExact(server, &got, int64(len(payload))))
	assert.Equal(t, payload, got.Bytes())
}

func TestReadExactRejectsOverrun(t *testing.T) {
	server, client := tcpPair(t, Options{})
	go func() { _ = client.WriteChunk([]byte("12345")) }()

	err := ReadExact(server, io.Discard, 3)
	assert.ErrorIs(t, err, ErrOverrun)
}

func TestReadExactZeroSize(t *testing.T) {
	server, _ := tcpPair(t, Options{})
	assert.NoError(t, ReadExact(server, io.Discard, 0))
}

func TestWriteExactChunksAndDetectsShortSource(t *testing.T) {
	server, client := tcpPair(t, Options{})
	payload := bytes.Repeat([]byte{7}, ChunkSize+10)

	errc := make(chan error, 1)
	go func() { errc <- WriteExact(server, bytes.NewReader(payload), int64(len(payload))) }()

	first, err := client.ReadFrame()
	require.NoError(t, err)
	assert.Len(t, first, ChunkSize)
	second, err := client.ReadFrame()
	require.NoError(t, err)
	assert.Len(t, second, 10)
	require.NoError(t, <-errc)

	go func() { _, _ = client.ReadFrame() }()
	err = WriteExact(server, strings.NewReader("abc"), 10)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestWSConnFrames(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan []byte, 2)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := NewWSConn(raw, Options{})
		defer conn.Close()

		for i := 0; i < 2; i++ {
			frame, err := conn.ReadFrame()
			if err != nil {
				return
			}
			received <- frame
		}
		_ = conn.WriteFrame([]byte("alice: hello"))
		_ = conn.WriteChunk([]byte{0, 1, 2})
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		_ = resp.Body.Close()
	}
	defer client.Close()

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"action":"exit"}`)))
	require.NoError(t, client.WriteMessage(websocket.BinaryMessage, []byte{9, 9}))

	assert.Equal(t, `{"action":"exit"}`, string(<-received))
	assert.Equal(t, []byte{9, 9}, <-received)

	typ, p, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, typ)
	assert.Equal(t, "alice: hello", string(p))

	typ, p, err = client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, typ)
	assert.Equal(t, []byte{0, 1, 2}, p)
}

func TestIsClosed(t *testing.T) {
	assert.False(t, IsClosed(nil))
	assert.True(t, IsClosed(io.EOF))
	assert.True(t, IsClosed(net.ErrClosed))
	assert.True(t, IsClosed(errors.New("write: broken pipe")))
	assert.False(t, IsClosed(errors.New("boom")))
}
