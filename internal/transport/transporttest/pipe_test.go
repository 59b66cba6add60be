package transporttest

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipeDeliversBothWays(t *testing.T) {
	conn, client := Pipe()

	client.SendJSON(t, map[string]string{"action": "exit"})
	frame, err := conn.ReadFrame()
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"exit"}`, string(frame))

	require.NoError(t, conn.WriteFrame([]byte(`{"status_code":200}`)))
	require.NoError(t, conn.WriteChunk([]byte{1, 2}))
	assert.Equal(t, float64(200), client.RecvJSON(t)["status_code"])
	chunk := client.Recv(t)
	assert.True(t, chunk.Chunk)
	assert.Equal(t, []byte{1, 2}, chunk.Data)
}

func TestPipeCloseUnblocksReader(t *testing.T) {
	conn, client := Pipe()

	go func() {
		time.Sleep(10 * time.Millisecond)
		client.Close()
	}()

	_, err := conn.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
	assert.True(t, conn.Closed())
	assert.Error(t, conn.WriteFrame([]byte("late")))
}

func TestPipeFailWrites(t *testing.T) {
	conn, client := Pipe()
	client.FailWrites()

	assert.ErrorIs(t, conn.WriteFrame([]byte("x")), ErrWriteFailed)
	client.ExpectNone(t, 10*time.Millisecond)
}
