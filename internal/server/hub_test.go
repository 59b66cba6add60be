package server_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/server"
	"github.com/Tyrowin/roomchat/internal/session"
	"github.com/Tyrowin/roomchat/internal/transport/transporttest"
)

func TestHubShutdownWithoutSessions(t *testing.T) {
	hub := server.NewHub(nil)
	go hub.Run()

	assert.NoError(t, hub.Shutdown(time.Second))
	assert.Equal(t, 0, hub.Count())
}

func TestHubTracksSessions(t *testing.T) {
	deps := newTestDeps(t)
	hub := server.NewHub(nil)
	go hub.Run()
	t.Cleanup(func() { _ = hub.Shutdown(time.Second) })

	conn, client := transporttest.Pipe()
	hub.Serve(session.New(conn, deps))
	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 5*time.Millisecond)

	client.SendJSON(t, map[string]any{"action": session.ActionListRooms})
	assert.Equal(t, "You must be logged in", client.RecvJSON(t)["error_message"])

	client.Close()
	require.Eventually(t, func() bool { return hub.Count() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHubShutdownClosesSessions(t *testing.T) {
	deps := newTestDeps(t)
	hub := server.NewHub(nil)
	go hub.Run()

	var conns []*transporttest.Conn
	for range 3 {
		conn, _ := transporttest.Pipe()
		conns = append(conns, conn)
		hub.Serve(session.New(conn, deps))
	}
	require.Eventually(t, func() bool { return hub.Count() == 3 }, time.Second, 5*time.Millisecond)

	require.NoError(t, hub.Shutdown(time.Second))
	for _, conn := range conns {
		assert.True(t, conn.Closed())
	}
	assert.Equal(t, 0, hub.Count())
}

func TestHubServeAfterShutdownClosesSession(t *testing.T) {
	deps := newTestDeps(t)
	hub := server.NewHub(nil)
	go hub.Run()
	require.NoError(t, hub.Shutdown(time.Second))

	conn, _ := transporttest.Pipe()
	hub.Serve(session.New(conn, deps))
	assert.True(t, conn.Closed())
	assert.Equal(t, 0, hub.Count())
}
