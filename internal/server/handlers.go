package server

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Tyrowin/roomchat/internal/session"
	"github.com/Tyrowin/roomchat/internal/transport"
)

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "roomchat server is running!")
}

// WebSocketHandler upgrades GET requests on /ws and runs a session over
// the resulting connection.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", slog.String("remote", r.RemoteAddr), slog.Any("error", err))
		return
	}

	opts := s.connOptions()
	opts.PingInterval = pingPeriod
	conn := transport.NewWSConn(ws, opts)
	s.hub.Serve(session.New(conn, s.deps))
}
