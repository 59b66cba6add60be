package server

import "net/http"

// Routes returns the HTTP routes: the health check on / and the WebSocket
// endpoint on /ws.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/ws", s.WebSocketHandler)
	return mux
}
