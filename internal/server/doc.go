// Package server exposes roomchat to the network.
//
// Clients connect either over raw TCP, where every frame carries a 4-byte
// big-endian length prefix, or over WebSocket on /ws, where every message
// is one frame. Both kinds of connection are wrapped in a transport.Conn
// and served by a session.Handler; the Hub tracks the running sessions so
// Shutdown can close them. The file layout follows the concerns: hub,
// origin policy, HTTP routes and handlers, and the listener lifecycle.
package server
