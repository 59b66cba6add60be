// Package session implements the per-connection protocol state machine.
//
// A Handler reads one request frame at a time, dispatches it according to
// its current State and answers with exactly one response frame. Broadcast
// lines from other members reach the connection through Deliver; while the
// session is joining a room or running a file transfer they are queued and
// flushed, in order, once the session is back in the InRoom state.
package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/Tyrowin/roomchat/internal/auth"
	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/ratelimit"
	"github.com/Tyrowin/roomchat/internal/transfer"
	"github.com/Tyrowin/roomchat/internal/transport"
)

// State is the protocol state of a session.
type State int

const (
	// Unauthenticated sessions may only register, log in or exit.
	Unauthenticated State = iota
	// Authenticated sessions are logged in but in no room.
	Authenticated
	// InRoom sessions chat in exactly one room.
	InRoom
	// Transferring sessions are streaming a file; chat lines are queued.
	Transferring
	// Closed sessions have ended; their connection is gone.
	Closed
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Authenticated:
		return "authenticated"
	case InRoom:
		return "in_room"
	case Transferring:
		return "transferring"
	default:
		return "closed"
	}
}

// Accounts is the credential store.
type Accounts interface {
	Register(ctx context.Context, username, password string, role auth.Role) error
	Login(ctx context.Context, username, password string) (auth.Role, error)
	ChangePassword(ctx context.Context, username, password string) error
}

// Files runs the file transfer flows.
type Files interface {
	Upload(ctx context.Context, conn transport.Conn, room string) (transfer.Metadata, error)
	Download(ctx context.Context, conn transport.Conn, room string, lock transfer.LockFunc) (transfer.Metadata, error)
	Drain(ctx context.Context, conn transport.Conn) (transfer.Metadata, error)
}

// Deps are the shared services every session uses.
type Deps struct {
	Registry *chat.Registry
	Accounts Accounts
	Files    Files
	Logger   *slog.Logger
}

// Handler serves one connection.
type Handler struct {
	id       uuid.UUID
	conn     transport.Conn
	registry *chat.Registry
	accounts Accounts
	files    Files
	logger   *slog.Logger
	window   *ratelimit.Window

	// username and role are written once, at login, before the session can
	// join a room and become visible to other goroutines.
	username string
	role     auth.Role

	// mu guards the fields below. It is taken by broadcasters while they
	// hold a room lock, so the session never acquires a room or registry
	// lock while holding it.
	mu      sync.Mutex
	state   State
	room    *chat.Room
	joining bool
	pending []string
}

// New creates a handler for conn.
func New(conn transport.Conn, deps Deps) *Handler {
	id := uuid.New()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		id:       id,
		conn:     conn,
		registry: deps.Registry,
		accounts: deps.Accounts,
		files:    deps.Files,
		logger:   logger.With(slog.String("session_id", id.String()), slog.String("remote", conn.RemoteAddr())),
		window:   deps.Registry.Limiter().NewWindow(),
		state:    Unauthenticated,
	}
}

// ID returns the session id.
func (h *Handler) ID() uuid.UUID {
	return h.id
}

// Name returns the authenticated username.
func (h *Handler) Name() string {
	return h.username
}

// Window returns the session's rate window.
func (h *Handler) Window() *ratelimit.Window {
	return h.window
}

// State returns the current protocol state.
func (h *Handler) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Room returns the room the session is in, or nil.
func (h *Handler) Room() *chat.Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.room
}

// Deliver writes a broadcast line to the connection. Lines are queued
// during a file transfer and while enter_room is being answered; in any
// other state the session is in no room and the line is dropped.
func (h *Handler) Deliver(line string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch {
	case h.state == InRoom:
		return h.conn.WriteFrame([]byte(line))
	case h.state == Closed:
		return transport.ErrClosed
	case h.state == Transferring, h.state == Authenticated && h.joining:
		h.pending = append(h.pending, line)
	}
	return nil
}

// Detach is called when room is deleted while the session sits in it. The
// connection stays open and the session falls back to Authenticated.
func (h *Handler) Detach(room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.room == nil || h.room.Name() != room {
		return
	}
	h.room = nil
	h.joining = false
	h.pending = nil
	if h.state == InRoom {
		h.state = Authenticated
	}
	h.logger.Info("detached from deleted room", slog.String("room", room))
}

// Close closes the connection, which ends Run.
func (h *Handler) Close() error {
	return h.conn.Close()
}

// Run serves requests until the client exits, the connection fails or ctx
// is cancelled. It always leaves the current room and closes the
// connection before returning.
func (h *Handler) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = h.conn.Close() })
	defer stop()
	defer h.shutdown()

	h.logger.Info("session started")
	for {
		frame, err := h.conn.ReadFrame()
		if err != nil {
			if transport.IsClosed(err) || ctx.Err() != nil {
				h.logger.Info("client disconnected")
				return nil
			}
			h.logger.Warn("read failed", slog.Any("error", err))
			return err
		}

		done, err := h.handle(ctx, frame)
		if err != nil {
			if transport.IsClosed(err) {
				h.logger.Info("client disconnected")
				return nil
			}
			h.logger.Warn("session ended", slog.Any("error", err))
			return err
		}
		if done {
			h.logger.Info("client exited")
			return nil
		}
	}
}

func (h *Handler) shutdown() {
	h.mu.Lock()
	room := h.room
	h.room = nil
	h.state = Closed
	h.joining = false
	h.pending = nil
	h.mu.Unlock()

	if room != nil {
		h.registry.Leave(room, h)
	}
	if err := h.conn.Close(); err != nil && !transport.IsClosed(err) {
		h.logger.Debug("error closing connection", slog.Any("error", err))
	}
}

// setState moves to state. Leaving a transfer or a join flushes the lines
// queued meanwhile. A session whose room was deleted in between lands in
// Authenticated instead of InRoom.
func (h *Handler) setState(state State) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if state == InRoom && h.room == nil {
		state = Authenticated
	}
	h.state = state
	h.joining = false
	if state != InRoom && state != Authenticated {
		return nil
	}

	pending := h.pending
	h.pending = nil
	for i, line := range pending {
		if err := h.conn.WriteFrame([]byte(line)); err != nil {
			h.logger.Debug("dropped queued lines", slog.Int("count", len(pending)-i))
			return err
		}
	}
	return nil
}

func (h *Handler) respond(v any) error {
	p, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return h.conn.WriteFrame(p)
}

// fail reports err to the client. Errors that end the session are returned
// instead of being answered.
func (h *Handler) fail(err error) error {
	e := classify(err)
	if e.Fatal() {
		return e
	}
	if e.Kind == Internal {
		h.logger.Error("request failed", slog.Any("error", err))
	} else {
		h.logger.Debug("request rejected", slog.String("kind", e.Kind.String()), slog.Any("error", err))
	}
	return h.respond(failure(e.Message))
}
