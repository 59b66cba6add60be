package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/Tyrowin/roomchat/internal/auth"
	"github.com/Tyrowin/roomchat/internal/chat"
)

var (
	errMalformed     = newError(ProtocolError, "Invalid request")
	errUnknownAction = newError(ProtocolError, "Invalid action")
	errNotLoggedIn   = newError(ProtocolError, "You must be logged in")
	errLoggedIn      = newError(ProtocolError, "You are already logged in")
	errNotInRoom     = newError(ProtocolError, "You must be in a chat room")
	errInRoom        = newError(ProtocolError, "You must leave the chat room first")
	errAdminOnly     = newError(PermissionDenied, "Only admins can manage chat rooms")
	errNoRoomName    = newError(ProtocolError, "You must specify a valid room name")
	errEmptyMessage  = newError(ProtocolError, "You must specify a valid message")
)

// allowed lists the actions each state accepts besides exit.
var allowed = map[State]map[string]bool{
	Unauthenticated: {
		ActionRegister: true,
		ActionLogin:    true,
	},
	Authenticated: {
		ActionChangePassword: true,
		ActionListUsers:      true,
		ActionListRooms:      true,
		ActionCreateRoom:     true,
		ActionDeleteRoom:     true,
		ActionEnterRoom:      true,
	},
	InRoom: {
		ActionNewMessage: true,
	},
}

var knownActions = map[string]bool{
	ActionRegister: true, ActionLogin: true, ActionChangePassword: true,
	ActionListUsers: true, ActionCreateRoom: true, ActionDeleteRoom: true,
	ActionListRooms: true, ActionEnterRoom: true, ActionNewMessage: true,
	ActionExit: true,
}

// handle processes one request frame. done reports that the client asked
// to exit; a non-nil error ends the session.
func (h *Handler) handle(ctx context.Context, frame []byte) (done bool, err error) {
	var req Request
	if err := json.Unmarshal(frame, &req); err != nil {
		return false, h.fail(errMalformed)
	}
	if req.Action == ActionExit {
		return true, nil
	}

	state := h.State()
	if !allowed[state][req.Action] {
		return false, h.fail(h.outOfState(ctx, state, req))
	}

	h.logger.Debug("request", slog.String("action", req.Action), slog.String("state", state.String()))
	switch req.Action {
	case ActionRegister:
		return false, h.register(ctx, req)
	case ActionLogin:
		return false, h.login(ctx, req)
	case ActionChangePassword:
		return false, h.changePassword(ctx, req)
	case ActionListUsers:
		return false, h.respond(UsersResponse{StatusCode: StatusOK, Users: h.registry.OnlineUsers()})
	case ActionListRooms:
		return false, h.respond(RoomsResponse{StatusCode: StatusOK, Rooms: h.registry.List()})
	case ActionCreateRoom:
		return false, h.createRoom(ctx, req)
	case ActionDeleteRoom:
		return false, h.deleteRoom(ctx, req)
	case ActionEnterRoom:
		return false, h.enterRoom(ctx, req)
	case ActionNewMessage:
		return false, h.newMessage(ctx, req)
	}
	return false, h.fail(errUnknownAction)
}

// outOfState picks the failure for a request the current state does not
// accept. An /upload outside a room is drained first so the file bytes
// that follow it are not read as requests.
func (h *Handler) outOfState(ctx context.Context, state State, req Request) error {
	if !knownActions[req.Action] {
		return errUnknownAction
	}
	switch state {
	case Unauthenticated:
		return errNotLoggedIn
	case Authenticated:
		if req.Action == ActionRegister || req.Action == ActionLogin {
			return errLoggedIn
		}
		if req.Action == ActionNewMessage && req.Message == CommandUpload {
			if _, err := h.files.Drain(ctx, h.conn); err != nil {
				return err
			}
		}
		return errNotInRoom
	case InRoom:
		if req.Action == ActionEnterRoom {
			return chat.ErrAlreadyInRoom
		}
		return errInRoom
	}
	return errUnknownAction
}

func (h *Handler) register(ctx context.Context, req Request) error {
	role, err := auth.ParseRole(req.Role)
	if err != nil {
		return h.fail(err)
	}
	if err := h.accounts.Register(ctx, req.Username, req.Password, role); err != nil {
		return h.fail(err)
	}
	h.logger.Info("user registered", slog.String("user", req.Username), slog.String("role", string(role)))
	return h.respond(ok())
}

func (h *Handler) login(ctx context.Context, req Request) error {
	role, err := h.accounts.Login(ctx, req.Username, req.Password)
	if err != nil {
		return h.fail(err)
	}

	h.username = req.Username
	h.role = role
	h.logger = h.logger.With(slog.String("user", req.Username))
	if err := h.setState(Authenticated); err != nil {
		return err
	}
	h.logger.Info("user logged in", slog.String("role", string(role)))
	return h.respond(LoginResponse{StatusCode: StatusOK, Role: string(role)})
}

func (h *Handler) changePassword(ctx context.Context, req Request) error {
	if err := h.accounts.ChangePassword(ctx, h.username, req.Password); err != nil {
		return h.fail(err)
	}
	h.logger.Info("password changed")
	return h.respond(ok())
}

func (h *Handler) createRoom(ctx context.Context, req Request) error {
	if h.role != auth.RoleAdmin {
		return h.fail(errAdminOnly)
	}
	if req.RoomName == "" {
		return h.fail(errNoRoomName)
	}
	if err := h.registry.Create(ctx, req.RoomName); err != nil {
		return h.fail(err)
	}
	return h.respond(ok())
}

func (h *Handler) deleteRoom(ctx context.Context, req Request) error {
	if h.role != auth.RoleAdmin {
		return h.fail(errAdminOnly)
	}
	name := req.ChatRoomName
	if name == "" {
		name = req.RoomName
	}
	if name == "" {
		return h.fail(errNoRoomName)
	}
	if err := h.registry.Delete(ctx, name); err != nil {
		return h.fail(err)
	}
	return h.respond(ok())
}

func (h *Handler) enterRoom(ctx context.Context, req Request) error {
	if req.RoomName == "" {
		return h.fail(errNoRoomName)
	}
	h.mu.Lock()
	h.joining = true
	h.mu.Unlock()

	room, lines, err := h.registry.Join(ctx, req.RoomName, h)
	if err != nil {
		h.mu.Lock()
		h.joining = false
		h.pending = nil
		h.mu.Unlock()
		return h.fail(err)
	}

	// A deletion that raced with the join has already evicted us, possibly
	// before room was recorded here for Detach to clear.
	h.mu.Lock()
	h.room = room
	h.mu.Unlock()
	if !h.registry.Current(room) {
		h.Detach(room.Name())
		h.registry.Leave(room, h)
	}

	if lines == nil {
		lines = []string{}
	}
	h.logger.Info("entered room", slog.String("room", room.Name()), slog.Int("replayed", len(lines)))
	if err := h.respond(EnterRoomResponse{StatusCode: StatusOK, Room: room.Name(), Messages: lines}); err != nil {
		return err
	}
	return h.setState(InRoom)
}

func (h *Handler) newMessage(ctx context.Context, req Request) error {
	switch req.Message {
	case "":
		return h.fail(errEmptyMessage)
	case CommandHelp:
		return h.respond(Status{StatusCode: StatusOK, Message: helpText})
	case CommandExit:
		return h.leaveRoom()
	case CommandUpload:
		return h.upload(ctx)
	case CommandDownload:
		return h.download(ctx)
	}

	room := h.Room()
	if room == nil {
		return h.fail(errNotInRoom)
	}
	outcome, err := room.Broadcast(ctx, h, req.Message)
	if errors.Is(err, chat.ErrNotMember) {
		return h.fail(errNotInRoom)
	}
	if err != nil {
		return h.fail(err)
	}
	if outcome == chat.RateLimited {
		limiter := h.registry.Limiter()
		return h.fail(newError(RateLimited, rateLimitMessage(limiter.Capacity, limiter.Interval)))
	}
	return h.respond(ok())
}

// leaveRoom leaves the room before changing state: Leave waits for any
// broadcast pass in flight, so no line of the old room arrives afterwards.
func (h *Handler) leaveRoom() error {
	room := h.Room()
	if room != nil {
		h.registry.Leave(room, h)
		h.logger.Info("left room", slog.String("room", room.Name()))
	}

	h.mu.Lock()
	h.room = nil
	h.state = Authenticated
	h.pending = nil
	h.mu.Unlock()
	return h.respond(ok())
}

// transfer runs fn in the Transferring state, answers with the final
// status frame and then returns to chat.
func (h *Handler) transfer(fn func(room *chat.Room) (Status, error)) error {
	room := h.Room()
	if room == nil {
		return h.fail(errNotInRoom)
	}
	if err := h.setState(Transferring); err != nil {
		return err
	}

	status, err := fn(room)
	if err != nil {
		e := classify(err)
		if e.Fatal() {
			return e
		}
		if e.Kind == Internal {
			h.logger.Error("transfer failed", slog.Any("error", err))
		} else {
			h.logger.Info("transfer rejected", slog.Any("error", err))
		}
		status = failure(e.Message)
	}
	if err := h.respond(status); err != nil {
		return err
	}
	return h.setState(InRoom)
}

func (h *Handler) upload(ctx context.Context) error {
	return h.transfer(func(room *chat.Room) (Status, error) {
		if _, err := h.files.Upload(ctx, h.conn, room.Name()); err != nil {
			return Status{}, err
		}
		return Status{StatusCode: StatusOK, Message: "done uploading file"}, nil
	})
}

func (h *Handler) download(ctx context.Context) error {
	return h.transfer(func(room *chat.Room) (Status, error) {
		_, err := h.files.Download(ctx, h.conn, room.Name(), room.WithDeliveryLock)
		if err != nil {
			return Status{}, err
		}
		return ok(), nil
	})
}
