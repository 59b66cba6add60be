package session

import (
	"fmt"
	"time"
)

// Actions accepted in Request.Action.
const (
	ActionRegister       = "register"
	ActionLogin          = "login"
	ActionChangePassword = "change_password"
	ActionListUsers      = "list_users"
	ActionCreateRoom     = "create_chat_room"
	ActionDeleteRoom     = "delete_chat_room"
	ActionListRooms      = "list_chat_rooms"
	ActionEnterRoom      = "enter_room"
	ActionNewMessage     = "new_message"
	ActionExit           = "exit"
)

// Chat commands recognised inside new_message.
const (
	CommandHelp     = "/help"
	CommandUpload   = "/upload"
	CommandDownload = "/download"
	CommandExit     = "/exit"
)

const (
	StatusOK      = 200
	StatusFailure = 400
)

const helpText = "Available commands:\n/help\n/exit\n/upload\n/download"

// Request is one client frame outside a file transfer.
type Request struct {
	Action       string `json:"action"`
	Username     string `json:"username,omitempty"`
	Password     string `json:"password,omitempty"`
	Role         string `json:"role,omitempty"`
	RoomName     string `json:"room_name,omitempty"`
	ChatRoomName string `json:"chat_room_name,omitempty"`
	Message      string `json:"message,omitempty"`
}

// Status is the plain success or failure response.
type Status struct {
	StatusCode   int    `json:"status_code"`
	ErrorMessage string `json:"error_message,omitempty"`
	Message      string `json:"message,omitempty"`
}

// LoginResponse carries the role of the account that logged in.
type LoginResponse struct {
	StatusCode int    `json:"status_code"`
	Role       string `json:"role"`
}

// UsersResponse lists the users currently present in a room.
type UsersResponse struct {
	StatusCode int      `json:"status_code"`
	Users      []string `json:"users"`
}

// RoomsResponse lists the room names.
type RoomsResponse struct {
	StatusCode int      `json:"status_code"`
	Rooms      []string `json:"rooms"`
}

// EnterRoomResponse carries the room history replayed on join.
type EnterRoomResponse struct {
	StatusCode int      `json:"status_code"`
	Room       string   `json:"room"`
	Messages   []string `json:"messages"`
}

func ok() Status {
	return Status{StatusCode: StatusOK}
}

func failure(msg string) Status {
	return Status{StatusCode: StatusFailure, ErrorMessage: msg}
}

func rateLimitMessage(capacity int, interval time.Duration) string {
	if interval%time.Second == 0 {
		return fmt.Sprintf("You can only send %d messages every %d seconds", capacity, int(interval/time.Second))
	}
	return fmt.Sprintf("You can only send %d messages every %s", capacity, interval)
}
