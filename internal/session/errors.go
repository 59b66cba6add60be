package session

import (
	"errors"
	"unicode"
	"unicode/utf8"

	"github.com/Tyrowin/roomchat/internal/auth"
	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/transfer"
	"github.com/Tyrowin/roomchat/internal/transport"
)

// Kind groups failures by how the session reacts to them.
type Kind int

const (
	Internal Kind = iota
	AuthFailure
	PermissionDenied
	NotFound
	RateLimited
	ProtocolError
	TransportFailure
)

func (k Kind) String() string {
	switch k {
	case AuthFailure:
		return "auth_failure"
	case PermissionDenied:
		return "permission_denied"
	case NotFound:
		return "not_found"
	case RateLimited:
		return "rate_limited"
	case ProtocolError:
		return "protocol_error"
	case TransportFailure:
		return "transport_failure"
	default:
		return "internal"
	}
}

// Error is a failure reported to the client. Message is what the client
// sees; Err keeps the underlying cause for logs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Fatal reports whether the session cannot continue after err.
func (e *Error) Fatal() bool {
	return e.Kind == TransportFailure
}

var kinds = []struct {
	target error
	kind   Kind
}{
	{auth.ErrInvalidCredentials, AuthFailure},
	{auth.ErrUserExists, AuthFailure},
	{auth.ErrUserNotFound, NotFound},
	{auth.ErrInvalidRole, ProtocolError},
	{auth.ErrInvalidInput, ProtocolError},
	{auth.ErrPasswordTooLong, ProtocolError},
	{chat.ErrRoomNotFound, NotFound},
	{chat.ErrRoomExists, ProtocolError},
	{chat.ErrInvalidRoomName, ProtocolError},
	{chat.ErrAlreadyInRoom, ProtocolError},
	{chat.ErrNotMember, ProtocolError},
	{transfer.ErrFileNotFound, NotFound},
	{transfer.ErrInvalidFileName, ProtocolError},
	{transfer.ErrInvalidMetadata, ProtocolError},
	{transfer.ErrTooLarge, ProtocolError},
	{transport.ErrOverrun, ProtocolError},
	{transport.ErrFrameTooLarge, TransportFailure},
}

// classify maps a domain error to its Kind and a client-facing message.
// Internal failures get a generic message so storage details stay in logs.
func classify(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	for _, k := range kinds {
		if errors.Is(err, k.target) {
			return &Error{Kind: k.kind, Message: capitalize(err.Error()), Err: err}
		}
	}
	if transport.IsClosed(err) {
		return &Error{Kind: TransportFailure, Message: "connection closed", Err: err}
	}
	return &Error{Kind: Internal, Message: "Internal server error", Err: err}
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
