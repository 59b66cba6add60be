package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/Tyrowin/roomchat/internal/chatlog"
	"github.com/Tyrowin/roomchat/internal/ratelimit"
)

var (
	// ErrRoomExists is returned when creating a room name that is taken.
	ErrRoomExists = errors.New("room already exists")
	// ErrRoomNotFound is returned for operations on an unknown room.
	ErrRoomNotFound = errors.New("room does not exist")
	// ErrInvalidRoomName is returned for names unusable as room keys.
	ErrInvalidRoomName = errors.New("room name must be 1-64 characters of letters, digits, '.', '_' or '-'")
	// ErrAlreadyInRoom is returned when the username already sits in a room.
	ErrAlreadyInRoom = errors.New("user is already in a room")
	// ErrNotMember is returned when a sender is not, or no longer, in the room.
	ErrNotMember = errors.New("user is not in this room")
)

var roomNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

// ValidateRoomName checks that name is safe to use as a room key. Names
// end up in file paths, so "." and ".." are refused too.
func ValidateRoomName(name string) error {
	if !roomNamePattern.MatchString(name) || name == "." || name == ".." {
		return ErrInvalidRoomName
	}
	return nil
}

// NameStore persists the set of room names.
type NameStore interface {
	ListRoomNames(ctx context.Context) ([]string, error)
	AddRoomName(ctx context.Context, name string) error
	RemoveRoomName(ctx context.Context, name string) error
}

// RemoveHook runs after a room has been deleted, e.g. to drop its files.
type RemoveHook func(ctx context.Context, room string) error

// presence records which room a username is in, and through which member.
type presence struct {
	room   *Room
	member Member
}

// Registry maps room names to rooms. It is created once per process and
// handed to every session. mu never waits on a room lock: membership
// questions that span rooms are answered from the present index.
type Registry struct {
	mu      sync.RWMutex
	rooms   map[string]*Room
	present map[string]presence

	names    NameStore
	logs     chatlog.Factory
	limiter  ratelimit.Limiter
	now      func() time.Time
	logger   *slog.Logger
	onRemove []RemoveHook
}

// Option configures a Registry.
type Option func(*Registry)

// WithLimiter sets the rate limiter shared by all rooms.
func WithLimiter(l ratelimit.Limiter) Option {
	return func(r *Registry) { r.limiter = l }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithRemoveHook registers a hook run after each deletion.
func WithRemoveHook(h RemoveHook) Option {
	return func(r *Registry) { r.onRemove = append(r.onRemove, h) }
}

// NewRegistry creates an empty registry. Call Load to restore persisted rooms.
func NewRegistry(names NameStore, logs chatlog.Factory, opts ...Option) *Registry {
	r := &Registry{
		rooms:   make(map[string]*Room),
		present: make(map[string]presence),
		names:   names,
		logs:    logs,
		limiter: ratelimit.New(ratelimit.DefaultCapacity, ratelimit.DefaultInterval),
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Limiter returns the limiter applied to broadcasts.
func (r *Registry) Limiter() ratelimit.Limiter {
	return r.limiter
}

func (r *Registry) newRoom(name string) *Room {
	room := newRoom(name, r.logs(name), r.limiter, r.now, r.logger)
	room.evicted = r.release
	return room
}

// release forgets m's presence in room, unless the username has since
// moved on through another member or room.
func (r *Registry) release(room *Room, m Member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.present[m.Name()]; ok && p.room == room && p.member == m {
		delete(r.present, m.Name())
	}
}

// Load instantiates a room for every persisted name.
func (r *Registry) Load(ctx context.Context) error {
	names, err := r.names.ListRoomNames(ctx)
	if err != nil {
		return fmt.Errorf("failed to load rooms: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range names {
		if _, exists := r.rooms[name]; !exists {
			r.rooms[name] = r.newRoom(name)
		}
	}
	r.logger.Info("rooms loaded", slog.Int("count", len(r.rooms)))
	return nil
}

// Create persists name and instantiates an empty room.
func (r *Registry) Create(ctx context.Context, name string) error {
	if err := ValidateRoomName(name); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rooms[name]; exists {
		return ErrRoomExists
	}
	if err := r.names.AddRoomName(ctx, name); err != nil {
		return fmt.Errorf("failed to persist room %s: %w", name, err)
	}
	r.rooms[name] = r.newRoom(name)
	r.logger.Info("room created", slog.String("room", name))
	return nil
}

// Delete removes the room. Current members are detached but keep their
// connections; the room log is discarded and the name forgotten. Members
// are evicted after mu is released.
func (r *Registry) Delete(ctx context.Context, name string) error {
	r.mu.Lock()
	room, exists := r.rooms[name]
	if !exists {
		r.mu.Unlock()
		return ErrRoomNotFound
	}
	if err := r.names.RemoveRoomName(ctx, name); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("failed to remove room %s: %w", name, err)
	}
	delete(r.rooms, name)
	for user, p := range r.present {
		if p.room == room {
			delete(r.present, user)
		}
	}
	r.mu.Unlock()

	members := room.evict()

	for _, m := range members {
		m.Detach(name)
	}
	if err := room.log.Delete(ctx); err != nil {
		r.logger.Warn("could not delete room log", slog.String("room", name), slog.Any("error", err))
	}
	for _, hook := range r.onRemove {
		if err := hook(ctx, name); err != nil {
			r.logger.Warn("room removal hook failed", slog.String("room", name), slog.Any("error", err))
		}
	}

	r.logger.Info("room deleted", slog.String("room", name), slog.Int("evicted", len(members)))
	return nil
}

// List returns the room names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.rooms))
	for name := range r.rooms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get looks a room up by name.
func (r *Registry) Get(name string) (*Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[name]
	return room, ok
}

// Join adds m to the named room and returns the room history to replay.
// The username is reserved in the present index under the registry lock,
// so it is in at most one room; the room itself is joined after the
// registry lock is released. A join that races with Delete may land in the
// deleted room, which Current reveals.
func (r *Registry) Join(ctx context.Context, name string, m Member) (*Room, []string, error) {
	r.mu.Lock()
	room, ok := r.rooms[name]
	if !ok {
		r.mu.Unlock()
		return nil, nil, ErrRoomNotFound
	}
	if _, taken := r.present[m.Name()]; taken {
		r.mu.Unlock()
		return nil, nil, ErrAlreadyInRoom
	}
	r.present[m.Name()] = presence{room: room, member: m}
	r.mu.Unlock()

	lines, err := room.join(ctx, m)
	if err != nil {
		r.release(room, m)
		return nil, nil, err
	}
	return room, lines, nil
}

// Current reports whether room is still the registered room of its name.
func (r *Registry) Current(room *Room) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[room.Name()] == room
}

// Leave removes m from room. It is safe on rooms that were deleted.
func (r *Registry) Leave(room *Room, m Member) {
	if room == nil {
		return
	}
	room.RemoveMember(m)
	r.release(room, m)
}

// OnlineUsers returns the sorted usernames present in any room.
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, 0, len(r.present))
	for name := range r.present {
		users = append(users, name)
	}
	sort.Strings(users)
	return users
}
