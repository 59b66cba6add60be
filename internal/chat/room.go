// Package chat holds the shared room state: the registry of named rooms,
// each room's member set and message log, and the broadcast fan-out.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Tyrowin/roomchat/internal/chatlog"
	"github.com/Tyrowin/roomchat/internal/ratelimit"
)

// Member is a session that can sit in a room.
type Member interface {
	// Name is the authenticated username; it keys the member set.
	Name() string
	// Window is the member's own send history.
	Window() *ratelimit.Window
	// Deliver sends a broadcast line to the member's connection.
	Deliver(line string) error
	// Detach tells the member that room no longer exists.
	Detach(room string)
	// Close drops the member's connection.
	Close() error
}

// Outcome is the result of a broadcast attempt.
type Outcome int

const (
	// Delivered means the line was logged and fanned out.
	Delivered Outcome = iota
	// RateLimited means the sender's window was full; nothing was logged.
	RateLimited
)

// FormatLine renders a chat line as it is logged and delivered.
func FormatLine(sender, text string) string {
	return sender + ": " + text
}

// Room is one named broadcast group. mu is the broadcast lock: it guards
// the member set and serializes log appends, fan-out passes and file
// downloads so none of them interleave.
type Room struct {
	name    string
	log     chatlog.Log
	limiter ratelimit.Limiter
	now     func() time.Time
	logger  *slog.Logger
	// evicted runs, without mu held, for each member a broadcast dropped.
	evicted func(room *Room, m Member)

	mu      sync.Mutex
	members map[string]Member
}

func newRoom(name string, log chatlog.Log, limiter ratelimit.Limiter, now func() time.Time, logger *slog.Logger) *Room {
	return &Room{
		name:    name,
		log:     log,
		limiter: limiter,
		now:     now,
		logger:  logger.With(slog.String("room", name)),
		evicted: func(*Room, Member) {},
		members: make(map[string]Member),
	}
}

// Name returns the room name.
func (r *Room) Name() string {
	return r.name
}

// AddMember inserts m. It is a no-op, returning false, when a member with
// the same name is already present.
func (r *Room) AddMember(m Member) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addLocked(m)
}

func (r *Room) addLocked(m Member) bool {
	if _, exists := r.members[m.Name()]; exists {
		return false
	}
	r.members[m.Name()] = m
	r.logger.Debug("member joined", slog.String("user", m.Name()), slog.Int("members", len(r.members)))
	return true
}

// RemoveMember deletes m. Removing an absent member is a no-op.
func (r *Room) RemoveMember(m Member) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(m)
}

func (r *Room) removeLocked(m Member) bool {
	current, exists := r.members[m.Name()]
	if !exists || current != m {
		return false
	}
	delete(r.members, m.Name())
	r.logger.Debug("member left", slog.String("user", m.Name()), slog.Int("members", len(r.members)))
	return true
}

// HasMember reports whether username is in the room.
func (r *Room) HasMember(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[username]
	return ok
}

// MemberNames returns a sorted snapshot of the member names.
func (r *Room) MemberNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.members))
	for name := range r.members {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of members.
func (r *Room) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Broadcast admits text from sender through the rate limiter, logs it and
// delivers it to every other member. A sender that is no longer a member,
// including every sender of a deleted room, gets ErrNotMember and nothing
// is logged. Members whose delivery fails are removed and closed once the
// pass is over; they never abort it.
func (r *Room) Broadcast(ctx context.Context, sender Member, text string) (Outcome, error) {
	r.mu.Lock()
	if r.members[sender.Name()] != sender {
		r.mu.Unlock()
		return Delivered, ErrNotMember
	}

	now := r.now()
	window := sender.Window()
	if r.limiter.Admit(window, now) == ratelimit.Reject {
		r.mu.Unlock()
		r.logger.Info("broadcast rate limited", slog.String("user", sender.Name()))
		return RateLimited, nil
	}

	line := FormatLine(sender.Name(), text)
	if err := r.log.Append(ctx, line); err != nil {
		r.mu.Unlock()
		return Delivered, fmt.Errorf("failed to log message in %s: %w", r.name, err)
	}
	window.Record(now)

	var failed []Member
	for name, member := range r.members {
		if name == sender.Name() {
			continue
		}
		if err := member.Deliver(line); err != nil {
			r.logger.Warn("failed to deliver message, removing member",
				slog.String("user", name), slog.Any("error", err))
			failed = append(failed, member)
		}
	}
	for _, member := range failed {
		r.removeLocked(member)
	}
	r.mu.Unlock()

	for _, member := range failed {
		r.evicted(r, member)
		if err := member.Close(); err != nil {
			r.logger.Debug("error closing evicted member", slog.String("user", member.Name()), slog.Any("error", err))
		}
	}
	return Delivered, nil
}

// GetLog returns the room history for replay.
func (r *Room) GetLog(ctx context.Context) ([]string, error) {
	return r.log.ReadAll(ctx)
}

// join reads the history and inserts m in one critical section, so every
// line is either in the returned history or delivered live, never both.
func (r *Room) join(ctx context.Context, m Member) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lines, err := r.log.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read log of %s: %w", r.name, err)
	}
	r.addLocked(m)
	return lines, nil
}

// WithDeliveryLock runs fn while holding the broadcast lock, so no
// broadcast reaches any member until fn returns.
func (r *Room) WithDeliveryLock(fn func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn()
}

// evict empties the member set and returns the former members.
func (r *Room) evict() []Member {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := make([]Member, 0, len(r.members))
	for _, m := range r.members {
		members = append(members, m)
	}
	r.members = make(map[string]Member)
	return members
}
