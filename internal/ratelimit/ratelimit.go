// Package ratelimit implements the per-user message throttle applied to room
// broadcasts. Each user owns a Window of recent send timestamps; a Limiter
// decides whether the next send is admitted.
package ratelimit

import "time"

const (
	// DefaultCapacity is the number of timestamps a window remembers.
	DefaultCapacity = 5
	// DefaultInterval is the cool-down measured from the most recent send.
	DefaultInterval = 30 * time.Second
)

// Decision is the result of an admission check.
type Decision int

const (
	// Allow admits the send; the caller records it in the window.
	Allow Decision = iota
	// Reject refuses the send; the window is left untouched.
	Reject
)

func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "reject"
}

// Window is a fixed-size ring of the most recently accepted send times.
// It is mutated only by the goroutine serving its owning session.
type Window struct {
	times []time.Time
	next  int
	size  int
}

// NewWindow creates an empty window holding at most capacity timestamps.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Window{times: make([]time.Time, capacity)}
}

// Record stores t as the most recent accepted send, evicting the oldest
// entry once the window is full.
func (w *Window) Record(t time.Time) {
	w.times[w.next] = t
	w.next = (w.next + 1) % len(w.times)
	if w.size < len(w.times) {
		w.size++
	}
}

// Len reports how many timestamps the window currently holds.
func (w *Window) Len() int {
	return w.size
}

// Cap reports the window capacity.
func (w *Window) Cap() int {
	return len(w.times)
}

// Last returns the most recently recorded timestamp.
func (w *Window) Last() (time.Time, bool) {
	if w.size == 0 {
		return time.Time{}, false
	}
	i := (w.next - 1 + len(w.times)) % len(w.times)
	return w.times[i], true
}

// Limiter holds the throttle parameters shared by every window it checks.
type Limiter struct {
	Capacity int
	Interval time.Duration
}

// New returns a limiter, falling back to the defaults for non-positive values.
func New(capacity int, interval time.Duration) Limiter {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return Limiter{Capacity: capacity, Interval: interval}
}

// Admit rejects a send when the window is full and the most recent accepted
// send happened less than Interval before now. It never mutates w; on Allow
// the caller must Record now.
//
// The check is against the latest timestamp, not the oldest one, so after a
// full window every further send has to wait out the interval again.
func (l Limiter) Admit(w *Window, now time.Time) Decision {
	if w.Len() < l.Capacity {
		return Allow
	}
	last, _ := w.Last()
	if now.Sub(last) < l.Interval {
		return Reject
	}
	return Allow
}

// NewWindow creates a window sized for this limiter.
func (l Limiter) NewWindow() *Window {
	return NewWindow(l.Capacity)
}
