package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/roomchat/internal/session"
)

// Hub owns the goroutines of all live sessions, whichever listener
// accepted them, and tears them down on shutdown.
type Hub struct {
	sessions   map[*session.Handler]struct{}
	register   chan *session.Handler
	unregister chan *session.Handler
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	logger     *slog.Logger
}

// NewHub creates a hub. Call Run before handing it sessions.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		sessions:   make(map[*session.Handler]struct{}),
		register:   make(chan *session.Handler),
		unregister: make(chan *session.Handler),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run is the hub's event loop. It returns after Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.closeSessions()
			return

		case s := <-h.register:
			h.mutex.Lock()
			h.sessions[s] = struct{}{}
			count := len(h.sessions)
			h.mutex.Unlock()
			h.logger.Debug("session registered", slog.String("session_id", s.ID().String()), slog.Int("sessions", count))

			h.wg.Add(1)
			go h.serve(s)

		case s := <-h.unregister:
			h.mutex.Lock()
			delete(h.sessions, s)
			count := len(h.sessions)
			h.mutex.Unlock()
			h.logger.Debug("session unregistered", slog.String("session_id", s.ID().String()), slog.Int("sessions", count))
		}
	}
}

func (h *Hub) serve(s *session.Handler) {
	defer h.wg.Done()

	if err := s.Run(h.ctx); err != nil {
		h.logger.Warn("session failed", slog.String("session_id", s.ID().String()), slog.Any("error", err))
	}
	select {
	case h.unregister <- s:
	case <-h.ctx.Done():
	}
}

// Serve hands s to the hub, which runs it until the client leaves. A
// session offered after shutdown is closed immediately.
func (h *Hub) Serve(s *session.Handler) {
	select {
	case h.register <- s:
	case <-h.ctx.Done():
		_ = s.Close()
	}
}

// Count returns the number of live sessions.
func (h *Hub) Count() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.sessions)
}

func (h *Hub) closeSessions() {
	h.mutex.Lock()
	sessions := make([]*session.Handler, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
		delete(h.sessions, s)
	}
	h.mutex.Unlock()

	for _, s := range sessions {
		_ = s.Close()
	}
	h.logger.Info("closed client connections", slog.Int("count", len(sessions)))
}

// Shutdown closes every session and waits for their goroutines, up to
// timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("initiating hub shutdown")
	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("hub shutdown timeout reached, some sessions may still be running")
		return context.DeadlineExceeded
	}
}
