package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/roomchat/internal/config"
	"github.com/Tyrowin/roomchat/internal/session"
	"github.com/Tyrowin/roomchat/internal/transport"
)

// pingPeriod is how often idle WebSocket peers are pinged.
const pingPeriod = 54 * time.Second

// Server accepts clients on a raw TCP listener and on the WebSocket
// endpoint and runs one session per connection.
type Server struct {
	cfg      config.ServerConfig
	deps     session.Deps
	hub      *Hub
	origins  *OriginPolicy
	upgrader websocket.Upgrader
	http     *http.Server
	logger   *slog.Logger

	shutdownOnce sync.Once
	shutdownErr  error
	stopped      chan struct{}
	tcp          net.Listener
}

// New creates a server. deps.Logger is used when logger is nil.
func New(cfg config.ServerConfig, deps session.Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = deps.Logger
	}
	if logger == nil {
		logger = slog.Default()
	}
	deps.Logger = logger

	s := &Server{
		cfg:     cfg,
		deps:    deps,
		hub:     NewHub(logger),
		origins: NewOriginPolicy(cfg.AllowedOrigins, logger),
		logger:  logger,
		stopped: make(chan struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.origins.CheckOrigin,
	}
	s.http = CreateServer(cfg.HTTPAddr, s.Routes())
	return s
}

// Hub returns the session hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) connOptions() transport.Options {
	return transport.Options{
		MaxFrameSize: s.cfg.MaxFrameSize,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
}

// ListenAndServe binds the configured addresses and serves until ctx is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	tcpLn, err := net.Listen("tcp", s.cfg.TCPAddr)
	if err != nil {
		return err
	}
	httpLn, err := net.Listen("tcp", s.cfg.HTTPAddr)
	if err != nil {
		_ = tcpLn.Close()
		return err
	}
	return s.Serve(ctx, tcpLn, httpLn)
}

// Serve runs both listeners until ctx is cancelled or one of them fails,
// then shuts everything down. It returns the first listener error, if any.
func (s *Server) Serve(ctx context.Context, tcpLn, httpLn net.Listener) error {
	s.tcp = tcpLn
	go s.hub.Run()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("TCP listener started", slog.String("addr", tcpLn.Addr().String()))
		return s.serveTCP(tcpLn)
	})
	g.Go(func() error {
		s.logger.Info("HTTP listener started", slog.String("addr", httpLn.Addr().String()))
		if err := s.http.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return s.Shutdown()
		case <-s.stopped:
			return nil
		}
	})
	return g.Wait()
}

func (s *Server) serveTCP(ln net.Listener) error {
	for {
		c, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.logger.Warn("accept timeout", slog.Any("error", err))
				continue
			}
			return err
		}

		conn := transport.NewTCPConn(c, s.connOptions())
		s.hub.Serve(session.New(conn, s.deps))
	}
}

// Shutdown stops both listeners and closes every session. It is safe to
// call more than once.
func (s *Server) Shutdown() error {
	s.shutdownOnce.Do(func() {
		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}

		var errs []error
		if s.tcp != nil {
			if err := s.tcp.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				errs = append(errs, err)
			}
		}
		if err := ShutdownServer(s.http, timeout, s.logger); err != nil {
			errs = append(errs, err)
		}
		if err := s.hub.Shutdown(timeout); err != nil {
			errs = append(errs, err)
		}
		s.shutdownErr = errors.Join(errs...)
		close(s.stopped)
	})
	return s.shutdownErr
}
