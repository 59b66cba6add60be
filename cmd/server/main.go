package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/Tyrowin/roomchat/internal/auth"
	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/chatlog"
	"github.com/Tyrowin/roomchat/internal/config"
	"github.com/Tyrowin/roomchat/internal/logging"
	"github.com/Tyrowin/roomchat/internal/ratelimit"
	"github.com/Tyrowin/roomchat/internal/server"
	"github.com/Tyrowin/roomchat/internal/session"
	"github.com/Tyrowin/roomchat/internal/store"
	"github.com/Tyrowin/roomchat/internal/transfer"
)

func main() {
	logger := logging.New(os.Stdout, "info", "text")

	cfg, err := config.Load(logger, "roomchat")
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger = logging.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	logger.Info("Starting roomchat server...",
		slog.String("tcp_addr", cfg.Server.TCPAddr),
		slog.String("http_addr", cfg.Server.HTTPAddr),
		slog.String("log_backend", cfg.Storage.LogBackend))

	db, err := store.Open(cfg.Storage.Database, nil)
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}

	logs, closeLogs, err := openLogs(cfg.Storage, db, logger)
	if err != nil {
		logger.Error("failed to set up chat logs", slog.Any("error", err))
		os.Exit(1)
	}

	files, err := transfer.NewStorage(cfg.Storage.FilesDir)
	if err != nil {
		logger.Error("failed to set up file storage", slog.Any("error", err))
		os.Exit(1)
	}

	registry := chat.NewRegistry(store.NewRoomRepository(db), logs,
		chat.WithLimiter(ratelimit.New(cfg.RateLimit.Capacity, cfg.RateLimit.Interval)),
		chat.WithLogger(logger),
		chat.WithRemoveHook(files.RemoveRoom),
	)
	if err := registry.Load(context.Background()); err != nil {
		logger.Error("failed to load chat rooms", slog.Any("error", err))
		os.Exit(1)
	}

	deps := session.Deps{
		Registry: registry,
		Accounts: auth.NewService(store.NewUserRepository(db), auth.NewPasswordHasher(cfg.Auth.BcryptCost)),
		Files:    transfer.NewChannel(files, cfg.Storage.MaxUploadSize, logger),
		Logger:   logger,
	}
	srv := server.New(cfg.Server, deps, logger)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		if err := srv.ListenAndServe(ctx); err != nil {
			logger.Error("server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.Server.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"roomchat": func(ctx context.Context) error {
				logger.Info("Graceful shutdown initiated...")
				cancel()
				select {
				case <-stopped:
				case <-ctx.Done():
					return ctx.Err()
				}
				if err := closeLogs(); err != nil {
					logger.Warn("failed to close chat log backend", slog.Any("error", err))
				}
				return store.Close(db)
			},
		},
	)

	exitCode := <-wait
	logger.Info("roomchat server exited", slog.Int("code", exitCode))
	os.Exit(exitCode)
}

// openLogs returns the chat log factory for the configured backend and a
// func releasing whatever connection the backend holds.
func openLogs(cfg config.StorageConfig, db *gorm.DB, logger *slog.Logger) (chatlog.Factory, func() error, error) {
	noop := func() error { return nil }

	switch cfg.LogBackend {
	case config.LogBackendFile:
		logs, err := chatlog.FileFactory(cfg.LogDir, logger)
		return logs, noop, err
	case config.LogBackendSQL:
		return chatlog.SQLFactory(store.NewMessageRepository(db)), noop, nil
	case config.LogBackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(context.Background()).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.RedisAddr, err)
		}
		return chatlog.RedisFactory(client), client.Close, nil
	case config.LogBackendMemory:
		return chatlog.MemoryFactory(), noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown log backend %q", cfg.LogBackend)
	}
}
