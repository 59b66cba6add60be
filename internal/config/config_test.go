package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(discardLogger(), "roomchat")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	yaml := []byte(`server:
  tcp_addr: ":7000"
  allowed_origins: ["https://chat.example.com"]
ratelimit:
  capacity: 3
  interval: 10s
storage:
  log_backend: sql
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "roomchat.yaml"), yaml, 0o600))
	t.Setenv("ROOMCHAT_SERVER_TCP_ADDR", ":7001")
	t.Setenv("ROOMCHAT_STORAGE_FILES_DIR", "/srv/files")

	cfg, err := Load(discardLogger(), "roomchat")
	require.NoError(t, err)

	assert.Equal(t, ":7001", cfg.Server.TCPAddr)
	assert.Equal(t, []string{"https://chat.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 3, cfg.RateLimit.Capacity)
	assert.Equal(t, 10*time.Second, cfg.RateLimit.Interval)
	assert.Equal(t, LogBackendSQL, cfg.Storage.LogBackend)
	assert.Equal(t, "/srv/files", cfg.Storage.FilesDir)
	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
}

func TestLoadRejectsBrokenFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "roomchat.yaml"), []byte("server: [unclosed"), 0o600))

	_, err := Load(discardLogger(), "roomchat")
	assert.Error(t, err)
}

func TestSanitize(t *testing.T) {
	cfg := Sanitize(Config{
		Server: ServerConfig{
			AllowedOrigins: []string{" http://a.example , http://b.example", ""},
			IdleTimeout:    -time.Second,
		},
		RateLimit: RateLimitConfig{Capacity: -1},
		Storage:   StorageConfig{LogBackend: "tape"},
	})
	d := Default()

	assert.Equal(t, d.Server.TCPAddr, cfg.Server.TCPAddr)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, time.Duration(0), cfg.Server.IdleTimeout)
	assert.Equal(t, d.RateLimit, cfg.RateLimit)
	assert.Equal(t, LogBackendFile, cfg.Storage.LogBackend)
	assert.Equal(t, d.Storage.MaxUploadSize, cfg.Storage.MaxUploadSize)
	assert.Equal(t, d.Auth.BcryptCost, cfg.Auth.BcryptCost)
}
