// Package config loads the roomchat runtime settings: defaults, an
// optional roomchat.yaml in the working directory and ROOMCHAT_* environment
// variables, in increasing order of precedence.
package config

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. ROOMCHAT_SERVER_TCP_ADDR.
const EnvPrefix = "ROOMCHAT"

// Log backends accepted in storage.log_backend.
const (
	LogBackendFile   = "file"
	LogBackendSQL    = "sql"
	LogBackendRedis  = "redis"
	LogBackendMemory = "memory"
)

// Config holds every setting of the service.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig covers the listeners and per-connection limits.
type ServerConfig struct {
	TCPAddr         string        `mapstructure:"tcp_addr"`
	HTTPAddr        string        `mapstructure:"http_addr"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	MaxFrameSize    int64         `mapstructure:"max_frame_size"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// RateLimitConfig defines the per-user message throttle.
type RateLimitConfig struct {
	Capacity int           `mapstructure:"capacity"`
	Interval time.Duration `mapstructure:"interval"`
}

// StorageConfig selects where users, rooms, logs and files live.
type StorageConfig struct {
	Database      string `mapstructure:"database"`
	LogBackend    string `mapstructure:"log_backend"`
	LogDir        string `mapstructure:"log_dir"`
	FilesDir      string `mapstructure:"files_dir"`
	RedisAddr     string `mapstructure:"redis_addr"`
	MaxUploadSize int64  `mapstructure:"max_upload_size"`
}

// AuthConfig tunes password hashing.
type AuthConfig struct {
	BcryptCost int `mapstructure:"bcrypt_cost"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			TCPAddr:         ":9090",
			HTTPAddr:        ":8080",
			AllowedOrigins:  []string{"http://localhost:8080"},
			MaxFrameSize:    1 << 20,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     0,
			ShutdownTimeout: 10 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Capacity: 5,
			Interval: 30 * time.Second,
		},
		Storage: StorageConfig{
			Database:      "roomchat.db",
			LogBackend:    LogBackendFile,
			LogDir:        "logs",
			FilesDir:      "files",
			RedisAddr:     "localhost:6379",
			MaxUploadSize: 64 << 20,
		},
		Auth: AuthConfig{
			BcryptCost: 10,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.tcp_addr", d.Server.TCPAddr)
	v.SetDefault("server.http_addr", d.Server.HTTPAddr)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)
	v.SetDefault("server.max_frame_size", d.Server.MaxFrameSize)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("ratelimit.capacity", d.RateLimit.Capacity)
	v.SetDefault("ratelimit.interval", d.RateLimit.Interval)
	v.SetDefault("storage.database", d.Storage.Database)
	v.SetDefault("storage.log_backend", d.Storage.LogBackend)
	v.SetDefault("storage.log_dir", d.Storage.LogDir)
	v.SetDefault("storage.files_dir", d.Storage.FilesDir)
	v.SetDefault("storage.redis_addr", d.Storage.RedisAddr)
	v.SetDefault("storage.max_upload_size", d.Storage.MaxUploadSize)
	v.SetDefault("auth.bcrypt_cost", d.Auth.BcryptCost)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Load reads the configuration named fileName (without extension) from the
// working directory, if present, and applies environment overrides.
func Load(logger *slog.Logger, fileName string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName(fileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, err
		}
		logger.Debug("config file not found, using defaults and environment")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return Sanitize(cfg), nil
}

// Sanitize replaces unusable values with their defaults.
func Sanitize(cfg Config) Config {
	d := Default()

	if cfg.Server.TCPAddr == "" {
		cfg.Server.TCPAddr = d.Server.TCPAddr
	}
	if cfg.Server.HTTPAddr == "" {
		cfg.Server.HTTPAddr = d.Server.HTTPAddr
	}
	cfg.Server.AllowedOrigins = parseOrigins(cfg.Server.AllowedOrigins)
	if cfg.Server.MaxFrameSize <= 0 {
		cfg.Server.MaxFrameSize = d.Server.MaxFrameSize
	}
	if cfg.Server.WriteTimeout <= 0 {
		cfg.Server.WriteTimeout = d.Server.WriteTimeout
	}
	if cfg.Server.IdleTimeout < 0 {
		cfg.Server.IdleTimeout = 0
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}

	if cfg.RateLimit.Capacity <= 0 {
		cfg.RateLimit.Capacity = d.RateLimit.Capacity
	}
	if cfg.RateLimit.Interval <= 0 {
		cfg.RateLimit.Interval = d.RateLimit.Interval
	}

	if cfg.Storage.Database == "" {
		cfg.Storage.Database = d.Storage.Database
	}
	switch cfg.Storage.LogBackend {
	case LogBackendFile, LogBackendSQL, LogBackendRedis, LogBackendMemory:
	default:
		cfg.Storage.LogBackend = d.Storage.LogBackend
	}
	if cfg.Storage.LogDir == "" {
		cfg.Storage.LogDir = d.Storage.LogDir
	}
	if cfg.Storage.FilesDir == "" {
		cfg.Storage.FilesDir = d.Storage.FilesDir
	}
	if cfg.Storage.RedisAddr == "" {
		cfg.Storage.RedisAddr = d.Storage.RedisAddr
	}
	if cfg.Storage.MaxUploadSize <= 0 {
		cfg.Storage.MaxUploadSize = d.Storage.MaxUploadSize
	}

	if cfg.Auth.BcryptCost <= 0 {
		cfg.Auth.BcryptCost = d.Auth.BcryptCost
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = d.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = d.Log.Format
	}
	return cfg
}

// parseOrigins accepts both list entries and comma separated values, the
// form environment variables arrive in.
func parseOrigins(origins []string) []string {
	var out []string
	for _, entry := range origins {
		for _, part := range strings.Split(entry, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
