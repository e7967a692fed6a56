// Package config holds process configuration for gamerelayd, loaded
// from flags with environment-variable overrides.
package config

import (
	"flag"
	"os"
	"strconv"
	"time"
)

// Config is the root configuration tree. Each nested struct groups
// settings for one component, following the same shape the
// counter-service sibling uses (Server/Redis/Log sub-sections).
type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	Log      LogConfig
	Rooms    RoomsConfig
	Internal InternalConfig
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// RedisConfig configures the shared KV store connection.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// LogConfig configures the process-wide slog handler.
type LogConfig struct {
	Level  string
	Format string
}

// RoomsConfig configures Room Actor behavior.
type RoomsConfig struct {
	TickInterval       time.Duration
	IdleTimeout        time.Duration
	CodeCollisionTries int
}

// InternalConfig configures the internal admin gate.
type InternalConfig struct {
	Secret string
}

// Load parses flags and applies environment overrides, mirroring the
// teacher's flag.Int/flag.String setup in cmd/server/main.go but
// extended with nested sections and env fallbacks for deployment.
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("gamerelayd", flag.ContinueOnError)

	cfg := &Config{}

	fs.IntVar(&cfg.Server.Port, "port", envInt("PORT", 8080), "HTTP listen port")
	fs.DurationVar(&cfg.Server.ReadTimeout, "read-timeout", 15*time.Second, "HTTP read timeout")
	fs.DurationVar(&cfg.Server.WriteTimeout, "write-timeout", 15*time.Second, "HTTP write timeout")
	fs.DurationVar(&cfg.Server.IdleTimeout, "idle-timeout", 60*time.Second, "HTTP idle timeout")

	fs.StringVar(&cfg.Redis.Addr, "redis-addr", envString("REDIS_ADDR", "localhost:6379"), "redis address")
	fs.StringVar(&cfg.Redis.Password, "redis-password", os.Getenv("REDIS_PASSWORD"), "redis password")
	fs.IntVar(&cfg.Redis.DB, "redis-db", 0, "redis logical db")
	fs.IntVar(&cfg.Redis.PoolSize, "redis-pool-size", 10, "redis connection pool size")
	fs.IntVar(&cfg.Redis.MinIdleConns, "redis-min-idle-conns", 5, "redis minimum idle connections")
	fs.IntVar(&cfg.Redis.MaxRetries, "redis-max-retries", 3, "redis max command retries")
	fs.DurationVar(&cfg.Redis.ReadTimeout, "redis-read-timeout", 3*time.Second, "redis read timeout")
	fs.DurationVar(&cfg.Redis.WriteTimeout, "redis-write-timeout", 3*time.Second, "redis write timeout")

	fs.StringVar(&cfg.Log.Level, "log-level", envString("LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.Log.Format, "log-format", envString("LOG_FORMAT", "text"), "log format (text, json)")

	fs.DurationVar(&cfg.Rooms.TickInterval, "rooms-tick-interval", 50*time.Millisecond, "room broadcast tick period (20Hz default)")
	fs.DurationVar(&cfg.Rooms.IdleTimeout, "rooms-idle-timeout", 0, "reserved: idle-room eviction beyond empty-roster hibernation")
	fs.IntVar(&cfg.Rooms.CodeCollisionTries, "rooms-code-collision-tries", 5, "max retries generating a free room code")

	fs.StringVar(&cfg.Internal.Secret, "internal-secret", os.Getenv("GAMERELAY_INTERNAL_SECRET"), "bearer secret for the internal admin plane")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	return cfg, nil
}

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
