package config_test

import (
	"testing"
	"time"

	"gamerelay/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(nil)
	require.NoError(t, err)

	t.Run("server defaults", func(t *testing.T) {
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout)
		assert.Equal(t, 60*time.Second, cfg.Server.IdleTimeout)
	})

	t.Run("redis defaults", func(t *testing.T) {
		assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
		assert.Equal(t, 0, cfg.Redis.DB)
		assert.Equal(t, 10, cfg.Redis.PoolSize)
		assert.Equal(t, 5, cfg.Redis.MinIdleConns)
		assert.Equal(t, 3, cfg.Redis.MaxRetries)
	})

	t.Run("rooms defaults", func(t *testing.T) {
		assert.Equal(t, 50*time.Millisecond, cfg.Rooms.TickInterval)
		assert.Equal(t, 5, cfg.Rooms.CodeCollisionTries)
	})

	t.Run("log defaults", func(t *testing.T) {
		assert.Equal(t, "info", cfg.Log.Level)
		assert.Equal(t, "text", cfg.Log.Format)
	})
}

func TestLoad_FlagOverrides(t *testing.T) {
	cfg, err := config.Load([]string{"-port=9090", "-log-format=json", "-rooms-code-collision-tries=2"})
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 2, cfg.Rooms.CodeCollisionTries)
}
