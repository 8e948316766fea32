//go:build integration

package redis

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dsrengine/internal/platform/config"
	"dsrengine/pkg/testutil/containers"
)

func TestNew(t *testing.T) {
	ctx := context.Background()
	rc := containers.NewRedisContainer(t)
	cfg := config.DefaultConfig().Redis

	t.Run("no URL means no client", func(t *testing.T) {
		c, err := New(ctx, cfg, slog.Default())
		require.NoError(t, err)
		assert.Nil(t, c)
	})

	t.Run("connects and reports the eviction policy", func(t *testing.T) {
		cfg.URL = rc.URL
		c, err := New(ctx, cfg, slog.Default())
		require.NoError(t, err)
		t.Cleanup(func() { _ = c.Close() })

		require.NoError(t, c.Health(ctx))
		policy, err := c.EvictionPolicy(ctx)
		require.NoError(t, err)
		assert.Equal(t, "noeviction", policy)

		require.NoError(t, c.ConfigSet(ctx, "maxmemory-policy", "allkeys-lru").Err())
		policy, err = c.EvictionPolicy(ctx)
		require.NoError(t, err)
		assert.Equal(t, "allkeys-lru", policy)
	})

	t.Run("unreachable server", func(t *testing.T) {
		cfg.URL = "redis://127.0.0.1:1/0"
		_, err := New(ctx, cfg, slog.Default())
		require.Error(t, err)
	})
}
