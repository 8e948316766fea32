package redis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"dsrengine/internal/platform/config"
)

// Client holds subject locks and verification state. Both must outlive memory
// pressure, so an evicting server is reported at startup.
type Client struct {
	*redis.Client
}

// New returns nil when no URL is configured; callers then fall back to
// in-memory stores.
func New(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	opts.MinIdleConns = cfg.MinIdleConns
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	c := &Client{Client: redis.NewClient(opts)}
	if err := c.Health(ctx); err != nil {
		c.Close()
		return nil, err
	}

	policy, err := c.EvictionPolicy(ctx)
	switch {
	case err != nil:
		// managed servers often refuse CONFIG GET
		logger.WarnContext(ctx, "redis eviction policy unknown", "error", err)
	case policy != "noeviction":
		logger.WarnContext(ctx, "redis may evict subject locks and verification lockouts",
			"maxmemory_policy", policy,
		)
	}
	return c, nil
}

func (c *Client) Health(ctx context.Context) error {
	if err := c.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// EvictionPolicy reports the server's maxmemory-policy.
func (c *Client) EvictionPolicy(ctx context.Context) (string, error) {
	res, err := c.ConfigGet(ctx, "maxmemory-policy").Result()
	if err != nil {
		return "", fmt.Errorf("read maxmemory-policy: %w", err)
	}
	policy, ok := res["maxmemory-policy"]
	if !ok {
		return "", fmt.Errorf("maxmemory-policy not reported")
	}
	return policy, nil
}
