package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/keyxmakerx/bidhouse/internal/config"
)

// redisClientName tags our connections in CLIENT LIST.
const redisClientName = "bidhouse"

// NewRedis connects to the Redis instance that holds short-lived counters:
// wrong-code attempts per account and the per-IP rate-limit windows on the
// auth endpoints. Nothing in Redis is durable state; losing it only resets
// those counters, so callers treat Redis errors as non-fatal after startup.
//
// The URL is parsed, the client is created and a ping must succeed before
// the client is returned.
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	if opts.ClientName == "" {
		opts.ClientName = redisClientName
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis at %s: %w", opts.Addr, err)
	}

	return client, nil
}
