// Package redisstore keeps the confidence threshold and strategy statistics in
// Redis so that every patternd process shares them.
//
// Threshold adjustments run as a Lua script that reads, applies the delta,
// clamps, and writes in one server-side step. Strategy samples are applied in a
// MULTI/EXEC block of HINCRBY and HINCRBYFLOAT commands; the average duration is
// derived on read from the duration sum and attempt count.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces every key written by this package.
const DefaultKeyPrefix = "patternd"

// ErrEmptyURL is returned when no Redis URL is configured.
var ErrEmptyURL = errors.New("redis url is required")

// connectionTimeout bounds the initial ping.
const connectionTimeout = 5 * time.Second

// Config holds Redis connection settings.
type Config struct {
	// URL is a redis:// or rediss:// URL.
	URL string

	// Password overrides any password in URL.
	Password string
}

// NewClient connects to Redis and verifies the connection.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	if cfg.URL == "" {
		return nil, ErrEmptyURL
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, connectionTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

func prefixed(prefix string) string {
	if prefix == "" {
		return DefaultKeyPrefix
	}
	return prefix
}
