// Package cache connects the optional student profile cache.
//
// Redis only ever holds copies of profiles keyed by PRN or class roll, so
// the client is tuned to fail fast: a slow or missing server must never
// stall the interactive menu, and callers fall back to the database.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/recordkeeper/pkg/config"
)

const (
	clientName  = "recordkeeper"
	pingTimeout = 2 * time.Second
	ioTimeout   = 500 * time.Millisecond
)

// NewRedis dials the profile cache and checks it answers a PING. An error
// means the caller should run with caching disabled.
func NewRedis(cfg config.RedisConfig) (*redis.Client, error) {
	opts := options(cfg)
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("profile cache unavailable at %s: %w", opts.Addr, err)
	}

	return client, nil
}

func options(cfg config.RedisConfig) *redis.Options {
	return &redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		ClientName:   clientName,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  pingTimeout,
		ReadTimeout:  ioTimeout,
		WriteTimeout: ioTimeout,
		// a miss costs one query; retrying a dead cache costs the user
		MaxRetries: 1,
	}
}
