// Package redis backs the optional market-metadata cache with go-redis/v9.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Options are the connection parameters from the redis config section.
type Options struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
}

// Client holds the connection the metadata cache operates on. Connectivity is
// verified once at construction; after that, cache operations surface their
// own errors and callers treat them as soft failures.
type Client struct {
	rdb *redis.Client
}

// Connect dials Redis and verifies the connection with a ping. An unreachable
// cache at startup is a configuration error, not a reason to silently run
// uncached.
func Connect(ctx context.Context, opts Options) (*Client, error) {
	ropts := &redis.Options{
		Addr:       opts.Addr,
		Password:   opts.Password,
		DB:         opts.DB,
		PoolSize:   opts.PoolSize,
		MaxRetries: opts.MaxRetries,
	}
	if opts.TLSEnabled {
		ropts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(ropts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis: connect %s: %w", opts.Addr, err)
	}
	return &Client{rdb: rdb}, nil
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}
