// Package redis connects the shared Redis instance used for the job queue and room presence.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const pingTimeout = 5 * time.Second

// Client wraps a go-redis client. The embedded client is what queue and presence use.
type Client struct {
	*redis.Client
	addr   string
	logger *zap.Logger
}

// NewClient creates a Redis client and verifies connectivity within pingTimeout.
func NewClient(ctx context.Context, addr, password string, db int, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}

	logger.Info("redis connected", zap.String("addr", addr), zap.Int("db", db))
	return &Client{Client: rdb, addr: addr, logger: logger}, nil
}

// Close releases the connection pool.
func (c *Client) Close() error {
	if err := c.Client.Close(); err != nil {
		c.logger.Warn("redis close", zap.String("addr", c.addr), zap.Error(err))
		return err
	}
	return nil
}
