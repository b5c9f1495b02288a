// Package cache talks to the redis dependency: liveness, INFO metrics,
// persistence and shutdown, plus the tick buffer flush into storage.
package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps a go-redis client for the supervisor's needs.
type Client struct {
	rdb *redis.Client
}

// Open parses a redis:// URL. No connection is made until the first command.
func Open(url string) (*Client, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("cache: empty url")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("cache: parse url: %w", err)
	}
	// one-shot invocations never need a pool or long retries
	opts.PoolSize = 2
	opts.MaxRetries = 0
	opts.DialTimeout = 2 * time.Second
	return &Client{rdb: redis.NewClient(opts)}, nil
}

func (c *Client) Addr() string { return c.rdb.Options().Addr }

func (c *Client) Close() error { return c.rdb.Close() }

// Ping succeeds only when the server answers PONG.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.rdb.Ping(ctx).Result()
	if err != nil {
		return err
	}
	if res != "PONG" {
		return fmt.Errorf("cache: unexpected ping reply %q", res)
	}
	return nil
}

// Info returns every field of INFO.
func (c *Client) Info(ctx context.Context) (Info, error) {
	raw, err := c.rdb.Info(ctx).Result()
	if err != nil {
		return nil, err
	}
	return ParseInfo(raw), nil
}

func (c *Client) DBSize(ctx context.Context) (int64, error) {
	return c.rdb.DBSize(ctx).Result()
}

// Save forces a synchronous RDB snapshot.
func (c *Client) Save(ctx context.Context) error {
	return c.rdb.Save(ctx).Err()
}

// Shutdown asks the server to exit. The server closes the connection instead
// of replying, so a dropped connection counts as success.
func (c *Client) Shutdown(ctx context.Context) error {
	err := c.rdb.Shutdown(ctx).Err()
	if err == nil || isClosed(err) {
		return nil
	}
	return err
}

func isClosed(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, redis.ErrClosed) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return strings.Contains(err.Error(), "connection reset") || strings.Contains(err.Error(), "closed")
}
