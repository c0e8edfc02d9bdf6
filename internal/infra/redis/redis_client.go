package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"subscription-fulfillment/internal/config"
)

// Client wraps the go-redis client shared by the locker, the limiter and the
// sales-control repository.
type Client struct {
	cli *redis.Client
}

// NewClient accepts either a redis:// URL or a bare host:port and waits for
// the server to answer PING.
func NewClient(ctx context.Context, cfg config.RedisConfig, log *zerolog.Logger) (*Client, error) {
	var opts *redis.Options
	if strings.Contains(cfg.URL, "://") {
		o, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = o
	} else {
		opts = &redis.Options{Addr: cfg.URL, Password: cfg.Password, DB: cfg.DB}
	}
	c := redis.NewClient(opts)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxElapsedTime = 30 * time.Second
	ping := func() error { return c.Ping(ctx).Err() }
	notify := func(err error, wait time.Duration) {
		if log != nil {
			log.Warn().Err(err).Dur("retry_in", wait).Msg("redis not ready")
		}
	}
	if err := backoff.RetryNotify(ping, backoff.WithContext(bo, ctx), notify); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &Client{cli: c}, nil
}

// FromRedis wraps an existing go-redis client.
func FromRedis(c *redis.Client) *Client { return &Client{cli: c} }

func (c *Client) Ping(ctx context.Context) error { return c.cli.Ping(ctx).Err() }

func (c *Client) Close() error { return c.cli.Close() }
