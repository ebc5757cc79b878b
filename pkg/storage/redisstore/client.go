package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/platinummonkey/accesscore/pkg/storage"
	"github.com/sirupsen/logrus"
)

const backend = "redis"

// maxTxRetries bounds optimistic transactions aborted by a concurrent write
const maxTxRetries = 5

// Client handles key/value operations for tokens, codes and access caches
type Client struct {
	client *redis.Client
	prefix string
	log    *logrus.Logger
}

// NewClient creates a new Redis client
func NewClient(config storage.Config, log *logrus.Logger) (*Client, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	// Override with config values if provided
	if config.RedisPassword != "" {
		opts.Password = config.RedisPassword
	}
	if config.RedisDB > 0 {
		opts.DB = config.RedisDB
	}
	if config.RedisMaxRetries > 0 {
		opts.MaxRetries = config.RedisMaxRetries
	}
	if config.RedisPoolSize > 0 {
		opts.PoolSize = config.RedisPoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewFromRedis(client, config.KeyPrefix, log), nil
}

// NewFromRedis wraps an existing go-redis client
func NewFromRedis(client *redis.Client, prefix string, log *logrus.Logger) *Client {
	if log == nil {
		log = logrus.New()
	}
	return &Client{
		client: client,
		prefix: prefix,
		log:    log,
	}
}

// key joins parts under the configured prefix
func (c *Client) key(parts ...string) string {
	if c.prefix == "" {
		return strings.Join(parts, ":")
	}
	return c.prefix + ":" + strings.Join(parts, ":")
}

// setJSON stores value under key with ttl. A non-positive ttl is rejected so
// nothing is ever written without an expiry.
func (c *Client) setJSON(ctx context.Context, op, key string, value interface{}, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("%s: ttl must be positive, got %s", op, ttl)
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%s: failed to marshal: %w", op, err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return storage.Wrap(backend, op, err)
	}
	return nil
}

// getJSON loads key into dest. Missing keys return storage.ErrNotFound.
func (c *Client) getJSON(ctx context.Context, op, key string, dest interface{}) error {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return storage.ErrNotFound
	} else if err != nil {
		return storage.Wrap(backend, op, err)
	}

	return c.decode(ctx, op, key, data, dest)
}

// takeJSON atomically reads and deletes key (GETDEL)
func (c *Client) takeJSON(ctx context.Context, op, key string, dest interface{}) error {
	data, err := c.client.GetDel(ctx, key).Bytes()
	if err == redis.Nil {
		return storage.ErrNotFound
	} else if err != nil {
		return storage.Wrap(backend, op, err)
	}

	return c.decode(ctx, op, key, data, dest)
}

func (c *Client) decode(ctx context.Context, op, key string, data []byte, dest interface{}) error {
	if err := json.Unmarshal(data, dest); err != nil {
		// Corrupt entries are dropped and reported as absent
		c.log.WithFields(logrus.Fields{"op": op, "error": err}).Warn("dropping undecodable redis entry")
		c.client.Del(ctx, key)
		return storage.ErrNotFound
	}
	return nil
}

// watch runs fn as an optimistic transaction over keys. fn is re-run when a
// concurrent write to a watched key aborts EXEC. storage.ErrNotFound and
// storage.ErrConflict returned by fn are passed through unwrapped.
func (c *Client) watch(ctx context.Context, op string, fn func(*redis.Tx) error, keys ...string) error {
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := c.client.Watch(ctx, fn, keys...)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrConflict):
			return err
		default:
			return storage.Wrap(backend, op, err)
		}
	}
	return storage.ErrConflict
}

// del removes keys; missing keys are not an error
func (c *Client) del(ctx context.Context, op string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return storage.Wrap(backend, op, err)
	}
	return nil
}

// Ping checks Redis connectivity
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Redis returns the underlying Redis client for health checks
func (c *Client) Redis() *redis.Client {
	return c.client
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}
