package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a key does not exist
var ErrNotFound = errors.New("key not found")

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Client wraps redis.Client with common operations and instrumentation
type Client struct {
	redis  *redis.Client
	logger Logger
}

// NewClient creates a new Redis client wrapper
func NewClient(redisClient *redis.Client, logger Logger) *Client {
	return &Client{
		redis:  redisClient,
		logger: logger,
	}
}

// Dial connects to addr and checks the connection
func Dial(ctx context.Context, addr, password string, db int, logger Logger) (*Client, error) {
	raw := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := raw.Ping(ctx).Err(); err != nil {
		raw.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	logger.Info("redis connected", "addr", addr, "db", db)
	return NewClient(raw, logger), nil
}

// Health pings the server
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return c.redis.Ping(ctx).Err()
}

// Close closes the connection pool
func (c *Client) Close() error {
	return c.redis.Close()
}

// SetWithExpiry sets a key with expiration. Zero expiry keeps the key forever.
func (c *Client) SetWithExpiry(ctx context.Context, key string, value []byte, expiry time.Duration) error {
	err := c.redis.Set(ctx, key, value, expiry).Err()
	if err != nil {
		c.logger.Error("redis SET failed", "key", key, "error", err)
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	c.logger.Debug("redis SET", "key", key, "size", len(value), "expiry", expiry)
	return nil
}

// Append appends value to key, creating it when missing, and refreshes the expiry
func (c *Client) Append(ctx context.Context, key string, value []byte, expiry time.Duration) error {
	pipe := c.redis.TxPipeline()
	pipe.Append(ctx, key, string(value))
	if expiry > 0 {
		pipe.Expire(ctx, key, expiry)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Error("redis APPEND failed", "key", key, "error", err)
		return fmt.Errorf("failed to append to key %s: %w", key, err)
	}
	c.logger.Debug("redis APPEND", "key", key, "size", len(value))
	return nil
}

// Get retrieves a value by key. A missing key yields ErrNotFound.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		c.logger.Debug("redis GET key not found", "key", key)
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		c.logger.Error("redis GET failed", "key", key, "error", err)
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	c.logger.Debug("redis GET", "key", key)
	return val, nil
}

// Delete removes keys
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	err := c.redis.Del(ctx, keys...).Err()
	if err != nil {
		c.logger.Error("redis DEL failed", "keys", keys, "error", err)
		return fmt.Errorf("failed to delete keys: %w", err)
	}
	c.logger.Debug("redis DEL", "keys", keys)
	return nil
}

// PublishEvent publishes a message on a pub/sub channel
func (c *Client) PublishEvent(ctx context.Context, channel string, message []byte) error {
	err := c.redis.Publish(ctx, channel, message).Err()
	if err != nil {
		c.logger.Error("redis PUBLISH failed", "channel", channel, "error", err)
		return fmt.Errorf("failed to publish to channel %s: %w", channel, err)
	}
	c.logger.Debug("redis PUBLISH", "channel", channel, "size", len(message))
	return nil
}

// PSubscribe subscribes to channels matching pattern and waits for the confirmation
func (c *Client) PSubscribe(ctx context.Context, pattern string) (*redis.PubSub, error) {
	pubsub := c.redis.PSubscribe(ctx, pattern)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		c.logger.Error("redis PSUBSCRIBE failed", "pattern", pattern, "error", err)
		return nil, fmt.Errorf("failed to subscribe to %s: %w", pattern, err)
	}
	c.logger.Info("redis subscription confirmed", "pattern", pattern)
	return pubsub, nil
}
