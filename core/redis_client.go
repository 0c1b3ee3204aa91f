// Package core provides the shared interfaces, errors, configuration,
// and Redis client plumbing for the agentmem engine.
//
// This file implements a simplified Redis client wrapper with key
// namespacing and connection management for the fast tier.
//
// Namespacing:
// All keys are automatically prefixed with the namespace:
//   - Live entries: "{namespace}:{agent_id}:state:{key}"
//   - Snapshot data: "{namespace}:{agent_id}:snapshot:data"
//   - Snapshot metadata: "{namespace}:{agent_id}:snapshot:meta"
//
// Connection Management:
//   - Automatic connection pooling via go-redis
//   - Connection health check with Ping at construction
//   - Graceful shutdown support
package core

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisClient provides a namespaced Redis interface for the fast tier
type RedisClient struct {
	client    *redis.Client
	namespace string
	logger    Logger
}

// RedisClientOptions configures the Redis client
type RedisClientOptions struct {
	RedisURL  string
	DB        int    // Redis DB number for isolation (0-15)
	Namespace string // Key namespace, normally Config.KeyPrefix
	Logger    Logger // Optional logger
}

// NewRedisClient creates a new Redis client with specified options.
// The connection is verified with a bounded Ping before returning so
// a misconfigured fast tier fails at startup, not mid-checkpoint.
func NewRedisClient(opts RedisClientOptions) (*RedisClient, error) {
	logger := opts.Logger
	if logger == nil {
		logger = &NoOpLogger{}
	}

	if opts.RedisURL == "" {
		return nil, fmt.Errorf("redis URL is required: %w", ErrMissingConfiguration)
	}
	if opts.Namespace == "" {
		return nil, fmt.Errorf("key namespace is required: %w", ErrMissingConfiguration)
	}

	redisOpt, err := redis.ParseURL(opts.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL %s: %w", opts.RedisURL, ErrInvalidConfiguration)
	}
	if opts.DB != 0 {
		redisOpt.DB = opts.DB
	}

	client := redis.NewClient(redisOpt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %v: %w", opts.RedisURL, err, ErrStoreUnavailable)
	}

	logger.Debug("Redis client initialized", map[string]interface{}{
		"operation": "redis_client_init",
		"redis_url": opts.RedisURL,
		"db":        redisOpt.DB,
		"namespace": opts.Namespace,
	})

	return &RedisClient{
		client:    client,
		namespace: opts.Namespace,
		logger:    logger,
	}, nil
}

// Client exposes the underlying go-redis client for store
// implementations that need typed container commands.
func (r *RedisClient) Client() *redis.Client {
	return r.client
}

// Namespace returns the configured key namespace
func (r *RedisClient) Namespace() string {
	return r.namespace
}

// Key builds a fully namespaced key from path segments
func (r *RedisClient) Key(parts ...string) string {
	key := r.namespace
	for _, p := range parts {
		key += ":" + p
	}
	return key
}

// Ping verifies connectivity to the fast tier
func (r *RedisClient) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %v: %w", err, ErrStoreUnavailable)
	}
	return nil
}

// Close closes the Redis connection pool
func (r *RedisClient) Close() error {
	return r.client.Close()
}
