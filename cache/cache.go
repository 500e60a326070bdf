// Package cache keeps label/id pairs of lookup resources (statuses, hardware profiles, ...)
// between requests. The cache is advisory: misses and failures fall back to the store.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Store caches the label of a record by id and the id of a record by label
type Store interface {
	Label(ctx context.Context, resource string, id int64) (string, bool)
	ID(ctx context.Context, resource, label string) (int64, bool)
	Put(ctx context.Context, resource string, id int64, label string)
	Invalidate(ctx context.Context, resource string, id int64, label string)
}

// Nop is a Store that never holds anything
type Nop struct{}

func (Nop) Label(context.Context, string, int64) (string, bool) { return "", false }
func (Nop) ID(context.Context, string, string) (int64, bool)    { return 0, false }
func (Nop) Put(context.Context, string, int64, string)          {}
func (Nop) Invalidate(context.Context, string, int64, string)   {}

// RedisConfig holds Redis-specific configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
	Prefix   string
}

// RedisStore implements Store on Redis
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger *zap.Logger
}

// NewRedisStore connects to Redis and verifies the connection
func NewRedisStore(cfg RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	return NewRedisStoreWithClient(client, cfg, logger), nil
}

// NewRedisStoreWithClient creates a store with an existing client
func NewRedisStoreWithClient(client *redis.Client, cfg RedisConfig, logger *zap.Logger) *RedisStore {
	if cfg.Prefix == "" {
		cfg.Prefix = "cmdb:"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{client: client, ttl: cfg.TTL, prefix: cfg.Prefix, logger: logger}
}

func (s *RedisStore) labelKey(resource string, id int64) string {
	return s.prefix + "label:" + resource + ":" + strconv.FormatInt(id, 10)
}

func (s *RedisStore) idKey(resource, label string) string {
	return s.prefix + "id:" + resource + ":" + label
}

// Label returns the cached label of a record
func (s *RedisStore) Label(ctx context.Context, resource string, id int64) (string, bool) {
	label, err := s.client.Get(ctx, s.labelKey(resource, id)).Result()
	if err != nil {
		s.miss(err, resource)
		return "", false
	}
	return label, true
}

// ID returns the cached id of a record
func (s *RedisStore) ID(ctx context.Context, resource, label string) (int64, bool) {
	id, err := s.client.Get(ctx, s.idKey(resource, label)).Int64()
	if err != nil {
		s.miss(err, resource)
		return 0, false
	}
	return id, true
}

// Put caches both directions of a label/id pair
func (s *RedisStore) Put(ctx context.Context, resource string, id int64, label string) {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.labelKey(resource, id), label, s.ttl)
		pipe.Set(ctx, s.idKey(resource, label), id, s.ttl)
		return nil
	})
	if err != nil {
		s.logger.Warn("failed to cache label", zap.String("resource", resource), zap.Int64("id", id), zap.Error(err))
	}
}

// Invalidate drops both directions of a label/id pair
func (s *RedisStore) Invalidate(ctx context.Context, resource string, id int64, label string) {
	if err := s.client.Del(ctx, s.labelKey(resource, id), s.idKey(resource, label)).Err(); err != nil {
		s.logger.Warn("failed to invalidate cached label", zap.String("resource", resource), zap.Int64("id", id), zap.Error(err))
	}
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) miss(err error, resource string) {
	if !errors.Is(err, redis.Nil) {
		s.logger.Warn("label cache unavailable", zap.String("resource", resource), zap.Error(err))
	}
}
