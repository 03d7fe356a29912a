package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/telcoguard/fraud-decision/configs"
)

// KV wraps the Redis client shared by the velocity store, profile store,
// and idempotency cache.
type KV struct {
	client *redis.Client
	prefix string
}

// NewKV connects to Redis and verifies the connection.
func NewKV(cfg configs.RedisConfig) (*KV, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info().Str("prefix", cfg.KeyPrefix).Msg("KV store connected")
	return &KV{client: client, prefix: cfg.KeyPrefix}, nil
}

// NewKVWithClient wraps an existing client. Used by tests.
func NewKVWithClient(client *redis.Client, prefix string) *KV {
	return &KV{client: client, prefix: prefix}
}

// Key builds a namespaced key from its parts.
func (k *KV) Key(parts ...string) string {
	key := k.prefix
	for _, p := range parts {
		key += ":" + p
	}
	return key
}

// Client exposes the underlying Redis client for sorted-set operations.
func (k *KV) Client() *redis.Client { return k.client }

// SetJSON marshals and stores a value with an expiration.
func (k *KV) SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return k.client.Set(ctx, key, data, expiration).Err()
}

// GetJSON fetches and unmarshals a value. Returns redis.Nil on a miss.
func (k *KV) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := k.client.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// SetJSONNX stores a value only if the key does not exist. First writer wins.
func (k *KV) SetJSONNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, err
	}
	return k.client.SetNX(ctx, key, data, expiration).Result()
}

// HGetAll fetches every field of a hash.
func (k *KV) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return k.client.HGetAll(ctx, key).Result()
}

// HSet sets hash fields.
func (k *KV) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	return k.client.HSet(ctx, key, values).Err()
}

// HSetNX sets a hash field only if it is absent.
func (k *KV) HSetNX(ctx context.Context, key, field string, value interface{}) error {
	return k.client.HSetNX(ctx, key, field, value).Err()
}

// HIncrBy increments a hash field.
func (k *KV) HIncrBy(ctx context.Context, key, field string, incr int64) (int64, error) {
	return k.client.HIncrBy(ctx, key, field, incr).Result()
}

// Expire refreshes a key's TTL.
func (k *KV) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return k.client.Expire(ctx, key, ttl).Err()
}

// HealthCheck pings the store.
func (k *KV) HealthCheck(ctx context.Context) error {
	return k.client.Ping(ctx).Err()
}

// Close closes the client.
func (k *KV) Close() error {
	return k.client.Close()
}

// IsMiss reports whether an error is a cache miss.
func IsMiss(err error) bool {
	return err == redis.Nil
}
