package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// envelope wraps a value with its store time so freshness survives the round trip.
type envelope struct {
	StoredAt time.Time       `json:"stored_at"`
	Value    json.RawMessage `json:"value"`
}

// Redis is a JSON cache shared between processes. Redis expiry is set to the
// retention period; freshness is still decided by the caller from StoredAt.
type Redis struct {
	client    redis.Cmdable
	prefix    string
	retention time.Duration
}

// NewRedis wraps a go-redis client. Keys are namespaced with prefix.
func NewRedis(client redis.Cmdable, prefix string, retention time.Duration) *Redis {
	return &Redis{client: client, prefix: prefix, retention: retention}
}

// Key returns the namespaced key.
func (r *Redis) Key(key string) string {
	return fmt.Sprintf("%s:%s", r.prefix, key)
}

// GetJSON decodes the value stored under key into dst and returns its store time.
// A missing key returns found=false with no error.
func (r *Redis) GetJSON(ctx context.Context, key string, dst interface{}) (storedAt time.Time, found bool, err error) {
	raw, err := r.client.Get(ctx, r.Key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis get: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return time.Time{}, false, fmt.Errorf("decode envelope: %w", err)
	}
	if err := json.Unmarshal(env.Value, dst); err != nil {
		return time.Time{}, false, fmt.Errorf("decode value: %w", err)
	}
	return env.StoredAt, true, nil
}

// SetJSON stores value under key stamped with storedAt.
func (r *Redis) SetJSON(ctx context.Context, key string, value interface{}, storedAt time.Time) error {
	v, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshaling value: %w", err)
	}
	data, err := json.Marshal(envelope{StoredAt: storedAt, Value: v})
	if err != nil {
		return fmt.Errorf("marshaling envelope: %w", err)
	}
	return r.client.Set(ctx, r.Key(key), data, r.retention).Err()
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
