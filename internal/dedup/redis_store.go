package dedup

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// redisMarkers is the slice of pkg/redis.Client the marker store relies on.
type redisMarkers interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	DedupKey(parts ...string) string
}

// RedisStore keeps markers as SETNX keys that expire after ttl. The TTL is the
// retention window: a redelivery older than ttl is treated as new.
type RedisStore struct {
	client redisMarkers
	ttl    time.Duration
}

func NewRedisStore(client redisMarkers, ttl time.Duration) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &RedisStore{client: client, ttl: ttl}, nil
}

func (s *RedisStore) Exists(ctx context.Context, key Key) (bool, error) {
	return s.client.Exists(ctx, s.redisKey(key))
}

func (s *RedisStore) Insert(ctx context.Context, key Key, at time.Time) error {
	set, err := s.client.SetNX(ctx, s.redisKey(key), at.UTC().Format(time.RFC3339Nano), s.ttl)
	if err != nil {
		return err
	}
	if !set {
		return fmt.Errorf("%w: %s", ErrDuplicateMarker, key)
	}
	return nil
}

func (s *RedisStore) redisKey(key Key) string {
	if key.EventID != "" {
		return s.client.DedupKey(key.Topic, "event", key.EventID)
	}
	return s.client.DedupKey(
		key.Topic,
		strconv.FormatInt(int64(key.Partition), 10),
		strconv.FormatInt(key.Offset, 10),
	)
}
