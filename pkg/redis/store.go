package redis

import (
	"context"
	"errors"
	"time"

	"seckill/internal/cache"

	rd "github.com/redis/go-redis/v9"
)

// Store adapts the redis client to the cache.Store interface, translating
// redis.Nil into the cache miss sentinel.
type Store struct {
	rdb *rd.Client
}

func NewStore(rdb *rd.Client) *Store {
	return &Store{rdb: rdb}
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, rd.Nil) {
		return "", cache.ErrMiss
	}
	return v, err
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

func (s *Store) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, key, value, ttl).Result()
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}
