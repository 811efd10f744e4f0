package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const resultKeyPrefix = "scrape_result:"

// RedisStore is the distributed cache tier. Each result lives in a hash
// {data, metadata} under scrape_result:{fingerprint}; TTL is enforced
// natively by the server.
type RedisStore struct {
	rdb    *redis.Client
	logger zerolog.Logger
}

func NewRedisStore(rdb *redis.Client, logger zerolog.Logger) *RedisStore {
	return &RedisStore{rdb: rdb, logger: logger}
}

type resultMetadata struct {
	StoredAt   string `json:"stored_at"`
	TTLSeconds int    `json:"ttl"`
}

func resultKey(key string) string {
	return resultKeyPrefix + key
}

func (s *RedisStore) Store(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	meta, _ := json.Marshal(resultMetadata{
		StoredAt:   time.Now().UTC().Format(time.RFC3339),
		TTLSeconds: int(ttl / time.Second),
	})

	rk := resultKey(key)
	if err := s.rdb.HSet(ctx, rk, "data", value, "metadata", meta).Err(); err != nil {
		return fmt.Errorf("redis store %s: %w", key, err)
	}
	if ttl > 0 {
		if err := s.rdb.Expire(ctx, rk, ttl).Err(); err != nil {
			return fmt.Errorf("redis expire %s: %w", key, err)
		}
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := s.rdb.HGet(ctx, resultKey(key), "data").Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis load %s: %w", key, err)
	}
	return data, nil
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, resultKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %s: %w", key, err)
	}
	return n > 0, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Del(ctx, resultKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis delete %s: %w", key, err)
	}
	return n > 0, nil
}

// CleanupExpired reports how many result entries the server currently
// holds; expiry itself is handled by redis TTLs.
func (s *RedisStore) CleanupExpired(ctx context.Context) (int, error) {
	return s.countResults(ctx)
}

func (s *RedisStore) Stats(ctx context.Context) (Stats, error) {
	count, err := s.countResults(ctx)
	if err != nil {
		return Stats{RedisError: err.Error()}, err
	}
	return Stats{RedisEntries: count}, nil
}

func (s *RedisStore) countResults(ctx context.Context) (int, error) {
	var (
		cursor uint64
		count  int
	)
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, resultKeyPrefix+"*", 200).Result()
		if err != nil {
			return count, fmt.Errorf("redis scan: %w", err)
		}
		count += len(keys)
		cursor = next
		if cursor == 0 {
			return count, nil
		}
	}
}
