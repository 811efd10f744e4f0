package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"trawler/internal/config"
	"trawler/internal/model"
)

// Tiered dispatches the ResultStore capability set across the redis tier
// and the file tier according to the configured migration phase:
//
//	phase 1: file is primary, redis shadows every write
//	phase 2: redis is primary, file shadows every write
//	phase 3: redis only
//
// Phases 1 and 2 behave identically at this layer (dual write, redis-first
// read with file fallback and opportunistic backfill); the distinction is
// operational. When redis is unreachable the store degrades to file-only
// and keeps serving.
type Tiered struct {
	redis   ResultStore
	file    *FileStore
	phase   int
	redisUp bool
	ttl     time.Duration
	logger  zerolog.Logger
}

// NewTiered wires the two tiers explicitly; redisStore may be nil when
// the KV tier is disabled or unreachable.
func NewTiered(redisStore ResultStore, fileStore *FileStore, phase int, ttl time.Duration, logger zerolog.Logger) *Tiered {
	return &Tiered{
		redis:   redisStore,
		file:    fileStore,
		phase:   phase,
		redisUp: redisStore != nil,
		ttl:     ttl,
		logger:  logger,
	}
}

// FromConfig builds the tiered store, probing redis connectivity once at
// startup. An unreachable redis is logged and the store runs file-only.
func FromConfig(cfg *config.Config, rdb *redis.Client, logger zerolog.Logger) *Tiered {
	ttl := time.Duration(cfg.Cache.TTLSeconds) * time.Second
	fileStore := NewFileStore(cfg.Cache.Dir, ttl, logger)

	var redisStore ResultStore
	if cfg.Redis.Enabled && rdb != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Error().Err(err).Msg("redis unreachable, cache degrading to file-only")
		} else {
			redisStore = NewRedisStore(rdb, logger)
			logger.Info().Int("phase", cfg.Redis.MigrationPhase).Msg("redis cache initialized")
		}
	} else {
		logger.Warn().Msg("redis disabled, using file cache only")
	}

	return NewTiered(redisStore, fileStore, cfg.Redis.MigrationPhase, ttl, logger)
}

// TTL returns the default result lifetime.
func (t *Tiered) TTL() time.Duration { return t.ttl }

// File exposes the file tier for screenshot storage and HTTP delivery.
func (t *Tiered) File() *FileStore { return t.file }

// fileTierActive reports whether the file tier participates: always in
// phases 1 and 2, and whenever redis is down regardless of phase.
func (t *Tiered) fileTierActive() bool {
	return t.phase <= 2 || !t.redisUp
}

func (t *Tiered) Store(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	success := false
	var firstErr error

	if t.redisUp {
		if err := t.redis.Store(ctx, key, value, ttl); err != nil {
			t.logger.Error().Err(err).Str("key", key).Msg("redis store failed")
			firstErr = err
		} else {
			success = true
		}
	}

	if t.fileTierActive() {
		if err := t.file.Store(ctx, key, value, ttl); err != nil {
			t.logger.Error().Err(err).Str("key", key).Msg("file store failed")
			if firstErr == nil {
				firstErr = err
			}
		} else {
			success = true
		}
	}

	if !success {
		return firstErr
	}
	return nil
}

func (t *Tiered) Load(ctx context.Context, key string) ([]byte, error) {
	if t.redisUp {
		data, err := t.redis.Load(ctx, key)
		if err == nil {
			return data, nil
		}
		if err != ErrNotFound {
			t.logger.Error().Err(err).Str("key", key).Msg("redis load failed")
		}
	}

	if !t.fileTierActive() {
		return nil, ErrNotFound
	}

	data, err := t.file.Load(ctx, key)
	if err != nil {
		return nil, err
	}

	// Opportunistic backfill so the next load hits the primary tier.
	if t.redisUp {
		if err := t.redis.Store(ctx, key, data, t.ttl); err != nil {
			t.logger.Warn().Err(err).Str("key", key).Msg("failed to backfill redis from file tier")
		}
	}
	return data, nil
}

func (t *Tiered) Exists(ctx context.Context, key string) (bool, error) {
	if t.redisUp {
		if ok, err := t.redis.Exists(ctx, key); err == nil && ok {
			return true, nil
		}
	}
	if !t.fileTierActive() {
		return false, nil
	}
	return t.file.Exists(ctx, key)
}

func (t *Tiered) Delete(ctx context.Context, key string) (bool, error) {
	deleted := false

	if t.redisUp {
		if ok, err := t.redis.Delete(ctx, key); err != nil {
			t.logger.Error().Err(err).Str("key", key).Msg("redis delete failed")
		} else if ok {
			deleted = true
		}
	}

	if t.fileTierActive() {
		if ok, err := t.file.Delete(ctx, key); err != nil {
			t.logger.Error().Err(err).Str("key", key).Msg("file delete failed")
		} else if ok {
			deleted = true
		}
	}

	return deleted, nil
}

// CleanupExpired sweeps the file tier and reports the redis entry count;
// redis expiry itself is native TTL.
func (t *Tiered) CleanupExpired(ctx context.Context) (int, error) {
	cleaned := 0

	if t.fileTierActive() {
		n, err := t.file.CleanupExpired(ctx)
		if err != nil {
			t.logger.Error().Err(err).Msg("file cache cleanup failed")
		} else {
			cleaned = n
		}
	}

	if t.redisUp {
		if n, err := t.redis.CleanupExpired(ctx); err == nil {
			t.logger.Debug().Int("entries", n).Msg("redis cache entries")
			if t.phase == 3 {
				return n, nil
			}
		}
	}

	return cleaned, nil
}

func (t *Tiered) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{
		RedisEnabled:   t.redisUp,
		MigrationPhase: t.phase,
	}

	if fileStats, err := t.file.Stats(ctx); err == nil {
		stats.FileEntries = fileStats.FileEntries
	}
	if t.redisUp {
		redisStats, err := t.redis.Stats(ctx)
		if err != nil {
			stats.RedisError = err.Error()
		} else {
			stats.RedisEntries = redisStats.RedisEntries
		}
	}
	return stats, nil
}

// StoreResult marshals and stores a crawl result under its fingerprint.
func (t *Tiered) StoreResult(ctx context.Context, result *model.CrawlResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return t.Store(ctx, result.ID, data, t.ttl)
}

// LoadResult loads and unmarshals a crawl result, or ErrNotFound.
func (t *Tiered) LoadResult(ctx context.Context, key string) (*model.CrawlResult, error) {
	data, err := t.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	var result model.CrawlResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
