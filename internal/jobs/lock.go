package jobs

import (
	"context"
	"fmt"
	"time"

	"trawler/internal/scrapeutil"
)

const lockKeyPrefix = "lock:"

// DefaultLockTTL bounds how long a crashed worker can hold a URL lock.
// It is intentionally longer than the worst-case crawl.
const DefaultLockTTL = 600 * time.Second

func lockKey(url string) string {
	return lockKeyPrefix + scrapeutil.Canonicalize(url)
}

// AcquireLock claims the cluster-wide lock for a normalized URL via an
// atomic set-if-absent with expiry. There is no retry and no queueing:
// callers that lose the race finalize their job as skipped.
func (q *Queue) AcquireLock(ctx context.Context, url string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	ok, err := q.rdb.SetNX(ctx, lockKey(url), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock for %s: %w", url, err)
	}
	return ok, nil
}

// ReleaseLock drops the URL lock. Best-effort: the TTL is the safety net
// when a holder crashes before releasing.
func (q *Queue) ReleaseLock(ctx context.Context, url string) {
	if err := q.rdb.Del(ctx, lockKey(url)).Err(); err != nil {
		q.logger.Warn().Err(err).Str("url", url).Msg("failed to release url lock")
	}
}
