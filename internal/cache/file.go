package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// FileStore is the file-system cache tier: one JSON file per fingerprint
// under dir/results, plus a parallel hierarchy for base-page screenshots.
// TTL is not enforced on read; expired files are removed by
// CleanupExpired sweeps.
type FileStore struct {
	dir    string
	ttl    time.Duration
	logger zerolog.Logger
}

func NewFileStore(dir string, ttl time.Duration, logger zerolog.Logger) *FileStore {
	return &FileStore{dir: dir, ttl: ttl, logger: logger}
}

func (s *FileStore) resultPath(key string) string {
	return filepath.Join(s.dir, "results", key+".json")
}

// ScreenshotPath returns where the base-page screenshot for a result
// lives, whether or not it exists yet.
func (s *FileStore) ScreenshotPath(key string) string {
	return filepath.Join(s.dir, "screenshots", key+".png")
}

// StoreScreenshot persists the base-page screenshot alongside the result.
func (s *FileStore) StoreScreenshot(key string, data []byte) error {
	path := s.ScreenshotPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create screenshot dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write screenshot %s: %w", key, err)
	}
	return nil
}

func (s *FileStore) Store(_ context.Context, key string, value []byte, _ time.Duration) error {
	path := s.resultPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	if err := os.WriteFile(path, value, 0o644); err != nil {
		return fmt.Errorf("write result %s: %w", key, err)
	}
	return nil
}

func (s *FileStore) Load(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.resultPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read result %s: %w", key, err)
	}
	return data, nil
}

func (s *FileStore) Exists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(s.resultPath(key))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (s *FileStore) Delete(_ context.Context, key string) (bool, error) {
	err := os.Remove(s.resultPath(key))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// CleanupExpired removes result files older than the configured TTL and
// reports how many were deleted. Screenshots share their result's
// lifetime and are swept with it.
func (s *FileStore) CleanupExpired(_ context.Context) (int, error) {
	dir := filepath.Join(s.dir, "results")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}

	cutoff := time.Now().Add(-s.ttl)
	cleaned := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			s.logger.Warn().Err(err).Str("file", entry.Name()).Msg("failed to remove expired cache file")
			continue
		}
		key := strings.TrimSuffix(entry.Name(), ".json")
		_ = os.Remove(s.ScreenshotPath(key))
		cleaned++
	}
	return cleaned, nil
}

func (s *FileStore) Stats(_ context.Context) (Stats, error) {
	count := 0
	entries, err := os.ReadDir(filepath.Join(s.dir, "results"))
	if err == nil {
		for _, entry := range entries {
			if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
				count++
			}
		}
	}
	return Stats{FileEntries: count}, nil
}
