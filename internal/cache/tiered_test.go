package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trawler/internal/model"
)

// memStore is an in-memory ResultStore used to stand in for the redis tier.
type memStore struct {
	data map[string][]byte
	fail bool
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (m *memStore) Store(_ context.Context, key string, value []byte, _ time.Duration) error {
	if m.fail {
		return errors.New("kv down")
	}
	m.data[key] = value
	return nil
}

func (m *memStore) Load(_ context.Context, key string) ([]byte, error) {
	if m.fail {
		return nil, errors.New("kv down")
	}
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (m *memStore) Exists(_ context.Context, key string) (bool, error) {
	if m.fail {
		return false, errors.New("kv down")
	}
	_, ok := m.data[key]
	return ok, nil
}

func (m *memStore) Delete(_ context.Context, key string) (bool, error) {
	if m.fail {
		return false, errors.New("kv down")
	}
	_, ok := m.data[key]
	delete(m.data, key)
	return ok, nil
}

func (m *memStore) CleanupExpired(_ context.Context) (int, error) {
	return len(m.data), nil
}

func (m *memStore) Stats(_ context.Context) (Stats, error) {
	return Stats{RedisEntries: len(m.data)}, nil
}

func newTestTiered(t *testing.T, kv ResultStore, phase int) *Tiered {
	t.Helper()
	file := NewFileStore(t.TempDir(), time.Hour, zerolog.Nop())
	return NewTiered(kv, file, phase, time.Hour, zerolog.Nop())
}

func TestTieredDualWrite(t *testing.T) {
	kv := newMemStore()
	tiered := newTestTiered(t, kv, 1)
	ctx := context.Background()

	require.NoError(t, tiered.Store(ctx, "k1", []byte(`{"a":1}`), time.Hour))

	// Both tiers hold the entry.
	assert.Contains(t, kv.data, "k1")
	ok, err := tiered.file.Exists(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := tiered.Load(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"a":1}`), got)
}

func TestTieredSurvivesKVWipe(t *testing.T) {
	// After a dual write, wiping the KV tier must not lose the entry in
	// phases 1 and 2; loads fall back to the file and backfill the KV.
	for _, phase := range []int{1, 2} {
		kv := newMemStore()
		tiered := newTestTiered(t, kv, phase)
		ctx := context.Background()

		require.NoError(t, tiered.Store(ctx, "k", []byte(`{"v":true}`), time.Hour))
		kv.data = map[string][]byte{} // simulated KV wipe

		got, err := tiered.Load(ctx, "k")
		require.NoError(t, err, "phase %d", phase)
		assert.Equal(t, []byte(`{"v":true}`), got)

		// Opportunistic backfill restored the KV entry.
		assert.Contains(t, kv.data, "k", "phase %d", phase)

		ok, err := tiered.Exists(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestTieredPhase3SkipsFileTier(t *testing.T) {
	kv := newMemStore()
	tiered := newTestTiered(t, kv, 3)
	ctx := context.Background()

	require.NoError(t, tiered.Store(ctx, "k3", []byte("x"), time.Hour))

	// File tier untouched in phase 3.
	ok, err := tiered.file.Exists(ctx, "k3")
	require.NoError(t, err)
	assert.False(t, ok)

	// Wipe KV: the entry is gone for good.
	kv.data = map[string][]byte{}
	_, err = tiered.Load(ctx, "k3")
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err = tiered.Exists(ctx, "k3")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTieredDegradesToFileOnly(t *testing.T) {
	// A nil redis store models an unreachable KV at startup; every phase
	// then behaves file-only.
	tiered := newTestTiered(t, nil, 3)
	ctx := context.Background()

	require.NoError(t, tiered.Store(ctx, "k", []byte("v"), time.Hour))

	got, err := tiered.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

func TestTieredStoreSucceedsWhenOneTierFails(t *testing.T) {
	kv := newMemStore()
	kv.fail = true
	tiered := newTestTiered(t, kv, 1)
	ctx := context.Background()

	// KV write fails mid-flight, the file write still counts as success.
	require.NoError(t, tiered.Store(ctx, "k", []byte("v"), time.Hour))

	got, err := tiered.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

func TestTieredDelete(t *testing.T) {
	kv := newMemStore()
	tiered := newTestTiered(t, kv, 1)
	ctx := context.Background()

	require.NoError(t, tiered.Store(ctx, "k", []byte("v"), time.Hour))

	deleted, err := tiered.Delete(ctx, "k")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = tiered.Load(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	deleted, err = tiered.Delete(ctx, "k")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestTieredResultRoundTrip(t *testing.T) {
	tiered := newTestTiered(t, newMemStore(), 2)
	ctx := context.Background()

	result := &model.CrawlResult{
		ID:         "fingerprint-1",
		BaseURL:    "https://a.example/",
		Domain:     "a.example",
		Date:       "2025-06-01T00:00:00Z",
		TotalPages: 1,
		Levels: []model.Level{{
			Level: 0,
			Pages: []model.Page{{URL: "https://a.example/", Title: "Home", ParentIndex: -1}},
		}},
	}

	require.NoError(t, tiered.StoreResult(ctx, result))

	got, err := tiered.LoadResult(ctx, "fingerprint-1")
	require.NoError(t, err)
	assert.Equal(t, result, got)
}

func TestTieredStats(t *testing.T) {
	kv := newMemStore()
	tiered := newTestTiered(t, kv, 1)
	ctx := context.Background()

	require.NoError(t, tiered.Store(ctx, "k", []byte("v"), time.Hour))

	stats, err := tiered.Stats(ctx)
	require.NoError(t, err)
	assert.True(t, stats.RedisEnabled)
	assert.Equal(t, 1, stats.MigrationPhase)
	assert.Equal(t, 1, stats.FileEntries)
	assert.Equal(t, 1, stats.RedisEntries)
}
