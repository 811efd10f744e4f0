package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	store := NewFileStore(t.TempDir(), time.Hour, zerolog.Nop())
	ctx := context.Background()

	_, err := store.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Store(ctx, "abc123", []byte(`{"x":1}`), time.Hour))

	got, err := store.Load(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"x":1}`), got)

	ok, err := store.Exists(ctx, "abc123")
	require.NoError(t, err)
	assert.True(t, ok)

	deleted, err := store.Delete(ctx, "abc123")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = store.Delete(ctx, "abc123")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestFileStoreCleanupExpired(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir, time.Minute, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, store.Store(ctx, "old", []byte("o"), 0))
	require.NoError(t, store.Store(ctx, "fresh", []byte("f"), 0))

	// Age one entry past the TTL.
	past := time.Now().Add(-2 * time.Minute)
	require.NoError(t, os.Chtimes(store.resultPath("old"), past, past))

	cleaned, err := store.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cleaned)

	_, err = store.Load(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Load(ctx, "fresh")
	assert.NoError(t, err)
}

func TestFileStoreScreenshots(t *testing.T) {
	store := NewFileStore(t.TempDir(), time.Hour, zerolog.Nop())

	require.NoError(t, store.StoreScreenshot("abc", []byte{0x89, 0x50}))

	data, err := os.ReadFile(store.ScreenshotPath("abc"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 0x50}, data)
}

func TestFileStoreStats(t *testing.T) {
	store := NewFileStore(t.TempDir(), time.Hour, zerolog.Nop())
	ctx := context.Background()

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.FileEntries)

	require.NoError(t, store.Store(ctx, "a", []byte("1"), 0))
	require.NoError(t, store.Store(ctx, "b", []byte("2"), 0))

	stats, err = store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.FileEntries)
}
