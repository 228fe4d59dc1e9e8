package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStorage(t *testing.T) {
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer store.Close()
	testStorage(t, store)
}

func TestSQLiteStorage_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cache.db")
	ctx := context.Background()

	store, err := NewSQLiteStorage(path)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "nestelia-v1", "GET https://h/", response(200, "root")))
	require.NoError(t, store.OpenPartition(ctx, "nestelia-runtime-v1"))
	require.NoError(t, store.Close())

	store, err = NewSQLiteStorage(path)
	require.NoError(t, err)
	defer store.Close()

	names, err := store.Partitions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"nestelia-runtime-v1", "nestelia-v1"}, names)

	got, err := store.Match(ctx, "nestelia-v1", "GET https://h/")
	require.NoError(t, err)
	assert.Equal(t, "root", string(got.Body))
}

func TestSQLiteStorage_ConcurrentPuts(t *testing.T) {
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.Put(ctx, "nestelia-runtime-v1", "GET https://h/shared", response(200, "body")))
		}()
	}
	wg.Wait()

	n, err := store.CountEntries(ctx, "nestelia-runtime-v1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
