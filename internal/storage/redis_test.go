package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRedisStorage(t *testing.T) {
	url := os.Getenv("NESTELIA_TEST_REDIS_URL")
	if url == "" {
		t.Skip("NESTELIA_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	namespace := fmt.Sprintf("nestelia-test-%d", time.Now().UnixNano())

	store, err := NewRedisStorage(ctx, url, namespace)
	require.NoError(t, err)
	defer func() {
		names, _ := store.Partitions(ctx)
		for _, name := range names {
			_, _ = store.DeletePartition(ctx, name)
		}
		_ = store.Close()
	}()

	testStorage(t, store)
}

func TestNewRedisStorage_InvalidURL(t *testing.T) {
	_, err := NewRedisStorage(context.Background(), "not a url", "")
	require.Error(t, err)
}
