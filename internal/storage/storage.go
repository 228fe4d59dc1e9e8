// Package storage persists cache partitions: named key to response stores.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/nestelia/internal/models"
)

// ErrNotFound is returned when a partition has no entry for a key.
var ErrNotFound = errors.New("cache entry not found")

// Storage holds cache partitions. Implementations are safe for concurrent use;
// single-key reads and writes are atomic and the last write for a key wins.
type Storage interface {
	// Partition operations
	OpenPartition(ctx context.Context, name string) error
	HasPartition(ctx context.Context, name string) (bool, error)
	Partitions(ctx context.Context) ([]string, error)
	// DeletePartition removes a partition with all its entries and reports whether it existed.
	DeletePartition(ctx context.Context, name string) (bool, error)

	// Entry operations. Put opens the partition if needed.
	Match(ctx context.Context, partition, key string) (*models.CachedResponse, error)
	Put(ctx context.Context, partition, key string, resp *models.CachedResponse) error
	// PutAll stores every entry or none of them.
	PutAll(ctx context.Context, partition string, entries map[string]*models.CachedResponse) error
	Delete(ctx context.Context, partition, key string) error
	Keys(ctx context.Context, partition string) ([]string, error)

	// Stats
	CountEntries(ctx context.Context, partition string) (int64, error)

	Close() error
}
