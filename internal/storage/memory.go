package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/patrickmn/go-cache"

	"github.com/hyperjump/nestelia/internal/models"
)

// MemoryStorage implements Storage in process memory, one go-cache per partition.
// Entries never expire; partitions are only removed by generation activation.
type MemoryStorage struct {
	mu         sync.RWMutex
	partitions map[string]*cache.Cache
}

// NewMemoryStorage returns an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{partitions: make(map[string]*cache.Cache)}
}

func (s *MemoryStorage) partition(name string, create bool) *cache.Cache {
	s.mu.RLock()
	c := s.partitions[name]
	s.mu.RUnlock()
	if c != nil || !create {
		return c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c = s.partitions[name]; c == nil {
		c = cache.New(cache.NoExpiration, 0)
		s.partitions[name] = c
	}
	return c
}

// OpenPartition creates the partition if it does not exist.
func (s *MemoryStorage) OpenPartition(_ context.Context, name string) error {
	s.partition(name, true)
	return nil
}

// HasPartition reports whether the partition exists.
func (s *MemoryStorage) HasPartition(_ context.Context, name string) (bool, error) {
	return s.partition(name, false) != nil, nil
}

// Partitions returns partition names in name order.
func (s *MemoryStorage) Partitions(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.partitions))
	for name := range s.partitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// DeletePartition drops a partition and its entries.
func (s *MemoryStorage) DeletePartition(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.partitions[name]
	if ok {
		c.Flush()
		delete(s.partitions, name)
	}
	return ok, nil
}

// Match returns a copy of the entry stored under key, or ErrNotFound.
func (s *MemoryStorage) Match(_ context.Context, partition, key string) (*models.CachedResponse, error) {
	c := s.partition(partition, false)
	if c == nil {
		return nil, ErrNotFound
	}
	if x, found := c.Get(key); found {
		return x.(*models.CachedResponse).Clone(), nil
	}
	return nil, ErrNotFound
}

// Put stores a copy of resp under key.
func (s *MemoryStorage) Put(_ context.Context, partition, key string, resp *models.CachedResponse) error {
	s.partition(partition, true).Set(key, resp.Clone(), cache.NoExpiration)
	return nil
}

// PutAll stores a copy of every entry. Set cannot fail, so the batch never lands partially.
func (s *MemoryStorage) PutAll(_ context.Context, partition string, entries map[string]*models.CachedResponse) error {
	c := s.partition(partition, true)
	for key, resp := range entries {
		c.Set(key, resp.Clone(), cache.NoExpiration)
	}
	return nil
}

// Delete removes one entry.
func (s *MemoryStorage) Delete(_ context.Context, partition, key string) error {
	if c := s.partition(partition, false); c != nil {
		c.Delete(key)
	}
	return nil
}

// Keys returns the keys of a partition in key order.
func (s *MemoryStorage) Keys(_ context.Context, partition string) ([]string, error) {
	c := s.partition(partition, false)
	if c == nil {
		return nil, nil
	}
	items := c.Items()
	keys := make([]string, 0, len(items))
	for key := range items {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// CountEntries returns the number of entries in a partition.
func (s *MemoryStorage) CountEntries(_ context.Context, partition string) (int64, error) {
	c := s.partition(partition, false)
	if c == nil {
		return 0, nil
	}
	return int64(c.ItemCount()), nil
}

// Close releases all partitions.
func (s *MemoryStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, c := range s.partitions {
		c.Flush()
		delete(s.partitions, name)
	}
	return nil
}
