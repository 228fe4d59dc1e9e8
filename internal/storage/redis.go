package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hyperjump/nestelia/internal/models"
)

// RedisStorage implements Storage on Redis so several proxies can share partitions.
// Partition names live in the set <namespace>:partitions; each partition is the hash
// <namespace>:partition:<name> mapping keys to JSON-encoded responses.
type RedisStorage struct {
	client    *redis.Client
	namespace string
}

// NewRedisStorage connects to redisURL and verifies the connection.
func NewRedisStorage(ctx context.Context, redisURL, namespace string) (*RedisStorage, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	if namespace == "" {
		namespace = "nestelia"
	}
	return &RedisStorage{client: client, namespace: namespace}, nil
}

func (s *RedisStorage) setKey() string {
	return s.namespace + ":partitions"
}

func (s *RedisStorage) hashKey(partition string) string {
	return s.namespace + ":partition:" + partition
}

// OpenPartition registers the partition name.
func (s *RedisStorage) OpenPartition(ctx context.Context, name string) error {
	return s.client.SAdd(ctx, s.setKey(), name).Err()
}

// HasPartition reports whether the partition is registered.
func (s *RedisStorage) HasPartition(ctx context.Context, name string) (bool, error) {
	return s.client.SIsMember(ctx, s.setKey(), name).Result()
}

// Partitions returns partition names in name order.
func (s *RedisStorage) Partitions(ctx context.Context) ([]string, error) {
	names, err := s.client.SMembers(ctx, s.setKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// DeletePartition unregisters the partition and unlinks its hash atomically.
func (s *RedisStorage) DeletePartition(ctx context.Context, name string) (bool, error) {
	var removed *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.SRem(ctx, s.setKey(), name)
		pipe.Unlink(ctx, s.hashKey(name))
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete partition %s: %w", name, err)
	}
	return removed.Val() > 0, nil
}

// Match returns the entry stored under key, or ErrNotFound.
func (s *RedisStorage) Match(ctx context.Context, partition, key string) (*models.CachedResponse, error) {
	val, err := s.client.HGet(ctx, s.hashKey(partition), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entry: %w", err)
	}
	var resp models.CachedResponse
	if err := json.Unmarshal(val, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entry: %w", err)
	}
	return &resp, nil
}

// Put stores resp under key.
func (s *RedisStorage) Put(ctx context.Context, partition, key string, resp *models.CachedResponse) error {
	return s.PutAll(ctx, partition, map[string]*models.CachedResponse{key: resp})
}

// PutAll writes all entries in one MULTI/EXEC transaction.
func (s *RedisStorage) PutAll(ctx context.Context, partition string, entries map[string]*models.CachedResponse) error {
	values := make([]any, 0, len(entries)*2)
	for key, resp := range entries {
		stored := *resp
		if stored.StoredAt.IsZero() {
			stored.StoredAt = time.Now()
		}
		data, err := json.Marshal(&stored)
		if err != nil {
			return fmt.Errorf("failed to marshal entry: %w", err)
		}
		values = append(values, key, data)
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, s.setKey(), partition)
		if len(values) > 0 {
			pipe.HSet(ctx, s.hashKey(partition), values...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store entries: %w", err)
	}
	return nil
}

// Delete removes one entry.
func (s *RedisStorage) Delete(ctx context.Context, partition, key string) error {
	return s.client.HDel(ctx, s.hashKey(partition), key).Err()
}

// Keys returns the keys of a partition in key order.
func (s *RedisStorage) Keys(ctx context.Context, partition string) ([]string, error) {
	keys, err := s.client.HKeys(ctx, s.hashKey(partition)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// CountEntries returns the number of entries in a partition.
func (s *RedisStorage) CountEntries(ctx context.Context, partition string) (int64, error) {
	return s.client.HLen(ctx, s.hashKey(partition)).Result()
}

// Close closes the Redis connection.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}
