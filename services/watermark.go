package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const watermarkKeyPrefix = "points:watermark:"

// WatermarkStore persists the per-account last-awarded timestamp. The mark
// only ever moves forward and only to the start of a local day; it is written
// exclusively by the awarder after a successful (or explicitly zero-point)
// conversion.
type WatermarkStore interface {
	Get(ctx context.Context, userID uint) (time.Time, bool, error)
	Set(ctx context.Context, userID uint, mark time.Time) error
}

// RedisWatermarkStore keeps watermarks in Redis without expiry. Redis must be
// running with persistence enabled for the forward-only guarantee to survive
// restarts.
type RedisWatermarkStore struct {
	rdb *redis.Client
}

// NewRedisWatermarkStore creates a watermark store over the given client.
func NewRedisWatermarkStore(rdb *redis.Client) *RedisWatermarkStore {
	return &RedisWatermarkStore{rdb: rdb}
}

// Get returns the stored watermark, or ok=false when none exists yet.
func (s *RedisWatermarkStore) Get(ctx context.Context, userID uint) (time.Time, bool, error) {
	val, err := s.rdb.Get(ctx, watermarkKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("watermark read: %w", err)
	}
	mark, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("watermark parse: %w", err)
	}
	return mark, true, nil
}

// Set persists a new watermark.
func (s *RedisWatermarkStore) Set(ctx context.Context, userID uint, mark time.Time) error {
	if err := s.rdb.Set(ctx, watermarkKey(userID), mark.Format(time.RFC3339), 0).Err(); err != nil {
		return fmt.Errorf("watermark write: %w", err)
	}
	return nil
}

func watermarkKey(userID uint) string {
	return watermarkKeyPrefix + strconv.FormatUint(uint64(userID), 10)
}

// MemoryWatermarkStore is an in-process WatermarkStore for tests and
// single-instance deployments without Redis.
type MemoryWatermarkStore struct {
	mu    sync.RWMutex
	marks map[uint]time.Time
}

// NewMemoryWatermarkStore creates an empty in-memory store.
func NewMemoryWatermarkStore() *MemoryWatermarkStore {
	return &MemoryWatermarkStore{marks: map[uint]time.Time{}}
}

func (s *MemoryWatermarkStore) Get(ctx context.Context, userID uint) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mark, ok := s.marks[userID]
	return mark, ok, nil
}

func (s *MemoryWatermarkStore) Set(ctx context.Context, userID uint, mark time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marks[userID] = mark
	return nil
}
