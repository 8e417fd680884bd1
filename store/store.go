package store

import (
	"context"
	"time"

	"github.com/hrygo/fincue/ai/cache"
)

// SchemaVersion is the latest schema version every driver migrates to.
const SchemaVersion = "v0.2.0"

const (
	preferenceCacheSize = 64
	preferenceCacheTTL  = 10 * time.Minute
)

// Store wraps a Driver with a read-through preference cache.
type Store struct {
	driver          Driver
	preferenceCache *cache.LRUCache[string, string]
}

// New creates a new instance of Store.
func New(driver Driver) *Store {
	return &Store{
		driver:          driver,
		preferenceCache: cache.NewLRUCache[string, string](preferenceCacheSize, preferenceCacheTTL),
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	s.preferenceCache.Clear()
	return s.driver.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

func (s *Store) GetPreference(ctx context.Context, key string) (string, bool, error) {
	if v, ok := s.preferenceCache.Get(key); ok {
		return v, true, nil
	}
	v, ok, err := s.driver.GetPreference(ctx, key)
	if err != nil || !ok {
		return "", false, err
	}
	s.preferenceCache.Set(key, v, 0)
	return v, true, nil
}

func (s *Store) SetPreference(ctx context.Context, key, value string) error {
	if err := s.driver.SetPreference(ctx, key, value); err != nil {
		s.preferenceCache.Remove(key)
		return err
	}
	s.preferenceCache.Set(key, value, 0)
	return nil
}

func (s *Store) ListPreferences(ctx context.Context) ([]*Preference, error) {
	return s.driver.ListPreferences(ctx)
}

func (s *Store) SavePerformanceSnapshot(ctx context.Context, snapshot *PerformanceSnapshot) error {
	return s.driver.SavePerformanceSnapshot(ctx, snapshot)
}

func (s *Store) ListPerformanceSnapshots(ctx context.Context, find *FindPerformanceSnapshot) ([]*PerformanceSnapshot, error) {
	return s.driver.ListPerformanceSnapshots(ctx, find)
}

// PrunePerformanceSnapshots deletes snapshots older than retention.
func (s *Store) PrunePerformanceSnapshots(ctx context.Context, retention time.Duration) (int64, error) {
	return s.driver.DeletePerformanceSnapshots(ctx, time.Now().Add(-retention).Unix())
}

func nowTs() int64 {
	return time.Now().Unix()
}
