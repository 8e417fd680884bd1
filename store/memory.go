package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryDriver keeps everything in process memory. Used when no database is configured.
type MemoryDriver struct {
	mu          sync.RWMutex
	preferences map[string]*Preference
	snapshots   []*PerformanceSnapshot
	version     string
	now         func() int64
}

// NewMemoryDriver returns an empty in-memory driver.
func NewMemoryDriver() *MemoryDriver {
	return &MemoryDriver{
		preferences: make(map[string]*Preference),
		now:         nowTs,
	}
}

func (d *MemoryDriver) Close() error { return nil }

func (d *MemoryDriver) Migrate(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.version = SchemaVersion
	return nil
}

func (d *MemoryDriver) SchemaVersion(context.Context) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.version, nil
}

func (d *MemoryDriver) GetPreference(_ context.Context, key string) (string, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.preferences[key]
	if !ok {
		return "", false, nil
	}
	return p.Value, true, nil
}

func (d *MemoryDriver) SetPreference(_ context.Context, key, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.preferences[key] = &Preference{Key: key, Value: value, UpdatedTs: d.now()}
	return nil
}

func (d *MemoryDriver) ListPreferences(context.Context) ([]*Preference, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	list := make([]*Preference, 0, len(d.preferences))
	for _, p := range d.preferences {
		cp := *p
		list = append(list, &cp)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Key < list[j].Key })
	return list, nil
}

func (d *MemoryDriver) SavePerformanceSnapshot(_ context.Context, s *PerformanceSnapshot) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *s
	d.snapshots = append(d.snapshots, &cp)
	return nil
}

func (d *MemoryDriver) ListPerformanceSnapshots(_ context.Context, find *FindPerformanceSnapshot) ([]*PerformanceSnapshot, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if find == nil {
		find = &FindPerformanceSnapshot{}
	}
	var list []*PerformanceSnapshot
	for i := len(d.snapshots) - 1; i >= 0; i-- {
		s := d.snapshots[i]
		if find.Source != nil && s.Source != *find.Source {
			continue
		}
		if find.Task != nil && s.Task != *find.Task {
			continue
		}
		if find.SinceTs != nil && s.CreatedTs < *find.SinceTs {
			continue
		}
		cp := *s
		list = append(list, &cp)
		if find.Limit > 0 && len(list) == find.Limit {
			break
		}
	}
	return list, nil
}

func (d *MemoryDriver) DeletePerformanceSnapshots(_ context.Context, before int64) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	kept := d.snapshots[:0]
	var deleted int64
	for _, s := range d.snapshots {
		if s.CreatedTs < before {
			deleted++
			continue
		}
		kept = append(kept, s)
	}
	d.snapshots = kept
	return deleted, nil
}
