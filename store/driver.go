package store

import (
	"context"
)

// Driver is implemented by each database backend.
type Driver interface {
	Close() error

	// Migrate brings the schema up to the latest version.
	Migrate(ctx context.Context) error
	// SchemaVersion returns the last applied migration version, or "" for a fresh database.
	SchemaVersion(ctx context.Context) (string, error)

	GetPreference(ctx context.Context, key string) (string, bool, error)
	SetPreference(ctx context.Context, key, value string) error
	ListPreferences(ctx context.Context) ([]*Preference, error)

	SavePerformanceSnapshot(ctx context.Context, snapshot *PerformanceSnapshot) error
	ListPerformanceSnapshots(ctx context.Context, find *FindPerformanceSnapshot) ([]*PerformanceSnapshot, error)
	DeletePerformanceSnapshots(ctx context.Context, before int64) (int64, error)
}
