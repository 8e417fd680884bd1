package store

import (
	"context"
)

// PerformanceSnapshot is the stored form of one backend call outcome.
type PerformanceSnapshot struct {
	ID           string
	CreatedTs    int64
	Source       string
	Task         string
	Success      bool
	ProcessingMs int64
	// Confidence is nil for failed calls.
	Confidence *float64
	CostUSD    float64
}

// FindPerformanceSnapshot filters ListPerformanceSnapshots. Results are newest first.
type FindPerformanceSnapshot struct {
	Source  *string
	Task    *string
	SinceTs *int64
	Limit   int
}

// SnapshotStore persists performance snapshots.
type SnapshotStore interface {
	SavePerformanceSnapshot(ctx context.Context, snapshot *PerformanceSnapshot) error
}
