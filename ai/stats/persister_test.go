package stats

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/fincue/ai/backend"
	"github.com/hrygo/fincue/store"
)

type fakeSnapshotStore struct {
	mu    sync.Mutex
	saved []*store.PerformanceSnapshot
	err   error
	block chan struct{}
}

func (f *fakeSnapshotStore) SavePerformanceSnapshot(_ context.Context, s *store.PerformanceSnapshot) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, s)
	return nil
}

func (f *fakeSnapshotStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

func TestPersister_SavesAndDrains(t *testing.T) {
	fs := &fakeSnapshotStore{}
	p := NewPersister(fs, 10, nil)

	ts := time.Unix(1_700_000_000, 0)
	for i := 0; i < 5; i++ {
		ok := p.Enqueue(&Snapshot{
			ID:             string(rune('a' + i)),
			Timestamp:      ts,
			Source:         backend.SourceRemote,
			Task:           backend.TaskImage,
			Success:        true,
			ProcessingTime: 1500 * time.Millisecond,
			Confidence:     conf(0.8),
			CostUSD:        0.01,
		})
		assert.True(t, ok)
	}

	require.NoError(t, p.Close(time.Second))
	require.Equal(t, 5, fs.count())

	got := fs.saved[0]
	assert.Equal(t, int64(1_700_000_000), got.CreatedTs)
	assert.Equal(t, "remote", got.Source)
	assert.Equal(t, "image", got.Task)
	assert.Equal(t, int64(1500), got.ProcessingMs)

	assert.False(t, p.Enqueue(&Snapshot{ID: "late"}), "closed persister rejects snapshots")
}

func TestPersister_DropsWhenFull(t *testing.T) {
	fs := &fakeSnapshotStore{block: make(chan struct{})}
	p := NewPersister(fs, 1, nil)

	accepted := 0
	for i := 0; i < 5; i++ {
		if p.Enqueue(&Snapshot{ID: "x"}) {
			accepted++
		}
	}
	assert.Less(t, accepted, 5)

	close(fs.block)
	require.NoError(t, p.Close(time.Second))
	assert.Equal(t, accepted, fs.count())
}

func TestPersister_StoreErrorsDoNotStopQueue(t *testing.T) {
	fs := &fakeSnapshotStore{err: errors.New("db down")}
	p := NewPersister(fs, 4, nil)
	p.Enqueue(&Snapshot{ID: "a"})
	p.Enqueue(&Snapshot{ID: "b"})
	require.NoError(t, p.Close(time.Second))
	assert.Equal(t, 0, p.QueueSize())
}

func TestPersister_CloseTimeout(t *testing.T) {
	fs := &fakeSnapshotStore{block: make(chan struct{})}
	defer close(fs.block)
	p := NewPersister(fs, 4, nil)
	p.Enqueue(&Snapshot{ID: "stuck"})

	assert.ErrorIs(t, p.Close(10*time.Millisecond), context.DeadlineExceeded)
}
