package stats

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hrygo/fincue/store"
)

const saveTimeout = 5 * time.Second

// Persister writes snapshots to a store asynchronously. Enqueue never blocks; snapshots
// are dropped when the queue is full.
type Persister struct {
	store  store.SnapshotStore
	queue  chan *Snapshot
	wg     sync.WaitGroup
	logger *slog.Logger
	stopCh chan struct{}
	once   sync.Once
}

// NewPersister starts the background writer.
func NewPersister(s store.SnapshotStore, queueSize int, logger *slog.Logger) *Persister {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	p := &Persister{
		store:  s,
		queue:  make(chan *Snapshot, queueSize),
		logger: logger,
		stopCh: make(chan struct{}),
	}
	p.wg.Add(1)
	go p.processQueue()
	return p
}

// Enqueue queues s and reports whether it was accepted.
func (p *Persister) Enqueue(s *Snapshot) bool {
	select {
	case <-p.stopCh:
		return false
	default:
	}
	select {
	case p.queue <- s:
		return true
	default:
		p.logger.Warn("snapshot queue full, dropping snapshot",
			"snapshot_id", s.ID,
			"queue_size", len(p.queue))
		return false
	}
}

func (p *Persister) processQueue() {
	defer p.wg.Done()
	for {
		select {
		case s := <-p.queue:
			if err := p.save(s); err != nil {
				p.logger.Error("failed to save snapshot", "snapshot_id", s.ID, "error", err)
			}
		case <-p.stopCh:
			p.drainQueue()
			return
		}
	}
}

func (p *Persister) save(s *Snapshot) error {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	return p.store.SavePerformanceSnapshot(ctx, toStore(s))
}

func toStore(s *Snapshot) *store.PerformanceSnapshot {
	return &store.PerformanceSnapshot{
		ID:           s.ID,
		CreatedTs:    s.Timestamp.Unix(),
		Source:       string(s.Source),
		Task:         string(s.Task),
		Success:      s.Success,
		ProcessingMs: s.ProcessingTime.Milliseconds(),
		Confidence:   s.Confidence,
		CostUSD:      s.CostUSD,
	}
}

func (p *Persister) drainQueue() {
	saved, lost := 0, 0
	for {
		select {
		case s := <-p.queue:
			if err := p.save(s); err != nil {
				lost++
				p.logger.Error("failed to save snapshot during shutdown", "snapshot_id", s.ID, "error", err)
				continue
			}
			saved++
		default:
			if lost > 0 {
				p.logger.Error("snapshot persister stopped with data loss", "saved", saved, "lost", lost)
			}
			return
		}
	}
}

// Close stops accepting snapshots and waits up to timeout for the queue to drain.
func (p *Persister) Close(timeout time.Duration) error {
	p.once.Do(func() {
		close(p.stopCh)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		p.logger.Warn("snapshot persister shutdown timed out", "remaining", len(p.queue))
		return context.DeadlineExceeded
	}
}

// QueueSize returns the number of snapshots waiting to be written.
func (p *Persister) QueueSize() int {
	return len(p.queue)
}
