package routing

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/hrygo/fincue/ai/backend"
)

// DefaultBatchConcurrency bounds ProcessTextBatch when no limit is given.
const DefaultBatchConcurrency = 4

// BatchItem is the outcome for one input of a batch.
type BatchItem struct {
	Index  int
	Result *ProcessingResult[backend.ParsedTransaction]
	Err    error
}

// ProcessTextBatch dispatches texts with at most concurrency in flight. Items fail
// independently; the returned slice is in input order.
func (r *Router) ProcessTextBatch(ctx context.Context, texts []string, concurrency int) []BatchItem {
	if concurrency <= 0 {
		concurrency = DefaultBatchConcurrency
	}
	items := make([]BatchItem, len(texts))

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, text := range texts {
		g.Go(func() error {
			items[i].Index = i
			if err := ctx.Err(); err != nil {
				items[i].Err = err
				return nil
			}
			items[i].Result, items[i].Err = r.ProcessText(ctx, text)
			return nil
		})
	}
	_ = g.Wait()
	return items
}
