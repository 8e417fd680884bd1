package routing

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hrygo/fincue/ai/backend"
	"github.com/hrygo/fincue/ai/confidence"
	"github.com/hrygo/fincue/ai/stats"
)

// Confidence assumed when an adapter reports none.
const (
	defaultTextConfidence  = 0.8
	defaultAudioConfidence = 0.9
)

// hybridBoost is applied to the winning confidence when both backends agree to answer.
const hybridBoost = 1.1

// attempt is one successful adapter call.
type attempt[T any] struct {
	data       T
	confidence float64
	cost       float64
	elapsed    time.Duration
	source     backend.Source
}

// task binds one input to the local and remote adapter operations for its kind.
type task[T any] struct {
	kind       backend.TaskKind
	size       int
	complexity float64
	cacheKey   string
	local      func(ctx context.Context) (attempt[T], error)
	remote     func(ctx context.Context) (attempt[T], error)
}

func orDefault(c *float64, def float64) float64 {
	if c == nil {
		return def
	}
	return *c
}

// dispatch runs t under the effective strategy, scores the result and reports it.
func dispatch[T any](ctx context.Context, r *Router, t *task[T]) (*ProcessingResult[T], error) {
	start := time.Now()
	strategy := r.strategy.Current()
	if strategy == StrategyAuto {
		strategy = r.decideAuto(t.complexity)
	}

	var (
		res *ProcessingResult[T]
		err error
	)
	switch strategy {
	case StrategyLocalFirst:
		res, err = runLocalFirst(ctx, r, t)
	case StrategyRemoteFirst:
		res, err = runRemoteFirst(ctx, r, t)
	case StrategyHybrid:
		res, err = runHybrid(ctx, r, t)
	default:
		res, err = runLocalOnly(ctx, r, t)
	}

	if err != nil {
		r.logger.Warn("dispatch failed",
			"task", t.kind,
			"strategy", strategy,
			"latency_ms", time.Since(start).Milliseconds(),
			"error", err)
		if r.observer != nil {
			r.observer.RecordDispatch(string(t.kind), string(strategy), "", time.Since(start), 0, false, false)
		}
		return nil, err
	}

	if res.Source == backend.SourceLocal {
		r.monitor.CreditSavings(r.remote.EstimateCost(t.kind, t.size))
	}
	res.Confidence = confidence.Clamp(res.Confidence)
	res.AdjustedConfidence = r.scorer.Adjust(confidence.Observation{
		Base:           res.Confidence,
		ProcessingTime: res.ProcessingTime,
		Source:         res.Source,
		FallbackUsed:   res.FallbackUsed,
		Offline:        !r.network.IsConnected(),
		Quality:        r.network.Quality(),
	})

	r.logger.Debug("dispatch completed",
		"task", t.kind,
		"strategy", res.Strategy,
		"source", res.Source,
		"confidence", res.Confidence,
		"adjusted_confidence", res.AdjustedConfidence,
		"fallback", res.FallbackUsed,
		"latency_ms", res.ProcessingTime.Milliseconds())
	if r.observer != nil {
		r.observer.RecordDispatch(string(t.kind), string(res.Strategy), string(res.Source),
			res.ProcessingTime, res.AdjustedConfidence, res.FallbackUsed, true)
	}
	return res, nil
}

func runLocalOnly[T any](ctx context.Context, r *Router, t *task[T]) (*ProcessingResult[T], error) {
	a, err := invoke(ctx, r, t, backend.SourceLocal)
	if err != nil {
		return nil, err
	}
	return result(a, StrategyLocalOnly, false, a.elapsed), nil
}

func runLocalFirst[T any](ctx context.Context, r *Router, t *task[T]) (*ProcessingResult[T], error) {
	start := time.Now()
	threshold := r.strategy.Threshold()

	local, localErr := invoke(ctx, r, t, backend.SourceLocal)
	if localErr == nil && !r.scorer.ShouldFallback(local.confidence) {
		return result(local, StrategyLocalFirst, false, local.elapsed), nil
	}

	reason := localErr
	if reason == nil {
		reason = backend.ErrInsufficientConfidence
	}
	r.logger.Debug("escalating to remote",
		"task", t.kind,
		"reason", reason,
		"threshold", threshold)

	remote, remoteErr := invoke(ctx, r, t, backend.SourceRemote)
	if remoteErr == nil {
		return result(remote, StrategyLocalFirst, true, time.Since(start)), nil
	}
	if localErr == nil {
		r.logger.Warn("remote escalation failed, keeping low-confidence local result",
			"task", t.kind,
			"confidence", local.confidence,
			"error", remoteErr)
		return result(local, StrategyLocalFirst, false, time.Since(start)), nil
	}
	return nil, &backend.ProcessingError{
		Kind:   t.kind.FailureKind(),
		Task:   t.kind,
		Source: backend.SourceRemote,
		Err:    errors.Join(localErr, remoteErr),
	}
}

func runRemoteFirst[T any](ctx context.Context, r *Router, t *task[T]) (*ProcessingResult[T], error) {
	start := time.Now()

	remote, remoteErr := invoke(ctx, r, t, backend.SourceRemote)
	if remoteErr == nil {
		return result(remote, StrategyRemoteFirst, false, remote.elapsed), nil
	}
	r.logger.Debug("remote failed, falling back to local", "task", t.kind, "error", remoteErr)

	local, localErr := invoke(ctx, r, t, backend.SourceLocal)
	if localErr != nil {
		return nil, localErr
	}
	return result(local, StrategyRemoteFirst, true, time.Since(start)), nil
}

func runHybrid[T any](ctx context.Context, r *Router, t *task[T]) (*ProcessingResult[T], error) {
	if !r.network.IsConnected() {
		return runLocalOnly(ctx, r, t)
	}

	var (
		wg                  sync.WaitGroup
		local, remote       attempt[T]
		localErr, remoteErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		local, localErr = invoke(ctx, r, t, backend.SourceLocal)
	}()
	go func() {
		defer wg.Done()
		remote, remoteErr = invoke(ctx, r, t, backend.SourceRemote)
	}()
	wg.Wait()

	switch {
	case localErr == nil && remoteErr == nil:
		winner := local
		if remote.confidence > local.confidence {
			winner = remote
		}
		return &ProcessingResult[T]{
			Data:           winner.data,
			Source:         backend.SourceHybrid,
			Confidence:     min(winner.confidence*hybridBoost, 1.0),
			ProcessingTime: max(local.elapsed, remote.elapsed),
			Strategy:       StrategyHybrid,
			CostUSD:        remote.cost,
		}, nil
	case localErr == nil:
		r.logger.Debug("hybrid remote branch failed", "task", t.kind, "error", remoteErr)
		return result(local, StrategyHybrid, false, local.elapsed), nil
	case remoteErr == nil:
		r.logger.Debug("hybrid local branch failed", "task", t.kind, "error", localErr)
		return result(remote, StrategyHybrid, false, remote.elapsed), nil
	default:
		return nil, &backend.ProcessingError{
			Kind:   t.kind.FailureKind(),
			Task:   t.kind,
			Source: backend.SourceHybrid,
			Err:    errors.Join(localErr, remoteErr),
		}
	}
}

func result[T any](a attempt[T], s Strategy, fallback bool, elapsed time.Duration) *ProcessingResult[T] {
	return &ProcessingResult[T]{
		Data:           a.data,
		Source:         a.source,
		Confidence:     a.confidence,
		ProcessingTime: elapsed,
		FallbackUsed:   fallback,
		Strategy:       s,
		CostUSD:        a.cost,
	}
}

// invoke calls one adapter, serving remote calls from the cache when possible, and records
// the outcome in the performance monitor. Savings for local results are credited by
// dispatch once the result is known to be used. Errors are always *backend.ProcessingError.
func invoke[T any](ctx context.Context, r *Router, t *task[T], source backend.Source) (attempt[T], error) {
	if source == backend.SourceRemote {
		if !r.network.IsConnected() {
			return attempt[T]{}, backend.Fail(t.kind, source, backend.ErrNetworkUnavailable)
		}
		if a, ok := cacheGet[T](r.cache, t.kind, t.cacheKey); ok {
			c := a.confidence
			r.monitor.Record(stats.Outcome{
				Source: source, Task: t.kind, Success: true, Elapsed: a.elapsed, Confidence: &c,
			})
			return a, nil
		}
	}

	call := t.local
	if source == backend.SourceRemote {
		call = t.remote
	}

	callCtx := ctx
	if r.cfg.AdapterTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.cfg.AdapterTimeout)
		defer cancel()
	}

	start := time.Now()
	a, err := call(callCtx)
	elapsed := time.Since(start)
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		err = &backend.ProcessingError{Kind: backend.ErrProcessingTimeout, Task: t.kind, Source: source, Err: err}
	}
	if err != nil {
		r.monitor.Record(stats.Outcome{Source: source, Task: t.kind, Success: false, Elapsed: elapsed})
		return attempt[T]{}, backend.Fail(t.kind, source, err)
	}

	a.source = source
	a.elapsed = elapsed
	a.confidence = confidence.Clamp(a.confidence)
	c := a.confidence
	outcome := stats.Outcome{Source: source, Task: t.kind, Success: true, Elapsed: elapsed, Confidence: &c}
	if source == backend.SourceRemote {
		outcome.CostUSD = a.cost
		cachePut(r.cache, t.cacheKey, a)
	}
	r.monitor.Record(outcome)
	return a, nil
}
