package routing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hrygo/fincue/ai/backend"
	"github.com/hrygo/fincue/ai/capability"
	"github.com/hrygo/fincue/ai/confidence"
	"github.com/hrygo/fincue/ai/network"
	"github.com/hrygo/fincue/ai/stats"
)

// Observer receives dispatch-level events, e.g. for Prometheus.
type Observer interface {
	RecordDispatch(task, strategy, source string, latency time.Duration, confidence float64, fallback, success bool)
	SetEffectiveStrategy(current string, all []string)
	RecordCacheHit(task string)
	RecordCacheMiss(task string)
}

// Config contains the router configuration.
type Config struct {
	// AdapterTimeout bounds each adapter call; 0 disables the timeout.
	AdapterTimeout time.Duration
	// Device is the hardware profile used by Auto.
	Device capability.DeviceProfile
	// CacheSize is the number of remote results kept; negative disables the cache.
	CacheSize int
	CacheTTL  time.Duration
}

// DefaultConfig returns a Config with the detected device profile.
func DefaultConfig() Config {
	return Config{
		Device:    capability.DetectDevice(),
		CacheSize: 256,
		CacheTTL:  10 * time.Minute,
	}
}

// Deps are the collaborators a Router dispatches through.
type Deps struct {
	Local    backend.Local
	Remote   backend.Remote
	Network  network.Monitor
	Strategy *StrategyState
	Monitor  *stats.Monitor
	Observer Observer
	Logger   *slog.Logger
}

// Router dispatches tasks to the local and remote backends according to the effective
// strategy. It is safe for concurrent use.
type Router struct {
	cfg      Config
	local    backend.Local
	remote   backend.Remote
	network  network.Monitor
	strategy *StrategyState
	monitor  *stats.Monitor
	scorer   *confidence.Scorer
	cache    *resultCache
	observer Observer
	logger   *slog.Logger

	deviceMu sync.RWMutex
	device   capability.DeviceProfile

	bgWg sync.WaitGroup
}

// NewRouter creates a router. Local and Remote are required. A nil Network is treated as
// permanently connected with unknown quality, a nil Strategy as an in-memory state seeded
// from the local backend's capabilities, and a nil Monitor as a default monitor.
func NewRouter(cfg Config, deps Deps) (*Router, error) {
	if deps.Local == nil || deps.Remote == nil {
		return nil, ErrMissingBackend
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	netMon := deps.Network
	if netMon == nil {
		netMon = network.NewStaticMonitor(true, network.QualityUnknown)
	}
	state := deps.Strategy
	if state == nil {
		var err error
		state, err = NewStrategyState(context.Background(), nil, deps.Local.Capabilities(), logger)
		if err != nil {
			return nil, err
		}
	}
	monitor := deps.Monitor
	if monitor == nil {
		var err error
		monitor, err = stats.NewMonitor(stats.DefaultConfig(), logger)
		if err != nil {
			return nil, err
		}
	}

	r := &Router{
		cfg:      cfg,
		local:    deps.Local,
		remote:   deps.Remote,
		network:  netMon,
		strategy: state,
		monitor:  monitor,
		scorer:   confidence.NewScorer(state.Threshold),
		observer: deps.Observer,
		logger:   logger,
		device:   cfg.Device,
	}
	if cfg.CacheSize >= 0 {
		r.cache = newResultCache(cfg.CacheSize, cfg.CacheTTL, deps.Observer)
	}
	if r.observer != nil {
		r.observer.SetEffectiveStrategy(string(state.Current()), strategyNames())
		state.OnChange(func(c StrategyChange) {
			r.observer.SetEffectiveStrategy(string(c.Current), strategyNames())
		})
	}
	return r, nil
}

// Strategy returns the router's strategy state.
func (r *Router) Strategy() *StrategyState { return r.strategy }

// Monitor returns the router's performance monitor.
func (r *Router) Monitor() *stats.Monitor { return r.monitor }

// Network returns the network monitor the router consults.
func (r *Router) Network() network.Monitor { return r.network }

// Capabilities reports what the local backend can do offline.
func (r *Router) Capabilities() capability.OfflineCapabilities { return r.local.Capabilities() }

// SetDevice replaces the device profile used by Auto, e.g. after a power state change.
func (r *Router) SetDevice(p capability.DeviceProfile) {
	r.deviceMu.Lock()
	defer r.deviceMu.Unlock()
	r.device = p
}

// DeviceCapability scores the current device profile.
func (r *Router) DeviceCapability() float64 {
	r.deviceMu.RLock()
	defer r.deviceMu.RUnlock()
	return capability.DeviceCapability(r.device)
}

// Start applies the current connectivity and follows network events until ctx is done.
func (r *Router) Start(ctx context.Context) {
	events, unsubscribe := r.network.Subscribe()
	r.strategy.OnConnectivityChanged(r.network.IsConnected())

	r.bgWg.Add(1)
	go func() {
		defer r.bgWg.Done()
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				r.strategy.OnConnectivityChanged(ev.Connected)
			}
		}
	}()
}

// Wait blocks until the goroutine started by Start exits.
func (r *Router) Wait() {
	r.bgWg.Wait()
}

// ProcessText parses a free-text transaction description.
func (r *Router) ProcessText(ctx context.Context, text string) (*ProcessingResult[backend.ParsedTransaction], error) {
	t := &task[backend.ParsedTransaction]{
		kind:       backend.TaskText,
		size:       len(text),
		complexity: capability.TextComplexity(text),
		cacheKey:   cacheKey(backend.TaskText, []byte(text)),
		local: func(ctx context.Context) (attempt[backend.ParsedTransaction], error) {
			res, err := r.local.ParseText(ctx, text)
			if err != nil {
				return attempt[backend.ParsedTransaction]{}, err
			}
			return attempt[backend.ParsedTransaction]{data: res.Transaction, confidence: orDefault(res.Confidence, defaultTextConfidence)}, nil
		},
		remote: func(ctx context.Context) (attempt[backend.ParsedTransaction], error) {
			res, err := r.remote.ParseText(ctx, text)
			if err != nil {
				return attempt[backend.ParsedTransaction]{}, err
			}
			return attempt[backend.ParsedTransaction]{data: res.Transaction, confidence: orDefault(res.Confidence, defaultTextConfidence), cost: res.CostUSD}, nil
		},
	}
	return dispatch(ctx, r, t)
}

// ProcessImage extracts receipt fields from an encoded image.
func (r *Router) ProcessImage(ctx context.Context, img backend.ImageInput) (*ProcessingResult[backend.ExtractedReceipt], error) {
	t := &task[backend.ExtractedReceipt]{
		kind:       backend.TaskImage,
		size:       len(img.Data),
		complexity: capability.ImageComplexity(img.Width, img.Height),
		cacheKey:   cacheKey(backend.TaskImage, img.Data),
		local: func(ctx context.Context) (attempt[backend.ExtractedReceipt], error) {
			res, err := r.local.ExtractReceipt(ctx, img)
			if err != nil {
				return attempt[backend.ExtractedReceipt]{}, err
			}
			return attempt[backend.ExtractedReceipt]{data: res.Receipt, confidence: res.Receipt.Confidence}, nil
		},
		remote: func(ctx context.Context) (attempt[backend.ExtractedReceipt], error) {
			res, err := r.remote.ExtractReceipt(ctx, img)
			if err != nil {
				return attempt[backend.ExtractedReceipt]{}, err
			}
			return attempt[backend.ExtractedReceipt]{data: res.Receipt, confidence: res.Receipt.Confidence, cost: res.CostUSD}, nil
		},
	}
	return dispatch(ctx, r, t)
}

// ProcessAudio transcribes a voice clip.
func (r *Router) ProcessAudio(ctx context.Context, audio []byte) (*ProcessingResult[string], error) {
	t := &task[string]{
		kind:       backend.TaskAudio,
		size:       len(audio),
		complexity: capability.AudioComplexity(len(audio)),
		cacheKey:   cacheKey(backend.TaskAudio, audio),
		local: func(ctx context.Context) (attempt[string], error) {
			res, err := r.local.Transcribe(ctx, audio)
			if err != nil {
				return attempt[string]{}, err
			}
			return attempt[string]{data: res.Text, confidence: orDefault(res.Confidence, defaultAudioConfidence)}, nil
		},
		remote: func(ctx context.Context) (attempt[string], error) {
			res, err := r.remote.Transcribe(ctx, audio)
			if err != nil {
				return attempt[string]{}, err
			}
			return attempt[string]{data: res.Text, confidence: orDefault(res.Confidence, defaultAudioConfidence), cost: res.CostUSD}, nil
		},
	}
	return dispatch(ctx, r, t)
}
