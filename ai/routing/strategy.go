package routing

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/hrygo/fincue/ai/capability"
	"github.com/hrygo/fincue/store"
)

// Preference keys.
const (
	PreferenceStrategy  = "routing.strategy"
	PreferenceThreshold = "routing.confidence_threshold"
)

// DefaultThreshold is the LocalFirst acceptance threshold.
const DefaultThreshold = 0.85

// InitialStrategy picks the first-run strategy from the offline capability score.
func InitialStrategy(score float64) Strategy {
	switch {
	case score < 0.5:
		return StrategyRemoteFirst
	case score < 0.8:
		return StrategyHybrid
	default:
		return StrategyLocalFirst
	}
}

// StrategyState holds the user's preferred strategy and the strategy in effect.
// Connectivity loss forces LocalOnly without touching the stored preference.
type StrategyState struct {
	prefs  store.PreferenceStore
	logger *slog.Logger
	now    func() time.Time

	// writeMu serializes Update and SetThreshold so the stored and in-memory values agree.
	writeMu sync.Mutex

	mu              sync.RWMutex
	preferred       Strategy
	current         Strategy
	offlineOverride bool
	forced          bool
	threshold       float64
	listeners       []func(StrategyChange)
}

// NewStrategyState loads the persisted strategy and threshold from prefs. On first run the
// strategy is derived from caps and persisted. prefs may be nil for an in-memory state.
func NewStrategyState(ctx context.Context, prefs store.PreferenceStore, caps capability.OfflineCapabilities, logger *slog.Logger) (*StrategyState, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &StrategyState{
		prefs:     prefs,
		logger:    logger,
		now:       time.Now,
		threshold: DefaultThreshold,
	}

	preferred, err := s.loadStrategy(ctx)
	if err != nil {
		return nil, err
	}
	if preferred == "" {
		preferred = InitialStrategy(caps.OverallScore())
		if err := s.persist(ctx, PreferenceStrategy, string(preferred)); err != nil {
			return nil, err
		}
		logger.Info("initial routing strategy selected",
			"strategy", preferred,
			"offline_score", caps.OverallScore())
	}
	s.preferred = preferred
	s.current = preferred
	s.offlineOverride = preferred == StrategyLocalOnly

	if err := s.loadThreshold(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *StrategyState) loadStrategy(ctx context.Context) (Strategy, error) {
	if s.prefs == nil {
		return "", nil
	}
	v, ok, err := s.prefs.GetPreference(ctx, PreferenceStrategy)
	if err != nil {
		return "", fmt.Errorf("load strategy preference: %w", err)
	}
	if !ok {
		return "", nil
	}
	st, err := ParseStrategy(v)
	if err != nil {
		s.logger.Warn("ignoring invalid stored strategy", "value", v)
		return "", nil
	}
	return st, nil
}

func (s *StrategyState) loadThreshold(ctx context.Context) error {
	if s.prefs == nil {
		return nil
	}
	v, ok, err := s.prefs.GetPreference(ctx, PreferenceThreshold)
	if err != nil {
		return fmt.Errorf("load threshold preference: %w", err)
	}
	if !ok {
		return nil
	}
	t, err := strconv.ParseFloat(v, 64)
	if err != nil || !validThreshold(t) {
		s.logger.Warn("ignoring invalid stored threshold", "value", v)
		return nil
	}
	s.threshold = t
	return nil
}

func (s *StrategyState) persist(ctx context.Context, key, value string) error {
	if s.prefs == nil {
		return nil
	}
	if err := s.prefs.SetPreference(ctx, key, value); err != nil {
		return fmt.Errorf("persist %s: %w", key, err)
	}
	return nil
}

// Current returns the effective strategy.
func (s *StrategyState) Current() Strategy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Preferred returns the stored user preference.
func (s *StrategyState) Preferred() Strategy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.preferred
}

// OfflineOverride reports whether the user chose LocalOnly.
func (s *StrategyState) OfflineOverride() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.offlineOverride
}

// Forced reports whether connectivity loss is currently overriding the preference.
func (s *StrategyState) Forced() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.forced
}

// Update stores a new preference. While forced offline the effective strategy stays
// LocalOnly until connectivity returns.
func (s *StrategyState) Update(ctx context.Context, st Strategy) error {
	if !st.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStrategy, st)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.persist(ctx, PreferenceStrategy, string(st)); err != nil {
		return err
	}

	s.mu.Lock()
	prev := s.current
	s.preferred = st
	s.offlineOverride = st == StrategyLocalOnly
	if !s.forced {
		s.current = st
	}
	change := s.changeLocked(prev)
	s.mu.Unlock()

	s.logger.Info("routing strategy updated", "preferred", st, "effective", change.Current)
	s.notify(change)
	return nil
}

// OnConnectivityChanged applies a connectivity transition.
func (s *StrategyState) OnConnectivityChanged(connected bool) {
	s.mu.Lock()
	prev := s.current
	switch {
	case !connected && !s.forced:
		s.forced = true
		s.current = StrategyLocalOnly
	case connected && s.forced:
		s.forced = false
		s.current = s.preferred
	default:
		s.mu.Unlock()
		return
	}
	change := s.changeLocked(prev)
	s.mu.Unlock()

	s.logger.Info("connectivity changed",
		"connected", connected,
		"effective", change.Current,
		"preferred", change.Preferred)
	s.notify(change)
}

// Threshold returns the LocalFirst acceptance threshold.
func (s *StrategyState) Threshold() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.threshold
}

// SetThreshold validates and persists a new acceptance threshold.
func (s *StrategyState) SetThreshold(ctx context.Context, v float64) error {
	if !validThreshold(v) {
		return fmt.Errorf("%w: %v", ErrInvalidThreshold, v)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.persist(ctx, PreferenceThreshold, strconv.FormatFloat(v, 'f', -1, 64)); err != nil {
		return err
	}
	s.mu.Lock()
	s.threshold = v
	s.mu.Unlock()
	return nil
}

// OnChange registers fn to be called after every effective or preferred strategy change.
// Listeners run synchronously on the goroutine that caused the change.
func (s *StrategyState) OnChange(fn func(StrategyChange)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *StrategyState) changeLocked(prev Strategy) StrategyChange {
	return StrategyChange{
		Previous:  prev,
		Current:   s.current,
		Preferred: s.preferred,
		Forced:    s.forced,
		At:        s.now(),
	}
}

func (s *StrategyState) notify(c StrategyChange) {
	s.mu.RLock()
	listeners := append([]func(StrategyChange){}, s.listeners...)
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(c)
	}
}

func validThreshold(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}
