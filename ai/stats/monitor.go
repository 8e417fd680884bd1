// Package stats records backend call outcomes and derives routing performance aggregates.
package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hrygo/fincue/ai/backend"
)

// Outcome is one backend call as seen by the router.
type Outcome struct {
	Source  backend.Source
	Task    backend.TaskKind
	Success bool
	Elapsed time.Duration
	// Confidence is nil for failed calls.
	Confidence *float64
	// CostUSD is the actual spend for remote calls and the avoided remote cost for
	// successful local calls.
	CostUSD float64
}

// Snapshot is an Outcome stamped with an ID and time. ProcessingTime is encoded in JSON
// as processing_time_seconds.
type Snapshot struct {
	ID             string           `json:"id"`
	Timestamp      time.Time        `json:"timestamp"`
	Source         backend.Source   `json:"source"`
	Task           backend.TaskKind `json:"task"`
	Success        bool             `json:"success"`
	ProcessingTime time.Duration    `json:"-"`
	Confidence     *float64         `json:"confidence,omitempty"`
	CostUSD        float64          `json:"cost_usd"`
}

// SourceStats aggregates calls made to one backend.
type SourceStats struct {
	Attempts    int64   `json:"attempts"`
	Successes   int64   `json:"successes"`
	SuccessRate float64 `json:"success_rate"`
}

// Aggregates are the derived metrics recomputed on each refresh.
type Aggregates struct {
	Local                 SourceStats   `json:"local"`
	Remote                SourceStats   `json:"remote"`
	TotalAttempts         int64         `json:"total_attempts"`
	AverageProcessingTime time.Duration `json:"-"`
	AverageConfidence     float64       `json:"average_confidence"`
	CostSavingsUSD        float64       `json:"cost_savings_usd"`
	RemoteSpendUSD        float64       `json:"remote_spend_usd"`
	ComputedAt            time.Time     `json:"computed_at"`
}

func (s Snapshot) MarshalJSON() ([]byte, error) {
	type plain Snapshot
	return json.Marshal(struct {
		plain
		ProcessingTimeSeconds float64 `json:"processing_time_seconds"`
	}{plain(s), s.ProcessingTime.Seconds()})
}

func (a Aggregates) MarshalJSON() ([]byte, error) {
	type plain Aggregates
	return json.Marshal(struct {
		plain
		AverageProcessingTimeSeconds float64 `json:"average_processing_time_seconds"`
	}{plain(a), a.AverageProcessingTime.Seconds()})
}

// Exporter receives call outcomes and aggregates, e.g. for Prometheus.
type Exporter interface {
	RecordBackendCall(source, task string, latency time.Duration, success bool)
	PublishAggregates(a Aggregates)
}

// SnapshotSink receives every recorded snapshot, e.g. for persistence.
type SnapshotSink interface {
	Enqueue(s *Snapshot) bool
}

// Config configures a Monitor.
type Config struct {
	HistorySize     int
	RefreshInterval time.Duration
	// RemoteBudgetUSD enables spend alerts when positive.
	RemoteBudgetUSD float64
	// Rules override DefaultRules when non-empty.
	Rules []Rule
}

// DefaultConfig returns the monitor defaults.
func DefaultConfig() Config {
	return Config{
		HistorySize:     100,
		RefreshInterval: 60 * time.Second,
	}
}

type counters struct {
	attempts  int64
	successes int64
	totalTime time.Duration
}

// Monitor is safe for concurrent use.
type Monitor struct {
	cfg    Config
	rules  *RuleSet
	logger *slog.Logger
	now    func() time.Time

	mu             sync.Mutex
	bySource       map[backend.Source]*counters
	confidenceSum  float64
	confidenceN    int64
	savingsUSD     float64
	spendUSD       float64
	history        *ring[Snapshot]
	aggregates     Aggregates
	lastAlertLevel string

	exporter Exporter
	sink     SnapshotSink
	notifier AlertNotifier

	bgWg sync.WaitGroup
}

// NewMonitor creates a monitor. It fails only if a rule does not compile.
func NewMonitor(cfg Config, logger *slog.Logger) (*Monitor, error) {
	def := DefaultConfig()
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = def.RefreshInterval
	}
	rules := cfg.Rules
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	rs, err := CompileRules(rules)
	if err != nil {
		return nil, fmt.Errorf("compile recommendation rules: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{
		cfg:     cfg,
		rules:   rs,
		logger:  logger,
		now:     time.Now,
		history: newRing[Snapshot](cfg.HistorySize),
	}
	m.resetLocked()
	return m, nil
}

// SetExporter attaches a metrics exporter. Call before Start.
func (m *Monitor) SetExporter(e Exporter) { m.exporter = e }

// SetSink attaches a snapshot sink. Call before Start.
func (m *Monitor) SetSink(s SnapshotSink) { m.sink = s }

// SetNotifier attaches a budget alert notifier. Call before Start.
func (m *Monitor) SetNotifier(n AlertNotifier) { m.notifier = n }

// Record counts o and appends it to the history.
func (m *Monitor) Record(o Outcome) {
	snap := Snapshot{
		ID:             uuid.NewString(),
		Source:         o.Source,
		Task:           o.Task,
		Success:        o.Success,
		ProcessingTime: o.Elapsed,
		CostUSD:        o.CostUSD,
	}
	if o.Confidence != nil {
		c := *o.Confidence
		snap.Confidence = &c
	}

	m.mu.Lock()
	snap.Timestamp = m.now()
	c, ok := m.bySource[o.Source]
	if !ok {
		c = &counters{}
		m.bySource[o.Source] = c
	}
	c.attempts++
	c.totalTime += o.Elapsed
	if o.Success {
		c.successes++
		if snap.Confidence != nil {
			m.confidenceSum += *snap.Confidence
			m.confidenceN++
		}
	}
	switch {
	case o.Source == backend.SourceRemote:
		m.spendUSD += o.CostUSD
	case o.Source == backend.SourceLocal && o.Success:
		m.savingsUSD += o.CostUSD
	}
	m.history.push(snap)
	m.mu.Unlock()

	if m.exporter != nil {
		m.exporter.RecordBackendCall(string(o.Source), string(o.Task), o.Elapsed, o.Success)
	}
	if m.sink != nil {
		m.sink.Enqueue(&snap)
	}
}

// CreditSavings adds usd to the remote cost avoided by a result served locally.
func (m *Monitor) CreditSavings(usd float64) {
	if usd <= 0 {
		return
	}
	m.mu.Lock()
	m.savingsUSD += usd
	m.mu.Unlock()
}

// Start refreshes aggregates every RefreshInterval until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	m.bgWg.Add(1)
	go func() {
		defer m.bgWg.Done()
		ticker := time.NewTicker(m.cfg.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Refresh(ctx)
			}
		}
	}()
}

// Wait blocks until the loop started by Start has exited.
func (m *Monitor) Wait() {
	m.bgWg.Wait()
}

// Refresh recomputes the aggregates now and returns them.
func (m *Monitor) Refresh(ctx context.Context) Aggregates {
	m.mu.Lock()
	agg := m.computeLocked()
	m.aggregates = agg
	m.mu.Unlock()

	if m.exporter != nil {
		m.exporter.PublishAggregates(agg)
	}
	m.checkBudget(ctx, agg)
	m.logger.Debug("performance aggregates refreshed",
		"total_attempts", agg.TotalAttempts,
		"local_success_rate", agg.Local.SuccessRate,
		"remote_success_rate", agg.Remote.SuccessRate,
		"average_confidence", agg.AverageConfidence)
	return agg
}

// Metrics returns the aggregates from the last refresh.
func (m *Monitor) Metrics() Aggregates {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.aggregates
}

// Recommendations evaluates the rules against the last refreshed aggregates.
// The result is advisory and never changes routing.
func (m *Monitor) Recommendations() []string {
	agg := m.Metrics()
	recs, err := m.rules.Evaluate(agg, m.cfg.RemoteBudgetUSD)
	if err != nil {
		m.logger.Warn("recommendation rule failed", "error", err)
	}
	return recs
}

// History returns recorded snapshots oldest first. A nil source matches every source and a
// non-positive window matches every snapshot still in the buffer.
func (m *Monitor) History(source *backend.Source, window time.Duration) []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	var cutoff time.Time
	if window > 0 {
		cutoff = m.now().Add(-window)
	}
	out := make([]Snapshot, 0, m.history.len())
	m.history.each(func(s Snapshot) {
		if source != nil && s.Source != *source {
			return
		}
		if window > 0 && s.Timestamp.Before(cutoff) {
			return
		}
		out = append(out, s)
	})
	return out
}

// Reset zeroes all counters and clears the history.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
	m.logger.Info("performance monitor reset")
}

func (m *Monitor) resetLocked() {
	m.bySource = map[backend.Source]*counters{
		backend.SourceLocal:  {},
		backend.SourceRemote: {},
	}
	m.confidenceSum, m.confidenceN = 0, 0
	m.savingsUSD, m.spendUSD = 0, 0
	m.history.clear()
	m.aggregates = Aggregates{}
	m.lastAlertLevel = ""
}

func (m *Monitor) computeLocked() Aggregates {
	agg := Aggregates{
		Local:          sourceStats(m.bySource[backend.SourceLocal]),
		Remote:         sourceStats(m.bySource[backend.SourceRemote]),
		CostSavingsUSD: m.savingsUSD,
		RemoteSpendUSD: m.spendUSD,
		ComputedAt:     m.now(),
	}
	var total time.Duration
	for _, c := range m.bySource {
		agg.TotalAttempts += c.attempts
		total += c.totalTime
	}
	if agg.TotalAttempts > 0 {
		agg.AverageProcessingTime = total / time.Duration(agg.TotalAttempts)
	}
	if m.confidenceN > 0 {
		agg.AverageConfidence = m.confidenceSum / float64(m.confidenceN)
	}
	return agg
}

func sourceStats(c *counters) SourceStats {
	if c == nil {
		return SourceStats{}
	}
	s := SourceStats{Attempts: c.attempts, Successes: c.successes}
	if c.attempts > 0 {
		s.SuccessRate = float64(c.successes) / float64(c.attempts)
	}
	return s
}
