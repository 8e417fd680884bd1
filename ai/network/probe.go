package network

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// ProbeConfig configures a ProbeMonitor.
type ProbeConfig struct {
	// URL receives a HEAD request every Interval. Any HTTP response counts as connected.
	URL      string
	Interval time.Duration
	Timeout  time.Duration
	// ConnectionType is reported as-is; the probe cannot observe the link class.
	ConnectionType ConnectionType
	// Latency at or above which the link counts as good rather than excellent,
	// and poor rather than good.
	GoodLatency time.Duration
	PoorLatency time.Duration
}

// DefaultProbeConfig returns the probe defaults.
func DefaultProbeConfig() ProbeConfig {
	return ProbeConfig{
		URL:            "https://api.openai.com/v1/models",
		Interval:       30 * time.Second,
		Timeout:        5 * time.Second,
		ConnectionType: ConnectionUnknown,
		GoodLatency:    150 * time.Millisecond,
		PoorLatency:    400 * time.Millisecond,
	}
}

// ProbeMonitor derives connectivity from periodic HTTP probes.
type ProbeMonitor struct {
	cfg    ProbeConfig
	client *http.Client
	logger *slog.Logger

	mu        sync.RWMutex
	connected bool
	quality   Quality
	probed    bool

	b    broadcaster
	bgWg sync.WaitGroup
}

// NewProbeMonitor creates a monitor. Call Start to begin probing.
func NewProbeMonitor(cfg ProbeConfig, logger *slog.Logger) *ProbeMonitor {
	def := DefaultProbeConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.GoodLatency <= 0 {
		cfg.GoodLatency = def.GoodLatency
	}
	if cfg.PoorLatency <= 0 {
		cfg.PoorLatency = def.PoorLatency
	}
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.ConnectionType == "" {
		cfg.ConnectionType = ConnectionUnknown
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProbeMonitor{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
		quality: QualityUnknown,
	}
}

// Start probes once synchronously, then keeps probing until ctx is done.
func (m *ProbeMonitor) Start(ctx context.Context) {
	m.Probe(ctx)
	m.bgWg.Add(1)
	go func() {
		defer m.bgWg.Done()
		defer m.b.closeAll()
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Probe(ctx)
			}
		}
	}()
}

// Wait blocks until the probe loop started by Start has exited.
func (m *ProbeMonitor) Wait() {
	m.bgWg.Wait()
}

// Probe performs one probe and publishes a change event if the state moved.
func (m *ProbeMonitor) Probe(ctx context.Context) {
	connected, quality := m.probe(ctx)

	m.mu.Lock()
	changed := !m.probed || m.connected != connected || m.quality != quality
	m.connected = connected
	m.quality = quality
	m.probed = true
	m.mu.Unlock()

	if changed {
		m.logger.Info("network state changed", "connected", connected, "quality", quality)
		m.b.publish(Event{Connected: connected, Quality: quality, At: time.Now()})
	}
}

func (m *ProbeMonitor) probe(ctx context.Context) (bool, Quality) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.cfg.URL, nil)
	if err != nil {
		return false, QualityOffline
	}
	start := time.Now()
	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.Debug("network probe failed", "url", m.cfg.URL, "error", err)
		return false, QualityOffline
	}
	resp.Body.Close()
	return true, m.classify(time.Since(start))
}

func (m *ProbeMonitor) classify(latency time.Duration) Quality {
	switch {
	case latency < m.cfg.GoodLatency:
		return QualityExcellent
	case latency < m.cfg.PoorLatency:
		return QualityGood
	default:
		return QualityPoor
	}
}

func (m *ProbeMonitor) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

func (m *ProbeMonitor) ConnectionType() ConnectionType {
	return m.cfg.ConnectionType
}

func (m *ProbeMonitor) Quality() Quality {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.quality
}

// IsLowBandwidth is true for poor links and for cellular links that are not excellent.
func (m *ProbeMonitor) IsLowBandwidth() bool {
	q := m.Quality()
	if q == QualityPoor {
		return true
	}
	return m.cfg.ConnectionType == ConnectionCellular && q != QualityExcellent
}

func (m *ProbeMonitor) Subscribe() (<-chan Event, func()) {
	return m.b.subscribe()
}
