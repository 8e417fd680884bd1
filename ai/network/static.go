package network

import (
	"sync"
	"time"
)

// StaticMonitor holds connectivity set by the caller. It backs tests and the offline CLI.
type StaticMonitor struct {
	mu           sync.RWMutex
	connected    bool
	quality      Quality
	connType     ConnectionType
	lowBandwidth bool
	b            broadcaster
}

// NewStaticMonitor returns a monitor with the given initial state.
func NewStaticMonitor(connected bool, quality Quality) *StaticMonitor {
	return &StaticMonitor{
		connected: connected,
		quality:   quality,
		connType:  ConnectionUnknown,
	}
}

func (m *StaticMonitor) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

func (m *StaticMonitor) ConnectionType() ConnectionType {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connType
}

func (m *StaticMonitor) Quality() Quality {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.connected {
		return QualityOffline
	}
	return m.quality
}

func (m *StaticMonitor) IsLowBandwidth() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lowBandwidth
}

func (m *StaticMonitor) Subscribe() (<-chan Event, func()) {
	return m.b.subscribe()
}

// Set updates connectivity and quality, publishing an event when either changes.
func (m *StaticMonitor) Set(connected bool, quality Quality) {
	m.mu.Lock()
	changed := m.connected != connected || m.quality != quality
	m.connected = connected
	m.quality = quality
	m.mu.Unlock()

	if changed {
		m.b.publish(Event{Connected: connected, Quality: quality, At: time.Now()})
	}
}

// SetLowBandwidth toggles the low-bandwidth flag.
func (m *StaticMonitor) SetLowBandwidth(low bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lowBandwidth = low
}

// SetConnectionType records the link class.
func (m *StaticMonitor) SetConnectionType(t ConnectionType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connType = t
}
