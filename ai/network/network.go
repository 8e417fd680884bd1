// Package network reports connectivity and link quality to the router.
package network

import (
	"sync"
	"time"
)

// Quality is a coarse link-quality class.
type Quality string

const (
	QualityExcellent Quality = "excellent"
	QualityGood      Quality = "good"
	QualityPoor      Quality = "poor"
	QualityOffline   Quality = "offline"
	QualityUnknown   Quality = "unknown"
)

// ConnectionType is the physical link class.
type ConnectionType string

const (
	ConnectionWiFi     ConnectionType = "wifi"
	ConnectionCellular ConnectionType = "cellular"
	ConnectionOther    ConnectionType = "other"
	ConnectionUnknown  ConnectionType = "unknown"
)

// Event is published whenever connectivity or quality changes.
type Event struct {
	Connected bool
	Quality   Quality
	At        time.Time
}

// Monitor is the read-only view of the network the router consumes.
type Monitor interface {
	IsConnected() bool
	ConnectionType() ConnectionType
	Quality() Quality
	IsLowBandwidth() bool
	// Subscribe returns a channel of change events and a function that releases it.
	Subscribe() (<-chan Event, func())
}

const subscriberBuffer = 8

// broadcaster fans events out to subscribers. Slow subscribers miss events rather than
// blocking the publisher.
type broadcaster struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

func (b *broadcaster) subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs == nil {
		b.subs = make(map[int]chan Event)
	}
	id := b.nextID
	b.nextID++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
}

func (b *broadcaster) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (b *broadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
