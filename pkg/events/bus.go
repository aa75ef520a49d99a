// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package events

import (
	"context"
	"sync"
	"time"

	"github.com/canonical/mission-control/internal/ids"
	"github.com/canonical/mission-control/internal/logging"
	"github.com/canonical/mission-control/internal/monitoring"
)

const (
	TypeConnected    = "connected"
	TypeHeartbeat    = "heartbeat"
	TypeActivity     = "activity"
	TypeTaskProgress = "task_progress"
	TypeTaskLog      = "task_log"
	TypeApproval     = "approval"
)

type Event struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	OrganizationID string    `json:"organization_id,omitempty"`
	Payload        any       `json:"payload,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Observer is a live subscription bound to a single organization
type Observer struct {
	ID             string
	OrganizationID string
	// SessionID is the session that opened the subscription, if any
	SessionID string

	events chan Event
	once   sync.Once
}

// Events is closed once the observer is unsubscribed or the bus closes
func (o *Observer) Events() <-chan Event {
	return o.events
}

var _ BusInterface = (*Bus)(nil)

// Bus fans events out to the observers of an organization. Delivery is best
// effort, an observer with a full buffer misses the event.
type Bus struct {
	mu        sync.RWMutex
	observers map[string]*Observer
	closed    bool

	buffer    int
	heartbeat time.Duration

	monitor monitoring.MonitorInterface
	logger  logging.LoggerInterface
}

func (b *Bus) Subscribe(organizationID string) *Observer {
	return b.SubscribeSession(organizationID, "")
}

// SubscribeSession ties the observer to a session so that DisconnectSession
// can drop it when the session changes hands
func (b *Bus) SubscribeSession(organizationID, sessionID string) *Observer {
	o := &Observer{
		ID:             ids.NewULID(),
		OrganizationID: organizationID,
		SessionID:      sessionID,
		events:         make(chan Event, b.buffer),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		o.once.Do(func() { close(o.events) })
		return o
	}

	b.observers[o.ID] = o
	b.updateCount()

	return o
}

// Unsubscribe is idempotent
func (b *Bus) Unsubscribe(o *Observer) {
	if o == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.observers[o.ID]; ok {
		delete(b.observers, o.ID)
		b.updateCount()
	}

	o.once.Do(func() { close(o.events) })
}

// DisconnectSession closes every observer opened by the session and returns
// how many were dropped
func (b *Bus) DisconnectSession(sessionID string) int {
	if sessionID == "" {
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for id, o := range b.observers {
		if o.SessionID != sessionID {
			continue
		}

		delete(b.observers, id)
		o.once.Do(func() { close(o.events) })
		n++
	}

	if n > 0 {
		b.updateCount()
	}

	return n
}

// Publish never blocks the caller
func (b *Bus) Publish(organizationID, eventType string, payload any) {
	if organizationID == "" {
		return
	}

	evt := Event{
		ID:             ids.NewULID(),
		Type:           eventType,
		OrganizationID: organizationID,
		Payload:        payload,
		Timestamp:      time.Now().UTC(),
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, o := range b.observers {
		if o.OrganizationID != organizationID {
			continue
		}

		b.deliver(o, evt)
	}
}

func (b *Bus) deliver(o *Observer, evt Event) {
	select {
	case o.events <- evt:
	default:
		if err := b.monitor.IncDroppedEvents(map[string]string{"type": evt.Type}); err != nil {
			b.logger.Debugf("failed to count dropped event: %v", err)
		}
		b.logger.Debugf("observer %s is lagging, dropped %s event", o.ID, evt.Type)
	}
}

func (b *Bus) broadcastHeartbeat() {
	evt := Event{ID: ids.NewULID(), Type: TypeHeartbeat, Timestamp: time.Now().UTC()}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, o := range b.observers {
		b.deliver(o, evt)
	}
}

func (b *Bus) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.observers)
}

// updateCount expects the write lock to be held
func (b *Bus) updateCount() {
	if err := b.monitor.SetObserverCount(float64(len(b.observers))); err != nil {
		b.logger.Debugf("failed to set observer count: %v", err)
	}
}

// Run sends heartbeats until ctx is done, then closes the bus
func (b *Bus) Run(ctx context.Context) {
	defer b.Close()

	if b.heartbeat <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(b.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.broadcastHeartbeat()
		}
	}
}

// Close disconnects every observer, later subscriptions are closed immediately
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for id, o := range b.observers {
		delete(b.observers, id)
		o.once.Do(func() { close(o.events) })
	}

	b.updateCount()
}

func NewBus(buffer int, heartbeat time.Duration, monitor monitoring.MonitorInterface, logger logging.LoggerInterface) *Bus {
	b := new(Bus)

	if buffer <= 0 {
		buffer = 1
	}

	b.observers = make(map[string]*Observer)
	b.buffer = buffer
	b.heartbeat = heartbeat

	b.monitor = monitor
	b.logger = logger

	return b
}
