/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus publishes lifecycle and deletion events for other
// services to consume. The primary transport is NATS; when NATS is not
// configured or unreachable an in-memory bus keeps local subscribers
// working.
package eventbus

import (
	"sync"
)

// EventType names one event stream.
type EventType string

const (
	EventWatcherConnected    EventType = "watcher.connected"
	EventWatcherDisconnected EventType = "watcher.disconnected"
	EventScanCompleted       EventType = "scan.completed"
	EventDeletionReminder    EventType = "deletion.reminder"
	EventDeletionExecuted    EventType = "deletion.executed"
	EventDeletionCompleted   EventType = "deletion.completed"
	EventDeletionFailed      EventType = "deletion.failed"
	EventDeletionCancelled   EventType = "deletion.cancelled"
)

// Payload is the event body.
type Payload map[string]any

// Subscriber receives events for one type.
type Subscriber chan Payload

// Bus is the publishing surface components depend on.
type Bus interface {
	Publish(eventType EventType, payload Payload)
	Subscribe(eventType EventType) Subscriber
	Unsubscribe(eventType EventType, sub Subscriber)
	Close() error
}

// MemoryBus is a process-local bus. Delivery is non-blocking: a slow
// subscriber loses events rather than stalling the publisher.
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewMemoryBus creates an in-memory bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[EventType][]Subscriber)}
}

// Publish delivers to every subscriber of the type.
func (b *MemoryBus) Publish(eventType EventType, payload Payload) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[eventType] {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Subscribe registers a buffered subscriber channel.
func (b *MemoryBus) Subscribe(eventType EventType) Subscriber {
	sub := make(Subscriber, 16)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], sub)
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscriber.
func (b *MemoryBus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, s := range subs {
		if s == sub {
			b.subs[eventType] = append(subs[:i], subs[i+1:]...)
			close(s)
			return
		}
	}
}

// Close releases all subscribers.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, subs := range b.subs {
		for _, s := range subs {
			close(s)
		}
	}
	b.subs = make(map[EventType][]Subscriber)
	return nil
}
