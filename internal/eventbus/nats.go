/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSConfig contains NATS connection settings. SubjectPrefix is the
// root of every published subject; events go to
// "<prefix>.events.<event-type>".
type NATSConfig struct {
	URL           string
	Token         string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns the default connection settings.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "scannarr",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// natsMessage is the wire form of one published event.
type natsMessage struct {
	EventType EventType `json:"event_type"`
	Payload   Payload   `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
	NodeID    string    `json:"node_id"`
	MessageID string    `json:"message_id"` // for consumer deduplication
}

// NATSBus publishes events to NATS subjects and mirrors them on an
// in-memory bus for in-process subscribers.
type NATSBus struct {
	conn   *nats.Conn
	local  *MemoryBus
	prefix string
	nodeID string
	logger zerolog.Logger
}

// NewNATSBus connects to NATS. When the connection fails the returned
// bus still works: events stay local and the failure is logged once.
func NewNATSBus(cfg NATSConfig, logger zerolog.Logger) (*NATSBus, error) {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "scannarr"
	}
	bus := &NATSBus{
		local:  NewMemoryBus(),
		prefix: cfg.SubjectPrefix,
		nodeID: uuid.NewString(),
		logger: logger.With().Str("component", "eventbus").Logger(),
	}

	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		bus.logger.Warn().Err(err).Str("url", cfg.URL).
			Msg("NATS unavailable, events stay in-process")
		return bus, nil
	}

	bus.conn = conn
	bus.logger.Info().Str("url", cfg.URL).Msg("NATS event bus connected")
	return bus, nil
}

// subject maps an event type to its NATS subject.
func (b *NATSBus) subject(eventType EventType) string {
	return b.prefix + ".events." + string(eventType)
}

// Publish delivers locally and, when connected, to NATS.
func (b *NATSBus) Publish(eventType EventType, payload Payload) {
	b.local.Publish(eventType, payload)

	if b.conn == nil {
		return
	}
	data, err := json.Marshal(natsMessage{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now(),
		NodeID:    b.nodeID,
		MessageID: uuid.NewString(),
	})
	if err != nil {
		b.logger.Error().Err(err).Str("event", string(eventType)).Msg("marshal event failed")
		return
	}
	if err := b.conn.Publish(b.subject(eventType), data); err != nil {
		b.logger.Warn().Err(err).Str("event", string(eventType)).Msg("NATS publish failed")
	}
}

// Subscribe registers a local subscriber.
func (b *NATSBus) Subscribe(eventType EventType) Subscriber {
	return b.local.Subscribe(eventType)
}

// Unsubscribe removes a local subscriber.
func (b *NATSBus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.local.Unsubscribe(eventType, sub)
}

// Close drains the NATS connection and releases local subscribers.
func (b *NATSBus) Close() error {
	if b.conn != nil {
		if err := b.conn.Drain(); err != nil {
			b.conn.Close()
		}
	}
	return b.local.Close()
}
