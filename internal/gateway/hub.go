/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package gateway

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/voclinx/scannarr/internal/protocol"
)

// Dispatcher consumes inbound protocol messages and connection closures.
// Calls arrive from a single goroutine, in arrival order; implementations
// need no locking of their own for per-message state.
type Dispatcher interface {
	Dispatch(ctx context.Context, conn *Conn, env protocol.Envelope)
	HandleDisconnect(ctx context.Context, conn *Conn)
}

type eventKind int

const (
	evOpened eventKind = iota
	evClosed
	evInbound
	evAuthExpired
)

type event struct {
	kind eventKind
	conn *Conn
	env  protocol.Envelope
}

// Hub serializes all connection events through one goroutine. Read pumps
// feed it; everything the dispatcher sees happens in arrival order.
type Hub struct {
	registry    *Registry
	dispatcher  Dispatcher
	events      chan event
	authTimeout time.Duration
	logger      zerolog.Logger
}

// NewHub creates the hub. authTimeout bounds how long an unauthenticated
// connection may linger before being dropped.
func NewHub(registry *Registry, dispatcher Dispatcher, authTimeout time.Duration, logger zerolog.Logger) *Hub {
	return &Hub{
		registry:    registry,
		dispatcher:  dispatcher,
		events:      make(chan event, 256),
		authTimeout: authTimeout,
		logger:      logger.With().Str("component", "hub").Logger(),
	}
}

// Run processes events until ctx is cancelled. It must be running before
// any connection is accepted.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for _, c := range h.registry.Authenticated() {
				c.Close()
			}
			return
		case ev := <-h.events:
			h.handle(ctx, ev)
		}
	}
}

func (h *Hub) handle(ctx context.Context, ev event) {
	switch ev.kind {
	case evOpened:
		h.registry.Add(ev.conn)
		timer := time.AfterFunc(h.authTimeout, func() {
			h.post(event{kind: evAuthExpired, conn: ev.conn})
		})
		ev.conn.setAuthTimer(timer)
		h.logger.Debug().
			Str("conn_id", ev.conn.ID).
			Str("remote_addr", ev.conn.RemoteAddr).
			Msg("connection opened")

	case evClosed:
		h.registry.Remove(ev.conn)
		ev.conn.Close()
		h.dispatcher.HandleDisconnect(ctx, ev.conn)
		h.logger.Debug().Str("conn_id", ev.conn.ID).Msg("connection closed")

	case evInbound:
		h.dispatcher.Dispatch(ctx, ev.conn, ev.env)

	case evAuthExpired:
		if _, authed := ev.conn.Authenticated(); authed {
			return
		}
		select {
		case <-ev.conn.Done():
			return
		default:
		}
		h.logger.Warn().
			Str("conn_id", ev.conn.ID).
			Str("remote_addr", ev.conn.RemoteAddr).
			Msg("authentication deadline expired, dropping connection")
		ev.conn.Close()
	}
}

// post delivers an event to the loop, blocking to preserve ordering.
func (h *Hub) post(ev event) {
	h.events <- ev
}

// ConnOpened registers a new connection with the loop.
func (h *Hub) ConnOpened(c *Conn) { h.post(event{kind: evOpened, conn: c}) }

// ConnClosed reports a torn-down connection.
func (h *Hub) ConnClosed(c *Conn) { h.post(event{kind: evClosed, conn: c}) }

// Inbound feeds one decoded message into the loop.
func (h *Hub) Inbound(c *Conn, env protocol.Envelope) {
	h.post(event{kind: evInbound, conn: c, env: env})
}
