/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package dispatch routes decoded watcher messages to their handlers.
// The routing table is static and validated once at startup; a message
// type either has exactly one handler or is dropped with a warning.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/voclinx/scannarr/internal/gateway"
	"github.com/voclinx/scannarr/internal/protocol"
	"github.com/voclinx/scannarr/internal/telemetry"
)

// Handler processes one message's payload.
type Handler func(ctx context.Context, conn *gateway.Conn, data []byte) error

// Liveness is checked before every dispatch so handlers never run
// against a dead database.
type Liveness interface {
	EnsureLive(ctx context.Context) error
}

// CacheClearer invalidates cached state after a handler failure, so the
// next message cannot observe whatever the failed handler half-wrote.
type CacheClearer interface {
	Clear(ctx context.Context)
}

// preAuthTypes are the only messages an unauthenticated connection may
// send. Everything else is dropped until auth completes.
var preAuthTypes = map[string]bool{
	protocol.MsgHello: true,
	protocol.MsgAuth:  true,
}

// Dispatcher implements gateway.Dispatcher over a static routing table.
type Dispatcher struct {
	routes       map[string]Handler
	liveness     Liveness
	cache        CacheClearer
	onDisconnect func(ctx context.Context, conn *gateway.Conn)
	logger       zerolog.Logger
}

// New builds a dispatcher. Registering two handlers for one type is a
// wiring bug and fails construction.
func New(liveness Liveness, cache CacheClearer, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		routes:   make(map[string]Handler),
		liveness: liveness,
		cache:    cache,
		logger:   logger.With().Str("component", "dispatch").Logger(),
	}
}

// Register adds a handler for a message type.
func (d *Dispatcher) Register(msgType string, h Handler) error {
	if _, dup := d.routes[msgType]; dup {
		return fmt.Errorf("dispatch: duplicate handler for %q", msgType)
	}
	d.routes[msgType] = h
	return nil
}

// MustRegister is Register for static wiring at startup.
func (d *Dispatcher) MustRegister(msgType string, h Handler) {
	if err := d.Register(msgType, h); err != nil {
		panic(err)
	}
}

// OnDisconnect sets the connection-closed callback.
func (d *Dispatcher) OnDisconnect(fn func(ctx context.Context, conn *gateway.Conn)) {
	d.onDisconnect = fn
}

// Dispatch routes one message. Handler panics and errors are contained
// here: the message is dropped, the failure logged, and cached state
// cleared, but the connection and the loop keep running.
func (d *Dispatcher) Dispatch(ctx context.Context, conn *gateway.Conn, env protocol.Envelope) {
	if _, authed := conn.Authenticated(); !authed && !preAuthTypes[env.Type] {
		d.logger.Warn().
			Str("conn_id", conn.ID).
			Str("type", env.Type).
			Msg("message from unauthenticated connection dropped")
		return
	}

	handler, ok := d.routes[env.Type]
	if !ok {
		d.logger.Warn().Str("type", env.Type).Msg("no handler for message type")
		return
	}

	if err := d.liveness.EnsureLive(ctx); err != nil {
		telemetry.DatabaseUp.Set(0)
		d.logger.Error().Err(err).Str("type", env.Type).
			Msg("database unavailable, message dropped")
		return
	}
	telemetry.DatabaseUp.Set(1)

	d.run(ctx, conn, env, handler)
}

func (d *Dispatcher) run(ctx context.Context, conn *gateway.Conn, env protocol.Envelope, handler Handler) {
	start := time.Now()
	defer func() {
		telemetry.DispatchDuration.WithLabelValues(env.Type).
			Observe(time.Since(start).Seconds())
	}()
	defer func() {
		if rec := recover(); rec != nil {
			telemetry.DispatchFailures.WithLabelValues(env.Type).Inc()
			d.logger.Error().
				Interface("panic", rec).
				Str("type", env.Type).
				Str("conn_id", conn.ID).
				Msg("handler panicked, message dropped")
			if d.cache != nil {
				d.cache.Clear(ctx)
			}
		}
	}()

	if err := handler(ctx, conn, env.Data); err != nil {
		telemetry.DispatchFailures.WithLabelValues(env.Type).Inc()
		d.logger.Error().Err(err).
			Str("type", env.Type).
			Str("conn_id", conn.ID).
			Msg("handler failed, message dropped")
		if d.cache != nil {
			d.cache.Clear(ctx)
		}
	}
}

// HandleDisconnect implements gateway.Dispatcher.
func (d *Dispatcher) HandleDisconnect(ctx context.Context, conn *gateway.Conn) {
	if d.onDisconnect != nil {
		d.onDisconnect(ctx, conn)
	}
}
