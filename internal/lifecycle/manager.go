/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package lifecycle owns watcher identity: registration, token-based
// authentication, connection and disconnection state, and the replay of
// work that was waiting for a watcher to come back.
package lifecycle

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/voclinx/scannarr/internal/eventbus"
	"github.com/voclinx/scannarr/internal/gateway"
	"github.com/voclinx/scannarr/internal/logbuffer"
	"github.com/voclinx/scannarr/internal/models"
	"github.com/voclinx/scannarr/internal/protocol"
	"github.com/voclinx/scannarr/internal/telemetry"
)

// ErrNotApproved is returned when a pending or revoked watcher tries to
// authenticate.
var ErrNotApproved = errors.New("lifecycle: watcher not approved")

// WatcherStore is the store surface the manager needs.
type WatcherStore interface {
	WatcherByID(ctx context.Context, id string) (*models.Watcher, error)
	WatcherByName(ctx context.Context, name string) (*models.Watcher, error)
	CreateWatcher(ctx context.Context, w *models.Watcher) error
	SaveWatcher(ctx context.Context, w *models.Watcher) error
	TouchWatcher(ctx context.Context, id string) error
}

// WatcherCache caches watcher rows; may be nil. Heartbeat handling
// reads through it; authentication always goes to the store so a
// revocation takes effect immediately.
type WatcherCache interface {
	GetWatcher(ctx context.Context, id string) (*models.Watcher, bool)
	SetWatcher(ctx context.Context, w *models.Watcher)
}

// Auditor records lifecycle actions.
type Auditor interface {
	Record(ctx context.Context, action models.AuditAction, watcherID, resourceType, resourceID string, details map[string]any)
}

// Replayer re-issues commands that were parked waiting for a watcher.
type Replayer interface {
	ReplayWaiting(ctx context.Context, watcherID string) error
}

// Manager implements the watcher lifecycle.
type Manager struct {
	store    WatcherStore
	registry *gateway.Registry
	cache    WatcherCache
	audit    Auditor
	bus      eventbus.Bus
	logs     *logbuffer.Buffer
	replayer Replayer
	notFound error
	logger   zerolog.Logger
}

// NewManager creates the lifecycle manager. notFound is the store's
// missing record sentinel.
func NewManager(store WatcherStore, registry *gateway.Registry, cache WatcherCache, auditor Auditor, bus eventbus.Bus, logs *logbuffer.Buffer, notFound error, logger zerolog.Logger) *Manager {
	return &Manager{
		store:    store,
		registry: registry,
		cache:    cache,
		audit:    auditor,
		bus:      bus,
		logs:     logs,
		notFound: notFound,
		logger:   logger.With().Str("component", "lifecycle").Logger(),
	}
}

// SetReplayer wires the component that re-issues parked commands after
// authentication. Set once at startup.
func (m *Manager) SetReplayer(r Replayer) { m.replayer = r }

// HandleHello records or refreshes the watcher introduced by an
// unauthenticated connection. Unknown names self-register as PENDING and
// stay inert until an operator approves them.
func (m *Manager) HandleHello(ctx context.Context, conn *gateway.Conn, data protocol.HelloData) error {
	if data.Name == "" {
		return errors.New("hello without a name")
	}

	w, err := m.store.WatcherByName(ctx, data.Name)
	switch {
	case err == nil:
		w.Hostname = data.Hostname
		w.Version = data.Version
		if err := m.store.SaveWatcher(ctx, w); err != nil {
			return fmt.Errorf("refresh watcher %s: %w", w.ID, err)
		}
		m.logger.Debug().Str("watcher", w.Name).Str("conn_id", conn.ID).Msg("hello from known watcher")
		return nil

	case errors.Is(err, m.notFound):
		w = &models.Watcher{
			Name:     data.Name,
			Hostname: data.Hostname,
			Version:  data.Version,
			Status:   models.WatcherPending,
		}
		if err := m.store.CreateWatcher(ctx, w); err != nil {
			return fmt.Errorf("register watcher %q: %w", data.Name, err)
		}
		if m.audit != nil {
			m.audit.Record(ctx, models.AuditActionWatcherRegister, w.ID, "watcher", w.ID, map[string]any{
				"name": w.Name, "hostname": w.Hostname,
			})
		}
		m.logger.Info().Str("watcher", w.Name).Msg("new watcher registered, pending approval")
		return nil

	default:
		return err
	}
}

// Authenticate validates a bearer token of the form "<watcher-id>.<secret>"
// and binds the connection on success. Every failure path sends a
// negative auth.result and closes the connection.
func (m *Manager) Authenticate(ctx context.Context, conn *gateway.Conn, data protocol.AuthData) error {
	watcherID, secret, ok := strings.Cut(data.Token, ".")
	if !ok || watcherID == "" || secret == "" {
		return m.reject(conn, "malformed token")
	}

	w, err := m.store.WatcherByID(ctx, watcherID)
	if err != nil {
		if errors.Is(err, m.notFound) {
			return m.reject(conn, "unknown watcher")
		}
		return err
	}

	switch w.Status {
	case models.WatcherRevoked:
		return m.reject(conn, "watcher revoked")
	case models.WatcherPending:
		return m.reject(conn, "watcher not approved")
	}

	if w.TokenHash == "" ||
		bcrypt.CompareHashAndPassword([]byte(w.TokenHash), []byte(secret)) != nil {
		return m.reject(conn, "invalid token")
	}

	if prev := m.registry.Bind(conn, w.ID); prev != nil {
		m.logger.Warn().Str("watcher", w.Name).
			Msg("watcher reconnected, dropping previous connection")
		prev.Close()
	}

	now := time.Now()
	w.Status = models.WatcherConnected
	w.LastSeenAt = &now
	if err := m.store.SaveWatcher(ctx, w); err != nil {
		return fmt.Errorf("mark watcher connected: %w", err)
	}
	if m.cache != nil {
		m.cache.SetWatcher(ctx, w)
	}
	telemetry.WatchersAuthenticated.Inc()

	if err := gateway.SendEnvelope(conn, protocol.MsgAuthResult, protocol.AuthResultData{OK: true}); err != nil {
		m.logger.Warn().Err(err).Str("watcher", w.Name).Msg("auth.result send failed")
	}

	if m.audit != nil {
		m.audit.Record(ctx, models.AuditActionWatcherConnect, w.ID, "watcher", w.ID, nil)
	}
	if m.bus != nil {
		m.bus.Publish(eventbus.EventWatcherConnected, eventbus.Payload{
			"watcher_id": w.ID, "name": w.Name,
		})
	}
	m.logger.Info().Str("watcher", w.Name).Str("conn_id", conn.ID).Msg("watcher authenticated")

	if m.replayer != nil {
		if err := m.replayer.ReplayWaiting(ctx, w.ID); err != nil {
			m.logger.Error().Err(err).Str("watcher", w.Name).Msg("replay of waiting work failed")
		}
	}
	return nil
}

func (m *Manager) reject(conn *gateway.Conn, reason string) error {
	telemetry.AuthFailures.Inc()
	if err := gateway.SendEnvelope(conn, protocol.MsgAuthResult, protocol.AuthResultData{
		OK: false, Reason: reason,
	}); err != nil {
		m.logger.Debug().Err(err).Msg("auth rejection send failed")
	}
	conn.Close()
	m.logger.Warn().Str("conn_id", conn.ID).Str("reason", reason).Msg("authentication rejected")
	return nil
}

// HandleDisconnect demotes a watcher to DISCONNECTED when its current
// connection goes away. A connection replaced by a newer one for the
// same watcher changes nothing.
func (m *Manager) HandleDisconnect(ctx context.Context, conn *gateway.Conn) {
	watcherID, authed := conn.Authenticated()
	if !authed {
		return
	}
	telemetry.WatchersAuthenticated.Dec()
	if current, ok := m.registry.ByWatcher(watcherID); ok && current != conn {
		return
	}

	w, err := m.store.WatcherByID(ctx, watcherID)
	if err != nil {
		m.logger.Error().Err(err).Str("watcher_id", watcherID).Msg("disconnect lookup failed")
		return
	}
	if w.Status != models.WatcherConnected {
		return
	}
	w.Status = models.WatcherDisconnected
	if err := m.store.SaveWatcher(ctx, w); err != nil {
		m.logger.Error().Err(err).Str("watcher", w.Name).Msg("mark disconnected failed")
		return
	}
	if m.audit != nil {
		m.audit.Record(ctx, models.AuditActionWatcherDisconnect, w.ID, "watcher", w.ID, nil)
	}
	if m.bus != nil {
		m.bus.Publish(eventbus.EventWatcherDisconnected, eventbus.Payload{
			"watcher_id": w.ID, "name": w.Name,
		})
	}
	m.logger.Info().Str("watcher", w.Name).Msg("watcher disconnected")
}

// HandleStatus processes a heartbeat: refreshes last-seen and checks the
// reported config hash against the one on record.
func (m *Manager) HandleStatus(ctx context.Context, conn *gateway.Conn, data protocol.StatusData) error {
	watcherID, authed := conn.Authenticated()
	if !authed {
		return errors.New("status from unauthenticated connection")
	}
	if err := m.store.TouchWatcher(ctx, watcherID); err != nil {
		return err
	}

	if data.ConfigHash == "" {
		return nil
	}
	w, err := m.watcherForHeartbeat(ctx, watcherID)
	if err != nil {
		return err
	}
	if w.ConfigHash != "" && w.ConfigHash != data.ConfigHash {
		m.logger.Warn().
			Str("watcher", w.Name).
			Str("expected", w.ConfigHash).
			Str("reported", data.ConfigHash).
			Msg("watcher config drift detected")
	}
	return nil
}

// watcherForHeartbeat reads a watcher row through the cache. Heartbeats
// arrive every few seconds per watcher; a slightly stale config hash is
// an acceptable trade for not hitting the store each time.
func (m *Manager) watcherForHeartbeat(ctx context.Context, watcherID string) (*models.Watcher, error) {
	if m.cache != nil {
		if w, ok := m.cache.GetWatcher(ctx, watcherID); ok {
			return w, nil
		}
	}
	w, err := m.store.WatcherByID(ctx, watcherID)
	if err != nil {
		return nil, err
	}
	if m.cache != nil {
		m.cache.SetWatcher(ctx, w)
	}
	return w, nil
}

// HandleLog buffers one forwarded watcher log line.
func (m *Manager) HandleLog(ctx context.Context, conn *gateway.Conn, data protocol.LogData) error {
	watcherID, _ := conn.Authenticated()
	if m.logs != nil {
		m.logs.Add(logbuffer.Entry{
			Timestamp: time.Now(),
			WatcherID: watcherID,
			Level:     data.Level,
			Message:   data.Message,
			Fields:    data.Fields,
		})
	}
	return nil
}

// MintToken issues a fresh token for a watcher, replacing any previous
// one. Only the bcrypt hash of the secret is stored; the returned token
// is the sole copy.
func (m *Manager) MintToken(ctx context.Context, watcherID string) (string, error) {
	w, err := m.store.WatcherByID(ctx, watcherID)
	if err != nil {
		return "", err
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	secret := hex.EncodeToString(raw)

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash secret: %w", err)
	}
	w.TokenHash = string(hash)
	if err := m.store.SaveWatcher(ctx, w); err != nil {
		return "", err
	}
	return w.ID + "." + secret, nil
}

// Approve moves a watcher from PENDING to APPROVED.
func (m *Manager) Approve(ctx context.Context, watcherID string) error {
	w, err := m.store.WatcherByID(ctx, watcherID)
	if err != nil {
		return err
	}
	if w.Status != models.WatcherPending {
		return fmt.Errorf("watcher %s is %s, not pending", w.Name, w.Status)
	}
	w.Status = models.WatcherApproved
	if err := m.store.SaveWatcher(ctx, w); err != nil {
		return err
	}
	if m.audit != nil {
		m.audit.Record(ctx, models.AuditActionWatcherApprove, "", "watcher", w.ID, nil)
	}
	return nil
}

// Revoke permanently bars a watcher and severs any live connection.
func (m *Manager) Revoke(ctx context.Context, watcherID string) error {
	w, err := m.store.WatcherByID(ctx, watcherID)
	if err != nil {
		return err
	}
	w.Status = models.WatcherRevoked
	w.TokenHash = ""
	if err := m.store.SaveWatcher(ctx, w); err != nil {
		return err
	}
	if conn, ok := m.registry.ByWatcher(watcherID); ok {
		conn.Close()
	}
	if m.audit != nil {
		m.audit.Record(ctx, models.AuditActionWatcherRevoke, "", "watcher", w.ID, nil)
	}
	return nil
}
