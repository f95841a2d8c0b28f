/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package gateway owns the watcher-facing WebSocket endpoint: connection
// acceptance, the authenticated-connection registry, and the hub loop
// that feeds inbound messages to the dispatcher one at a time.
package gateway

import (
	"errors"
	"sync"
	"time"
)

// ErrSendBufferFull is returned when a connection's outbound queue is
// saturated. The caller decides whether that is fatal for the link.
var ErrSendBufferFull = errors.New("gateway: send buffer full")

// ErrConnClosed is returned when writing to a connection already torn down.
var ErrConnClosed = errors.New("gateway: connection closed")

const sendBufferSize = 64

// Conn is the server-side state of one watcher connection. Identity
// fields are written by the hub loop only; the accessor methods make
// them safe to read from HTTP handlers.
type Conn struct {
	ID          string
	RemoteAddr  string
	ConnectedAt time.Time

	mu        sync.Mutex
	watcherID string
	authed    bool
	authTimer *time.Timer

	sendCh    chan []byte
	closeOnce sync.Once
	closed    chan struct{}
}

// NewConn creates connection state for an accepted socket.
func NewConn(id, remoteAddr string) *Conn {
	return &Conn{
		ID:          id,
		RemoteAddr:  remoteAddr,
		ConnectedAt: time.Now(),
		sendCh:      make(chan []byte, sendBufferSize),
		closed:      make(chan struct{}),
	}
}

// Send queues a frame for the write pump. A full buffer is an error:
// blocking here would stall the hub loop for every other watcher.
func (c *Conn) Send(payload []byte) error {
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}

	select {
	case c.sendCh <- payload:
		return nil
	case <-c.closed:
		return ErrConnClosed
	default:
		return ErrSendBufferFull
	}
}

// Close marks the connection dead and wakes the write pump. Idempotent.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.stopAuthTimer()
	})
}

// Done is closed when the connection has been torn down.
func (c *Conn) Done() <-chan struct{} { return c.closed }

// Authenticated returns the watcher id bound to this connection, if any.
func (c *Conn) Authenticated() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.watcherID, c.authed
}

func (c *Conn) markAuthenticated(watcherID string) {
	c.mu.Lock()
	c.watcherID = watcherID
	c.authed = true
	timer := c.authTimer
	c.authTimer = nil
	c.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
}

func (c *Conn) setAuthTimer(t *time.Timer) {
	c.mu.Lock()
	c.authTimer = t
	c.mu.Unlock()
}

func (c *Conn) stopAuthTimer() {
	c.mu.Lock()
	timer := c.authTimer
	c.authTimer = nil
	c.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
}

// ConnInfo is a point-in-time snapshot of one connection for status
// reporting.
type ConnInfo struct {
	ConnID      string    `json:"conn_id"`
	WatcherID   string    `json:"watcher_id,omitempty"`
	RemoteAddr  string    `json:"remote_addr"`
	Authed      bool      `json:"authenticated"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Registry tracks live connections. The hub loop mutates it; HTTP
// handlers read it, so access is mutex-guarded.
type Registry struct {
	mu        sync.RWMutex
	conns     map[string]*Conn // by connection id
	byWatcher map[string]*Conn // authenticated connections by watcher id
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:     make(map[string]*Conn),
		byWatcher: make(map[string]*Conn),
	}
}

// Add registers a freshly accepted connection.
func (r *Registry) Add(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c.ID] = c
}

// Remove forgets a connection. It returns the watcher id the connection
// was bound to, if it was the current connection for that watcher.
func (r *Registry) Remove(c *Conn) (watcherID string, wasCurrent bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.conns, c.ID)
	id, authed := c.Authenticated()
	if authed && r.byWatcher[id] == c {
		delete(r.byWatcher, id)
		return id, true
	}
	return id, false
}

// Bind marks a connection as the authenticated link for a watcher and
// returns any previous connection for the same watcher so the caller
// can close it. One live connection per watcher.
func (r *Registry) Bind(c *Conn, watcherID string) (previous *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byWatcher[watcherID]; ok && prev != c {
		previous = prev
		delete(r.conns, prev.ID)
	}
	c.markAuthenticated(watcherID)
	r.byWatcher[watcherID] = c
	return previous
}

// ByWatcher returns the live authenticated connection for a watcher.
func (r *Registry) ByWatcher(watcherID string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byWatcher[watcherID]
	return c, ok
}

// Authenticated returns every authenticated connection.
func (r *Registry) Authenticated() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Conn, 0, len(r.byWatcher))
	for _, c := range r.byWatcher {
		out = append(out, c)
	}
	return out
}

// Snapshot returns status info for every live connection.
func (r *Registry) Snapshot() []ConnInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ConnInfo, 0, len(r.conns))
	for _, c := range r.conns {
		watcherID, authed := c.Authenticated()
		out = append(out, ConnInfo{
			ConnID:      c.ID,
			WatcherID:   watcherID,
			RemoteAddr:  c.RemoteAddr,
			Authed:      authed,
			ConnectedAt: c.ConnectedAt,
		})
	}
	return out
}
