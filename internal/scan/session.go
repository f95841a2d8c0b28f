/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package scan tracks full-volume scan sessions and reconciles their
// results against the file records the server already holds.
package scan

import (
	"sync"
	"time"
)

// Session is the in-memory state of one running scan.
type Session struct {
	ID        string
	VolumeID  string
	WatcherID string
	Path      string
	StartedAt time.Time
	Processed int64

	seen       map[string]struct{}
	sinceFlush int
}

// Seen returns the set of relative paths reported so far.
func (s *Session) Seen() map[string]struct{} { return s.seen }

// SessionStore holds active scan sessions keyed by scan id.
type SessionStore struct {
	mu        sync.Mutex
	sessions  map[string]*Session
	batchSize int
}

// NewSessionStore creates the session store. batchSize controls how many
// file reports accumulate before the caller is told to flush.
func NewSessionStore(batchSize int) *SessionStore {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &SessionStore{
		sessions:  make(map[string]*Session),
		batchSize: batchSize,
	}
}

// Begin opens a session. Any stale session for the same volume is
// dropped: a watcher restarting a scan abandons the previous one.
func (ss *SessionStore) Begin(scanID, volumeID, watcherID, path string) *Session {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	for id, sess := range ss.sessions {
		if sess.VolumeID == volumeID {
			delete(ss.sessions, id)
		}
	}

	sess := &Session{
		ID:        scanID,
		VolumeID:  volumeID,
		WatcherID: watcherID,
		Path:      path,
		StartedAt: time.Now(),
		seen:      make(map[string]struct{}),
	}
	ss.sessions[scanID] = sess
	return sess
}

// Get returns the session for a scan id.
func (ss *SessionStore) Get(scanID string) (*Session, bool) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	sess, ok := ss.sessions[scanID]
	return sess, ok
}

// Observe records one reported file. It returns the session and whether
// the batch threshold was just crossed; the flush counter resets when it
// was.
func (ss *SessionStore) Observe(scanID, relPath string) (sess *Session, flush, ok bool) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	sess, ok = ss.sessions[scanID]
	if !ok {
		return nil, false, false
	}
	sess.seen[relPath] = struct{}{}
	sess.sinceFlush++
	if sess.sinceFlush >= ss.batchSize {
		sess.sinceFlush = 0
		return sess, true, true
	}
	return sess, false, true
}

// Progress updates the processed counter.
func (ss *SessionStore) Progress(scanID string, processed int64) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if sess, ok := ss.sessions[scanID]; ok {
		sess.Processed = processed
	}
}

// End removes and returns the session for a completed scan.
func (ss *SessionStore) End(scanID string) (*Session, bool) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	sess, ok := ss.sessions[scanID]
	if ok {
		delete(ss.sessions, scanID)
	}
	return sess, ok
}

// Active returns the number of running sessions.
func (ss *SessionStore) Active() int {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return len(ss.sessions)
}
