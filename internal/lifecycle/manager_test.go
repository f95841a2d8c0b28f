/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package lifecycle

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/voclinx/scannarr/internal/gateway"
	"github.com/voclinx/scannarr/internal/models"
	"github.com/voclinx/scannarr/internal/protocol"
)

var errMissing = errors.New("record not found")

type fakeWatcherStore struct {
	byID   map[string]*models.Watcher
	nextID int
}

func newFakeWatcherStore(ws ...*models.Watcher) *fakeWatcherStore {
	s := &fakeWatcherStore{byID: make(map[string]*models.Watcher)}
	for _, w := range ws {
		s.byID[w.ID] = w
	}
	return s
}

func (s *fakeWatcherStore) WatcherByID(_ context.Context, id string) (*models.Watcher, error) {
	if w, ok := s.byID[id]; ok {
		return w, nil
	}
	return nil, errMissing
}

func (s *fakeWatcherStore) WatcherByName(_ context.Context, name string) (*models.Watcher, error) {
	for _, w := range s.byID {
		if w.Name == name {
			return w, nil
		}
	}
	return nil, errMissing
}

func (s *fakeWatcherStore) CreateWatcher(_ context.Context, w *models.Watcher) error {
	if w.ID == "" {
		s.nextID++
		w.ID = strings.Repeat("w", s.nextID)
	}
	if w.Status == "" {
		w.Status = models.WatcherPending
	}
	s.byID[w.ID] = w
	return nil
}

func (s *fakeWatcherStore) SaveWatcher(_ context.Context, w *models.Watcher) error {
	s.byID[w.ID] = w
	return nil
}

func (s *fakeWatcherStore) TouchWatcher(context.Context, string) error { return nil }

type fakeWatcherCache struct {
	byID map[string]*models.Watcher
	hits int
	sets int
}

func newFakeWatcherCache() *fakeWatcherCache {
	return &fakeWatcherCache{byID: make(map[string]*models.Watcher)}
}

func (c *fakeWatcherCache) GetWatcher(_ context.Context, id string) (*models.Watcher, bool) {
	if w, ok := c.byID[id]; ok {
		c.hits++
		return w, true
	}
	return nil, false
}

func (c *fakeWatcherCache) SetWatcher(_ context.Context, w *models.Watcher) {
	c.byID[w.ID] = w
	c.sets++
}

type recordingReplayer struct{ replayed []string }

func (r *recordingReplayer) ReplayWaiting(_ context.Context, watcherID string) error {
	r.replayed = append(r.replayed, watcherID)
	return nil
}

func mustHash(t *testing.T, secret string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	return string(h)
}

func newTestManager(store WatcherStore) (*Manager, *gateway.Registry) {
	registry := gateway.NewRegistry()
	m := NewManager(store, registry, nil, nil, nil, nil, errMissing, zerolog.Nop())
	return m, registry
}

func closed(c *gateway.Conn) bool {
	select {
	case <-c.Done():
		return true
	default:
		return false
	}
}

func TestHelloRegistersPendingWatcher(t *testing.T) {
	store := newFakeWatcherStore()
	m, _ := newTestManager(store)
	conn := gateway.NewConn("c1", "127.0.0.1:1")

	err := m.HandleHello(context.Background(), conn, protocol.HelloData{
		Name: "garage-nas", Hostname: "nas.local", Version: "1.2.0",
	})
	if err != nil {
		t.Fatalf("HandleHello: %v", err)
	}

	w, err := store.WatcherByName(context.Background(), "garage-nas")
	if err != nil {
		t.Fatal("watcher not registered")
	}
	if w.Status != models.WatcherPending {
		t.Errorf("new watcher status = %s, want pending", w.Status)
	}
	if _, authed := conn.Authenticated(); authed {
		t.Error("hello must not authenticate the connection")
	}
}

func TestAuthenticateSuccessBindsAndReplays(t *testing.T) {
	w := &models.Watcher{ID: "w1", Name: "nas", Status: models.WatcherApproved, TokenHash: mustHash(t, "s3cret")}
	store := newFakeWatcherStore(w)
	m, registry := newTestManager(store)
	replayer := &recordingReplayer{}
	m.SetReplayer(replayer)

	conn := gateway.NewConn("c1", "127.0.0.1:1")
	if err := m.Authenticate(context.Background(), conn, protocol.AuthData{Token: "w1.s3cret"}); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	if id, authed := conn.Authenticated(); !authed || id != "w1" {
		t.Errorf("connection not bound: id=%q authed=%v", id, authed)
	}
	if w.Status != models.WatcherConnected {
		t.Errorf("watcher status = %s, want connected", w.Status)
	}
	if got, ok := registry.ByWatcher("w1"); !ok || got != conn {
		t.Error("registry does not hold the authenticated connection")
	}
	if len(replayer.replayed) != 1 || replayer.replayed[0] != "w1" {
		t.Errorf("replay not triggered: %v", replayer.replayed)
	}
}

func TestAuthenticateRejections(t *testing.T) {
	hash := mustHash(t, "s3cret")
	cases := []struct {
		name    string
		watcher *models.Watcher
		token   string
	}{
		{"malformed token", &models.Watcher{ID: "w1", Status: models.WatcherApproved, TokenHash: hash}, "no-separator"},
		{"unknown watcher", &models.Watcher{ID: "w1", Status: models.WatcherApproved, TokenHash: hash}, "w9.s3cret"},
		{"wrong secret", &models.Watcher{ID: "w1", Status: models.WatcherApproved, TokenHash: hash}, "w1.wrong"},
		{"pending watcher", &models.Watcher{ID: "w1", Status: models.WatcherPending, TokenHash: hash}, "w1.s3cret"},
		{"revoked watcher", &models.Watcher{ID: "w1", Status: models.WatcherRevoked, TokenHash: hash}, "w1.s3cret"},
		{"no token on record", &models.Watcher{ID: "w1", Status: models.WatcherApproved}, "w1.s3cret"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newFakeWatcherStore(tc.watcher)
			m, _ := newTestManager(store)
			conn := gateway.NewConn("c1", "127.0.0.1:1")

			if err := m.Authenticate(context.Background(), conn, protocol.AuthData{Token: tc.token}); err != nil {
				t.Fatalf("Authenticate: %v", err)
			}
			if _, authed := conn.Authenticated(); authed {
				t.Error("connection must not be authenticated")
			}
			if !closed(conn) {
				t.Error("rejected connection must be closed")
			}
			if tc.watcher.Status == models.WatcherConnected {
				t.Error("watcher must not be marked connected")
			}
		})
	}
}

func TestReconnectDropsPreviousConnection(t *testing.T) {
	w := &models.Watcher{ID: "w1", Name: "nas", Status: models.WatcherApproved, TokenHash: mustHash(t, "s3cret")}
	store := newFakeWatcherStore(w)
	m, registry := newTestManager(store)
	ctx := context.Background()

	first := gateway.NewConn("c1", "127.0.0.1:1")
	if err := m.Authenticate(ctx, first, protocol.AuthData{Token: "w1.s3cret"}); err != nil {
		t.Fatalf("first Authenticate: %v", err)
	}
	second := gateway.NewConn("c2", "127.0.0.1:2")
	if err := m.Authenticate(ctx, second, protocol.AuthData{Token: "w1.s3cret"}); err != nil {
		t.Fatalf("second Authenticate: %v", err)
	}

	if !closed(first) {
		t.Error("previous connection must be closed on reconnect")
	}
	if got, _ := registry.ByWatcher("w1"); got != second {
		t.Error("registry must hold the newest connection")
	}
}

func TestDisconnectDemotesOnlyCurrentConnection(t *testing.T) {
	w := &models.Watcher{ID: "w1", Name: "nas", Status: models.WatcherApproved, TokenHash: mustHash(t, "s3cret")}
	store := newFakeWatcherStore(w)
	m, registry := newTestManager(store)
	ctx := context.Background()

	first := gateway.NewConn("c1", "127.0.0.1:1")
	if err := m.Authenticate(ctx, first, protocol.AuthData{Token: "w1.s3cret"}); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	second := gateway.NewConn("c2", "127.0.0.1:2")
	if err := m.Authenticate(ctx, second, protocol.AuthData{Token: "w1.s3cret"}); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	// The stale connection's teardown must not demote the watcher.
	m.HandleDisconnect(ctx, first)
	if w.Status != models.WatcherConnected {
		t.Errorf("stale disconnect demoted watcher to %s", w.Status)
	}

	registry.Remove(second)
	m.HandleDisconnect(ctx, second)
	if w.Status != models.WatcherDisconnected {
		t.Errorf("watcher status = %s, want disconnected", w.Status)
	}
}

func TestAuthenticateCachesWatcherRow(t *testing.T) {
	w := &models.Watcher{ID: "w1", Name: "nas", Status: models.WatcherApproved, TokenHash: mustHash(t, "s3cret")}
	store := newFakeWatcherStore(w)
	cache := newFakeWatcherCache()
	registry := gateway.NewRegistry()
	m := NewManager(store, registry, cache, nil, nil, nil, errMissing, zerolog.Nop())

	conn := gateway.NewConn("c1", "127.0.0.1:1")
	if err := m.Authenticate(context.Background(), conn, protocol.AuthData{Token: "w1.s3cret"}); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if cache.sets != 1 {
		t.Errorf("watcher row not cached on authentication, sets = %d", cache.sets)
	}
}

func TestStatusReadsWatcherThroughCache(t *testing.T) {
	w := &models.Watcher{ID: "w1", Name: "nas", Status: models.WatcherConnected, ConfigHash: "abc"}
	store := newFakeWatcherStore(w)
	cache := newFakeWatcherCache()
	registry := gateway.NewRegistry()
	m := NewManager(store, registry, cache, nil, nil, nil, errMissing, zerolog.Nop())
	ctx := context.Background()

	conn := gateway.NewConn("c1", "127.0.0.1:1")
	registry.Add(conn)
	registry.Bind(conn, "w1")

	// First heartbeat misses and populates the cache.
	if err := m.HandleStatus(ctx, conn, protocol.StatusData{ConfigHash: "abc"}); err != nil {
		t.Fatalf("HandleStatus: %v", err)
	}
	if cache.sets != 1 {
		t.Fatalf("watcher row not cached after miss, sets = %d", cache.sets)
	}

	// Second heartbeat must be answered by the cache, not the store.
	delete(store.byID, "w1")
	if err := m.HandleStatus(ctx, conn, protocol.StatusData{ConfigHash: "abc"}); err != nil {
		t.Fatalf("HandleStatus from cache: %v", err)
	}
	if cache.hits != 1 {
		t.Errorf("heartbeat did not read through the cache, hits = %d", cache.hits)
	}
}

func TestMintTokenRoundTrip(t *testing.T) {
	w := &models.Watcher{ID: "w1", Name: "nas", Status: models.WatcherApproved}
	store := newFakeWatcherStore(w)
	m, _ := newTestManager(store)

	token, err := m.MintToken(context.Background(), "w1")
	if err != nil {
		t.Fatalf("MintToken: %v", err)
	}
	id, secret, ok := strings.Cut(token, ".")
	if !ok || id != "w1" || secret == "" {
		t.Fatalf("unexpected token form %q", token)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(w.TokenHash), []byte(secret)); err != nil {
		t.Error("stored hash does not verify the minted secret")
	}
	if strings.Contains(w.TokenHash, secret) {
		t.Error("secret must not be stored in clear")
	}
}

func TestApproveAndRevoke(t *testing.T) {
	w := &models.Watcher{ID: "w1", Name: "nas", Status: models.WatcherPending}
	store := newFakeWatcherStore(w)
	m, _ := newTestManager(store)
	ctx := context.Background()

	if err := m.Approve(ctx, "w1"); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if w.Status != models.WatcherApproved {
		t.Errorf("status = %s, want approved", w.Status)
	}
	if err := m.Approve(ctx, "w1"); err == nil {
		t.Error("approving a non-pending watcher must fail")
	}

	if err := m.Revoke(ctx, "w1"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if w.Status != models.WatcherRevoked || w.TokenHash != "" {
		t.Errorf("revoke must clear status and token: %+v", w)
	}
}
