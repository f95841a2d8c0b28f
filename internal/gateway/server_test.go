/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package gateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

func newTestServer(t *testing.T, registry *Registry) http.Handler {
	t.Helper()
	srv := NewServer(nil, registry, "", "secret", zerolog.Nop())
	router := chi.NewRouter()
	srv.Mount(router)
	return router
}

func internalRequest(method, path, token, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("X-Internal-Token", token)
	}
	return req
}

func TestInternalRoutesRejectBadToken(t *testing.T) {
	h := newTestServer(t, NewRegistry())

	for _, token := range []string{"", "wrong"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, internalRequest(http.MethodGet, "/internal/status", token, ""))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("token %q: status = %d, want 401", token, rec.Code)
		}
	}
}

func TestEmptyConfiguredTokenRejectsEverything(t *testing.T) {
	srv := NewServer(nil, NewRegistry(), "", "", zerolog.Nop())
	router := chi.NewRouter()
	srv.Mount(router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, internalRequest(http.MethodGet, "/internal/status", "", ""))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 when no token is configured", rec.Code)
	}
}

func TestSendToWatcherMalformedBody(t *testing.T) {
	h := newTestServer(t, NewRegistry())

	for _, body := range []string{"", "{not json", `{"data":{}}`} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, internalRequest(http.MethodPost, "/internal/send-to-watcher", "secret", body))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestSendToWatcherNoRecipient(t *testing.T) {
	h := newTestServer(t, NewRegistry())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, internalRequest(http.MethodPost, "/internal/send-to-watcher", "secret",
		`{"watcher_id":"w1","type":"command.files.delete","data":{}}`))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 when the watcher is not connected", rec.Code)
	}
}

func TestSendToWatcherBroadcastNoWatchers(t *testing.T) {
	h := newTestServer(t, NewRegistry())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, internalRequest(http.MethodPost, "/internal/send-to-watcher", "secret",
		`{"type":"command.files.delete","data":{}}`))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 when no watcher is authenticated", rec.Code)
	}
}

func TestSendToWatcherBroadcast(t *testing.T) {
	registry := NewRegistry()
	conn := NewConn("c1", "10.0.0.1:1")
	registry.Add(conn)
	registry.Bind(conn, "w1")
	h := newTestServer(t, registry)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, internalRequest(http.MethodPost, "/internal/send-to-watcher", "secret",
		`{"type":"command.files.delete","data":{"deletion_id":"d1"}}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"recipients":1`) {
		t.Errorf("body = %s, want one recipient", rec.Body.String())
	}

	select {
	case frame := <-conn.sendCh:
		if !strings.Contains(string(frame), "command.files.delete") {
			t.Errorf("queued frame %s lacks the message type", frame)
		}
	default:
		t.Error("no frame queued on the watcher connection")
	}
}

func TestStatusReportsCounts(t *testing.T) {
	registry := NewRegistry()
	registry.Add(NewConn("c1", "10.0.0.1:1"))
	authed := NewConn("c2", "10.0.0.1:2")
	registry.Add(authed)
	registry.Bind(authed, "w1")
	h := newTestServer(t, registry)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, internalRequest(http.MethodGet, "/internal/status", "secret", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"connected_watchers":1`) {
		t.Errorf("body = %s, want connected_watchers 1", body)
	}
	if !strings.Contains(body, `"total_connections":2`) {
		t.Errorf("body = %s, want total_connections 2", body)
	}
	if !strings.Contains(body, `"conn_id":"c1"`) {
		t.Errorf("body = %s, want per-connection detail", body)
	}
}
