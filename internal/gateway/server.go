/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package gateway

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Server exposes the watcher WebSocket endpoint and the internal
// control-plane routes other server components call over loopback.
type Server struct {
	hub           *Hub
	registry      *Registry
	watcherPath   string
	internalToken string
	logger        zerolog.Logger
}

// NewServer creates the gateway HTTP surface. watcherPath is the
// WebSocket upgrade path watchers connect to.
func NewServer(hub *Hub, registry *Registry, watcherPath, internalToken string, logger zerolog.Logger) *Server {
	if watcherPath == "" {
		watcherPath = "/ws/watcher"
	}
	return &Server{
		hub:           hub,
		registry:      registry,
		watcherPath:   watcherPath,
		internalToken: internalToken,
		logger:        logger.With().Str("component", "gateway").Logger(),
	}
}

// Mount attaches the gateway routes to a router.
func (s *Server) Mount(r chi.Router) {
	r.Get(s.watcherPath, s.HandleWebSocket)
	r.Route("/internal", func(r chi.Router) {
		r.Use(s.requireInternalToken)
		r.Post("/send-to-watcher", s.HandleSendToWatcher)
		r.Get("/status", s.HandleStatus)
	})
}

// requireInternalToken guards the internal control plane. The token is
// shared with trusted co-located services only.
func (s *Server) requireInternalToken(next http.Handler) http.Handler {
	return RequireInternalToken(s.internalToken)(next)
}

// RequireInternalToken builds a middleware rejecting requests without the
// shared internal token. An empty configured token rejects everything.
func RequireInternalToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := r.Header.Get("X-Internal-Token")
			if token == "" ||
				subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid internal token"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// sendRequest is the body of POST /internal/send-to-watcher. An empty
// watcher_id broadcasts to every authenticated watcher.
type sendRequest struct {
	WatcherID string          `json:"watcher_id,omitempty"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
}

type sendResponse struct {
	Recipients int `json:"recipients"`
}

// HandleSendToWatcher relays a message to one or all connected watchers.
func (s *Server) HandleSendToWatcher(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Type == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if req.WatcherID != "" {
		conn, ok := s.registry.ByWatcher(req.WatcherID)
		if !ok {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "watcher not connected"})
			return
		}
		if err := SendEnvelope(conn, req.Type, req.Data); err != nil {
			s.logger.Warn().Err(err).Str("watcher_id", req.WatcherID).Msg("relay send failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "send failed"})
			return
		}
		writeJSON(w, http.StatusOK, sendResponse{Recipients: 1})
		return
	}

	conns := s.registry.Authenticated()
	if len(conns) == 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no watcher connected"})
		return
	}
	recipients := 0
	for _, conn := range conns {
		if err := SendEnvelope(conn, req.Type, req.Data); err != nil {
			watcherID, _ := conn.Authenticated()
			s.logger.Warn().Err(err).Str("watcher_id", watcherID).Msg("broadcast send failed")
			continue
		}
		recipients++
	}
	if recipients == 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "send failed"})
		return
	}
	writeJSON(w, http.StatusOK, sendResponse{Recipients: recipients})
}

// statusResponse is the body of GET /internal/status.
type statusResponse struct {
	ConnectedWatchers int        `json:"connected_watchers"`
	TotalConnections  int        `json:"total_connections"`
	Connections       []ConnInfo `json:"connections"`
	Timestamp         time.Time  `json:"timestamp"`
}

// HandleStatus reports connection counts and per-connection detail.
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.registry.Snapshot()
	connected := 0
	for _, info := range snap {
		if info.Authed {
			connected++
		}
	}
	writeJSON(w, http.StatusOK, statusResponse{
		ConnectedWatchers: connected,
		TotalConnections:  len(snap),
		Connections:       snap,
		Timestamp:         time.Now(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
