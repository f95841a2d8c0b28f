/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server wires every component into one process: record store,
// cache, event bus, watcher gateway, dispatcher, scan reconciler,
// lifecycle manager and deletion orchestrator.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gorm.io/gorm"

	"github.com/voclinx/scannarr/internal/audit"
	"github.com/voclinx/scannarr/internal/cache"
	"github.com/voclinx/scannarr/internal/config"
	"github.com/voclinx/scannarr/internal/db"
	"github.com/voclinx/scannarr/internal/deletion"
	"github.com/voclinx/scannarr/internal/dispatch"
	"github.com/voclinx/scannarr/internal/eventbus"
	"github.com/voclinx/scannarr/internal/gateway"
	"github.com/voclinx/scannarr/internal/handlers"
	"github.com/voclinx/scannarr/internal/integrations"
	"github.com/voclinx/scannarr/internal/lifecycle"
	"github.com/voclinx/scannarr/internal/logbuffer"
	"github.com/voclinx/scannarr/internal/match"
	"github.com/voclinx/scannarr/internal/scan"
	"github.com/voclinx/scannarr/internal/storage"
	"github.com/voclinx/scannarr/internal/store"
	"github.com/voclinx/scannarr/internal/telemetry"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg           *config.Config
	logger        zerolog.Logger
	router        chi.Router
	httpServer    *http.Server
	metricsServer *http.Server
	closers       []func() error

	db           *gorm.DB
	store        *store.Store
	cache        *cache.Cache
	bus          eventbus.Bus
	auditSvc     *audit.Service
	logBuffer    *logbuffer.Buffer
	registry     *gateway.Registry
	hub          *gateway.Hub
	gateway      *gateway.Server
	lifecycle    *lifecycle.Manager
	orchestrator *deletion.Orchestrator

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// gatewaySender adapts the connection registry to the orchestrator's
// command surface. An empty watcher id picks any authenticated watcher.
type gatewaySender struct {
	registry *gateway.Registry
	logger   zerolog.Logger
}

func (g *gatewaySender) SendCommand(watcherID, msgType string, data any) bool {
	if watcherID != "" {
		conn, ok := g.registry.ByWatcher(watcherID)
		if !ok {
			return false
		}
		if err := gateway.SendEnvelope(conn, msgType, data); err != nil {
			g.logger.Warn().Err(err).Str("watcher_id", watcherID).Msg("command send failed")
			return false
		}
		return true
	}
	for _, conn := range g.registry.Authenticated() {
		if err := gateway.SendEnvelope(conn, msgType, data); err != nil {
			watcherID, _ := conn.Authenticated()
			g.logger.Warn().Err(err).Str("watcher_id", watcherID).Msg("command send failed, trying next watcher")
			continue
		}
		return true
	}
	return false
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(telemetry.MetricsMiddleware)
	router.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "scannarr-http")
	})
	// No request timeout on the watcher path: WebSocket connections are
	// long-lived by design.
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:       cfg,
		logger:    logger,
		router:    router,
		logBuffer: logbuffer.New(cfg.LogBufferSize),
	}

	if err := srv.initDependencies(); err != nil {
		return nil, err
	}
	srv.configureRoutes()
	srv.startBackgroundWorkers()

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:              addr,
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		// Watcher connections stream for the life of the process; read
		// and write deadlines are managed per connection by the gateway.
		ReadTimeout:  0,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	// Prometheus scrapes go to a separate listener, bound to loopback by
	// default, so metrics never ride the public surface.
	if cfg.MetricsBind != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", telemetry.Handler())
		srv.metricsServer = &http.Server{
			Addr:              cfg.MetricsBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return srv, nil
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	if err := db.Migrate(database); err != nil {
		return err
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	s.store = store.New(database, func() (*gorm.DB, error) { return db.Connect(s.cfg) }, s.logger)

	cacheCfg := cache.DefaultConfig()
	cacheCfg.RedisAddr = s.cfg.RedisAddr
	cacheCfg.RedisPassword = s.cfg.RedisPassword
	cacheCfg.RedisDB = s.cfg.RedisDB
	entityCache, err := cache.New(cacheCfg, s.logger)
	if err != nil {
		s.logger.Warn().Err(err).Msg("cache initialization failed, continuing without cache")
	} else {
		s.cache = entityCache
		s.DeferClose(func() error { return s.cache.Close() })
	}

	if s.cfg.NATSURL != "" {
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = s.cfg.NATSURL
		natsCfg.SubjectPrefix = s.cfg.NATSSubject
		bus, err := eventbus.NewNATSBus(natsCfg, s.logger)
		if err != nil {
			return fmt.Errorf("create event bus: %w", err)
		}
		s.bus = bus
	} else {
		s.bus = eventbus.NewMemoryBus()
	}
	s.DeferClose(func() error { return s.bus.Close() })

	s.auditSvc = audit.NewService(s.store, s.logger)

	s.registry = gateway.NewRegistry()

	var watcherCache lifecycle.WatcherCache
	var scanCache scan.Cache
	var dispatchClearer dispatch.CacheClearer
	if s.cache != nil {
		watcherCache = s.cache
		scanCache = s.cache
		dispatchClearer = s.cache
	}

	s.lifecycle = lifecycle.NewManager(s.store, s.registry, watcherCache, s.auditSvc, s.bus, s.logBuffer, store.ErrNotFound, s.logger)

	matcher := match.NewEngine(s.logger,
		match.NewIdentityStrategy(s.store, store.ErrNotFound),
		match.NewSuffixStrategy(s.store),
	)

	sessions := scan.NewSessionStore(s.cfg.ScanBatchSize)
	reconciler := scan.NewReconciler(s.store, sessions, scanCache, s.auditSvc, s.bus, store.ErrNotFound, s.logger)

	var objects storage.ObjectStore
	if s.cfg.S3Bucket != "" {
		s3Store, err := storage.NewS3Store(context.Background(), storage.S3Config{
			Bucket:       s.cfg.S3Bucket,
			Region:       s.cfg.S3Region,
			Endpoint:     s.cfg.S3Endpoint,
			AccessKey:    s.cfg.S3AccessKeyID,
			SecretKey:    s.cfg.S3SecretAccessKey,
			UsePathStyle: s.cfg.S3UsePathStyle,
		}, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("S3 report archive unavailable, reports stay local only")
			objects = storage.Discard{}
		} else {
			objects = s3Store
		}
	} else {
		objects = storage.Discard{}
	}

	var catalog integrations.Catalog
	if s.cfg.CatalogURL != "" {
		catalog = integrations.NewRadarrClient(integrations.CatalogConfig{
			BaseURL: s.cfg.CatalogURL,
			APIKey:  s.cfg.CatalogAPIKey,
			Timeout: 15 * time.Second,
		}, s.logger)
	}
	var mediaServer integrations.MediaServer
	if s.cfg.MediaServerURL != "" {
		mediaServer = integrations.NewJellyfinClient(integrations.MediaServerConfig{
			BaseURL: s.cfg.MediaServerURL,
			APIKey:  s.cfg.MediaServerKey,
			Timeout: 15 * time.Second,
		}, s.logger)
	}

	sender := &gatewaySender{registry: s.registry, logger: s.logger}
	s.orchestrator = deletion.New(s.store, sender, catalog, mediaServer, s.bus, s.auditSvc, objects, store.ErrNotFound, s.logger)
	s.lifecycle.SetReplayer(s.orchestrator)

	dispatcher := dispatch.New(s.store, dispatchClearer, s.logger)
	set := &handlers.Set{
		Lifecycle: s.lifecycle,
		Scan:      reconciler,
		Deletions: s.orchestrator,
		Files:     handlers.NewFileEvents(s.store, matcher, store.ErrNotFound, s.logger),
	}
	set.Register(dispatcher)

	s.hub = gateway.NewHub(s.registry, dispatcher, s.cfg.AuthTimeout, s.logger)
	s.gateway = gateway.NewServer(s.hub, s.registry, s.cfg.WatcherPath, s.cfg.InternalToken, s.logger)

	return nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	s.gateway.Mount(s.router)

	s.router.Route("/internal/watcher-logs", func(r chi.Router) {
		r.Use(gateway.RequireInternalToken(s.cfg.InternalToken))
		r.Get("/", s.handleWatcherLogs)
	})
}

// handleWatcherLogs serves the in-memory ring of forwarded watcher log
// lines, filterable by watcher and level.
func (s *Server) handleWatcherLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entries := s.logBuffer.Query(logbuffer.QueryParams{
		WatcherID:  q.Get("watcher_id"),
		Level:      q.Get("level"),
		Search:     q.Get("search"),
		Descending: true,
		Limit:      200,
	})
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	// Hub loop: must be running before any connection is accepted.
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.hub.Run(ctx)
	}()

	if s.metricsServer != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error().Err(err).Str("addr", s.metricsServer.Addr).Msg("metrics listener failed")
			}
		}()
	}

	// Deletion scheduler: reminders and due executions.
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		ticker := time.NewTicker(s.cfg.DeletionSweep)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				now := time.Now()
				if err := s.orchestrator.SendReminders(ctx, now, s.cfg.ReminderLead); err != nil {
					s.logger.Error().Err(err).Msg("reminder sweep failed")
				}
				if err := s.orchestrator.ExecuteDue(ctx, now); err != nil {
					s.logger.Error().Err(err).Msg("deletion sweep failed")
				}
			}
		}
	}()

	// Database liveness probe behind the DatabaseUp gauge.
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.store.EnsureLive(ctx); err != nil {
					telemetry.DatabaseUp.Set(0)
					s.logger.Error().Err(err).Msg("database liveness probe failed")
					continue
				}
				telemetry.DatabaseUp.Set(1)
				if s.cache != nil && s.cache.IsAvailable() {
					telemetry.CacheAvailable.Set(1)
				} else {
					telemetry.CacheAvailable.Set(0)
				}
			}
		}
	}()
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	if s.metricsServer != nil {
		_ = s.metricsServer.Close()
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Lifecycle exposes the watcher lifecycle manager for operator commands.
func (s *Server) Lifecycle() *lifecycle.Manager {
	return s.lifecycle
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}
