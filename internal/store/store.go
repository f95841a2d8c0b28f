/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package store is the record store for volumes, media files, movies,
// scheduled deletions and watchers. It is the only package that talks to
// the database on behalf of the message handlers and the orchestrator.
package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: record not found")

// Store wraps the gorm handle with the operations the core needs.
type Store struct {
	mu        sync.RWMutex
	db        *gorm.DB
	reconnect func() (*gorm.DB, error)
	logger    zerolog.Logger
}

// New creates a store. reconnect is invoked when the underlying
// connection turns out to be dead; it may be nil for tests.
func New(database *gorm.DB, reconnect func() (*gorm.DB, error), logger zerolog.Logger) *Store {
	return &Store{
		db:        database,
		reconnect: reconnect,
		logger:    logger.With().Str("component", "store").Logger(),
	}
}

// DB returns the current gorm handle.
func (s *Store) DB() *gorm.DB {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db
}

// EnsureLive verifies the database connection is usable and repairs it if
// not. Long-running single-process services can have the handle silently
// invalidated by idle timeouts, so this runs before every dispatch cycle.
func (s *Store) EnsureLive(ctx context.Context) error {
	sqlDB, err := s.DB().DB()
	if err == nil {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = sqlDB.PingContext(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
	}

	s.logger.Warn().Err(err).Msg("database connection lost, reconnecting")

	if s.reconnect == nil {
		return err
	}

	fresh, rerr := s.reconnect()
	if rerr != nil {
		return rerr
	}

	s.mu.Lock()
	s.db = fresh
	s.mu.Unlock()

	return nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
