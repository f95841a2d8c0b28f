/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/voclinx/scannarr/internal/models"
)

// CreateWatcher inserts a watcher row.
func (s *Store) CreateWatcher(ctx context.Context, w *models.Watcher) error {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if w.Status == "" {
		w.Status = models.WatcherPending
	}
	return s.DB().WithContext(ctx).Create(w).Error
}

// WatcherByID fetches one watcher.
func (s *Store) WatcherByID(ctx context.Context, id string) (*models.Watcher, error) {
	var w models.Watcher
	if err := s.DB().WithContext(ctx).First(&w, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &w, nil
}

// WatcherByName fetches a watcher by its unique display name.
func (s *Store) WatcherByName(ctx context.Context, name string) (*models.Watcher, error) {
	var w models.Watcher
	if err := s.DB().WithContext(ctx).First(&w, "name = ?", name).Error; err != nil {
		return nil, notFound(err)
	}
	return &w, nil
}

// ListWatchers returns all watchers ordered by name.
func (s *Store) ListWatchers(ctx context.Context) ([]models.Watcher, error) {
	var ws []models.Watcher
	if err := s.DB().WithContext(ctx).Order("name").Find(&ws).Error; err != nil {
		return nil, err
	}
	return ws, nil
}

// SaveWatcher persists watcher mutations.
func (s *Store) SaveWatcher(ctx context.Context, w *models.Watcher) error {
	w.UpdatedAt = time.Now()
	return s.DB().WithContext(ctx).Save(w).Error
}

// TouchWatcher refreshes the last-seen timestamp.
func (s *Store) TouchWatcher(ctx context.Context, id string) error {
	now := time.Now()
	return s.DB().WithContext(ctx).
		Model(&models.Watcher{}).
		Where("id = ?", id).
		Update("last_seen_at", &now).Error
}
