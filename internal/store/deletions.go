/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/voclinx/scannarr/internal/models"
)

// ErrBadTransition is returned when a status change violates the
// forward-only deletion state machine.
var ErrBadTransition = fmt.Errorf("store: illegal deletion status transition")

// CreateDeletion inserts a scheduled deletion with its items.
func (s *Store) CreateDeletion(ctx context.Context, del *models.ScheduledDeletion) error {
	if del.ID == "" {
		del.ID = uuid.NewString()
	}
	if del.Status == "" {
		del.Status = models.DeletionPending
	}
	for i := range del.Items {
		if del.Items[i].ID == "" {
			del.Items[i].ID = uuid.NewString()
		}
		if del.Items[i].Status == "" {
			del.Items[i].Status = models.ItemPending
		}
		del.Items[i].DeletionID = del.ID
	}
	return s.DB().WithContext(ctx).Create(del).Error
}

// DeletionByID fetches a deletion with its items.
func (s *Store) DeletionByID(ctx context.Context, id string) (*models.ScheduledDeletion, error) {
	var del models.ScheduledDeletion
	err := s.DB().WithContext(ctx).Preload("Items").First(&del, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &del, nil
}

// DeletionsByStatus returns deletions in the given status, items preloaded.
func (s *Store) DeletionsByStatus(ctx context.Context, status models.DeletionStatus) ([]models.ScheduledDeletion, error) {
	var dels []models.ScheduledDeletion
	err := s.DB().WithContext(ctx).
		Preload("Items").
		Where("status = ?", status).
		Order("scheduled_for").
		Find(&dels).Error
	if err != nil {
		return nil, err
	}
	return dels, nil
}

// DueDeletions returns deletions whose scheduled time has passed and that
// are still awaiting execution.
func (s *Store) DueDeletions(ctx context.Context, now time.Time) ([]models.ScheduledDeletion, error) {
	var dels []models.ScheduledDeletion
	err := s.DB().WithContext(ctx).
		Preload("Items").
		Where("status IN ? AND scheduled_for <= ?",
			[]models.DeletionStatus{models.DeletionPending, models.DeletionReminderSent}, now).
		Order("scheduled_for").
		Find(&dels).Error
	if err != nil {
		return nil, err
	}
	return dels, nil
}

// PendingReminders returns PENDING deletions whose reminder window has
// opened.
func (s *Store) PendingReminders(ctx context.Context, now time.Time, lead time.Duration) ([]models.ScheduledDeletion, error) {
	var dels []models.ScheduledDeletion
	err := s.DB().WithContext(ctx).
		Where("status = ? AND scheduled_for <= ?", models.DeletionPending, now.Add(lead)).
		Order("scheduled_for").
		Find(&dels).Error
	if err != nil {
		return nil, err
	}
	return dels, nil
}

// TransitionDeletion moves a deletion to a new status, enforcing the
// forward-only transition graph, and applies the optional mutation while
// holding the row.
func (s *Store) TransitionDeletion(ctx context.Context, del *models.ScheduledDeletion, next models.DeletionStatus, mutate func(*models.ScheduledDeletion)) error {
	if !del.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrBadTransition, del.Status, next)
	}
	del.Status = next
	if mutate != nil {
		mutate(del)
	}
	del.UpdatedAt = time.Now()
	if err := s.DB().WithContext(ctx).Save(del).Error; err != nil {
		return fmt.Errorf("save deletion: %w", err)
	}
	return nil
}

// SaveDeletion persists non-status mutations (request id, report).
// Status changes go through TransitionDeletion.
func (s *Store) SaveDeletion(ctx context.Context, del *models.ScheduledDeletion) error {
	del.UpdatedAt = time.Now()
	return s.DB().WithContext(ctx).Save(del).Error
}

// SaveDeletionItem persists per-item outcome.
func (s *Store) SaveDeletionItem(ctx context.Context, item *models.DeletionItem) error {
	item.UpdatedAt = time.Now()
	return s.DB().WithContext(ctx).Save(item).Error
}
