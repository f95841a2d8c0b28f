/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package audit records lifecycle and destructive operations. Entries are
// written best-effort: an audit failure is logged but never fails the
// operation being audited.
package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/voclinx/scannarr/internal/models"
)

// Sink persists audit entries.
type Sink interface {
	CreateAuditLog(ctx context.Context, entry *models.AuditLog) error
}

// Service writes audit entries to the store.
type Service struct {
	sink   Sink
	logger zerolog.Logger
}

// NewService creates the audit service.
func NewService(sink Sink, logger zerolog.Logger) *Service {
	return &Service{
		sink:   sink,
		logger: logger.With().Str("component", "audit").Logger(),
	}
}

// Record writes one entry. watcherID may be empty for server-side actions.
func (s *Service) Record(ctx context.Context, action models.AuditAction, watcherID, resourceType, resourceID string, details map[string]any) {
	entry := &models.AuditLog{
		Timestamp:    time.Now(),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Details:      details,
	}
	if watcherID != "" {
		entry.WatcherID = &watcherID
	}

	if err := s.sink.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Error().Err(err).
			Str("action", string(action)).
			Str("resource_id", resourceID).
			Msg("failed to write audit entry")
	}
}
