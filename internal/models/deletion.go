/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// DeletionStatus is the state machine position of a scheduled deletion.
type DeletionStatus string

const (
	DeletionPending        DeletionStatus = "pending"
	DeletionReminderSent   DeletionStatus = "reminder_sent"
	DeletionWaitingWatcher DeletionStatus = "waiting_watcher"
	DeletionExecuting      DeletionStatus = "executing"
	DeletionCompleted      DeletionStatus = "completed"
	DeletionFailed         DeletionStatus = "failed"
	DeletionCancelled      DeletionStatus = "cancelled"
)

// Terminal reports whether a status permits no further transitions.
func (s DeletionStatus) Terminal() bool {
	return s == DeletionCompleted || s == DeletionFailed || s == DeletionCancelled
}

// deletionTransitions is the forward-only transition graph. PENDING is
// never re-entered; CANCELLED is reachable from every non-terminal state.
var deletionTransitions = map[DeletionStatus][]DeletionStatus{
	DeletionPending:        {DeletionReminderSent, DeletionWaitingWatcher, DeletionExecuting, DeletionCompleted, DeletionFailed},
	DeletionReminderSent:   {DeletionWaitingWatcher, DeletionExecuting, DeletionCompleted, DeletionFailed},
	DeletionWaitingWatcher: {DeletionExecuting, DeletionCompleted, DeletionFailed},
	DeletionExecuting:      {DeletionCompleted, DeletionFailed},
}

// CanTransition reports whether moving from s to next is legal.
func (s DeletionStatus) CanTransition(next DeletionStatus) bool {
	if next == DeletionCancelled {
		return !s.Terminal()
	}
	for _, allowed := range deletionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ScheduledDeletion is the unit of orchestrated destructive work. It is
// mutated exclusively by the deletion orchestrator from creation until a
// terminal status, and never after, except by explicit cancellation from
// a non-terminal state.
type ScheduledDeletion struct {
	ID           string         `gorm:"type:uuid;primaryKey"`
	ScheduledFor time.Time      `gorm:"index:idx_deletions_due"`
	Status       DeletionStatus `gorm:"type:varchar(24);index:idx_deletions_status"`

	DeletePhysicalFiles        bool
	DeleteRadarrReference      bool
	DeleteMediaPlayerReference bool
	DisableRadarrAutoSearch    bool

	// When set, the files must be re-linked under this volume before
	// physical removal (the original is still referenced by a media player).
	HardlinkTargetVolumeID *string `gorm:"type:uuid"`

	Items []DeletionItem `gorm:"foreignKey:DeletionID"`

	// ExecutionReport is written once when the deletion reaches a
	// terminal status.
	ExecutionReport map[string]any `gorm:"type:jsonb;serializer:json"`

	LastRequestID string `gorm:"type:uuid"` // request id of the last emitted command
	RemindedAt    *time.Time
	ExecutedAt    *time.Time
	CreatedBy     string `gorm:"type:varchar(255)"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// RequiresHardlink reports whether hardlink replacement must precede
// physical deletion.
func (d *ScheduledDeletion) RequiresHardlink() bool {
	return d.HardlinkTargetVolumeID != nil
}

// TableName returns the table name for GORM.
func (ScheduledDeletion) TableName() string {
	return "scheduled_deletions"
}

// DeletionItemStatus tracks the per-item outcome of a deletion.
type DeletionItemStatus string

const (
	ItemPending        DeletionItemStatus = "pending"
	ItemDeleted        DeletionItemStatus = "deleted"
	ItemPartialFailure DeletionItemStatus = "partial_failure"
)

// DeletionItem groups one logical target (a movie, or none for orphan
// files) with the concrete media file ids to remove.
type DeletionItem struct {
	ID           string             `gorm:"type:uuid;primaryKey"`
	DeletionID   string             `gorm:"type:uuid;index"`
	MovieID      *string            `gorm:"type:uuid"` // nil for orphan files
	MediaFileIDs []string           `gorm:"type:jsonb;serializer:json"`
	Status       DeletionItemStatus `gorm:"type:varchar(24)"`
	ErrorMessage string             `gorm:"type:text"`
	FreedBytes   int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TableName returns the table name for GORM.
func (DeletionItem) TableName() string {
	return "deletion_items"
}
