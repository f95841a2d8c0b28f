/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// AuditAction defines the type of audited action.
type AuditAction string

// Audit action constants for all destructive and lifecycle operations.
const (
	AuditActionWatcherRegister   AuditAction = "watcher.register"
	AuditActionWatcherApprove    AuditAction = "watcher.approve"
	AuditActionWatcherRevoke     AuditAction = "watcher.revoke"
	AuditActionWatcherConnect    AuditAction = "watcher.connect"
	AuditActionWatcherDisconnect AuditAction = "watcher.disconnect"
	AuditActionScanCompleted     AuditAction = "scan.completed"
	AuditActionFilesPurged       AuditAction = "files.purged"
	AuditActionDeletionExecuted  AuditAction = "deletion.executed"
	AuditActionDeletionCompleted AuditAction = "deletion.completed"
	AuditActionDeletionFailed    AuditAction = "deletion.failed"
	AuditActionDeletionCancelled AuditAction = "deletion.cancelled"
	AuditActionHardlinkReplaced  AuditAction = "deletion.hardlink_replaced"
)

// AuditLog records destructive operations for traceability.
type AuditLog struct {
	ID           string         `gorm:"type:uuid;primaryKey"`
	Timestamp    time.Time      `gorm:"index:idx_audit_timestamp;not null"`
	WatcherID    *string        `gorm:"type:uuid;index:idx_audit_watcher"` // NULL for server-side actions
	Action       AuditAction    `gorm:"type:varchar(64);index:idx_audit_action;not null"`
	ResourceType string         `gorm:"type:varchar(64)"` // "watcher", "volume", "deletion", etc.
	ResourceID   string         `gorm:"type:uuid"`
	Details      map[string]any `gorm:"type:jsonb;serializer:json"`
	CreatedAt    time.Time
}

// TableName returns the table name for GORM.
func (AuditLog) TableName() string {
	return "audit_logs"
}
