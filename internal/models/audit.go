/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// AuditAction enumerates the controller events the audit trail records.
type AuditAction string

const (
	AuditActionTaskStarted       AuditAction = "task.started"
	AuditActionTaskCompleted     AuditAction = "task.completed"
	AuditActionTaskInterrupted   AuditAction = "task.interrupted"
	AuditActionTaskSuspended     AuditAction = "task.suspended"
	AuditActionEmergencyActivate AuditAction = "emergency.activated"
	AuditActionZombieKilled      AuditAction = "session.zombie_killed"
	AuditActionScheduleEnqueued  AuditAction = "schedule.enqueued"
	AuditActionScheduleRecurred  AuditAction = "schedule.recurred"
	AuditActionSystemOnline     AuditAction = "system.online"
)

// AuditLog is a single recorded controller event, persisted for operator
// review independently of the state document (which only reflects the
// current transition).
type AuditLog struct {
	ID        string         `gorm:"type:uuid;primaryKey" json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Action    AuditAction    `gorm:"type:varchar(32);index" json:"action"`
	TaskID    string         `gorm:"type:varchar(64)" json:"task_id,omitempty"`
	User      string         `gorm:"type:varchar(128)" json:"user,omitempty"`
	Details   map[string]any `gorm:"serializer:json" json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// TableName overrides for GORM.
func (AuditLog) TableName() string {
	return "audit_logs"
}
