/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// NotificationKind classifies a state-publisher notification.
type NotificationKind string

const (
	NotificationInfo    NotificationKind = "info"
	NotificationSuccess NotificationKind = "success"
	NotificationWarning NotificationKind = "warning"
	NotificationError   NotificationKind = "error"
)

// TargetRole selects which role a notification is addressed to; "all"
// reaches both admin and user audiences (used for schedule and
// live-broadcast-interrupt notifications).
type TargetRole string

const (
	TargetRoleAdmin TargetRole = "admin"
	TargetRoleUser  TargetRole = "user"
	TargetRoleAll   TargetRole = "all"
)

// Notification is a single message emitted by the state publisher to be
// surfaced to operators (dashboard, push, log) and persisted for audit.
type Notification struct {
	ID         string           `gorm:"type:uuid;primaryKey" json:"id"`
	Kind       NotificationKind `gorm:"type:varchar(16)" json:"kind"`
	TargetRole TargetRole       `gorm:"type:varchar(16)" json:"target_role"`
	Message    string           `gorm:"type:text" json:"message"`
	TaskID     string           `gorm:"type:uuid;index" json:"task_id,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}

// TableName returns the table name for GORM.
func (Notification) TableName() string {
	return "notifications"
}
