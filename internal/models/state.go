/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// Mode mirrors the controller's observable high-level state (§4.6).
type Mode string

const (
	ModeIdle       Mode = "IDLE"
	ModeBroadcast  Mode = "BROADCAST"
	ModeSchedule   Mode = "SCHEDULE"
	ModeBackground Mode = "BACKGROUND"
	ModeEmergency  Mode = "EMERGENCY"
)

// StateDocumentKey is the single well-known key the state document is
// stored under (§6).
const StateDocumentKey = "singleton"

// StateDocument is the controller's published observable state.
type StateDocument struct {
	ID           string    `gorm:"type:varchar(16);primaryKey" json:"id"`
	ActiveTaskID string    `json:"active_task_id,omitempty"`
	Priority     Priority  `json:"priority"`
	Mode         Mode      `json:"mode"`
	Timestamp    time.Time `json:"timestamp"`
}

// TableName returns the table name for GORM.
func (StateDocument) TableName() string {
	return "state_documents"
}
