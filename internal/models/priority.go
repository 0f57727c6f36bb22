/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"time"
)

// Priority defines the 5-tier priority ladder for broadcast tasks. Unlike
// the station-automation priority levels this module's teacher used
// (lower numeric value wins), the PA controller's ladder runs the other
// direction: a higher numeric value always wins admission and preemption.
type Priority int

const (
	PriorityIdle       Priority = 0
	PriorityBackground Priority = 10
	PrioritySchedule   Priority = 20
	PriorityRealtime   Priority = 30
	PriorityEmergency  Priority = 100
)

// String returns a human-readable priority name.
func (p Priority) String() string {
	switch p {
	case PriorityIdle:
		return "Idle"
	case PriorityBackground:
		return "Background"
	case PrioritySchedule:
		return "Schedule"
	case PriorityRealtime:
		return "Realtime"
	case PriorityEmergency:
		return "Emergency"
	default:
		return "Unknown"
	}
}

// TaskType enumerates the kinds of content a Task can carry.
type TaskType string

const (
	TaskTypeSchedule  TaskType = "schedule"
	TaskTypeVoice     TaskType = "voice"
	TaskTypeText      TaskType = "text"
	TaskTypeEmergency TaskType = "emergency"
	TaskTypeBackground TaskType = "background"
)

// Status enumerates the lifecycle states of a Task.
type Status int

const (
	StatusPending     Status = 1
	StatusPlaying     Status = 2
	StatusInterrupted Status = 3
	StatusCompleted   Status = 4
)

// String returns a human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusPlaying:
		return "Playing"
	case StatusInterrupted:
		return "Interrupted"
	case StatusCompleted:
		return "Completed"
	default:
		return "Unknown"
	}
}

// Task is a single broadcast request moving through the controller's queue.
type Task struct {
	ID            string         `gorm:"type:uuid;primaryKey" json:"id"`
	Type          TaskType       `gorm:"type:varchar(16)" json:"type"`
	Priority      Priority       `gorm:"type:int;index" json:"priority"`
	Status        Status         `gorm:"type:int;index" json:"status"`
	Zone          string         `gorm:"type:varchar(64)" json:"zone"`
	Requester     string         `gorm:"type:varchar(128)" json:"requester"`
	CreatedAt     time.Time      `json:"created_at"`
	ScheduledTime *time.Time     `json:"scheduled_time,omitempty"`
	Data          map[string]any `gorm:"serializer:json" json:"data"`
}

// TableName overrides for GORM.
func (Task) TableName() string {
	return "tasks"
}

// IsEmergency reports whether the task carries emergency priority.
func (t *Task) IsEmergency() bool {
	return t.Priority == PriorityEmergency
}

// IsActive reports whether the task currently occupies the device.
func (t *Task) IsActive() bool {
	return t.Status == StatusPlaying
}

// RecurrenceField extracts the recurrence rule ("once", "daily", "weekly")
// from the "repeat" key of the task's free-form data payload, or "none"
// when it is unset.
func (t *Task) RecurrenceField() string {
	if t.Data == nil {
		return "none"
	}
	if v, ok := t.Data["repeat"]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return "none"
}
