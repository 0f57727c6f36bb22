/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package audit subscribes to the controller's event bus and persists a
// durable trail of admission, preemption, emergency, and schedule events,
// independent of the single state document the state publisher maintains.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/pa_broadcast_core/internal/events"
	"github.com/friendsincode/pa_broadcast_core/internal/models"
)

// Service records controller events as audit log rows.
type Service struct {
	db     *gorm.DB
	bus    *events.Bus
	logger zerolog.Logger
}

// NewService builds the audit trail service.
func NewService(db *gorm.DB, bus *events.Bus, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "audit").Logger(),
	}
}

// Start subscribes to every tracked controller event and records entries
// until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	s.logger.Info().Msg("audit service starting")

	taskStarted := s.bus.Subscribe(events.EventTaskStarted)
	taskCompleted := s.bus.Subscribe(events.EventTaskCompleted)
	taskInterrupted := s.bus.Subscribe(events.EventTaskInterrupted)
	taskSuspended := s.bus.Subscribe(events.EventTaskSuspended)
	emergencyActivated := s.bus.Subscribe(events.EventEmergencyActivated)
	zombieKilled := s.bus.Subscribe(events.EventZombieKilled)
	scheduleEnqueued := s.bus.Subscribe(events.EventScheduleEnqueued)
	scheduleRecurred := s.bus.Subscribe(events.EventScheduleRecurred)
	systemOnline := s.bus.Subscribe(events.EventSystemOnline)

	defer func() {
		s.bus.Unsubscribe(events.EventTaskStarted, taskStarted)
		s.bus.Unsubscribe(events.EventTaskCompleted, taskCompleted)
		s.bus.Unsubscribe(events.EventTaskInterrupted, taskInterrupted)
		s.bus.Unsubscribe(events.EventTaskSuspended, taskSuspended)
		s.bus.Unsubscribe(events.EventEmergencyActivated, emergencyActivated)
		s.bus.Unsubscribe(events.EventZombieKilled, zombieKilled)
		s.bus.Unsubscribe(events.EventScheduleEnqueued, scheduleEnqueued)
		s.bus.Unsubscribe(events.EventScheduleRecurred, scheduleRecurred)
		s.bus.Unsubscribe(events.EventSystemOnline, systemOnline)
	}()

	s.logger.Info().Msg("audit service started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("audit service stopping")
			return

		case payload := <-taskStarted:
			s.record(ctx, models.AuditActionTaskStarted, payload)
		case payload := <-taskCompleted:
			s.record(ctx, models.AuditActionTaskCompleted, payload)
		case payload := <-taskInterrupted:
			s.record(ctx, models.AuditActionTaskInterrupted, payload)
		case payload := <-taskSuspended:
			s.record(ctx, models.AuditActionTaskSuspended, payload)
		case payload := <-emergencyActivated:
			s.record(ctx, models.AuditActionEmergencyActivate, payload)
		case payload := <-zombieKilled:
			s.record(ctx, models.AuditActionZombieKilled, payload)
		case payload := <-scheduleEnqueued:
			s.record(ctx, models.AuditActionScheduleEnqueued, payload)
		case payload := <-scheduleRecurred:
			s.record(ctx, models.AuditActionScheduleRecurred, payload)
		case payload := <-systemOnline:
			s.record(ctx, models.AuditActionSystemOnline, payload)
		}
	}
}

func (s *Service) record(ctx context.Context, action models.AuditAction, payload events.Payload) {
	entry := &models.AuditLog{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Action:    action,
		Details:   make(map[string]any),
	}

	if taskID, ok := payload["task_id"].(string); ok {
		entry.TaskID = taskID
	}
	if user, ok := payload["user"].(string); ok {
		entry.User = user
	}
	for k, v := range payload {
		switch k {
		case "task_id", "user":
		default:
			entry.Details[k] = v
		}
	}

	if err := s.Log(ctx, entry); err != nil {
		s.logger.Warn().Err(err).Str("action", string(action)).Msg("failed to persist audit entry")
	}
}

// Log records an audit entry directly.
func (s *Service) Log(ctx context.Context, entry *models.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if entry.Details == nil {
		entry.Details = make(map[string]any)
	}
	return s.db.WithContext(ctx).Create(entry).Error
}

// QueryFilters narrows an audit log query.
type QueryFilters struct {
	Action    *models.AuditAction
	User      *string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

// Query retrieves audit log rows matching filters, most recent first.
func (s *Service) Query(ctx context.Context, filters QueryFilters) ([]models.AuditLog, int64, error) {
	var logs []models.AuditLog
	var total int64

	query := s.db.WithContext(ctx).Model(&models.AuditLog{})
	if filters.Action != nil {
		query = query.Where("action = ?", *filters.Action)
	}
	if filters.User != nil {
		query = query.Where("user = ?", *filters.User)
	}
	if filters.StartTime != nil {
		query = query.Where("timestamp >= ?", *filters.StartTime)
	}
	if filters.EndTime != nil {
		query = query.Where("timestamp <= ?", *filters.EndTime)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = 100
	}
	if err := query.Limit(limit).Offset(filters.Offset).Order("timestamp DESC").Find(&logs).Error; err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}
