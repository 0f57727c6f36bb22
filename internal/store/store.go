/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package store is the persistent document store backing schedules, the
// state document, and notifications (§6). It is the out-of-scope
// collaborator the spec names only by interface, implemented here on top
// of gorm the way the teacher's internal/db package does, so schedules
// survive a restart and C7 has something to rehydrate from.
package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/friendsincode/pa_broadcast_core/internal/models"
)

// Store persists Task rows, the singleton state document, and
// notifications using gorm's last-writer-wins per-document semantics
// (§5) — no cross-document transactions are required.
type Store struct {
	db *gorm.DB
}

// New wraps an open gorm connection.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// SaveTask upserts a task row.
func (s *Store) SaveTask(ctx context.Context, t *models.Task) error {
	return s.db.WithContext(ctx).Save(t).Error
}

// UpdateStatus sets a task's status by id.
func (s *Store) UpdateStatus(ctx context.Context, id string, status models.Status) error {
	return s.db.WithContext(ctx).Model(&models.Task{}).
		Where("id = ?", id).
		Update("status", status).Error
}

// PendingTasks returns every task row with status Pending, used by the
// rehydrator (C7) on startup.
func (s *Store) PendingTasks(ctx context.Context) ([]models.Task, error) {
	var tasks []models.Task
	err := s.db.WithContext(ctx).
		Where("status = ?", models.StatusPending).
		Find(&tasks).Error
	return tasks, err
}

// ShiftScheduledTimes adds shift to the scheduled_time of every task in
// ids, in a single batch (§4.4.5).
func (s *Store) ShiftScheduledTimes(ctx context.Context, ids []string, shift time.Duration) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []models.Task
		if err := tx.Where("id IN ?", ids).Find(&rows).Error; err != nil {
			return err
		}
		for _, row := range rows {
			if row.ScheduledTime == nil {
				continue
			}
			shifted := row.ScheduledTime.Add(shift)
			if err := tx.Model(&models.Task{}).
				Where("id = ?", row.ID).
				Update("scheduled_time", shifted).Error; err != nil {
				return fmt.Errorf("shift task %s: %w", row.ID, err)
			}
		}
		return nil
	})
}

// SaveNotification appends a notification record.
func (s *Store) SaveNotification(ctx context.Context, n *models.Notification) error {
	return s.db.WithContext(ctx).Create(n).Error
}

// PublishState upserts the singleton state document.
func (s *Store) PublishState(ctx context.Context, doc *models.StateDocument) error {
	doc.ID = models.StateDocumentKey
	return s.db.WithContext(ctx).Save(doc).Error
}

// CleanupOlderThan deletes completed task rows created before cutoff,
// capped at limit rows per pass (§4.5, §7).
func (s *Store) CleanupOlderThan(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.StatusCompleted, cutoff).
		Limit(limit).
		Delete(&models.Task{})
	return result.RowsAffected, result.Error
}

// DeleteTask removes a task row outright.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&models.Task{}, "id = ?", id).Error
}
