/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package scheduler runs the periodic loop that promotes due scheduled
// tasks into the broadcast controller and performs housekeeping (§4.5).
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/pa_broadcast_core/internal/models"
	"github.com/friendsincode/pa_broadcast_core/internal/telemetry"
)

// Controller is the subset of the broadcast controller the loop drives.
type Controller interface {
	WatchdogTick(ctx context.Context)
	PromoteDue(ctx context.Context, now time.Time) *models.Task
}

// Store is the subset of the persistent store the loop's GC pass needs.
type Store interface {
	CleanupOlderThan(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

// cleanupInterval and cleanupRowLimit mirror §4.5 step 2 exactly: once per
// 24 hours, delete completed rows older than 7 days, capped at 100/pass.
const (
	cleanupInterval = 24 * time.Hour
	cleanupMaxAge   = 7 * 24 * time.Hour
	cleanupRowLimit = 100
)

// Service is the scheduler loop worker.
type Service struct {
	controller Controller
	store      Store
	interval   time.Duration
	logger     zerolog.Logger

	mu          sync.Mutex
	lastCleanup time.Time
}

// New constructs a scheduler Service. interval is the tick period (§4.5: 1s).
func New(controller Controller, store Store, interval time.Duration, logger zerolog.Logger) *Service {
	if interval <= 0 {
		interval = time.Second
	}
	return &Service{controller: controller, store: store, interval: interval, logger: logger}
}

// Run executes the scheduler loop until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.interval).Msg("scheduler loop started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler loop stopped")
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Service) tick(ctx context.Context) {
	telemetry.SchedulerTicksTotal.Inc()

	s.controller.WatchdogTick(ctx)
	s.maybeCleanup(ctx)

	// PromoteDue handles its own controller locking and dispatches at most
	// one due task per tick; a backlog of due tasks drains over subsequent
	// ticks rather than all at once, keeping each tick's critical section
	// brief (§5).
	s.controller.PromoteDue(ctx, time.Now())
}

func (s *Service) maybeCleanup(ctx context.Context) {
	s.mu.Lock()
	if time.Since(s.lastCleanup) < cleanupInterval {
		s.mu.Unlock()
		return
	}
	s.lastCleanup = time.Now()
	s.mu.Unlock()

	cutoff := time.Now().Add(-cleanupMaxAge)
	deleted, err := s.store.CleanupOlderThan(ctx, cutoff, cleanupRowLimit)
	if err != nil {
		s.logger.Warn().Err(err).Msg("scheduled cleanup pass failed")
		return
	}
	if deleted > 0 {
		telemetry.SchedulerCleanupRowsTotal.Add(float64(deleted))
		s.logger.Info().Int64("deleted", deleted).Msg("cleaned up old completed task rows")
	}
}
