/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package state mirrors the broadcast controller's observable state to the
// persistent store and emits operator notifications as side effects of
// controller transitions (§4.6).
package state

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/pa_broadcast_core/internal/events"
	"github.com/friendsincode/pa_broadcast_core/internal/models"
)

// persister is the subset of store.Store the publisher needs; kept as an
// interface so controller tests can supply a fake without a live database.
type persister interface {
	PublishState(ctx context.Context, doc *models.StateDocument) error
	SaveNotification(ctx context.Context, n *models.Notification) error
}

// Publisher writes state transitions and notifications.
type Publisher struct {
	store  persister
	bus    *events.Bus
	logger zerolog.Logger
}

// New builds a Publisher.
func New(store persister, bus *events.Bus, logger zerolog.Logger) *Publisher {
	return &Publisher{store: store, bus: bus, logger: logger}
}

// PublishState writes the controller's current observable state.
func (p *Publisher) PublishState(ctx context.Context, activeTaskID string, priority models.Priority, mode models.Mode) {
	doc := &models.StateDocument{
		ActiveTaskID: activeTaskID,
		Priority:     priority,
		Mode:         mode,
		Timestamp:    time.Now(),
	}
	if err := p.store.PublishState(ctx, doc); err != nil {
		p.logger.Warn().Err(err).Msg("state document write failed; in-memory state remains consistent")
	}
	p.bus.Publish(events.EventNotification, events.Payload{"mode": string(mode)})
}

// Startup fires the device-online notification (supplemented feature,
// SPEC_FULL §12.3).
func (p *Publisher) Startup(ctx context.Context) {
	p.notify(ctx, models.NotificationSuccess, models.TargetRoleAdmin, "PA system is online", "")
	p.bus.Publish(events.EventSystemOnline, events.Payload{})
}

// PublishEmergency sends the dual-audience emergency activation
// notification (admin and user), per SPEC_FULL §12.4.
func (p *Publisher) PublishEmergency(ctx context.Context, taskID string) {
	p.notify(ctx, models.NotificationWarning, models.TargetRoleAdmin, "Emergency broadcast activated", taskID)
	p.notify(ctx, models.NotificationWarning, models.TargetRoleUser, "Emergency broadcast activated", taskID)
	p.bus.Publish(events.EventEmergencyActivated, events.Payload{"task_id": taskID})
}

// PublishScheduleEvent records a schedule notification addressed to every
// role (TargetRoleAll). The notification carries the task id but no
// target user, so it is not addressed to the task owner in particular.
func (p *Publisher) PublishScheduleEvent(ctx context.Context, kind models.NotificationKind, message, taskID string) {
	p.notify(ctx, kind, models.TargetRoleAll, message, taskID)
}

// PublishBroadcastInterrupt records a notification, addressed to every
// role (TargetRoleAll), that a live broadcast was interrupted. It carries
// no target user.
func (p *Publisher) PublishBroadcastInterrupt(ctx context.Context, taskID string) {
	p.notify(ctx, models.NotificationWarning, models.TargetRoleAll, "Live broadcast was interrupted", taskID)
}

// PublishBroadcastEnded notifies admins that a broadcast ended.
func (p *Publisher) PublishBroadcastEnded(ctx context.Context, taskID string) {
	p.notify(ctx, models.NotificationInfo, models.TargetRoleAdmin, "Broadcast ended", taskID)
	p.bus.Publish(events.EventTaskCompleted, events.Payload{"task_id": taskID})
}

func (p *Publisher) notify(ctx context.Context, kind models.NotificationKind, role models.TargetRole, message, taskID string) {
	n := &models.Notification{
		ID:         uuid.NewString(),
		Kind:       kind,
		TargetRole: role,
		Message:    message,
		TaskID:     taskID,
		CreatedAt:  time.Now(),
	}
	if err := p.store.SaveNotification(ctx, n); err != nil {
		p.logger.Warn().Err(err).Msg("notification write failed")
	}
}
