/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package broadcast implements the singleton Broadcast Controller: the
// priority/preemption state machine that mediates every request against
// the shared set of audio output devices.
package broadcast

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/teambition/rrule-go"

	"github.com/friendsincode/pa_broadcast_core/internal/events"
	"github.com/friendsincode/pa_broadcast_core/internal/models"
	"github.com/friendsincode/pa_broadcast_core/internal/playback"
	"github.com/friendsincode/pa_broadcast_core/internal/state"
	"github.com/friendsincode/pa_broadcast_core/internal/telemetry"
	"github.com/friendsincode/pa_broadcast_core/internal/zones"
)

// emergencyScript is the fixed announcement played on every emergency
// activation (§6).
const emergencyScript = "Attention. This is an emergency alert. Please remain calm and follow the instructions carefully. The situation is urgent. Stay tuned for further information."

const emergencySirenStartVolume = 0.05
const emergencySirenTargetVolume = 0.8
const emergencySirenPrelude = 2500 * time.Millisecond
const suspendedResumeDelay = 150 * time.Millisecond
const scheduleDateLayout = "2006-01-02 15:04"

// Store is the subset of the persistent store the controller depends on.
// Narrowed to an interface so tests can supply a fake without a database.
type Store interface {
	SaveTask(ctx context.Context, t *models.Task) error
	UpdateStatus(ctx context.Context, id string, status models.Status) error
	ShiftScheduledTimes(ctx context.Context, ids []string, shift time.Duration) error
}

// Resolver is the zone-resolution contract the controller depends on.
type Resolver interface {
	Resolve(requested []string) []zones.Target
}

// Synthesizer is the TTS contract the controller depends on.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceKey string) (string, error)
}

// Controller is the singleton broadcast state machine (C4). All exported
// methods acquire mu; none suspend while holding it except for calls into
// the store and publisher and the player's Stop, StopStreaming and
// PlaySiren (§5).
type Controller struct {
	mu sync.Mutex

	currentTask   *models.Task
	queue         []*models.Task
	suspendedTask *models.Task

	emergencyMode  bool
	emergencyOwner string

	pauseStartTime *time.Time

	backgroundResumeTime   float64
	backgroundPlayStart    *time.Time
	lastBackgroundContent  string

	heartbeats map[string]time.Time

	zones     Resolver
	tts       Synthesizer
	player    playback.Player
	store     Store
	bus       *events.Bus
	publisher *state.Publisher
	logger    zerolog.Logger

	adminUsers    []string
	chimePath     string
	systemSoundRoot string
	heartbeatWarnAfter time.Duration
	heartbeatKillAfter time.Duration
	sirenRampDuration  time.Duration
}

// Config carries the controller's tunables, a thin slice of internal/config.Config.
type Config struct {
	AdminUsers         []string
	ChimePath          string
	SystemSoundRoot    string
	HeartbeatWarnAfter time.Duration
	HeartbeatKillAfter time.Duration
	SirenRampDuration  time.Duration
}

// New builds a Controller with empty state.
func New(cfg Config, resolver Resolver, synth Synthesizer, player playback.Player, store Store, bus *events.Bus, publisher *state.Publisher, logger zerolog.Logger) *Controller {
	return &Controller{
		heartbeats:         make(map[string]time.Time),
		zones:              resolver,
		tts:                synth,
		player:             player,
		store:              store,
		bus:                bus,
		publisher:          publisher,
		logger:             logger,
		adminUsers:         cfg.AdminUsers,
		chimePath:          cfg.ChimePath,
		systemSoundRoot:    cfg.SystemSoundRoot,
		heartbeatWarnAfter: cfg.HeartbeatWarnAfter,
		heartbeatKillAfter: cfg.HeartbeatKillAfter,
		sirenRampDuration:  cfg.SirenRampDuration,
	}
}

// --- data accessors -------------------------------------------------------

func dataString(t *models.Task, key string) string {
	if t == nil || t.Data == nil {
		return ""
	}
	if v, ok := t.Data[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func dataFloat(t *models.Task, key string) float64 {
	if t == nil || t.Data == nil {
		return 0
	}
	switch v := t.Data[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

func dataZones(t *models.Task) []string {
	if t == nil || t.Data == nil {
		return nil
	}
	switch v := t.Data["zones"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{v}
	}
	return nil
}

// --- request_playback (§4.4.1) --------------------------------------------

// RequestPlayback evaluates the decision table and, on acceptance, preempts
// whatever is current and starts new_task. EMERGENCY dispatch runs on a
// detached goroutine so the call itself never blocks.
func (c *Controller) RequestPlayback(ctx context.Context, task *models.Task) bool {
	c.mu.Lock()

	if c.emergencyMode && task.Priority < models.PriorityEmergency {
		c.mu.Unlock()
		telemetry.AdmissionDecisionsTotal.WithLabelValues("denied").Inc()
		return false
	}

	if task.Type == models.TaskTypeSchedule {
		c.enqueueLocked(task)
		telemetry.QueueDepth.Set(float64(len(c.queue)))
		c.mu.Unlock()
		c.persistTask(ctx, task)
		c.bus.Publish(events.EventScheduleEnqueued, events.Payload{"task_id": task.ID})
		telemetry.AdmissionDecisionsTotal.WithLabelValues("accepted").Inc()
		return true
	}

	currentPri := models.PriorityIdle
	sameUser := false
	if c.currentTask != nil {
		currentPri = c.currentTask.Priority
		sameUser = dataString(c.currentTask, "user") == dataString(task, "user")
	}
	if !(task.Priority > currentPri || (task.Priority == currentPri && sameUser)) {
		c.mu.Unlock()
		telemetry.AdmissionDecisionsTotal.WithLabelValues("denied").Inc()
		return false
	}

	if c.currentTask != nil && c.currentTask.Type == models.TaskTypeBackground && task.Type == models.TaskTypeBackground {
		sameContent := dataString(c.currentTask, "content") == dataString(task, "content")
		if sameContent && dataFloat(task, "start_time") == 0 {
			c.mu.Unlock()
			return true
		}
	}

	if task.Type == models.TaskTypeBackground {
		content := dataString(task, "content")
		if content != c.lastBackgroundContent {
			c.backgroundResumeTime = 0
		}
		c.lastBackgroundContent = content
	}

	if c.currentTask != nil {
		c.preemptCurrentTaskLocked(ctx, task.Type)
	}

	dispatch := c.startTaskLocked(ctx, task)
	c.mu.Unlock()

	telemetry.AdmissionDecisionsTotal.WithLabelValues("accepted").Inc()
	go dispatch(ctx)
	return true
}

func (c *Controller) enqueueLocked(task *models.Task) {
	c.queue = append(c.queue, task)
	c.sortQueueLocked()
}

func (c *Controller) sortQueueLocked() {
	sort.SliceStable(c.queue, func(i, j int) bool {
		ti, tj := c.queue[i].ScheduledTime, c.queue[j].ScheduledTime
		if ti == nil || tj == nil {
			return ti != nil
		}
		return ti.Before(*tj)
	})
}

// --- stop_task (§4.4.2) ----------------------------------------------------

// StopTask evaluates the deny-condition table, including the anti-zombie
// owner-match supplement (SPEC_FULL §12), then releases the device and
// resumes any suspended background task.
func (c *Controller) StopTask(ctx context.Context, taskID, taskType, requester string) bool {
	c.mu.Lock()

	if c.currentTask == nil && !c.emergencyMode {
		c.mu.Unlock()
		return true
	}

	if taskID != "" && (c.currentTask == nil || c.currentTask.ID != taskID) {
		c.mu.Unlock()
		return false
	}

	if taskID == "" && taskType != "" && !strings.EqualFold(taskType, "any") {
		if c.currentTask == nil || !strings.EqualFold(string(c.currentTask.Type), taskType) {
			c.mu.Unlock()
			return false
		}
	}

	isAdmin := models.IsAdminUser(requester, c.adminUsers)

	if taskID == "" && c.currentTask != nil && c.currentTask.Type == models.TaskTypeSchedule && !isAdmin {
		c.mu.Unlock()
		return false
	}

	if taskID == "" && (c.emergencyMode || (c.currentTask != nil && c.currentTask.Type == models.TaskTypeEmergency)) {
		ownerMatch := strings.EqualFold(requester, c.emergencyOwner) && c.emergencyOwner != ""
		if !ownerMatch && !isAdmin {
			c.mu.Unlock()
			return false
		}
	}

	// Anti-zombie supplement: a bare stop-by-type for a live voice/text/
	// background task is restricted to its owner or an admin, preventing
	// one session from silencing another's announcement.
	if taskID == "" && c.currentTask != nil &&
		c.currentTask.Type != models.TaskTypeSchedule && c.currentTask.Type != models.TaskTypeEmergency {
		owner := dataString(c.currentTask, "user")
		if owner != "" && !isAdmin && !strings.EqualFold(owner, requester) {
			c.mu.Unlock()
			return false
		}
	}

	if c.currentTask != nil && c.currentTask.Type == models.TaskTypeEmergency {
		c.emergencyMode = false
		c.emergencyOwner = ""
	} else if c.currentTask == nil && c.emergencyMode {
		// Latched post-script emergency state; owner/admin check already passed above.
		c.emergencyMode = false
		c.emergencyOwner = ""
	}

	if c.currentTask != nil {
		switch c.currentTask.Type {
		case models.TaskTypeVoice:
			c.player.StopStreaming()
		case models.TaskTypeBackground:
			if c.backgroundPlayStart != nil {
				c.backgroundResumeTime += time.Since(*c.backgroundPlayStart).Seconds()
				c.backgroundPlayStart = nil
			}
		}
		c.currentTask.Status = models.StatusCompleted
		c.persistStatus(ctx, c.currentTask.ID, models.StatusCompleted)
		if c.currentTask.Type == models.TaskTypeVoice || c.currentTask.Type == models.TaskTypeText {
			c.publisher.PublishBroadcastEnded(ctx, c.currentTask.ID)
		}
	}

	c.player.Stop()
	c.currentTask = nil
	c.publishStateLocked(ctx)
	c.applyQueueShiftLocked(ctx)

	var resume *models.Task
	if c.suspendedTask != nil {
		resume = c.suspendedTask
		c.suspendedTask = nil
	}
	c.mu.Unlock()

	if resume != nil {
		go func() {
			time.Sleep(suspendedResumeDelay)
			c.mu.Lock()
			dispatch := c.startTaskLocked(ctx, resume)
			c.mu.Unlock()
			dispatch(ctx)
		}()
	}
	return true
}

// --- _preempt_current_task (§4.4.3) ----------------------------------------

func (c *Controller) preemptCurrentTaskLocked(ctx context.Context, newType models.TaskType) {
	current := c.currentTask
	if current == nil {
		return
	}
	telemetry.PreemptionsTotal.WithLabelValues(string(current.Type)).Inc()

	switch current.Type {
	case models.TaskTypeSchedule:
		current.Status = models.StatusInterrupted
		c.persistStatus(ctx, current.ID, models.StatusInterrupted)
		c.queue = append(c.queue, current)
		c.sortQueueLocked()
		c.publisher.PublishScheduleEvent(ctx, models.NotificationWarning, "Scheduled broadcast interrupted", current.ID)
		c.bus.Publish(events.EventTaskInterrupted, events.Payload{"task_id": current.ID, "type": string(current.Type)})
	case models.TaskTypeVoice, models.TaskTypeText:
		current.Status = models.StatusCompleted
		c.persistStatus(ctx, current.ID, models.StatusCompleted)
		c.publisher.PublishBroadcastInterrupt(ctx, current.ID)
		c.bus.Publish(events.EventTaskInterrupted, events.Payload{"task_id": current.ID, "type": string(current.Type)})
	case models.TaskTypeBackground:
		if newType == models.TaskTypeBackground {
			// Same-priority track switch: current track just drops, no
			// suspended_task is created.
			current.Status = models.StatusCompleted
			c.persistStatus(ctx, current.ID, models.StatusCompleted)
			c.backgroundPlayStart = nil
		} else {
			if c.backgroundPlayStart != nil {
				c.backgroundResumeTime += time.Since(*c.backgroundPlayStart).Seconds()
				c.backgroundPlayStart = nil
			}
			c.suspendedTask = current
			c.bus.Publish(events.EventTaskSuspended, events.Payload{"task_id": current.ID})
		}
	}

	c.player.Stop()
	c.currentTask = nil
}

// --- _start_task (§4.4.4) --------------------------------------------------

// startTaskLocked mutates controller state while the lock is held (brief:
// map/struct writes and the state-document publish) and returns a closure
// performing the type-specific audio dispatch, to be invoked outside the
// lock.
func (c *Controller) startTaskLocked(ctx context.Context, task *models.Task) func(context.Context) {
	task.Status = models.StatusPlaying
	c.currentTask = task
	c.persistStatus(ctx, task.ID, models.StatusPlaying)

	if task.Priority >= models.PriorityRealtime && c.pauseStartTime == nil {
		now := time.Now()
		c.pauseStartTime = &now
	}

	if task.Type == models.TaskTypeEmergency {
		c.emergencyMode = true
		c.emergencyOwner = dataString(task, "user")
		c.player.PlaySiren(c.zones.Resolve([]string{zones.AllZones}), emergencySirenStartVolume)
		c.publisher.PublishEmergency(ctx, task.ID)
		telemetry.EmergencyActivationsTotal.Inc()
	}

	c.publishStateLocked(ctx)
	c.bus.Publish(events.EventTaskStarted, events.Payload{"task_id": task.ID, "type": string(task.Type)})

	switch task.Type {
	case models.TaskTypeVoice:
		return c.dispatchVoice(task)
	case models.TaskTypeSchedule:
		return c.dispatchSchedule(task)
	case models.TaskTypeText:
		return c.dispatchText(task)
	case models.TaskTypeBackground:
		return c.dispatchBackground(task)
	case models.TaskTypeEmergency:
		return c.dispatchEmergency(task)
	default:
		return func(context.Context) {}
	}
}

func (c *Controller) dispatchVoice(task *models.Task) func(context.Context) {
	targets := c.zones.Resolve(dataZones(task))
	return func(ctx context.Context) {
		c.player.PlayChimeSync(ctx, c.chimePath, targets)
		if err := c.player.StartStreaming(targets); err != nil {
			c.logger.Warn().Err(err).Str("task_id", task.ID).Msg("failed to open voice stream pipes")
		}
	}
}

func (c *Controller) dispatchSchedule(task *models.Task) func(context.Context) {
	targets := c.zones.Resolve(dataZones(task))
	voice := dataString(task, "voice")
	return func(ctx context.Context) {
		if audio := dataString(task, "audio"); audio != "" {
			wavPath, err := c.decodeAudioBlob(audio)
			if err != nil {
				c.logger.Warn().Err(err).Str("task_id", task.ID).Msg("failed to decode schedule audio blob")
				return
			}
			defer os.Remove(wavPath)
			c.player.PlayWav(ctx, c.chimePath, wavPath, targets)
			return
		}
		path, err := c.tts.Synthesize(ctx, dataString(task, "content"), voice)
		if err != nil || path == "" {
			c.logger.Warn().Str("task_id", task.ID).Msg("schedule synthesis unavailable, skipping announcement")
			return
		}
		c.player.PlayAnnouncement(ctx, c.chimePath, path, targets)
	}
}

func (c *Controller) dispatchText(task *models.Task) func(context.Context) {
	targets := c.zones.Resolve(dataZones(task))
	voice := dataString(task, "voice")
	content := dataString(task, "content")
	return func(ctx context.Context) {
		path, err := c.tts.Synthesize(ctx, content, voice)
		if err != nil || path == "" {
			c.logger.Warn().Str("task_id", task.ID).Msg("text synthesis unavailable, skipping announcement")
			return
		}
		c.player.PlayAnnouncement(ctx, c.chimePath, path, targets)
	}
}

// dispatchBackground is called from startTaskLocked while c.mu is already
// held, so it touches background-resume bookkeeping directly rather than
// re-acquiring the lock.
func (c *Controller) dispatchBackground(task *models.Task) func(context.Context) {
	targets := c.zones.Resolve(dataZones(task))
	content := dataString(task, "content")
	path := content
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.systemSoundRoot, content)
	}

	startOffset := dataFloat(task, "start_time")
	if startOffset == 0 {
		startOffset = c.backgroundResumeTime
	}
	now := time.Now()
	c.backgroundPlayStart = &now

	return func(ctx context.Context) {
		c.player.PlayBackgroundMusic(ctx, path, targets, startOffset)
	}
}

func (c *Controller) dispatchEmergency(task *models.Task) func(context.Context) {
	return func(ctx context.Context) {
		time.Sleep(emergencySirenPrelude)
		c.player.SetSirenVolume(0)

		path, err := c.tts.Synthesize(ctx, emergencyScript, "female")
		if err == nil && path != "" {
			targets := c.zones.Resolve([]string{zones.AllZones})
			c.player.PlayAnnouncement(ctx, "", path, targets)
		} else {
			c.logger.Warn().Str("task_id", task.ID).Msg("emergency synthesis unavailable, retrying script path")
			if path, err = c.tts.Synthesize(ctx, emergencyScript, "female"); err == nil && path != "" {
				targets := c.zones.Resolve([]string{zones.AllZones})
				c.player.PlayAnnouncement(ctx, "", path, targets)
			}
		}

		c.player.RampSirenVolume(emergencySirenTargetVolume, c.sirenRampDuration)

		c.mu.Lock()
		if c.currentTask != nil && c.currentTask.ID == task.ID {
			c.currentTask.Status = models.StatusCompleted
			c.persistStatus(ctx, task.ID, models.StatusCompleted)
			c.currentTask = nil
			c.publishStateLocked(ctx)
		}
		c.mu.Unlock()
	}
}

func (c *Controller) decodeAudioBlob(b64 string) (string, error) {
	if idx := strings.Index(b64, ","); idx != -1 && strings.HasPrefix(b64, "data:") {
		b64 = b64[idx+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", fmt.Errorf("decode audio blob: %w", err)
	}
	outPath := filepath.Join(os.TempDir(), fmt.Sprintf("pa-schedule-%s.wav", uuid.NewString()))
	if err := os.WriteFile(outPath, raw, 0o644); err != nil {
		return "", fmt.Errorf("write temp schedule wav: %w", err)
	}
	return outPath, nil
}

// --- _apply_queue_shift (§4.4.5) --------------------------------------------

func (c *Controller) applyQueueShiftLocked(ctx context.Context) {
	if c.pauseStartTime == nil {
		return
	}
	shift := time.Since(*c.pauseStartTime)
	ids := make([]string, 0, len(c.queue))
	for _, t := range c.queue {
		if t.ScheduledTime == nil {
			continue
		}
		shifted := t.ScheduledTime.Add(shift)
		t.ScheduledTime = &shifted
		ids = append(ids, t.ID)
	}
	c.sortQueueLocked()
	c.pauseStartTime = nil

	if len(ids) == 0 {
		return
	}
	if err := c.store.ShiftScheduledTimes(ctx, ids, shift); err != nil {
		c.logger.Warn().Err(err).Msg("failed to persist queue time shift")
	}
}

// --- seek_background_music (§4.4.6) -----------------------------------------

// SeekBackgroundMusic restarts the current BACKGROUND task at the given
// offset. Returns false if no BACKGROUND task is current.
func (c *Controller) SeekBackgroundMusic(ctx context.Context, user string, seconds float64) bool {
	c.mu.Lock()
	if c.currentTask == nil || c.currentTask.Type != models.TaskTypeBackground {
		c.mu.Unlock()
		return false
	}

	task := c.currentTask
	c.backgroundResumeTime = seconds
	c.backgroundPlayStart = nil
	c.player.Stop()

	if task.Data == nil {
		task.Data = map[string]any{}
	}
	task.Data["start_time"] = seconds

	dispatch := c.startTaskLocked(ctx, task)
	c.mu.Unlock()

	dispatch(ctx)
	return true
}

// --- heartbeat watchdog (§4.4.7) --------------------------------------------

// RegisterHeartbeat records a liveness ping from user.
func (c *Controller) RegisterHeartbeat(user string) {
	c.mu.Lock()
	c.heartbeats[user] = time.Now()
	c.mu.Unlock()
	c.bus.Publish(events.EventHeartbeat, events.Payload{"user": user})
}

// WatchdogTick runs one heartbeat-watchdog pass; called once per scheduler
// tick (§4.5 step 1).
func (c *Controller) WatchdogTick(ctx context.Context) {
	c.mu.Lock()
	current := c.currentTask
	if current == nil || (current.Type != models.TaskTypeBackground && current.Type != models.TaskTypeVoice) {
		c.mu.Unlock()
		return
	}
	user := dataString(current, "user")
	if user == "System" {
		c.mu.Unlock()
		return
	}

	last, seen := c.heartbeats[user]
	zombie := false
	switch {
	case seen && time.Since(last) > c.heartbeatWarnAfter:
		zombie = true
	case !seen && current.Type == models.TaskTypeBackground && c.backgroundPlayStart != nil &&
		time.Since(*c.backgroundPlayStart) > c.heartbeatKillAfter:
		zombie = true
	}
	c.mu.Unlock()

	if zombie {
		telemetry.ZombieKillsTotal.Inc()
		c.bus.Publish(events.EventZombieKilled, events.Payload{"user": user, "task_id": current.ID})
		c.stopSessionTask(ctx, user)
	}
}

// stopSessionTask stops the current task on behalf of a watchdog-detected
// zombie session, unless it is SCHEDULE (schedules survive disconnect).
func (c *Controller) stopSessionTask(ctx context.Context, user string) {
	c.mu.Lock()
	if c.currentTask == nil || c.currentTask.Type == models.TaskTypeSchedule {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.StopTask(ctx, "", "", "System")
}

// --- state publication ------------------------------------------------------

func modeForTask(t *models.Task, emergencyMode bool) models.Mode {
	if t == nil {
		if emergencyMode {
			return models.ModeEmergency
		}
		return models.ModeIdle
	}
	switch t.Type {
	case models.TaskTypeVoice, models.TaskTypeText:
		return models.ModeBroadcast
	case models.TaskTypeSchedule:
		return models.ModeSchedule
	case models.TaskTypeBackground:
		return models.ModeBackground
	case models.TaskTypeEmergency:
		return models.ModeEmergency
	default:
		return models.ModeIdle
	}
}

func (c *Controller) publishStateLocked(ctx context.Context) {
	taskID := ""
	priority := models.PriorityIdle
	if c.currentTask != nil {
		taskID = c.currentTask.ID
		priority = c.currentTask.Priority
	}
	mode := modeForTask(c.currentTask, c.emergencyMode)
	c.publisher.PublishState(ctx, taskID, priority, mode)
}

func (c *Controller) persistTask(ctx context.Context, task *models.Task) {
	if err := c.store.SaveTask(ctx, task); err != nil {
		c.logger.Warn().Err(err).Str("task_id", task.ID).Msg("failed to persist task")
	}
}

func (c *Controller) persistStatus(ctx context.Context, id string, status models.Status) {
	if err := c.store.UpdateStatus(ctx, id, status); err != nil {
		c.logger.Warn().Err(err).Str("task_id", id).Msg("failed to persist task status")
	}
}

// --- scheduler integration (§4.5) -------------------------------------------

// PromoteDue performs one scheduler-tick promotion pass: picks the
// earliest due task (if its priority outranks whatever is current),
// removes it from the queue, preempts the current task, starts it, and
// marks its store row Completed before the audio dispatch runs. Returns
// the promoted task, or nil if nothing was due or eligible.
func (c *Controller) PromoteDue(ctx context.Context, now time.Time) *models.Task {
	c.mu.Lock()

	var due []int
	for i, t := range c.queue {
		if t.ScheduledTime != nil && !t.ScheduledTime.After(now) {
			due = append(due, i)
		}
	}
	if len(due) == 0 {
		c.mu.Unlock()
		return nil
	}

	idx := due[0]
	next := c.queue[idx]

	currentPri := models.PriorityIdle
	if c.currentTask != nil {
		currentPri = c.currentTask.Priority
	}
	if c.currentTask != nil && currentPri >= next.Priority {
		c.mu.Unlock()
		return nil
	}

	c.queue = append(c.queue[:idx], c.queue[idx+1:]...)
	telemetry.QueueDepth.Set(float64(len(c.queue)))
	telemetry.SchedulerPromotionsTotal.Inc()
	next.Status = models.StatusCompleted
	c.publisher.PublishScheduleEvent(ctx, models.NotificationInfo, "Scheduled broadcast started", next.ID)

	if c.currentTask != nil {
		c.preemptCurrentTaskLocked(ctx, next.Type)
	}

	// Schedule playback is tolerated as a blocking call on the scheduler's
	// own tick goroutine, never inside the controller lock (§5).
	dispatch := c.startTaskLocked(ctx, next)
	// startTaskLocked records the row as Playing; the Completed marker is
	// written after it so the promoted row does not stay Playing.
	c.persistStatus(ctx, next.ID, models.StatusCompleted)
	c.mu.Unlock()

	dispatch(ctx)
	c.emitRecurrence(ctx, next)
	return next
}

// emitRecurrence creates and enqueues the next occurrence of a daily or
// weekly schedule. The next instance is computed by rrule-go from the
// original scheduled date/time, never from "now" (§4.5, §9): feeding the
// original timestamp in as Dtstart and asking for two occurrences keeps
// the emitted date an exact one-interval step and the time-of-day
// untouched, satisfying the recurrence invariant (§8.5) by construction.
func (c *Controller) emitRecurrence(ctx context.Context, original *models.Task) {
	repeat, _ := original.Data["repeat"].(string)
	var freq rrule.Frequency
	switch repeat {
	case "daily":
		freq = rrule.DAILY
	case "weekly":
		freq = rrule.WEEKLY
	default:
		return
	}

	dateStr, _ := original.Data["date"].(string)
	timeStr, _ := original.Data["time"].(string)
	if dateStr == "" || timeStr == "" {
		c.logger.Warn().Str("task_id", original.ID).Msg("recurrence skipped: missing original date/time fields")
		return
	}

	combinedOriginal, err := time.ParseInLocation(scheduleDateLayout, fmt.Sprintf("%s %s", dateStr, timeStr), time.Local)
	if err != nil {
		c.logger.Warn().Err(err).Str("task_id", original.ID).Msg("recurrence skipped: unparseable original date/time")
		return
	}

	rule, err := rrule.NewRRule(rrule.ROption{Freq: freq, Interval: 1, Dtstart: combinedOriginal, Count: 2})
	if err != nil {
		c.logger.Warn().Err(err).Str("task_id", original.ID).Msg("recurrence skipped: could not build recurrence rule")
		return
	}
	occurrences := rule.All()
	if len(occurrences) < 2 {
		c.logger.Warn().Str("task_id", original.ID).Msg("recurrence skipped: rule produced no next occurrence")
		return
	}
	combined := occurrences[1]

	data := make(map[string]any, len(original.Data))
	for k, v := range original.Data {
		data[k] = v
	}
	data["date"] = combined.Format("2006-01-02")
	data["time"] = timeStr

	next := &models.Task{
		ID:            uuid.NewString(),
		Type:          models.TaskTypeSchedule,
		Priority:      models.PrioritySchedule,
		Status:        models.StatusPending,
		Requester:     original.Requester,
		CreatedAt:     time.Now(),
		ScheduledTime: &combined,
		Data:          data,
	}

	c.persistTask(ctx, next)
	c.mu.Lock()
	c.enqueueLocked(next)
	c.mu.Unlock()
	c.bus.Publish(events.EventScheduleRecurred, events.Payload{"task_id": next.ID, "original_task_id": original.ID})
}

// --- persistent rehydration (C7, §4.7) --------------------------------------

// Rehydrate fetches every Pending schedule row from pending and appends it
// to the queue directly, bypassing RequestPlayback so no notifications or
// emergency side effects fire during startup.
func (c *Controller) Rehydrate(ctx context.Context, pending []models.Task) {
	rehydrated := make([]*models.Task, 0, len(pending))
	for i := range pending {
		row := pending[i]
		dateStr, _ := row.Data["date"].(string)
		timeStr, _ := row.Data["time"].(string)
		if dateStr == "" || timeStr == "" {
			c.logger.Warn().Str("task_id", row.ID).Msg("rehydration skipped: missing date/time fields")
			continue
		}
		parsed, err := time.ParseInLocation(scheduleDateLayout, fmt.Sprintf("%s %s", dateStr, timeStr), time.Local)
		if err != nil {
			c.logger.Warn().Err(err).Str("task_id", row.ID).Msg("rehydration skipped: unparseable date/time")
			continue
		}
		t := row
		t.ScheduledTime = &parsed
		if t.Priority == 0 {
			t.Priority = models.PrioritySchedule
		}
		rehydrated = append(rehydrated, &t)
	}

	if len(rehydrated) == 0 {
		return
	}

	c.mu.Lock()
	c.queue = append(c.queue, rehydrated...)
	c.sortQueueLocked()
	c.mu.Unlock()
}

// --- speak_chunk (§6) --------------------------------------------------------

// FeedStream writes chunk to the open stream pipes, but only while the
// current task is VOICE.
func (c *Controller) FeedStream(chunk []byte) {
	c.mu.Lock()
	isVoice := c.currentTask != nil && c.currentTask.Type == models.TaskTypeVoice
	c.mu.Unlock()
	if isVoice {
		c.player.FeedStream(chunk)
	}
}
