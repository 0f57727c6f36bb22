package broadcast

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/pa_broadcast_core/internal/events"
	"github.com/friendsincode/pa_broadcast_core/internal/models"
	"github.com/friendsincode/pa_broadcast_core/internal/state"
	"github.com/friendsincode/pa_broadcast_core/internal/zones"
)

// fakePlayer records every call made to it, standing in for a real
// playback.Player during controller tests.
type fakePlayer struct {
	mu          sync.Mutex
	calls       []string
	streamStops int
	stops       int
	sirenVolume float64
}

func (p *fakePlayer) record(name string) {
	p.mu.Lock()
	p.calls = append(p.calls, name)
	p.mu.Unlock()
}

func (p *fakePlayer) PlayAnnouncement(ctx context.Context, introPath, bodyPath string, targets []zones.Target) {
	p.record("announcement")
}
func (p *fakePlayer) PlayWav(ctx context.Context, introPath, bodyPath string, targets []zones.Target) {
	p.record("wav")
}
func (p *fakePlayer) PlayChimeSync(ctx context.Context, chimePath string, targets []zones.Target) {
	p.record("chime")
}
func (p *fakePlayer) PlayBackgroundMusic(ctx context.Context, path string, targets []zones.Target, startOffset float64) {
	p.record("background")
}
func (p *fakePlayer) StartStreaming(targets []zones.Target) error { p.record("start_stream"); return nil }
func (p *fakePlayer) FeedStream(chunk []byte)                     { p.record("feed") }
func (p *fakePlayer) StopStreaming() {
	p.mu.Lock()
	p.streamStops++
	p.mu.Unlock()
}
func (p *fakePlayer) PlaySiren(targets []zones.Target, volume float64) {
	p.mu.Lock()
	p.sirenVolume = volume
	p.mu.Unlock()
}
func (p *fakePlayer) SetSirenVolume(v float64) {
	p.mu.Lock()
	p.sirenVolume = v
	p.mu.Unlock()
}
func (p *fakePlayer) RampSirenVolume(target float64, duration time.Duration) {
	p.mu.Lock()
	p.sirenVolume = target
	p.mu.Unlock()
}
func (p *fakePlayer) Stop() {
	p.mu.Lock()
	p.stops++
	p.mu.Unlock()
}

// fakeResolver always resolves to a single fixed target, regardless of
// input, so tests don't need a real zone configuration file.
type fakeResolver struct{}

func (fakeResolver) Resolve(requested []string) []zones.Target {
	return []zones.Target{{Device: 2}}
}

// fakeSynth returns a deterministic non-empty path for every call.
type fakeSynth struct{}

func (fakeSynth) Synthesize(ctx context.Context, text, voiceKey string) (string, error) {
	return "/tmp/fake.wav", nil
}

// fakeStore records status updates and schedule shifts in memory.
type fakeStore struct {
	mu       sync.Mutex
	saved    []models.Task
	statuses map[string]models.Status
	shifts   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{statuses: make(map[string]models.Status)}
}

func (s *fakeStore) SaveTask(ctx context.Context, t *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, *t)
	return nil
}

func (s *fakeStore) UpdateStatus(ctx context.Context, id string, status models.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[id] = status
	return nil
}

func (s *fakeStore) ShiftScheduledTimes(ctx context.Context, ids []string, shift time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shifts++
	return nil
}

// fakePersister backs state.Publisher without touching a database.
type fakePersister struct{}

func (fakePersister) PublishState(ctx context.Context, doc *models.StateDocument) error { return nil }
func (fakePersister) SaveNotification(ctx context.Context, n *models.Notification) error {
	return nil
}

func newTestController(t *testing.T) (*Controller, *fakePlayer) {
	t.Helper()
	player := &fakePlayer{}
	bus := events.NewBus()
	publisher := state.New(fakePersister{}, bus, zerolog.Nop())
	cfg := Config{
		AdminUsers:         []string{"System", "Admin"},
		ChimePath:          "/opt/pa/system_sounds/intro.mp3",
		SystemSoundRoot:    "/opt/pa/sounds",
		HeartbeatWarnAfter: 15 * time.Second,
		HeartbeatKillAfter: 25 * time.Second,
		SirenRampDuration:  5 * time.Millisecond,
	}
	return New(cfg, fakeResolver{}, fakeSynth{}, player, newFakeStore(), bus, publisher, zerolog.Nop()), player
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not satisfied before deadline")
}

func task(id string, ttype models.TaskType, priority models.Priority, user string) *models.Task {
	return &models.Task{
		ID:        id,
		Type:      ttype,
		Priority:  priority,
		Status:    models.StatusPending,
		CreatedAt: time.Now(),
		Data:      map[string]any{"user": user, "zones": []string{"Library"}},
	}
}

// S1 — an EMERGENCY request from a different user preempts a running VOICE
// broadcast, hard-killing it and latching emergency_mode.
func TestEmergencyPreemptsVoice(t *testing.T) {
	ctx := context.Background()
	c, player := newTestController(t)

	a := task("A", models.TaskTypeVoice, models.PriorityRealtime, "u1")
	if ok := c.RequestPlayback(ctx, a); !ok {
		t.Fatal("expected voice task to be admitted")
	}
	waitFor(t, func() bool {
		player.mu.Lock()
		defer player.mu.Unlock()
		return len(player.calls) > 0
	})

	e := task("E", models.TaskTypeEmergency, models.PriorityEmergency, "admin")
	if ok := c.RequestPlayback(ctx, e); !ok {
		t.Fatal("expected emergency task to be admitted")
	}

	if a.Status != models.StatusCompleted {
		t.Fatalf("expected voice task A to be completed, got %v", a.Status)
	}

	c.mu.Lock()
	emergencyMode := c.emergencyMode
	currentID := ""
	if c.currentTask != nil {
		currentID = c.currentTask.ID
	}
	c.mu.Unlock()

	if !emergencyMode {
		t.Fatal("expected emergency_mode to be latched")
	}
	if currentID != "E" {
		t.Fatalf("expected E to be current, got %q", currentID)
	}

	// A second, lower-priority request must be denied while emergency_mode holds.
	b := task("B", models.TaskTypeVoice, models.PriorityRealtime, "u3")
	if ok := c.RequestPlayback(ctx, b); ok {
		t.Fatal("expected request during emergency_mode to be denied")
	}
}

// Testable invariant 7 — a second background request for the same content
// with start_time 0 is accepted as a no-op and the original task stays
// current.
func TestBackgroundIdempotentStart(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestController(t)

	first := task("M1", models.TaskTypeBackground, models.PriorityBackground, "u2")
	first.Data["content"] = "song.mp3"
	first.Data["start_time"] = float64(0)
	if ok := c.RequestPlayback(ctx, first); !ok {
		t.Fatal("expected first background request to be admitted")
	}

	second := task("M2", models.TaskTypeBackground, models.PriorityBackground, "u2")
	second.Data["content"] = "song.mp3"
	second.Data["start_time"] = float64(0)
	if ok := c.RequestPlayback(ctx, second); !ok {
		t.Fatal("expected idempotent duplicate to be accepted as a no-op")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.currentTask == nil || c.currentTask.ID != "M1" {
		t.Fatal("expected the original background task to remain current, not the duplicate")
	}
}

// S3 — a BACKGROUND task preempted by a higher-priority request is
// suspended with elapsed play time captured, and resumes via StopTask once
// the preempting task ends.
func TestBackgroundSuspendAndResume(t *testing.T) {
	ctx := context.Background()
	c, player := newTestController(t)

	bg := task("M", models.TaskTypeBackground, models.PriorityBackground, "u2")
	bg.Data["content"] = "song.mp3"
	if ok := c.RequestPlayback(ctx, bg); !ok {
		t.Fatal("expected background task to be admitted")
	}
	waitFor(t, func() bool {
		player.mu.Lock()
		defer player.mu.Unlock()
		return len(player.calls) > 0
	})

	time.Sleep(30 * time.Millisecond)

	text := task("T", models.TaskTypeText, models.PriorityRealtime, "u1")
	text.Data["content"] = "hello"
	if ok := c.RequestPlayback(ctx, text); !ok {
		t.Fatal("expected text task to preempt background")
	}

	c.mu.Lock()
	suspended := c.suspendedTask
	resumeTime := c.backgroundResumeTime
	c.mu.Unlock()
	if suspended == nil || suspended.ID != "M" {
		t.Fatal("expected background task to be suspended")
	}
	if resumeTime <= 0 {
		t.Fatalf("expected nonzero accumulated background_resume_time, got %v", resumeTime)
	}

	if ok := c.StopTask(ctx, "", "text", "u1"); !ok {
		t.Fatal("expected text task to stop")
	}

	waitFor(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.currentTask != nil && c.currentTask.ID == "M"
	})
}

// Testable invariant 4 / S2: queue entries shift by exactly the pause
// duration once the system returns to idle.
func TestQueueShiftOnReturnToIdle(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestController(t)

	t1 := time.Now().Add(1 * time.Hour)
	t2 := t1.Add(5 * time.Minute)
	s1 := task("S1", models.TaskTypeSchedule, models.PrioritySchedule, "u1")
	s1.ScheduledTime = &t1
	s2 := task("S2", models.TaskTypeSchedule, models.PrioritySchedule, "u1")
	s2.ScheduledTime = &t2
	c.RequestPlayback(ctx, s1)
	c.RequestPlayback(ctx, s2)

	voice := task("V", models.TaskTypeVoice, models.PriorityRealtime, "u3")
	if ok := c.RequestPlayback(ctx, voice); !ok {
		t.Fatal("expected voice task to be admitted")
	}

	c.mu.Lock()
	if c.pauseStartTime == nil {
		t.Fatal("expected pause_start_time to be set once above-SCHEDULE priority is current")
	}
	c.mu.Unlock()

	time.Sleep(30 * time.Millisecond)
	if ok := c.StopTask(ctx, "", "voice", "u3"); !ok {
		t.Fatal("expected voice task to stop")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pauseStartTime != nil {
		t.Fatal("expected pause_start_time to be cleared after the shift")
	}
	if !c.queue[0].ScheduledTime.After(t1) {
		t.Fatal("expected first queued schedule's time to have advanced")
	}
	gap := c.queue[1].ScheduledTime.Sub(*c.queue[0].ScheduledTime)
	if gap < 4*time.Minute || gap > 6*time.Minute {
		t.Fatalf("expected the 5-minute spacing between schedules to survive the shift, got %v", gap)
	}
}

// Testable invariant 3 and the stop_task emergency rule: only the
// emergency owner or an admin may stop a latched emergency.
func TestStopTaskDeniesNonOwnerDuringEmergency(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestController(t)

	e := task("E", models.TaskTypeEmergency, models.PriorityEmergency, "admin")
	c.RequestPlayback(ctx, e)

	if ok := c.StopTask(ctx, "", "", "u1"); ok {
		t.Fatal("expected non-owner, non-admin stop to be denied during emergency_mode")
	}
	if ok := c.StopTask(ctx, "", "", "admin"); !ok {
		t.Fatal("expected the emergency owner to be able to stop")
	}
}

// S4 — daily recurrence advances the date by exactly one day and keeps the
// original time-of-day.
func TestRecurrenceAdvancesOneDayPreservingTime(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestController(t)

	original := task("daily-1", models.TaskTypeSchedule, models.PrioritySchedule, "u1")
	scheduled := time.Date(2024, 5, 1, 8, 0, 0, 0, time.Local)
	original.ScheduledTime = &scheduled
	original.Data["date"] = "2024-05-01"
	original.Data["time"] = "08:00"
	original.Data["repeat"] = "daily"

	c.mu.Lock()
	c.queue = append(c.queue, original)
	c.mu.Unlock()

	promoted := c.PromoteDue(ctx, scheduled.Add(time.Second))
	if promoted == nil || promoted.ID != "daily-1" {
		t.Fatal("expected the due schedule to be promoted")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) != 1 {
		t.Fatalf("expected exactly one recurred entry in the queue, got %d", len(c.queue))
	}
	next := c.queue[0]
	if next.Data["time"] != "08:00" {
		t.Fatalf("expected recurrence to preserve time-of-day, got %v", next.Data["time"])
	}
	if next.Data["date"] != "2024-05-02" {
		t.Fatalf("expected recurrence to advance by one day, got %v", next.Data["date"])
	}
}

func TestRehydrateBypassesAdmission(t *testing.T) {
	c, _ := newTestController(t)
	pending := []models.Task{
		{
			ID:     "r1",
			Type:   models.TaskTypeSchedule,
			Status: models.StatusPending,
			Data:   map[string]any{"date": "2030-01-01", "time": "09:00"},
		},
		{
			ID:     "r2-bad",
			Type:   models.TaskTypeSchedule,
			Status: models.StatusPending,
			Data:   map[string]any{"date": "not-a-date", "time": "09:00"},
		},
	}

	c.Rehydrate(context.Background(), pending)

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) != 1 {
		t.Fatalf("expected only the parseable row to be rehydrated, got %d entries", len(c.queue))
	}
	if c.queue[0].ID != "r1" {
		t.Fatalf("expected r1 to be rehydrated, got %s", c.queue[0].ID)
	}
}
