/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package playback supervises per-device audio child processes: file and
// chime playback, background music, raw-PCM streaming pipes, and the
// siren used during emergency activations. It is the Go analogue of the
// teacher's mediaengine GStreamer process registry, retargeted from a
// single long-lived station pipeline to many short-lived, per-device
// fan-out workers.
package playback

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/pa_broadcast_core/internal/zones"
)

// Player is the contract both the Linux Engine and the degraded
// WindowsEngine satisfy, so the broadcast controller can be built against
// an interface and never branch on OS itself.
type Player interface {
	PlayAnnouncement(ctx context.Context, introPath, bodyPath string, targets []zones.Target)
	PlayWav(ctx context.Context, introPath, bodyPath string, targets []zones.Target)
	PlayChimeSync(ctx context.Context, chimePath string, targets []zones.Target)
	PlayBackgroundMusic(ctx context.Context, path string, targets []zones.Target, startOffset float64)
	StartStreaming(targets []zones.Target) error
	FeedStream(chunk []byte)
	StopStreaming()
	PlaySiren(targets []zones.Target, volume float64)
	SetSirenVolume(v float64)
	RampSirenVolume(target float64, duration time.Duration)
	Stop()
}

// interDeviceStagger accommodates USB audio enumeration quirks (§4.3) when
// fanning playback out across multiple devices in quick succession.
const interDeviceStagger = 50 * time.Millisecond

const gracePeriod = 3 * time.Second

// handle is a tracked child process, identified so Stop can account for
// every process it started.
type handle struct {
	id  string
	cmd *exec.Cmd
}

// streamPipe is one long-lived player reading raw PCM from its stdin for a
// single resolved target.
type streamPipe struct {
	target zones.Target
	stdin  io.WriteCloser
	handle *handle
}

// Engine supervises audio child processes for the Linux pipeline. The
// degraded Windows pipeline is provided by WindowsEngine and is
// contract-equivalent from the caller's perspective (§4.3).
type Engine struct {
	playerBinary string // e.g. "play" (SoX) — supports -D plughw:<n>,0 and remix
	logger       zerolog.Logger

	mu      sync.Mutex
	tracked map[string]*handle

	streamMu sync.Mutex
	streams  []*streamPipe

	sirenMu       sync.Mutex
	sirenActive   bool
	sirenVolume   float64
	sirenStop     chan struct{}
	sirenWG       sync.WaitGroup
}

// New builds a Linux Engine around the given SoX-compatible player binary.
func New(playerBinary string, logger zerolog.Logger) *Engine {
	return &Engine{
		playerBinary: playerBinary,
		logger:       logger,
		tracked:      make(map[string]*handle),
	}
}

// PlayAnnouncement plays an optional intro then a body file across every
// target, one dedicated worker per target, and blocks until all workers
// finish (§4.3 play_announcement).
func (e *Engine) PlayAnnouncement(ctx context.Context, introPath, bodyPath string, targets []zones.Target) {
	e.fanOut(targets, func(t zones.Target) {
		if introPath != "" {
			e.runBlocking(ctx, introPath, t)
		}
		e.runBlocking(ctx, bodyPath, t)
	})
}

// PlayWav is the pre-rendered-WAV equivalent of PlayAnnouncement.
func (e *Engine) PlayWav(ctx context.Context, introPath, bodyPath string, targets []zones.Target) {
	e.PlayAnnouncement(ctx, introPath, bodyPath, targets)
}

// PlayChimeSync plays the intro chime across every target and blocks.
func (e *Engine) PlayChimeSync(ctx context.Context, chimePath string, targets []zones.Target) {
	e.fanOut(targets, func(t zones.Target) {
		e.runBlocking(ctx, chimePath, t)
	})
}

// PlayBackgroundMusic plays path in a fire-and-forget daemon worker per
// target, seeking to startOffset seconds.
func (e *Engine) PlayBackgroundMusic(ctx context.Context, path string, targets []zones.Target, startOffset float64) {
	for i, t := range targets {
		t := t
		time.Sleep(time.Duration(i) * interDeviceStagger)
		go e.runBackground(ctx, path, t, startOffset)
	}
}

func (e *Engine) fanOut(targets []zones.Target, work func(zones.Target)) {
	var wg sync.WaitGroup
	for i, t := range targets {
		t := t
		time.Sleep(time.Duration(i) * interDeviceStagger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			work(t)
		}()
	}
	wg.Wait()
}

func (e *Engine) runBlocking(ctx context.Context, path string, t zones.Target) {
	e.ensureDeviceActive(t.Device)
	cmd := exec.CommandContext(ctx, e.playerBinary, e.deviceArgs(t, path)...)
	id := e.track(cmd)
	defer e.untrack(id)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		e.logger.Warn().Err(err).Str("path", path).Int("device", t.Device).Str("stderr", stderr.String()).
			Msg("playback child exited with error")
	}
}

func (e *Engine) runBackground(ctx context.Context, path string, t zones.Target, startOffset float64) {
	e.ensureDeviceActive(t.Device)
	args := e.deviceArgs(t, path)
	if startOffset > 0 {
		args = append(args, "trim", fmt.Sprintf("%.3f", startOffset))
	}
	cmd := exec.CommandContext(ctx, e.playerBinary, args...)
	id := e.track(cmd)
	defer e.untrack(id)

	if err := cmd.Run(); err != nil {
		e.logger.Debug().Err(err).Str("path", path).Int("device", t.Device).Msg("background playback ended")
	}
}

// deviceArgs builds the SoX "play" argument list selecting the device and
// optional channel restriction per §4.3.
func (e *Engine) deviceArgs(t zones.Target, path string) []string {
	args := []string{"-q", "-D", fmt.Sprintf("plughw:%d,0", t.Device), path}
	switch t.Channel {
	case zones.ChannelLeft:
		args = append(args, "remix", "1", "0")
	case zones.ChannelRight:
		args = append(args, "remix", "0", "1")
	}
	return args
}

func (e *Engine) track(cmd *exec.Cmd) string {
	id := uuid.NewString()
	e.mu.Lock()
	e.tracked[id] = &handle{id: id, cmd: cmd}
	e.mu.Unlock()
	return id
}

func (e *Engine) untrack(id string) {
	e.mu.Lock()
	delete(e.tracked, id)
	e.mu.Unlock()
}

// StartStreaming opens one long-lived player per resolved target, each
// reading raw 16 kHz signed-16-bit mono PCM from its own stdin.
func (e *Engine) StartStreaming(targets []zones.Target) error {
	e.streamMu.Lock()
	defer e.streamMu.Unlock()

	for i, t := range targets {
		time.Sleep(time.Duration(i) * interDeviceStagger)
		e.ensureDeviceActive(t.Device)

		args := []string{"-q", "-t", "raw", "-r", "16000", "-e", "signed-integer", "-b", "16", "-c", "1",
			"-D", fmt.Sprintf("plughw:%d,0", t.Device), "-"}
		switch t.Channel {
		case zones.ChannelLeft:
			args = append(args, "remix", "1", "0")
		case zones.ChannelRight:
			args = append(args, "remix", "0", "1")
		}

		cmd := exec.Command(e.playerBinary, args...)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			e.logger.Warn().Err(err).Int("device", t.Device).Msg("failed to open stream pipe stdin")
			continue
		}
		if err := cmd.Start(); err != nil {
			e.logger.Warn().Err(err).Int("device", t.Device).Msg("failed to start stream pipe")
			continue
		}

		id := e.track(cmd)
		e.streams = append(e.streams, &streamPipe{target: t, stdin: stdin, handle: &handle{id: id, cmd: cmd}})
	}
	return nil
}

// FeedStream writes chunk to every currently open stream pipe, culling any
// pipe whose write fails (broken pipe) silently per §4.3/§5.
func (e *Engine) FeedStream(chunk []byte) {
	e.streamMu.Lock()
	defer e.streamMu.Unlock()

	alive := e.streams[:0]
	for _, s := range e.streams {
		if _, err := s.stdin.Write(chunk); err != nil {
			e.logger.Debug().Err(err).Int("device", s.target.Device).Msg("stream pipe broken, evicting")
			e.untrack(s.handle.id)
			continue
		}
		alive = append(alive, s)
	}
	e.streams = alive
}

// StopStreaming closes every open stream pipe.
func (e *Engine) StopStreaming() {
	e.streamMu.Lock()
	streams := e.streams
	e.streams = nil
	e.streamMu.Unlock()

	for _, s := range streams {
		_ = s.stdin.Close()
		e.killHandle(s.handle)
		e.untrack(s.handle.id)
	}
}

// PlaySiren starts a background loop rendering a 1-second synthetic sine
// sweep 600→1200 Hz on each target at volume. Idempotent: if already
// active, this is a no-op.
func (e *Engine) PlaySiren(targets []zones.Target, volume float64) {
	e.sirenMu.Lock()
	if e.sirenActive {
		e.sirenMu.Unlock()
		return
	}
	e.sirenActive = true
	e.sirenVolume = clampVolume(volume)
	stop := make(chan struct{})
	e.sirenStop = stop
	e.sirenMu.Unlock()

	e.sirenWG.Add(1)
	go e.sirenLoop(targets, stop)
}

func (e *Engine) sirenLoop(targets []zones.Target, stop chan struct{}) {
	defer e.sirenWG.Done()
	for {
		select {
		case <-stop:
			return
		default:
		}

		vol := e.SirenVolume()
		var wg sync.WaitGroup
		for _, t := range targets {
			t := t
			wg.Add(1)
			go func() {
				defer wg.Done()
				e.playSirenSweep(t, vol)
			}()
		}
		wg.Wait()

		select {
		case <-stop:
			return
		default:
		}
	}
}

func (e *Engine) playSirenSweep(t zones.Target, volume float64) {
	e.ensureDeviceActive(t.Device)
	// sox synth: one second sine sweep 600->1200Hz, scaled to the siren volume.
	args := []string{"-q", "-n", "-D", fmt.Sprintf("plughw:%d,0", t.Device),
		"synth", "1", "sine", "600-1200", "vol", fmt.Sprintf("%.3f", volume)}
	cmd := exec.Command(e.playerBinary, args...)
	id := e.track(cmd)
	defer e.untrack(id)
	_ = cmd.Run()
}

// SetSirenVolume clamps v to [0,1] and applies it to the next sweep.
func (e *Engine) SetSirenVolume(v float64) {
	e.sirenMu.Lock()
	defer e.sirenMu.Unlock()
	e.sirenVolume = clampVolume(v)
}

// SirenVolume returns the current siren volume.
func (e *Engine) SirenVolume() float64 {
	e.sirenMu.Lock()
	defer e.sirenMu.Unlock()
	return e.sirenVolume
}

// RampSirenVolume linearly interpolates the siren volume to target across
// duration in 20 steps, aborting early if the siren stop signal fires.
func (e *Engine) RampSirenVolume(target float64, duration time.Duration) {
	const steps = 20
	target = clampVolume(target)
	start := e.SirenVolume()
	step := (target - start) / float64(steps)
	interval := duration / steps

	e.sirenMu.Lock()
	stop := e.sirenStop
	e.sirenMu.Unlock()
	if stop == nil {
		e.SetSirenVolume(target)
		return
	}

	for i := 1; i <= steps; i++ {
		select {
		case <-stop:
			return
		case <-time.After(interval):
		}
		e.SetSirenVolume(start + step*float64(i))
	}
}

func (e *Engine) stopSiren() {
	e.sirenMu.Lock()
	if !e.sirenActive {
		e.sirenMu.Unlock()
		return
	}
	e.sirenActive = false
	close(e.sirenStop)
	e.sirenStop = nil
	e.sirenMu.Unlock()
	e.sirenWG.Wait()
}

func clampVolume(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// Stop terminates every tracked child process (SIGTERM then SIGKILL after
// a short grace), clears the tracker, raises the siren stop signal, and
// closes every stream pipe. It returns once no tracked process remains
// alive (§4.3, §5).
func (e *Engine) Stop() {
	e.stopSiren()
	e.StopStreaming()

	e.mu.Lock()
	handles := make([]*handle, 0, len(e.tracked))
	for _, h := range e.tracked {
		handles = append(handles, h)
	}
	e.tracked = make(map[string]*handle)
	e.mu.Unlock()

	var wg sync.WaitGroup
	for _, h := range handles {
		h := h
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.killHandle(h)
		}()
	}
	wg.Wait()
}

// mixerControls are the common ALSA control names the engine attempts to
// unmute and set to 100% before playback; absence of any one is swallowed.
var mixerControls = []string{"Speaker", "PCM", "Master", "Headphone", "Playback"}

// ensureDeviceActive best-effort unmutes and maxes the mixer controls for
// device before playback (§4.3 _ensure_device_active). Failures are
// swallowed: a muted or absent mixer control must never fail a task.
func (e *Engine) ensureDeviceActive(device int) {
	card := fmt.Sprintf("%d", device)
	for _, control := range mixerControls {
		cmd := exec.Command("amixer", "-c", card, "sset", control, "100%", "unmute")
		_ = cmd.Run()
	}
}

func (e *Engine) killHandle(h *handle) {
	if h == nil || h.cmd == nil || h.cmd.Process == nil {
		return
	}
	_ = h.cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		_ = h.cmd.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(gracePeriod):
		_ = h.cmd.Process.Kill()
		<-done
	}
}
