/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"context"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/pa_broadcast_core/internal/zones"
)

// WindowsEngine is the degraded pipeline kept as a development convenience
// (§4.3, §9): it plays on the system default device only, via the
// platform media playback facility, without multi-zone or channel
// splitting. It is contract-equivalent to Engine from the caller's
// perspective — every zones.Target argument is accepted but collapsed to
// a single default-device playback.
type WindowsEngine struct {
	logger zerolog.Logger

	mu      sync.Mutex
	current *exec.Cmd

	sirenMu     sync.Mutex
	sirenActive bool
	sirenVolume float64
	sirenStop   chan struct{}
	sirenWG     sync.WaitGroup
}

// NewWindows builds a degraded single-device Engine.
func NewWindows(logger zerolog.Logger) *WindowsEngine {
	return &WindowsEngine{logger: logger}
}

func (e *WindowsEngine) playOnce(ctx context.Context, path string) {
	cmd := exec.CommandContext(ctx, "powershell", "-NoProfile", "-Command",
		"(New-Object Media.SoundPlayer '"+path+"').PlaySync();")
	e.mu.Lock()
	e.current = cmd
	e.mu.Unlock()
	if err := cmd.Run(); err != nil {
		e.logger.Warn().Err(err).Str("path", path).Msg("windows playback failed")
	}
}

func (e *WindowsEngine) PlayAnnouncement(ctx context.Context, introPath, bodyPath string, _ []zones.Target) {
	if introPath != "" {
		e.playOnce(ctx, introPath)
	}
	e.playOnce(ctx, bodyPath)
}

func (e *WindowsEngine) PlayWav(ctx context.Context, introPath, bodyPath string, targets []zones.Target) {
	e.PlayAnnouncement(ctx, introPath, bodyPath, targets)
}

func (e *WindowsEngine) PlayChimeSync(ctx context.Context, chimePath string, _ []zones.Target) {
	e.playOnce(ctx, chimePath)
}

func (e *WindowsEngine) PlayBackgroundMusic(ctx context.Context, path string, _ []zones.Target, _ float64) {
	go e.playOnce(ctx, path)
}

func (e *WindowsEngine) StartStreaming(_ []zones.Target) error { return nil }
func (e *WindowsEngine) FeedStream(_ []byte)                   {}
func (e *WindowsEngine) StopStreaming()                        {}

func (e *WindowsEngine) PlaySiren(_ []zones.Target, volume float64) {
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
	go func() {
		defer e.sirenWG.Done()
		<-stop
	}()
}

func (e *WindowsEngine) SetSirenVolume(v float64) {
	e.sirenMu.Lock()
	defer e.sirenMu.Unlock()
	e.sirenVolume = clampVolume(v)
}

func (e *WindowsEngine) RampSirenVolume(target float64, duration time.Duration) {
	e.SetSirenVolume(target)
	time.Sleep(0)
}

func (e *WindowsEngine) Stop() {
	e.sirenMu.Lock()
	if e.sirenActive {
		e.sirenActive = false
		close(e.sirenStop)
		e.sirenStop = nil
	}
	e.sirenMu.Unlock()
	e.sirenWG.Wait()

	e.mu.Lock()
	cmd := e.current
	e.current = nil
	e.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}
