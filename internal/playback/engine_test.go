package playback

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/pa_broadcast_core/internal/zones"
)

func TestClampVolume(t *testing.T) {
	cases := map[float64]float64{-1: 0, 0: 0, 0.5: 0.5, 1: 1, 2: 1}
	for in, want := range cases {
		if got := clampVolume(in); got != want {
			t.Fatalf("clampVolume(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestDeviceArgsAppliesChannelRemix(t *testing.T) {
	e := New("echo", zerolog.Nop())

	left := e.deviceArgs(zones.Target{Device: 2, Channel: zones.ChannelLeft}, "body.wav")
	if left[len(left)-3] != "remix" || left[len(left)-2] != "1" || left[len(left)-1] != "0" {
		t.Fatalf("expected left remix args, got %v", left)
	}

	right := e.deviceArgs(zones.Target{Device: 2, Channel: zones.ChannelRight}, "body.wav")
	if right[len(right)-3] != "remix" || right[len(right)-2] != "0" || right[len(right)-1] != "1" {
		t.Fatalf("expected right remix args, got %v", right)
	}

	both := e.deviceArgs(zones.Target{Device: 2, Channel: zones.ChannelBoth}, "body.wav")
	for _, a := range both {
		if a == "remix" {
			t.Fatalf("expected no remix args for both-channel target, got %v", both)
		}
	}
}

func TestPlaySirenIsIdempotent(t *testing.T) {
	e := New("true", zerolog.Nop())
	targets := []zones.Target{{Device: 2}}

	e.PlaySiren(targets, 0.1)
	firstStop := e.sirenStop
	e.PlaySiren(targets, 0.9) // should be a no-op; volume must not change

	if e.sirenStop != firstStop {
		t.Fatal("expected second PlaySiren call to be a no-op")
	}
	if v := e.SirenVolume(); v != 0.1 {
		t.Fatalf("expected siren volume to remain 0.1, got %v", v)
	}

	e.Stop()
	if e.sirenActive {
		t.Fatal("expected siren to be inactive after Stop")
	}
}

func TestRampSirenVolumeReachesTarget(t *testing.T) {
	e := New("true", zerolog.Nop())
	e.PlaySiren([]zones.Target{{Device: 2}}, 0.0)
	e.RampSirenVolume(1.0, 20*time.Millisecond)

	if v := e.SirenVolume(); v < 0.99 {
		t.Fatalf("expected ramp to reach target volume, got %v", v)
	}
	e.Stop()
}
