package tts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestResolveVoicePrefersAmyForFemale(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "amy.onnx"))
	touch(t, filepath.Join(dir, "lessac.onnx"))

	r := &Renderer{voiceDir: dir, logger: zerolog.Nop()}
	if got := r.resolveVoice("female"); got != "amy" {
		t.Fatalf("expected amy, got %q", got)
	}
}

func TestResolveVoiceFallsBackToLessac(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "lessac.onnx"))

	r := &Renderer{voiceDir: dir, logger: zerolog.Nop()}
	if got := r.resolveVoice("female"); got != "lessac" {
		t.Fatalf("expected lessac fallback, got %q", got)
	}
}

func TestResolveVoiceExplicitStem(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "custom.onnx"))

	r := &Renderer{voiceDir: dir, logger: zerolog.Nop()}
	if got := r.resolveVoice("custom"); got != "custom" {
		t.Fatalf("expected explicit stem custom, got %q", got)
	}
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte{}, 0o644); err != nil {
		t.Fatalf("touch %s: %v", path, err)
	}
}
