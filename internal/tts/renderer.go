/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package tts synthesizes speech through an external voice binary
// (Piper-compatible), writing a fresh WAV file per call.
package tts

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// voiceAliases maps the caller-facing aliases to on-disk voice stems,
// mirroring the preference order the original speech service used:
// "female" prefers "amy" and falls back to "lessac"; "male" maps to "ryan".
var voiceAliases = map[string][]string{
	"female": {"amy", "lessac"},
	"male":   {"ryan"},
}

// Renderer synthesizes text into WAV files via an external binary.
type Renderer struct {
	binary   string
	voiceDir string
	outDir   string
	logger   zerolog.Logger
}

// New builds a Renderer. outDir is where generated WAV files are written;
// it is created if it does not exist.
func New(binary, voiceDir, outDir string, logger zerolog.Logger) (*Renderer, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create tts output dir: %w", err)
	}
	return &Renderer{binary: binary, voiceDir: voiceDir, outDir: outDir, logger: logger}, nil
}

// Synthesize renders text with the requested voice alias or explicit voice
// stem name, returning the path to a freshly written WAV file. It returns
// ("", nil) when no suitable voice or binary is available, in which case
// the caller should treat the task step as skipped, not failed (§7).
func (r *Renderer) Synthesize(ctx context.Context, text, voiceKey string) (string, error) {
	if _, err := exec.LookPath(r.binary); err != nil {
		r.logger.Warn().Str("binary", r.binary).Msg("tts binary not found")
		return "", nil
	}

	voice := r.resolveVoice(voiceKey)
	if voice == "" {
		r.logger.Warn().Str("voice", voiceKey).Msg("no tts voice available for key")
		return "", nil
	}

	outPath := filepath.Join(r.outDir, fmt.Sprintf("%s.wav", uuid.NewString()))
	modelPath := filepath.Join(r.voiceDir, voice+".onnx")

	cmd := exec.CommandContext(ctx, r.binary, "--model", modelPath, "--output_file", outPath)
	cmd.Stdin = strings.NewReader(text)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		r.logger.Warn().Err(err).Str("stderr", stderr.String()).Msg("tts synthesis failed")
		return "", nil
	}

	if _, err := os.Stat(outPath); err != nil {
		r.logger.Warn().Str("path", outPath).Msg("tts output file missing after synthesis")
		return "", nil
	}

	return outPath, nil
}

// resolveVoice walks the alias preference list, returning the first stem
// whose model file exists on disk, or the literal voiceKey when it names
// an explicit model stem directly.
func (r *Renderer) resolveVoice(voiceKey string) string {
	candidates, ok := voiceAliases[strings.ToLower(voiceKey)]
	if !ok {
		candidates = []string{voiceKey}
	}
	for _, stem := range candidates {
		if stem == "" {
			continue
		}
		if _, err := os.Stat(filepath.Join(r.voiceDir, stem+".onnx")); err == nil {
			return stem
		}
	}
	// Nothing on disk; still return the first preference so the caller
	// sees a deterministic non-zero exit rather than silently picking one.
	if len(candidates) > 0 {
		return candidates[0]
	}
	return ""
}
