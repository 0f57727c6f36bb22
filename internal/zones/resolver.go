/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package zones resolves logical broadcast zone names to concrete output
// targets (sound card + optional stereo channel restriction).
package zones

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Channel restricts playback to one stereo channel, or both when empty.
type Channel string

const (
	ChannelLeft  Channel = "left"
	ChannelRight Channel = "right"
	ChannelBoth  Channel = ""
)

// AllZones is the sentinel zone name meaning "every configured target".
const AllZones = "All Zones"

// Target is a single output device and optional channel restriction.
type Target struct {
	Device  int     `json:"card"`
	Channel Channel `json:"channel"`
}

// DefaultFallback is used when a request resolves to no targets at all.
var DefaultFallback = Target{Device: 2, Channel: ChannelBoth}

// rawTarget accepts either a bare integer device id or an object form
// {"card": int, "channel": "left"|"right"|null} per §6 of the zone
// configuration file contract.
type rawTarget struct {
	Device  int     `json:"card"`
	Channel *string `json:"channel"`
}

// Resolver holds the parsed zone→target(s) map.
type Resolver struct {
	zones    map[string][]Target // keyed by zone name as configured; lowercased only at match time
	order    []string            // zone names in the order Parse visited them (Go map iteration order, not file order)
	fallback Target
	logger   zerolog.Logger
}

// Load parses a zone configuration file at path.
func Load(path string, logger zerolog.Logger) (*Resolver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read zone config %s: %w", path, err)
	}
	return Parse(data, logger)
}

// Parse builds a Resolver from raw zone configuration JSON. A value for a
// zone key may be a single target or a list of targets; a bare integer
// means a full-stereo target on that device.
func Parse(data []byte, logger zerolog.Logger) (*Resolver, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse zone config: %w", err)
	}

	r := &Resolver{
		zones:    make(map[string][]Target, len(raw)),
		fallback: DefaultFallback,
		logger:   logger,
	}

	for key, val := range raw {
		targets, err := parseTargets(val)
		if err != nil {
			return nil, fmt.Errorf("zone %q: %w", key, err)
		}
		r.zones[key] = targets
		r.order = append(r.order, key)
	}

	return r, nil
}

func parseTargets(val json.RawMessage) ([]Target, error) {
	trimmed := strings.TrimSpace(string(val))
	if trimmed == "" {
		return nil, nil
	}

	// Bare integer device id.
	if trimmed[0] != '[' && trimmed[0] != '{' {
		var device int
		if err := json.Unmarshal(val, &device); err == nil {
			return []Target{{Device: device, Channel: ChannelBoth}}, nil
		}
	}

	// Single object target.
	if trimmed[0] == '{' {
		var rt rawTarget
		if err := json.Unmarshal(val, &rt); err != nil {
			return nil, err
		}
		return []Target{toTarget(rt)}, nil
	}

	// List of mixed bare ints / objects.
	var list []json.RawMessage
	if err := json.Unmarshal(val, &list); err != nil {
		return nil, err
	}
	out := make([]Target, 0, len(list))
	for _, item := range list {
		itemTrimmed := strings.TrimSpace(string(item))
		if itemTrimmed != "" && itemTrimmed[0] == '{' {
			var rt rawTarget
			if err := json.Unmarshal(item, &rt); err != nil {
				return nil, err
			}
			out = append(out, toTarget(rt))
			continue
		}
		var device int
		if err := json.Unmarshal(item, &device); err != nil {
			return nil, err
		}
		out = append(out, Target{Device: device, Channel: ChannelBoth})
	}
	return out, nil
}

func toTarget(rt rawTarget) Target {
	t := Target{Device: rt.Device, Channel: ChannelBoth}
	if rt.Channel != nil {
		switch strings.ToLower(*rt.Channel) {
		case "left":
			t.Channel = ChannelLeft
		case "right":
			t.Channel = ChannelRight
		}
	}
	return t
}

// Resolve maps a list of requested zone names to a deduplicated list of
// targets, per §4.1:
//   - empty input or any entry equal to "All Zones" → every configured
//     target, deduplicated by (device, channel);
//   - otherwise, case-insensitive substring match of each requested zone
//     against configured keys; unmatched zones are logged and skipped;
//   - an empty result falls back to the configured fallback target.
func (r *Resolver) Resolve(requested []string) []Target {
	if r == nil {
		return []Target{DefaultFallback}
	}

	if len(requested) == 0 || containsAllZones(requested) {
		return r.allTargets()
	}

	seen := make(map[Target]struct{})
	var out []Target
	for _, z := range requested {
		matched := false
		needle := strings.ToLower(strings.TrimSpace(z))
		for _, key := range r.order {
			if strings.Contains(strings.ToLower(key), needle) {
				matched = true
				for _, t := range r.zones[key] {
					if _, ok := seen[t]; !ok {
						seen[t] = struct{}{}
						out = append(out, t)
					}
				}
			}
		}
		if !matched {
			r.logger.Warn().Str("zone", z).Msg("zone did not match any configured target")
		}
	}

	if len(out) == 0 {
		r.logger.Warn().Strs("zones", requested).Msg("no zones resolved, using fallback device")
		return []Target{r.fallback}
	}
	return out
}

func (r *Resolver) allTargets() []Target {
	seen := make(map[Target]struct{})
	var out []Target
	for _, key := range r.order {
		for _, t := range r.zones[key] {
			if _, ok := seen[t]; !ok {
				seen[t] = struct{}{}
				out = append(out, t)
			}
		}
	}
	if len(out) == 0 {
		return []Target{r.fallback}
	}
	return out
}

func containsAllZones(zones []string) bool {
	for _, z := range zones {
		if z == AllZones {
			return true
		}
	}
	return false
}

// SetFallback overrides the default fallback target, e.g. from Config.
func (r *Resolver) SetFallback(t Target) {
	r.fallback = t
}
