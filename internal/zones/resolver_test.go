package zones

import (
	"testing"

	"github.com/rs/zerolog"
)

const sampleConfig = `{
  "Library": {"card":2,"channel":"left"},
  "Admin Office": {"card":2,"channel":"right"},
  "All Zones": [2,3]
}`

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	r, err := Parse([]byte(sampleConfig), zerolog.Nop())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return r
}

func TestResolveSubstringMatchFallback(t *testing.T) {
	r := newTestResolver(t)

	// S6: unknown zone plus a substring match against "Library".
	targets := r.Resolve([]string{"Unknown", "lib"})
	if len(targets) != 1 {
		t.Fatalf("expected one resolved target, got %d: %+v", len(targets), targets)
	}
	if targets[0].Device != 2 || targets[0].Channel != ChannelLeft {
		t.Fatalf("expected Library target (card 2, left), got %+v", targets[0])
	}
}

func TestResolveAllZonesSentinel(t *testing.T) {
	r := newTestResolver(t)

	targets := r.Resolve([]string{AllZones})
	seen := map[Target]bool{}
	for _, tgt := range targets {
		seen[tgt] = true
	}
	if !seen[(Target{Device: 2, Channel: ChannelLeft})] {
		t.Fatal("expected Library target present in All Zones expansion")
	}
	if !seen[(Target{Device: 2, Channel: ChannelRight})] {
		t.Fatal("expected Admin Office target present in All Zones expansion")
	}
	if !seen[(Target{Device: 3, Channel: ChannelBoth})] {
		t.Fatal("expected device 3 present in All Zones expansion")
	}
}

func TestResolveEmptyInputBehavesAsAllZones(t *testing.T) {
	r := newTestResolver(t)
	withEmpty := r.Resolve(nil)
	withSentinel := r.Resolve([]string{AllZones})
	if len(withEmpty) != len(withSentinel) {
		t.Fatalf("expected empty input to expand like All Zones, got %d vs %d", len(withEmpty), len(withSentinel))
	}
}

func TestResolveNoMatchUsesFallback(t *testing.T) {
	r, err := Parse([]byte(`{"Library": {"card":2,"channel":"left"}}`), zerolog.Nop())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	targets := r.Resolve([]string{"Gymnasium"})
	if len(targets) != 1 || targets[0] != DefaultFallback {
		t.Fatalf("expected fallback target, got %+v", targets)
	}
}

func TestResolveDeduplicatesByDeviceAndChannel(t *testing.T) {
	r, err := Parse([]byte(`{"A": 2, "B": 2}`), zerolog.Nop())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	targets := r.Resolve([]string{AllZones})
	if len(targets) != 1 {
		t.Fatalf("expected deduplication to single target, got %d", len(targets))
	}
}
