package mock

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jacquesio/jacques/internal/pipeline"
	"github.com/jacquesio/jacques/internal/registry"
	"github.com/jacquesio/jacques/internal/transcript"
)

func newTestGenerator(t *testing.T) (*Generator, *registry.Registry) {
	t.Helper()
	reg := registry.New(registry.Config{SettingsPath: filepath.Join(t.TempDir(), "settings.json")}, nil)
	router := pipeline.NewRouter(reg, nil, nil)
	return NewGenerator(router, t.TempDir()), reg
}

func TestGeneratorStartRegistersPersonas(t *testing.T) {
	gen, reg := newTestGenerator(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gen.Start(ctx)

	sessions := reg.List()
	if got, want := len(sessions), len(gen.sessions); got != want {
		t.Fatalf("registered %d sessions, want %d", got, want)
	}
	for _, s := range sessions {
		if s.ID == "" || s.Source == "" || s.Model == "" || s.Title == "" {
			t.Errorf("session %+v missing identity fields", s)
		}
		if s.TranscriptPath == "" {
			t.Errorf("session %s has no transcript path", s.ID)
			continue
		}
		if _, err := os.Stat(s.TranscriptPath); err != nil {
			t.Errorf("transcript for %s: %v", s.ID, err)
		}
	}
}

func TestGeneratorTranscriptParses(t *testing.T) {
	gen, reg := newTestGenerator(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gen.Start(ctx)

	sessions := reg.List()
	if len(sessions) == 0 {
		t.Fatal("no sessions registered")
	}
	res, err := transcript.ParseFile(sessions[0].TranscriptPath)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if got := len(res.Entries); got != 3 {
		t.Fatalf("parsed %d entries, want 3", got)
	}
	if res.SessionID != sessions[0].ID {
		t.Errorf("transcript session id = %q, want %q", res.SessionID, sessions[0].ID)
	}
}

func TestGeneratorLifecycle(t *testing.T) {
	gen, reg := newTestGenerator(t)

	ds := &demoSession{
		slug: "demo", title: "demo run", source: "claude", model: "claude-opus-4-5",
		pattern: "steady", tokensPerTick: 1000, windowSize: 200000, endTick: 10,
		tools: []string{"Read", "Edit"},
	}
	gen.sessions = []*demoSession{ds}
	gen.spawn(ds, 0)
	firstID := ds.id

	if _, ok := reg.Get(firstID); !ok {
		t.Fatal("spawned session not registered")
	}

	// Tick 3 emits a tool event, tick 4 a context update.
	for tick := 1; tick <= 4; tick++ {
		gen.advance(ds, tick)
	}
	s, ok := reg.Get(firstID)
	if !ok {
		t.Fatal("session missing after activity")
	}
	if s.Status != registry.StatusWorking {
		t.Errorf("status = %v, want %v", s.Status, registry.StatusWorking)
	}
	if s.Context == nil || s.Context.InputTokens == 0 {
		t.Errorf("context metrics not updated: %+v", s.Context)
	}

	// Reaching endTick unregisters the session.
	gen.advance(ds, 10)
	if _, ok := reg.Get(firstID); ok {
		t.Fatal("session still registered after end")
	}

	// After the respawn delay a fresh id appears.
	gen.advance(ds, 10+respawnDelay)
	if ds.id == firstID {
		t.Fatal("respawn reused the old session id")
	}
	if _, ok := reg.Get(ds.id); !ok {
		t.Error("respawned session not registered")
	}
}

func TestGeneratorStallEmitsIdle(t *testing.T) {
	gen, reg := newTestGenerator(t)

	ds := &demoSession{
		slug: "stall", title: "stall run", source: "claude", model: "claude-sonnet-4-5",
		pattern: "stall", tokensPerTick: 900, windowSize: 200000,
		tools: []string{"Read"},
	}
	gen.sessions = []*demoSession{ds}
	gen.spawn(ds, 0)

	for tick := 1; tick <= 45; tick++ {
		gen.advance(ds, tick)
	}
	s, ok := reg.Get(ds.id)
	if !ok {
		t.Fatal("stall session missing")
	}
	if s.Status != registry.StatusIdle {
		t.Errorf("status after stall = %v, want %v", s.Status, registry.StatusIdle)
	}
}

func TestGeneratorRunLoopRoutesEvents(t *testing.T) {
	reg := registry.New(registry.Config{SettingsPath: filepath.Join(t.TempDir(), "settings.json")}, nil)
	router := pipeline.NewRouter(reg, nil, nil)
	gen := NewGenerator(router, t.TempDir())
	gen.interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gen.Start(ctx)

	seeded := router.Counters().EventsRouted
	time.Sleep(100 * time.Millisecond)

	if got := router.Counters().EventsRouted; got <= seeded {
		t.Errorf("events routed = %d after run loop, want > %d", got, seeded)
	}
	if got := router.Counters().DroppedInvalid; got != 0 {
		t.Errorf("generator produced %d invalid events", got)
	}
}
