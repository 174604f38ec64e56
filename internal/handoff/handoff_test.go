package handoff

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jacquesio/jacques/internal/errs"
)

func newTestManager(t *testing.T) (*Manager, chan Event) {
	t.Helper()
	events := make(chan Event, 16)
	m := NewManager(func(e Event) { events <- e })
	t.Cleanup(m.Close)
	return m, events
}

func waitEvent(t *testing.T, ch chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func expectQuiet(t *testing.T, ch chan Event) {
	t.Helper()
	select {
	case e := <-ch:
		t.Fatalf("unexpected event: %+v", e)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatchEmitsHandoffEvent(t *testing.T) {
	m, events := newTestManager(t)
	proj := t.TempDir()

	if err := m.Watch("s1", proj); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	path := filepath.Join(proj, ".jacques", "handoffs", "session-notes.md")
	if err := os.WriteFile(path, []byte("# Handoff\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	e := waitEvent(t, events)
	if e.SessionID != "s1" {
		t.Errorf("SessionID = %q, want s1", e.SessionID)
	}
	if e.Kind != KindHandoff {
		t.Errorf("Kind = %q, want %q", e.Kind, KindHandoff)
	}
	if e.Path != path {
		t.Errorf("Path = %q, want %q", e.Path, path)
	}
}

func TestWatchEmitsPlanEvent(t *testing.T) {
	m, events := newTestManager(t)
	proj := t.TempDir()

	if err := m.Watch("s1", proj); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	path := filepath.Join(proj, ".jacques", "plans", "2025-06-01_redesign.md")
	if err := os.WriteFile(path, []byte("# Plan\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	e := waitEvent(t, events)
	if e.Kind != KindPlan {
		t.Errorf("Kind = %q, want %q", e.Kind, KindPlan)
	}
}

func TestDebounceCollapsesWriteBurst(t *testing.T) {
	m, events := newTestManager(t)
	proj := t.TempDir()

	if err := m.Watch("s1", proj); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	path := filepath.Join(proj, ".jacques", "handoffs", "burst.md")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if _, err := f.WriteString("chunk\n"); err != nil {
			t.Fatal(err)
		}
		if err := f.Sync(); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	f.Close()

	waitEvent(t, events)
	expectQuiet(t, events)
}

func TestNonMarkdownIgnored(t *testing.T) {
	m, events := newTestManager(t)
	proj := t.TempDir()

	if err := m.Watch("s1", proj); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	path := filepath.Join(proj, ".jacques", "handoffs", "scratch.txt")
	if err := os.WriteFile(path, []byte("not markdown"), 0o644); err != nil {
		t.Fatal(err)
	}

	expectQuiet(t, events)
}

func TestUnwatchStopsEvents(t *testing.T) {
	m, events := newTestManager(t)
	proj := t.TempDir()

	if err := m.Watch("s1", proj); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	m.Unwatch("s1")

	path := filepath.Join(proj, ".jacques", "handoffs", "late.md")
	if err := os.WriteFile(path, []byte("# Late\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	expectQuiet(t, events)
	if got := m.Active(); got != 0 {
		t.Errorf("Active = %d, want 0", got)
	}
}

func TestWatchIdempotentPerSession(t *testing.T) {
	m, _ := newTestManager(t)
	proj := t.TempDir()

	if err := m.Watch("s1", proj); err != nil {
		t.Fatalf("first Watch: %v", err)
	}
	if err := m.Watch("s1", proj); err != nil {
		t.Fatalf("second Watch: %v", err)
	}
	if got := m.Active(); got != 1 {
		t.Errorf("Active = %d, want 1", got)
	}
}

func TestWatchCreatesArtifactDirs(t *testing.T) {
	m, _ := newTestManager(t)
	proj := t.TempDir()

	if err := m.Watch("s1", proj); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	for _, dir := range []string{"handoffs", "plans"} {
		if _, err := os.Stat(filepath.Join(proj, ".jacques", dir)); err != nil {
			t.Errorf("missing %s dir: %v", dir, err)
		}
	}
}

func TestWatchRejectsEmptyProjectPath(t *testing.T) {
	m, _ := newTestManager(t)
	err := m.Watch("s1", "")
	if errs.KindOf(err) != errs.Invariant {
		t.Fatalf("kind = %v, want Invariant", errs.KindOf(err))
	}
}
