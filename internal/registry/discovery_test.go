package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTranscriptAt(t *testing.T, dir, name string, mod time.Time, lines string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(lines), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, mod, mod); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRecentTranscriptsWithinWindow(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	fresh1 := writeTranscriptAt(t, dir, "s-fresh1.jsonl", now.Add(-10*time.Second), "{}\n")
	fresh2 := writeTranscriptAt(t, dir, "s-fresh2.jsonl", now.Add(-30*time.Second), "{}\n")
	writeTranscriptAt(t, dir, "s-old.jsonl", now.Add(-10*time.Minute), "{}\n")
	writeTranscriptAt(t, dir, "notes.txt", now, "not a transcript")

	got := recentTranscripts(dir, now, time.Minute)
	if len(got) != 2 {
		t.Fatalf("got %d files, want 2: %v", len(got), got)
	}
	if got[0] != fresh1 || got[1] != fresh2 {
		t.Errorf("order = %v, want newest first [%s %s]", got, fresh1, fresh2)
	}
}

func TestRecentTranscriptsFallsBackToNewest(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	writeTranscriptAt(t, dir, "a.jsonl", now.Add(-2*time.Hour), "{}\n")
	newest := writeTranscriptAt(t, dir, "b.jsonl", now.Add(-1*time.Hour), "{}\n")

	got := recentTranscripts(dir, now, time.Minute)
	if len(got) != 1 || got[0] != newest {
		t.Errorf("got %v, want just the newest %s", got, newest)
	}
}

func TestRecentTranscriptsMissingDir(t *testing.T) {
	if got := recentTranscripts(filepath.Join(t.TempDir(), "absent"), time.Now(), time.Minute); got != nil {
		t.Errorf("got %v, want nil", got)
	}
}

func TestProbeTranscript(t *testing.T) {
	dir := t.TempDir()
	lines := `{"type":"summary","summary":"earlier work"}
{"type":"user","sessionId":"11112222-3333","cwd":"/work/api","message":{"role":"user","content":"hi"}}
`
	path := writeTranscriptAt(t, dir, "s.jsonl", time.Now(), lines)

	id, cwd := probeTranscript(path)
	if id != "11112222-3333" {
		t.Errorf("sessionID = %q", id)
	}
	if cwd != "/work/api" {
		t.Errorf("cwd = %q", cwd)
	}
}

func TestProbeTranscriptTolerant(t *testing.T) {
	dir := t.TempDir()
	path := writeTranscriptAt(t, dir, "s.jsonl", time.Now(), "not json at all\n")
	if id, cwd := probeTranscript(path); id != "" || cwd != "" {
		t.Errorf("got %q/%q from garbage", id, cwd)
	}
}

func TestSourceForProcess(t *testing.T) {
	if got := sourceForProcess("claude"); got != SourceClaude {
		t.Errorf("claude -> %q", got)
	}
	if got := sourceForProcess("cursor-agent"); got != SourceCursor {
		t.Errorf("cursor-agent -> %q", got)
	}
}
