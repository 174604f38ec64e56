package archive

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jacquesio/jacques/internal/errs"
	"github.com/jacquesio/jacques/internal/paths"
	"github.com/jacquesio/jacques/internal/search"
)

var sessionFixture = []string{
	`{"type":"summary","summary":"JWT auth middleware work","leafUuid":"leaf-1"}`,
	`{"type":"user","uuid":"u1","sessionId":"sess-1","timestamp":"2025-06-01T10:00:00Z","message":{"role":"user","content":"Implement the following plan:\n# JWT Auth\n\n- Add a login endpoint\n- Validate tokens in middleware\n\nUse RS256 signing and rotate refresh tokens on every exchange so stolen tokens age out quickly."}}`,
	`{"type":"assistant","uuid":"a1","parentUuid":"u1","sessionId":"sess-1","timestamp":"2025-06-01T10:00:05Z","message":{"role":"assistant","model":"claude-sonnet-4-20250514","content":[{"type":"text","text":"Starting with the TypeScript login endpoint."}],"usage":{"input_tokens":1000,"output_tokens":5}}}`,
}

func fixtureTree(t *testing.T) (home, projectsDir, project string) {
	t.Helper()
	home = t.TempDir()
	projectsDir = t.TempDir()
	project = t.TempDir()
	dir := filepath.Join(projectsDir, paths.EncodeProjectPath(project))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	content := strings.Join(sessionFixture, "\n") + "\n"
	if err := os.WriteFile(filepath.Join(dir, "sess-1.jsonl"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return home, projectsDir, project
}

func openStore(t *testing.T, home, projectsDir string) *Store {
	t.Helper()
	s, err := Open(home, projectsDir, nil)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestInitializeEndToEnd(t *testing.T) {
	home, projectsDir, project := fixtureTree(t)
	s := openStore(t, home, projectsDir)

	var phases []string
	stats, err := s.Initialize(context.Background(), false, func(p Progress) {
		phases = append(phases, p.Phase)
	})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if stats.Extracted != 1 || stats.Archived != 1 || stats.Indexed != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if len(stats.Errors) != 0 {
		t.Errorf("errors = %v", stats.Errors)
	}
	for _, want := range []string{"extract", "archive", "index"} {
		found := false
		for _, p := range phases {
			if p == want {
				found = true
			}
		}
		if !found {
			t.Errorf("phases = %v, missing %q", phases, want)
		}
	}

	if _, err := os.Stat(filepath.Join(paths.ArchiveManifestsDir(home), "sess-1.json")); err != nil {
		t.Errorf("archived manifest missing: %v", err)
	}
	slug := paths.ProjectSlug(project)
	if _, err := os.Stat(filepath.Join(paths.ArchiveConversationsDir(home), slug, "sess-1.json")); err != nil {
		t.Errorf("archived conversation missing: %v", err)
	}
	planCopies, _ := filepath.Glob(filepath.Join(paths.ArchivePlansDir(home), slug, "*_jwt-auth.md"))
	if len(planCopies) != 1 {
		t.Errorf("plan copies = %v, want one", planCopies)
	}
	if _, err := os.Stat(paths.ArchiveIndexFile(home)); err != nil {
		t.Errorf("index file missing: %v", err)
	}

	hits := s.Search(search.Query{Text: "jwt"})
	if len(hits) != 1 || hits[0].ManifestID != "sess-1" {
		t.Fatalf("search hits = %+v", hits)
	}
	if hits[0].ProjectID != paths.EncodeProjectPath(project) {
		t.Errorf("hit project = %q", hits[0].ProjectID)
	}

	m, err := s.Manifest("sess-1")
	if err != nil {
		t.Fatalf("Manifest: %v", err)
	}
	if m.Title != "JWT auth middleware work" {
		t.Errorf("manifest title = %q", m.Title)
	}

	conv, err := s.Conversation("sess-1")
	if err != nil {
		t.Fatalf("Conversation: %v", err)
	}
	if len(conv.Entries) != 3 || conv.Title != m.Title {
		t.Errorf("conversation = %d entries, title %q", len(conv.Entries), conv.Title)
	}
}

func TestInitializeCancelled(t *testing.T) {
	home, projectsDir, _ := fixtureTree(t)
	s := openStore(t, home, projectsDir)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Initialize(ctx, false, nil)
	if errs.KindOf(err) != errs.Cancelled {
		t.Errorf("err = %v, want Cancelled", err)
	}
}

func TestReindexRebuildsFromManifests(t *testing.T) {
	home, projectsDir, _ := fixtureTree(t)
	s := openStore(t, home, projectsDir)
	if _, err := s.Initialize(context.Background(), false, nil); err != nil {
		t.Fatal(err)
	}

	// Clobber the index file; a fresh Open falls back to empty.
	if err := os.WriteFile(paths.ArchiveIndexFile(home), []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	s2 := openStore(t, home, projectsDir)
	if hits := s2.Search(search.Query{Text: "jwt"}); len(hits) != 0 {
		t.Fatalf("corrupt index should start empty, got %+v", hits)
	}

	stats, err := s2.Reindex(context.Background(), nil)
	if err != nil {
		t.Fatalf("Reindex: %v", err)
	}
	if stats.Indexed != 1 || len(stats.Errors) != 0 {
		t.Errorf("stats = %+v", stats)
	}
	if hits := s2.Search(search.Query{Text: "jwt"}); len(hits) != 1 {
		t.Errorf("search after reindex = %+v", hits)
	}

	// Reindex is source-of-truth: manifests removed from the archive drop out.
	if err := os.Remove(filepath.Join(paths.ArchiveManifestsDir(home), "sess-1.json")); err != nil {
		t.Fatal(err)
	}
	if _, err := s2.Reindex(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if hits := s2.Search(search.Query{Text: "jwt"}); len(hits) != 0 {
		t.Errorf("stale manifest still indexed: %+v", hits)
	}
}

func TestInitializeArchivesSubagents(t *testing.T) {
	home := t.TempDir()
	projectsDir := t.TempDir()
	project := t.TempDir()
	dir := filepath.Join(projectsDir, paths.EncodeProjectPath(project))
	lines := []string{
		`{"type":"user","uuid":"u1","sessionId":"sess-3","timestamp":"2025-06-03T09:00:00Z","message":{"role":"user","content":"Check the scheduler"}}`,
		`{"type":"progress","subtype":"agent_progress","toolUseID":"t1","timestamp":"2025-06-03T09:00:05Z","data":{"type":"agent_progress","agentId":"xyz","agentType":"Explore","description":"scan scheduler"}}`,
	}
	if err := os.MkdirAll(filepath.Join(dir, "sess-3", "subagents"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sess-3.jsonl"), []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	agent := `{"type":"assistant","uuid":"e1","timestamp":"2025-06-03T09:00:10Z","message":{"role":"assistant","content":[{"type":"text","text":"The scheduler polls every 30 seconds."}]}}` + "\n"
	if err := os.WriteFile(filepath.Join(dir, "sess-3", "subagents", "agent-xyz.jsonl"), []byte(agent), 0o644); err != nil {
		t.Fatal(err)
	}

	s := openStore(t, home, projectsDir)
	if _, err := s.Initialize(context.Background(), false, nil); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(paths.ArchiveSubagentsDir(home), "xyz.json"))
	if err != nil {
		t.Fatalf("subagent record missing: %v", err)
	}
	rec := string(data)
	if !strings.Contains(rec, `"agentType": "Explore"`) || !strings.Contains(rec, "scheduler polls") {
		t.Errorf("subagent record = %s", rec)
	}
}

func TestManifestLookupErrors(t *testing.T) {
	home, projectsDir, _ := fixtureTree(t)
	s := openStore(t, home, projectsDir)

	if _, err := s.Manifest("absent"); errs.KindOf(err) != errs.NotFound {
		t.Errorf("absent manifest err = %v, want NotFound", err)
	}
	if _, err := s.Manifest("../etc/passwd"); errs.KindOf(err) != errs.NotFound {
		t.Errorf("traversal id err = %v, want NotFound", err)
	}
}
