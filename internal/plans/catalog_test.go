package plans

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jacquesio/jacques/internal/errs"
)

func fixedCatalog(t *testing.T) *Catalog {
	t.Helper()
	c := NewCatalog(filepath.Join(t.TempDir(), "plans"), nil)
	c.now = func() time.Time {
		return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	}
	return c
}

func wordRun(prefix string, n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = fmt.Sprintf("%s%02d", prefix, i+1)
	}
	return strings.Join(words, " ")
}

func TestCatalogAddCreatesDatedFile(t *testing.T) {
	c := fixedCatalog(t)
	content := "# JWT Auth\n\nAdd JWT with refresh tokens. This covers generation, validation, secure storage, and middleware wiring."

	p, created, err := c.Add(content, "JWT Auth", "s1")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !created {
		t.Error("created = false for first plan")
	}
	if p.Filename != "2025-06-15_jwt-auth.md" {
		t.Errorf("Filename = %q", p.Filename)
	}
	if p.Path != "plans/2025-06-15_jwt-auth.md" {
		t.Errorf("Path = %q", p.Path)
	}
	if p.ID == "" {
		t.Error("ID empty")
	}
	if len(p.Sessions) != 1 || p.Sessions[0] != "s1" {
		t.Errorf("Sessions = %v", p.Sessions)
	}

	data, err := os.ReadFile(filepath.Join(c.dir, p.Filename))
	if err != nil {
		t.Fatalf("plan file: %v", err)
	}
	if string(data) != content {
		t.Error("plan file content mismatch")
	}
}

func TestCatalogBodyDedupAcrossTitles(t *testing.T) {
	c := fixedCatalog(t)
	body := "shared body line one\nshared body line two\n" + wordRun("word", 20)
	planA := "# Dashboard — Timestamps, Sort, Tokens\n\n" + body
	planB := "# Navigator Improvements\n\n" + body

	first, created, err := c.Add(planA, "Dashboard — Timestamps, Sort, Tokens", "s1")
	if err != nil || !created {
		t.Fatalf("first Add: created=%v err=%v", created, err)
	}
	second, created, err := c.Add(planB, "Navigator Improvements", "s2")
	if err != nil {
		t.Fatalf("second Add: %v", err)
	}
	if created {
		t.Error("created = true, want merge on body hash")
	}
	if second.ID != first.ID {
		t.Errorf("merged ID = %q, want %q", second.ID, first.ID)
	}
	if len(second.Sessions) != 2 || second.Sessions[1] != "s2" {
		t.Errorf("Sessions = %v", second.Sessions)
	}

	files, err := os.ReadDir(c.dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 {
		t.Errorf("plan files on disk = %d, want 1", len(files))
	}
}

func TestCatalogSimilarityDedup(t *testing.T) {
	c := fixedCatalog(t)
	shared := wordRun("word", 48)
	planA := "# Authentication System Design\n\n" + shared + " extra49 extra50"
	planB := "# Secure Auth Implementation\n\n" + shared + " other49 other50"

	first, _, err := c.Add(planA, "Authentication System Design", "s1")
	if err != nil {
		t.Fatalf("first Add: %v", err)
	}
	second, created, err := c.Add(planB, "Secure Auth Implementation", "s2")
	if err != nil {
		t.Fatalf("second Add: %v", err)
	}
	if created {
		t.Error("created = true, want similarity merge")
	}
	if second.ID != first.ID {
		t.Errorf("merged ID = %q, want %q", second.ID, first.ID)
	}
}

func TestCatalogDissimilarPlansGetVersionedNames(t *testing.T) {
	c := fixedCatalog(t)
	planA := "# JWT Auth\n\n" + wordRun("word", 50)
	planB := "# JWT Auth\n\n" + wordRun("diff", 50)

	_, _, err := c.Add(planA, "JWT Auth", "s1")
	if err != nil {
		t.Fatal(err)
	}
	p2, created, err := c.Add(planB, "JWT Auth", "s2")
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("created = false, want a new file for dissimilar content")
	}
	if p2.Filename != "2025-06-15_jwt-auth-v2.md" {
		t.Errorf("Filename = %q, want -v2 suffix", p2.Filename)
	}

	planC := "# JWT Auth\n\n" + wordRun("more", 50)
	p3, _, err := c.Add(planC, "JWT Auth", "s3")
	if err != nil {
		t.Fatal(err)
	}
	if p3.Filename != "2025-06-15_jwt-auth-v3.md" {
		t.Errorf("Filename = %q, want -v3 suffix", p3.Filename)
	}
}

func TestCatalogRecatalogIsIdempotent(t *testing.T) {
	c := fixedCatalog(t)
	content := "# JWT Auth\n\n" + wordRun("word", 30)

	first, _, err := c.Add(content, "JWT Auth", "s1")
	if err != nil {
		t.Fatal(err)
	}
	again, created, err := c.Add(content, "JWT Auth", "s1")
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Error("re-catalog created a new file")
	}
	if again.ID != first.ID {
		t.Errorf("ID changed on re-catalog: %q != %q", again.ID, first.ID)
	}
	if len(again.Sessions) != 1 {
		t.Errorf("Sessions = %v, want unchanged", again.Sessions)
	}
	if got := c.Plans(); len(got) != 1 {
		t.Errorf("catalog size = %d, want 1", len(got))
	}
}

func TestCatalogWriteFailureLeavesStateUntouched(t *testing.T) {
	blocked := filepath.Join(t.TempDir(), "blocked")
	if err := os.WriteFile(blocked, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	c := NewCatalog(filepath.Join(blocked, "plans"), nil)

	_, _, err := c.Add("# X\n\n"+wordRun("word", 30), "X", "s1")
	if err == nil {
		t.Fatal("Add succeeded under an unwritable dir")
	}
	if errs.KindOf(err) != errs.IO {
		t.Errorf("kind = %v, want IO", errs.KindOf(err))
	}
	if got := c.Plans(); len(got) != 0 {
		t.Errorf("catalog mutated on failure: %v", got)
	}
}

func TestCatalogSeededWithExistingPlans(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "plans")
	content := "# Seeded\n\n" + wordRun("word", 30)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "2025-01-01_seeded.md"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	existing := []Plan{{
		ID:          "seed-1",
		Title:       "Seeded",
		Filename:    "2025-01-01_seeded.md",
		Path:        "plans/2025-01-01_seeded.md",
		ContentHash: ContentHash(content),
		BodyHash:    BodyHash(content),
		Sessions:    []string{"s0"},
	}}

	c := NewCatalog(dir, existing)
	p, created, err := c.Add(content, "Seeded", "s1")
	if err != nil {
		t.Fatal(err)
	}
	if created || p.ID != "seed-1" {
		t.Errorf("created=%v id=%q, want merge into seed-1", created, p.ID)
	}
	if len(p.Sessions) != 2 {
		t.Errorf("Sessions = %v", p.Sessions)
	}
}

func TestSlug(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"JWT Auth", "jwt-auth"},
		{"Dashboard — Timestamps, Sort, Tokens", "dashboard-timestamps-sort-tokens"},
		{"  weird -- spacing  ", "weird-spacing"},
		{"///", "untitled"},
		{strings.Repeat("long", 30), strings.Repeat("long", 15)},
	}
	for _, tt := range tests {
		if got := Slug(tt.in); got != tt.want {
			t.Errorf("Slug(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
