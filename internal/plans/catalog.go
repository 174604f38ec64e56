package plans

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jacquesio/jacques/internal/errs"
	"github.com/jacquesio/jacques/internal/paths"
)

// Catalog mediates cross-session plan identity for one project. It holds the
// project's live plan list; callers persist the list (via Plans) after a
// batch of Add calls. Plan files live under dir.
type Catalog struct {
	dir   string
	plans []Plan
	now   func() time.Time
}

// NewCatalog wraps a project's plans directory and its previously cataloged
// entries.
func NewCatalog(dir string, existing []Plan) *Catalog {
	c := &Catalog{dir: dir, now: time.Now}
	if len(existing) > 0 {
		c.plans = make([]Plan, len(existing))
		copy(c.plans, existing)
	}
	return c
}

// Plans returns a copy of the current catalog entries.
func (c *Catalog) Plans() []Plan {
	out := make([]Plan, len(c.plans))
	copy(out, c.plans)
	return out
}

// Add catalogs plan content for a session. Matching runs in tiers: exact
// content hash, body hash, then same-length-bucket Jaccard similarity at
// >= 0.75. A match merges (session added, updatedAt bumped, no file written);
// a miss writes a new dated plan file. The returned bool is true when a new
// file was created. On write failure no in-memory state changes.
func (c *Catalog) Add(content, title, sessionID string) (Plan, bool, error) {
	norm := Normalize(content)
	contentHash := hashNormalized(norm)
	bodyHash := hashNormalized(Normalize(Body(content)))

	for i := range c.plans {
		if c.plans[i].ContentHash == contentHash || c.plans[i].BodyHash == bodyHash {
			c.merge(i, sessionID)
			return c.plans[i], false, nil
		}
	}

	bucket := lengthBucket(len(norm))
	for i := range c.plans {
		existing, err := os.ReadFile(filepath.Join(c.dir, c.plans[i].Filename))
		if err != nil {
			continue
		}
		existingNorm := Normalize(string(existing))
		if lengthBucket(len(existingNorm)) != bucket {
			continue
		}
		if jaccardNormalized(norm, existingNorm) >= jaccardThreshold {
			c.merge(i, sessionID)
			return c.plans[i], false, nil
		}
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return Plan{}, false, errs.Wrap(errs.IO, "plans.Add", err)
	}
	filename := c.nextFilename(title)
	if err := paths.WriteFileAtomic(filepath.Join(c.dir, filename), []byte(content)); err != nil {
		return Plan{}, false, errs.Wrap(errs.IO, "plans.Add", err)
	}

	now := c.now().UTC()
	p := Plan{
		ID:          uuid.NewString(),
		Title:       title,
		Filename:    filename,
		Path:        "plans/" + filename,
		ContentHash: contentHash,
		BodyHash:    bodyHash,
		CreatedAt:   now,
		UpdatedAt:   now,
		Sessions:    []string{sessionID},
	}
	c.plans = append(c.plans, p)
	return p, true, nil
}

// merge records a session against an existing plan. Re-cataloging a session
// already in the set changes nothing, so repeated extraction stays stable.
func (c *Catalog) merge(i int, sessionID string) {
	p := &c.plans[i]
	for _, s := range p.Sessions {
		if s == sessionID {
			return
		}
	}
	p.Sessions = append(p.Sessions, sessionID)
	p.UpdatedAt = c.now().UTC()
}

// nextFilename builds YYYY-MM-DD_title-slug.md, suffixing -v2, -v3, ... when
// the name is already taken on disk or in the catalog.
func (c *Catalog) nextFilename(title string) string {
	base := c.now().UTC().Format("2006-01-02") + "_" + Slug(title)
	name := base + ".md"
	for v := 2; c.nameTaken(name); v++ {
		name = fmt.Sprintf("%s-v%d.md", base, v)
	}
	return name
}

func (c *Catalog) nameTaken(name string) bool {
	for _, p := range c.plans {
		if p.Filename == name {
			return true
		}
	}
	_, err := os.Stat(filepath.Join(c.dir, name))
	return err == nil
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slug converts a plan title to its filename form: lowercase, runs of
// non-alphanumerics collapsed to single dashes, at most 60 bytes.
func Slug(title string) string {
	s := nonSlug.ReplaceAllString(strings.ToLower(title), "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "untitled"
	}
	if len(s) > 60 {
		s = strings.Trim(s[:60], "-")
	}
	return s
}
