package search

import (
	"encoding/json"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jacquesio/jacques/internal/catalog"
	"github.com/jacquesio/jacques/internal/errs"
	"github.com/jacquesio/jacques/internal/paths"
)

const (
	indexVersion = 1
	maxLimit     = 50
)

// Field weights. A keyword appearing in several fields of one manifest keeps
// only its highest-weight occurrence.
const (
	weightTitle    = 2.0
	weightQuestion = 1.5
	weightTool     = 1.2
	weightFile     = 1.0
	weightTech     = 1.0
	weightSubagent = 0.8
	weightSnippet  = 0.5
)

// Ref is one keyword occurrence.
type Ref struct {
	ManifestID string  `json:"manifestId"`
	Field      string  `json:"field"`
	Score      float64 `json:"score"`
}

// ManifestMeta carries the filterable subset of an archived manifest.
type ManifestMeta struct {
	ProjectID    string    `json:"projectId"`
	Title        string    `json:"title"`
	EndedAt      time.Time `json:"endedAt"`
	Technologies []string  `json:"technologies,omitempty"`
}

// ProjectStats counts archived manifests per project.
type ProjectStats struct {
	Path         string    `json:"path"`
	Count        int       `json:"count"`
	LastActivity time.Time `json:"lastActivity"`
}

// Metadata carries whole-index counters.
type Metadata struct {
	TotalConversations int `json:"totalConversations"`
	TotalKeywords      int `json:"totalKeywords"`
}

// Index is the serialized form of the keyword index.
type Index struct {
	Version   int                     `json:"version"`
	Keywords  map[string][]Ref        `json:"keywords"`
	Manifests map[string]ManifestMeta `json:"manifests"`
	Projects  map[string]ProjectStats `json:"projects"`
	Metadata  Metadata                `json:"metadata"`
	UpdatedAt time.Time               `json:"lastUpdated"`
}

func newIndex() *Index {
	return &Index{
		Version:   indexVersion,
		Keywords:  make(map[string][]Ref),
		Manifests: make(map[string]ManifestMeta),
		Projects:  make(map[string]ProjectStats),
	}
}

// Store guards the index for concurrent readers and a single writer.
type Store struct {
	mu   sync.RWMutex
	path string
	idx  *Index
	now  func() time.Time
}

// New returns an empty index store that will save to path.
func New(path string) *Store {
	return &Store{path: path, idx: newIndex(), now: time.Now}
}

// Open loads the index file, starting empty when it does not exist. A
// corrupt file is a Parse error; callers recover by rebuilding from the
// archived manifests.
func Open(path string) (*Store, error) {
	s := &Store{path: path, idx: newIndex(), now: time.Now}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.IO, "search.Open", err)
	}
	if err := json.Unmarshal(data, s.idx); err != nil {
		return nil, errs.Wrap(errs.Parse, "search.Open", err)
	}
	if s.idx.Keywords == nil {
		s.idx.Keywords = make(map[string][]Ref)
	}
	if s.idx.Manifests == nil {
		s.idx.Manifests = make(map[string]ManifestMeta)
	}
	if s.idx.Projects == nil {
		s.idx.Projects = make(map[string]ProjectStats)
	}
	return s, nil
}

// Reset drops every entry, for a rebuild from scratch.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idx = newIndex()
}

// Add indexes one archived manifest. Prior references for the same manifest
// are dropped first so keywords that disappeared from a re-archived session
// do not linger.
func (s *Store) Add(manifestID, projectID string, m *catalog.SessionManifest) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prior, existed := s.idx.Manifests[manifestID]
	s.removeLocked(manifestID)

	for keyword, ref := range manifestKeywords(m) {
		ref.ManifestID = manifestID
		s.idx.Keywords[keyword] = upsertRef(s.idx.Keywords[keyword], ref)
	}
	s.idx.Manifests[manifestID] = ManifestMeta{
		ProjectID:    projectID,
		Title:        m.Title,
		EndedAt:      m.EndedAt,
		Technologies: m.Technologies,
	}

	if existed && prior.ProjectID != projectID {
		s.decrementProject(prior.ProjectID)
	}
	stat := s.idx.Projects[projectID]
	if !existed || prior.ProjectID != projectID {
		stat.Count++
	}
	stat.Path = m.ProjectPath
	stat.LastActivity = s.now().UTC()
	s.idx.Projects[projectID] = stat
	s.touchLocked()
}

// Remove deletes every reference to a manifest. projectID may be empty; the
// recorded metadata then supplies it for the counter decrement.
func (s *Store) Remove(manifestID, projectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if projectID == "" {
		projectID = s.idx.Manifests[manifestID].ProjectID
	}
	if _, ok := s.idx.Manifests[manifestID]; !ok {
		return
	}
	s.removeLocked(manifestID)
	s.decrementProject(projectID)
	s.touchLocked()
}

func (s *Store) touchLocked() {
	s.idx.Metadata = Metadata{
		TotalConversations: len(s.idx.Manifests),
		TotalKeywords:      len(s.idx.Keywords),
	}
	s.idx.UpdatedAt = s.now().UTC()
}

func (s *Store) decrementProject(projectID string) {
	stat, ok := s.idx.Projects[projectID]
	if !ok {
		return
	}
	stat.Count--
	if stat.Count <= 0 {
		delete(s.idx.Projects, projectID)
	} else {
		s.idx.Projects[projectID] = stat
	}
}

func (s *Store) removeLocked(manifestID string) {
	for keyword, refs := range s.idx.Keywords {
		kept := refs[:0]
		for _, r := range refs {
			if r.ManifestID != manifestID {
				kept = append(kept, r)
			}
		}
		if len(kept) == 0 {
			delete(s.idx.Keywords, keyword)
		} else {
			s.idx.Keywords[keyword] = kept
		}
	}
	delete(s.idx.Manifests, manifestID)
}

// Query selects and pages ranked results.
type Query struct {
	Text         string
	ProjectID    string
	After        time.Time
	Before       time.Time
	Technologies []string
	Offset       int
	Limit        int
}

// Hit is one ranked result.
type Hit struct {
	ManifestID   string    `json:"manifestId"`
	ProjectID    string    `json:"projectId"`
	Title        string    `json:"title"`
	EndedAt      time.Time `json:"endedAt"`
	Technologies []string  `json:"technologies,omitempty"`
	Score        float64   `json:"score"`
}

// Search tokenizes the query, sums reference scores per manifest, filters,
// and pages. It never mutates the index; concurrent searches are safe.
func (s *Store) Search(q Query) []Hit {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tokens := Tokenize(q.Text)
	if len(tokens) == 0 {
		return nil
	}

	scores := make(map[string]float64)
	for _, tok := range tokens {
		for _, ref := range s.idx.Keywords[tok] {
			scores[ref.ManifestID] += ref.Score
		}
	}

	hits := make([]Hit, 0, len(scores))
	for id, score := range scores {
		meta := s.idx.Manifests[id]
		if !s.matches(meta, q) {
			continue
		}
		hits = append(hits, Hit{
			ManifestID:   id,
			ProjectID:    meta.ProjectID,
			Title:        meta.Title,
			EndedAt:      meta.EndedAt,
			Technologies: meta.Technologies,
			Score:        score,
		})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ManifestID < hits[j].ManifestID
	})

	limit := q.Limit
	if limit <= 0 || limit > maxLimit {
		limit = maxLimit
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(hits) {
		return nil
	}
	hits = hits[offset:]
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

func (s *Store) matches(meta ManifestMeta, q Query) bool {
	if q.ProjectID != "" && meta.ProjectID != q.ProjectID {
		return false
	}
	if !q.After.IsZero() && meta.EndedAt.Before(q.After) {
		return false
	}
	if !q.Before.IsZero() && meta.EndedAt.After(q.Before) {
		return false
	}
	if len(q.Technologies) > 0 {
		found := false
		for _, want := range q.Technologies {
			for _, have := range meta.Technologies {
				if strings.EqualFold(want, have) {
					found = true
				}
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// List returns manifests matching the query filters without keyword
// scoring, newest first. Used for unqueried archive listings.
func (s *Store) List(q Query) []Hit {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hits := make([]Hit, 0, len(s.idx.Manifests))
	for id, meta := range s.idx.Manifests {
		if !s.matches(meta, q) {
			continue
		}
		hits = append(hits, Hit{
			ManifestID:   id,
			ProjectID:    meta.ProjectID,
			Title:        meta.Title,
			EndedAt:      meta.EndedAt,
			Technologies: meta.Technologies,
		})
	}
	sort.Slice(hits, func(i, j int) bool {
		if !hits[i].EndedAt.Equal(hits[j].EndedAt) {
			return hits[i].EndedAt.After(hits[j].EndedAt)
		}
		return hits[i].ManifestID < hits[j].ManifestID
	})

	limit := q.Limit
	if limit <= 0 || limit > maxLimit {
		limit = maxLimit
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(hits) {
		return nil
	}
	hits = hits[offset:]
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// Meta returns the recorded metadata for one manifest.
func (s *Store) Meta(manifestID string) (ManifestMeta, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.idx.Manifests[manifestID]
	return meta, ok
}

// Projects copies the per-project counters.
func (s *Store) Projects() map[string]ProjectStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]ProjectStats, len(s.idx.Projects))
	for k, v := range s.idx.Projects {
		out[k] = v
	}
	return out
}

// Counters reports index size for the status endpoint.
func (s *Store) Counters() (manifests, keywords int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.idx.Manifests), len(s.idx.Keywords)
}

// Save writes the index with a temp file and rename.
func (s *Store) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, err := json.MarshalIndent(s.idx, "", "  ")
	if err != nil {
		return errs.Wrap(errs.IO, "search.Save", err)
	}
	if err := paths.WriteFileAtomic(s.path, append(data, '\n')); err != nil {
		return errs.Wrap(errs.IO, "search.Save", err)
	}
	return nil
}

// upsertRef inserts ref, replacing an existing reference for the same
// manifest only when the new score is higher.
func upsertRef(refs []Ref, ref Ref) []Ref {
	for i := range refs {
		if refs[i].ManifestID == ref.ManifestID {
			if ref.Score > refs[i].Score {
				refs[i] = ref
			}
			return refs
		}
	}
	return append(refs, ref)
}

// manifestKeywords extracts weighted keywords, keeping the highest-weight
// field per keyword.
func manifestKeywords(m *catalog.SessionManifest) map[string]Ref {
	best := make(map[string]Ref)
	take := func(field string, weight float64, tokens []string) {
		for _, tok := range tokens {
			if cur, ok := best[tok]; !ok || weight > cur.Score {
				best[tok] = Ref{Field: field, Score: weight}
			}
		}
	}

	take("title", weightTitle, Tokenize(m.Title))
	for _, q := range m.UserQuestions {
		take("question", weightQuestion, Tokenize(q))
	}
	for _, tool := range m.ToolsUsed {
		lower := strings.ToLower(tool)
		if validToken(lower) {
			take("tool", weightTool, []string{lower})
		}
		take("tool", weightTool, pathTokens(tool))
	}
	for _, f := range m.FilesModified {
		take("file", weightFile, pathTokens(f))
	}
	for _, ref := range m.PlanRefs {
		name := ref.FilePath
		if name == "" {
			name = ref.Title
		}
		take("file", weightFile, pathTokens(name))
	}
	for _, tech := range m.Technologies {
		lower := strings.ToLower(tech)
		if validToken(lower) {
			take("tech", weightTech, []string{lower})
		}
	}
	if m.HasSubagents {
		take("subagent", weightSubagent, []string{"subagent", "agent"})
	}
	for _, snip := range m.ContextSnippets {
		take("snippet", weightSnippet, Tokenize(snip))
	}
	return best
}
