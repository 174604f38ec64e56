// Package archive maintains the global, cross-project copy of everything the
// per-project catalogs hold: manifests, full conversations, plan files and
// subagent artifacts, plus the keyword index over the archived manifests.
package archive

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jacquesio/jacques/internal/catalog"
	"github.com/jacquesio/jacques/internal/errs"
	"github.com/jacquesio/jacques/internal/logging"
	"github.com/jacquesio/jacques/internal/paths"
	"github.com/jacquesio/jacques/internal/search"
	"github.com/jacquesio/jacques/internal/transcript"
)

// Conversation is the archived form of a full session: the manifest header
// plus every parsed entry.
type Conversation struct {
	SessionID   string             `json:"sessionId"`
	ProjectPath string             `json:"projectPath"`
	Title       string             `json:"title"`
	StartedAt   time.Time          `json:"startedAt"`
	EndedAt     time.Time          `json:"endedAt"`
	Entries     []transcript.Entry `json:"entries"`
}

// SubagentRecord is the archived form of one subagent artifact.
type SubagentRecord struct {
	AgentID     string    `json:"agentId"`
	AgentType   string    `json:"agentType,omitempty"`
	SessionID   string    `json:"sessionId"`
	ProjectPath string    `json:"projectPath"`
	Content     string    `json:"content"`
	ArchivedAt  time.Time `json:"archivedAt"`
}

// Progress is one step of a long-running archive operation, streamed to
// clients as SSE events.
type Progress struct {
	Phase     string `json:"phase"`
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
	Current   string `json:"current,omitempty"`
}

// ProgressFunc observes Initialize and Reindex. May be nil.
type ProgressFunc func(Progress)

// InitStats summarizes an Initialize run.
type InitStats struct {
	Extracted int      `json:"extracted"`
	Skipped   int      `json:"skipped"`
	Archived  int      `json:"archived"`
	Indexed   int      `json:"indexed"`
	Errors    []string `json:"errors,omitempty"`
}

// Store owns the archive tree under <home>/archive.
type Store struct {
	home        string
	projectsDir string
	sessions    *paths.IndexStore
	index       *search.Store
	log         *slog.Logger
	now         func() time.Time
}

// Open loads the archive at home, sourcing transcripts from projectsDir. A
// corrupt keyword index is replaced by an empty one with a warning; Reindex
// rebuilds it from the archived manifests.
func Open(home, projectsDir string, sessions *paths.IndexStore) (*Store, error) {
	log := logging.Component("archive")
	idx, err := search.Open(paths.ArchiveIndexFile(home))
	if err != nil {
		if errs.KindOf(err) != errs.Parse {
			return nil, err
		}
		log.Warn("keyword index unreadable, starting empty", "error", err)
		idx = search.New(paths.ArchiveIndexFile(home))
	}
	return &Store{
		home:        home,
		projectsDir: projectsDir,
		sessions:    sessions,
		index:       idx,
		log:         log,
		now:         time.Now,
	}, nil
}

// Index exposes the keyword index for searching.
func (s *Store) Index() *search.Store { return s.index }

// Search delegates to the keyword index.
func (s *Store) Search(q search.Query) []search.Hit { return s.index.Search(q) }

// Manifest loads one archived manifest by session id.
func (s *Store) Manifest(sessionID string) (*catalog.SessionManifest, error) {
	if !paths.ValidSessionID(sessionID) {
		return nil, errs.Newf(errs.NotFound, "archive.Manifest", "no manifest %q", sessionID)
	}
	return catalog.LoadManifest(s.manifestPath(sessionID))
}

// Conversation loads one archived conversation by session id. The project
// slug is recovered from the archived manifest.
func (s *Store) Conversation(sessionID string) (*Conversation, error) {
	m, err := s.Manifest(sessionID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.conversationPath(paths.ProjectSlug(m.ProjectPath), sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.Newf(errs.NotFound, "archive.Conversation", "no conversation %q", sessionID)
		}
		return nil, errs.Wrap(errs.IO, "archive.Conversation", err)
	}
	var conv Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, errs.Wrap(errs.Parse, "archive.Conversation", err)
	}
	return &conv, nil
}

func (s *Store) manifestPath(sessionID string) string {
	return filepath.Join(paths.ArchiveManifestsDir(s.home), sessionID+".json")
}

func (s *Store) conversationPath(slug, sessionID string) string {
	return filepath.Join(paths.ArchiveConversationsDir(s.home), slug, sessionID+".json")
}

func (s *Store) subagentPath(agentID string) string {
	return filepath.Join(paths.ArchiveSubagentsDir(s.home), agentID+".json")
}
