package paths

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jacquesio/jacques/internal/errs"
)

const sessionsIndexVersion = 1

// SessionsIndex is the derived cache at ~/.jacques/cache/sessions-index.json
// mapping encoded transcript directory names back to real project paths and
// session ids to their transcript files. It exists to disambiguate
// dash-containing project paths; everything still works when it is absent.
type SessionsIndex struct {
	Version  int                   `json:"version"`
	Projects map[string]ProjectRef `json:"projects"`
	Sessions map[string]SessionRef `json:"sessions"`
	Updated  time.Time             `json:"updated"`
}

type ProjectRef struct {
	Path     string    `json:"path"`
	LastSeen time.Time `json:"lastSeen"`
}

type SessionRef struct {
	ProjectPath    string    `json:"projectPath"`
	TranscriptPath string    `json:"transcriptPath"`
	ModifiedAt     time.Time `json:"modifiedAt"`
}

func newSessionsIndex() *SessionsIndex {
	return &SessionsIndex{
		Version:  sessionsIndexVersion,
		Projects: make(map[string]ProjectRef),
		Sessions: make(map[string]SessionRef),
	}
}

// ProjectPath looks up the real path for an encoded directory name.
func (ix *SessionsIndex) ProjectPath(encoded string) (string, bool) {
	if ix == nil || ix.Projects == nil {
		return "", false
	}
	ref, ok := ix.Projects[encoded]
	if !ok || ref.Path == "" {
		return "", false
	}
	return ref.Path, true
}

// IndexStore serializes access to the sessions-index file. Discovery and
// extraction both record into it while decode paths read from it.
type IndexStore struct {
	mu   sync.Mutex
	path string
	idx  *SessionsIndex
}

// OpenIndexStore loads the index at path, tolerating a missing file. A
// corrupt file is replaced by an empty index rather than failing startup.
func OpenIndexStore(path string) *IndexStore {
	s := &IndexStore{path: path, idx: newSessionsIndex()}
	data, err := os.ReadFile(path)
	if err != nil {
		return s
	}
	var idx SessionsIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return s
	}
	if idx.Projects == nil {
		idx.Projects = make(map[string]ProjectRef)
	}
	if idx.Sessions == nil {
		idx.Sessions = make(map[string]SessionRef)
	}
	s.idx = &idx
	return s
}

// Snapshot returns a copy for ambiguity resolution.
func (s *IndexStore) Snapshot() *SessionsIndex {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := newSessionsIndex()
	for k, v := range s.idx.Projects {
		cp.Projects[k] = v
	}
	for k, v := range s.idx.Sessions {
		cp.Sessions[k] = v
	}
	cp.Updated = s.idx.Updated
	return cp
}

// RecordProject notes the real path behind an encoded directory name.
func (s *IndexStore) RecordProject(encoded, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idx.Projects[encoded] = ProjectRef{Path: path, LastSeen: time.Now().UTC()}
}

// RecordSession notes where a session's transcript lives.
func (s *IndexStore) RecordSession(sessionID, projectPath, transcriptPath string, modifiedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idx.Sessions[sessionID] = SessionRef{
		ProjectPath:    projectPath,
		TranscriptPath: transcriptPath,
		ModifiedAt:     modifiedAt,
	}
}

// Lookup returns the recorded transcript location for a session id.
func (s *IndexStore) Lookup(sessionID string) (SessionRef, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref, ok := s.idx.Sessions[sessionID]
	return ref, ok
}

// Flush writes the index atomically.
func (s *IndexStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.idx.Version = sessionsIndexVersion
	s.idx.Updated = time.Now().UTC()

	data, err := json.MarshalIndent(s.idx, "", "  ")
	if err != nil {
		return errs.Wrap(errs.Invariant, "paths.IndexStore.Flush", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errs.Wrap(errs.IO, "paths.IndexStore.Flush", err)
	}
	return WriteFileAtomic(s.path, data)
}

// WriteFileAtomic writes via a temp file in the target directory followed by
// rename, so readers never observe a partial file. It is the shared atomic
// write used by catalog, archive, and index persistence.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return errs.Wrap(errs.IO, "paths.WriteFileAtomic", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errs.Wrap(errs.IO, "paths.WriteFileAtomic", fmt.Errorf("writing %s: %w", path, err))
	}
	if err := tmp.Close(); err != nil {
		return errs.Wrap(errs.IO, "paths.WriteFileAtomic", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return errs.Wrap(errs.IO, "paths.WriteFileAtomic", err)
	}
	committed = true
	return nil
}
