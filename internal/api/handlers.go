package api

import (
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jacquesio/jacques/internal/catalog"
	"github.com/jacquesio/jacques/internal/errs"
	"github.com/jacquesio/jacques/internal/notify"
	"github.com/jacquesio/jacques/internal/paths"
	"github.com/jacquesio/jacques/internal/pipeline"
	"github.com/jacquesio/jacques/internal/plans"
	"github.com/jacquesio/jacques/internal/registry"
	"github.com/jacquesio/jacques/internal/search"
	"github.com/jacquesio/jacques/internal/transcript"
	"github.com/jacquesio/jacques/internal/ws"
)

type sessionList struct {
	Sessions         []*registry.Session `json:"sessions"`
	FocusedSessionID string              `json:"focusedSessionId,omitempty"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	s.respond(w, http.StatusOK, sessionList{
		Sessions:         s.deps.Registry.List(),
		FocusedSessionID: s.deps.Registry.Focused(),
	})
}

// handleSessionRoutes dispatches /api/sessions/{id}[/subagents[/{agentId}]]
// and /api/sessions/{id}/plans/{messageIndex}.
func (s *Server) handleSessionRoutes(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	parts := strings.Split(rest, "/")
	id, err := url.PathUnescape(parts[0])
	if err != nil || id == "" {
		s.notFound(w)
		return
	}

	switch {
	case len(parts) == 1:
		s.sessionDetail(w, id)
	case len(parts) == 2 && parts[1] == "subagents":
		s.sessionSubagents(w, id)
	case len(parts) == 3 && parts[1] == "subagents":
		s.sessionSubagentContent(w, id, parts[2])
	case len(parts) == 3 && parts[1] == "plans":
		s.sessionPlan(w, id, parts[2])
	default:
		s.notFound(w)
	}
}

type sessionDetail struct {
	Session     *registry.Session  `json:"session"`
	Entries     []transcript.Entry `json:"entries"`
	Stats       *transcript.Stats  `json:"stats,omitempty"`
	ParseErrors int                `json:"parseErrors,omitempty"`
}

func (s *Server) sessionDetail(w http.ResponseWriter, id string) {
	sess, ok := s.deps.Registry.Get(id)
	if !ok {
		s.fail(w, errs.Newf(errs.NotFound, "api.sessionDetail", "no session %q", id))
		return
	}

	detail := sessionDetail{Session: sess, Entries: []transcript.Entry{}}
	if sess.TranscriptPath != "" {
		res, err := transcript.ParseFile(sess.TranscriptPath)
		switch {
		case err == nil:
			detail.Entries = res.Entries
			detail.ParseErrors = res.ParseErrors
			st := transcript.Statistics(res.Entries)
			detail.Stats = &st
		case errs.Is(err, errs.IO):
			// The tool can truncate or move its transcript mid-session;
			// the registry metadata stays serviceable on its own.
			s.deps.Registry.NoteStaleTranscript()
			s.log.Debug("transcript unreadable", "session", id, "error", err)
		default:
			s.fail(w, err)
			return
		}
	}
	s.respond(w, http.StatusOK, detail)
}

type subagentInfo struct {
	AgentID       string `json:"agentId"`
	AgentType     string `json:"agentType,omitempty"`
	Description   string `json:"description,omitempty"`
	HasTranscript bool   `json:"hasTranscript"`
}

type subagentList struct {
	Subagents []subagentInfo `json:"subagents"`
}

// subagentDir is where the tool drops per-agent transcripts, next to the
// session's own transcript file.
func subagentDir(sess *registry.Session) string {
	if sess.TranscriptPath == "" {
		return ""
	}
	return filepath.Join(filepath.Dir(sess.TranscriptPath), sess.ID, "subagents")
}

func (s *Server) sessionSubagents(w http.ResponseWriter, id string) {
	sess, ok := s.deps.Registry.Get(id)
	if !ok {
		s.fail(w, errs.Newf(errs.NotFound, "api.sessionSubagents", "no session %q", id))
		return
	}

	list := subagentList{Subagents: []subagentInfo{}}
	seen := map[string]int{}
	if sess.TranscriptPath != "" {
		if res, err := transcript.ParseFile(sess.TranscriptPath); err == nil {
			for _, e := range res.Entries {
				if e.Type != transcript.AgentProgress || e.AgentID == "" {
					continue
				}
				if i, ok := seen[e.AgentID]; ok {
					if list.Subagents[i].Description == "" {
						list.Subagents[i].Description = e.AgentDescription
					}
					continue
				}
				seen[e.AgentID] = len(list.Subagents)
				list.Subagents = append(list.Subagents, subagentInfo{
					AgentID:     e.AgentID,
					AgentType:   e.AgentType,
					Description: e.AgentDescription,
				})
			}
		}
	}

	if dir := subagentDir(sess); dir != "" {
		files, _ := os.ReadDir(dir)
		for _, f := range files {
			name := f.Name()
			if !strings.HasPrefix(name, "agent-") || !strings.HasSuffix(name, ".jsonl") {
				continue
			}
			agentID := strings.TrimSuffix(strings.TrimPrefix(name, "agent-"), ".jsonl")
			if i, ok := seen[agentID]; ok {
				list.Subagents[i].HasTranscript = true
				continue
			}
			seen[agentID] = len(list.Subagents)
			list.Subagents = append(list.Subagents, subagentInfo{AgentID: agentID, HasTranscript: true})
		}
	}
	s.respond(w, http.StatusOK, list)
}

type subagentContent struct {
	AgentID   string `json:"agentId"`
	AgentType string `json:"agentType,omitempty"`
	Content   string `json:"content"`
}

func (s *Server) sessionSubagentContent(w http.ResponseWriter, id, agentID string) {
	const op = "api.sessionSubagentContent"
	sess, ok := s.deps.Registry.Get(id)
	if !ok {
		s.fail(w, errs.Newf(errs.NotFound, op, "no session %q", id))
		return
	}
	if !paths.ValidSessionID(agentID) {
		s.fail(w, errs.Newf(errs.NotFound, op, "no subagent %q", agentID))
		return
	}
	dir := subagentDir(sess)
	if dir == "" {
		s.fail(w, errs.Newf(errs.NotFound, op, "session %q has no transcript", id))
		return
	}

	res, err := transcript.ParseFile(filepath.Join(dir, "agent-"+agentID+".jsonl"))
	if err != nil {
		if errs.Is(err, errs.IO) {
			s.fail(w, errs.Newf(errs.NotFound, op, "no subagent %q", agentID))
			return
		}
		s.fail(w, err)
		return
	}

	agentType := ""
	if main, err := transcript.ParseFile(sess.TranscriptPath); err == nil {
		for _, e := range main.Entries {
			if e.Type == transcript.AgentProgress && e.AgentID == agentID {
				agentType = e.AgentType
				break
			}
		}
	}
	s.respond(w, http.StatusOK, subagentContent{
		AgentID:   agentID,
		AgentType: agentType,
		Content:   catalog.AgentArtifact(agentType, agentID, res.Entries),
	})
}

type planContent struct {
	plans.Reference
	Content string `json:"content"`
}

// sessionPlan serves the content behind one merged plan reference,
// addressed by its messageIndex in the live transcript.
func (s *Server) sessionPlan(w http.ResponseWriter, id, indexStr string) {
	const op = "api.sessionPlan"
	sess, ok := s.deps.Registry.Get(id)
	if !ok {
		s.fail(w, errs.Newf(errs.NotFound, op, "no session %q", id))
		return
	}
	msgIndex, err := strconv.Atoi(indexStr)
	if err != nil || msgIndex < 0 {
		s.fail(w, errs.Newf(errs.Parse, op, "invalid message index %q", indexStr))
		return
	}
	if sess.TranscriptPath == "" {
		s.fail(w, errs.Newf(errs.NotFound, op, "session %q has no transcript", id))
		return
	}
	res, err := transcript.ParseFile(sess.TranscriptPath)
	if err != nil {
		s.fail(w, err)
		return
	}

	refs := plans.Merge(plans.Detect(res.Entries))
	for _, ref := range refs {
		if ref.MessageIndex != msgIndex {
			continue
		}
		content := s.resolvePlanContent(sess, ref)
		if content == "" {
			break
		}
		s.respond(w, http.StatusOK, planContent{Reference: ref, Content: content})
		return
	}
	s.fail(w, errs.Newf(errs.NotFound, op, "no plan at message %d", msgIndex))
}

func (s *Server) resolvePlanContent(sess *registry.Session, ref plans.Reference) string {
	if ref.Content != "" {
		return ref.Content
	}
	if ref.AgentID != "" {
		if dir := subagentDir(sess); dir != "" {
			body, err := plans.FromAgentTranscript(filepath.Join(dir, "agent-"+ref.AgentID+".jsonl"))
			if err == nil && body != "" {
				return body
			}
		}
	}
	if ref.FilePath != "" {
		path := ref.FilePath
		if !filepath.IsAbs(path) && sess.ProjectPath != "" {
			path = filepath.Join(sess.ProjectPath, path)
		}
		if data, err := os.ReadFile(path); err == nil {
			return string(data)
		}
	}
	return ""
}

type manifestList struct {
	Manifests []search.Hit `json:"manifests"`
}

func (s *Server) handleManifestList(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	q, err := parseQuery(r)
	if err != nil {
		s.fail(w, err)
		return
	}

	var hits []search.Hit
	if q.Text != "" {
		hits = s.deps.Archive.Search(q)
	} else {
		hits = s.deps.Archive.Index().List(q)
	}
	if hits == nil {
		hits = []search.Hit{}
	}
	s.respond(w, http.StatusOK, manifestList{Manifests: hits})
}

// parseQuery maps q=&project=&tech=&after=&before=&offset=&limit= onto a
// search query. tech repeats or takes comma lists; times take RFC 3339 or
// plain dates.
func parseQuery(r *http.Request) (search.Query, error) {
	const op = "api.parseQuery"
	values := r.URL.Query()
	q := search.Query{
		Text:      values.Get("q"),
		ProjectID: values.Get("project"),
	}
	for _, raw := range values["tech"] {
		for _, tech := range strings.Split(raw, ",") {
			if tech = strings.TrimSpace(tech); tech != "" {
				q.Technologies = append(q.Technologies, tech)
			}
		}
	}
	var err error
	if q.After, err = parseTimeParam(values.Get("after")); err != nil {
		return q, errs.Newf(errs.Parse, op, "invalid after %q", values.Get("after"))
	}
	if q.Before, err = parseTimeParam(values.Get("before")); err != nil {
		return q, errs.Newf(errs.Parse, op, "invalid before %q", values.Get("before"))
	}
	if q.Offset, err = parseIntParam(values.Get("offset")); err != nil || q.Offset < 0 {
		return q, errs.Newf(errs.Parse, op, "invalid offset %q", values.Get("offset"))
	}
	if q.Limit, err = parseIntParam(values.Get("limit")); err != nil || q.Limit < 0 {
		return q, errs.Newf(errs.Parse, op, "invalid limit %q", values.Get("limit"))
	}
	return q, nil
}

func parseTimeParam(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", v)
}

func parseIntParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

type manifestDetail struct {
	Manifest *catalog.SessionManifest `json:"manifest"`
	Entries  []transcript.Entry       `json:"entries,omitempty"`
}

func (s *Server) handleManifestDetail(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/archive/manifests/")
	if id == "" || strings.Contains(id, "/") {
		s.notFound(w)
		return
	}

	m, err := s.deps.Archive.Manifest(id)
	if err != nil {
		s.fail(w, err)
		return
	}
	detail := manifestDetail{Manifest: m}
	if r.URL.Query().Get("include") == "entries" {
		conv, err := s.deps.Archive.Conversation(id)
		if err == nil {
			detail.Entries = conv.Entries
		} else if !errs.Is(err, errs.NotFound) {
			s.fail(w, err)
			return
		}
	}
	s.respond(w, http.StatusOK, detail)
}

type projectInfo struct {
	ID           string    `json:"id"`
	Path         string    `json:"path"`
	Count        int       `json:"count"`
	LastActivity time.Time `json:"lastActivity"`
}

type projectList struct {
	Projects []projectInfo `json:"projects"`
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	stats := s.deps.Archive.Index().Projects()
	list := projectList{Projects: make([]projectInfo, 0, len(stats))}
	for id, st := range stats {
		list.Projects = append(list.Projects, projectInfo{
			ID:           id,
			Path:         st.Path,
			Count:        st.Count,
			LastActivity: st.LastActivity,
		})
	}
	sort.Slice(list.Projects, func(i, j int) bool {
		return list.Projects[i].ID < list.Projects[j].ID
	})
	s.respond(w, http.StatusOK, list)
}

// handleProjectRoutes dispatches /api/projects/{encoded}/catalog and
// /api/projects/{encoded}/plans/{catalogId}.
func (s *Server) handleProjectRoutes(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/projects/")
	parts := strings.Split(rest, "/")
	encoded, err := url.PathUnescape(parts[0])
	if err != nil || encoded == "" {
		s.notFound(w)
		return
	}

	switch {
	case len(parts) == 2 && parts[1] == "catalog":
		s.projectCatalog(w, encoded)
	case len(parts) == 3 && parts[1] == "plans":
		s.projectPlan(w, encoded, parts[2])
	default:
		s.notFound(w)
	}
}

func (s *Server) decodeProject(encoded string) string {
	var snapshot *paths.SessionsIndex
	if s.deps.Sessions != nil {
		snapshot = s.deps.Sessions.Snapshot()
	}
	return paths.DecodeProjectPath(encoded, snapshot)
}

func (s *Server) projectCatalog(w http.ResponseWriter, encoded string) {
	projectPath := s.decodeProject(encoded)
	indexPath := paths.ProjectIndexFile(projectPath)
	// A missing index reads as empty elsewhere; here it means the project
	// was never cataloged.
	if _, err := os.Stat(indexPath); err != nil {
		s.fail(w, errs.Newf(errs.NotFound, "api.projectCatalog", "no catalog for %q", encoded))
		return
	}
	idx, err := catalog.LoadProjectIndex(indexPath)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, idx)
}

type projectPlanDetail struct {
	Plan    plans.Plan `json:"plan"`
	Content string     `json:"content"`
}

func (s *Server) projectPlan(w http.ResponseWriter, encoded, catalogID string) {
	const op = "api.projectPlan"
	projectPath := s.decodeProject(encoded)
	idx, err := catalog.LoadProjectIndex(paths.ProjectIndexFile(projectPath))
	if err != nil {
		s.fail(w, err)
		return
	}
	for _, p := range idx.Plans {
		if p.ID != catalogID {
			continue
		}
		path := p.Path
		if path == "" || !filepath.IsAbs(path) {
			path = filepath.Join(paths.ProjectPlansDir(projectPath), p.Filename)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			s.fail(w, errs.Wrap(errs.IO, op, err))
			return
		}
		s.respond(w, http.StatusOK, projectPlanDetail{Plan: p, Content: string(data)})
		return
	}
	s.fail(w, errs.Newf(errs.NotFound, op, "no plan %q", catalogID))
}

type archiveCounters struct {
	Manifests int `json:"manifests"`
	Keywords  int `json:"keywords"`
}

type statusResponse struct {
	Version          string            `json:"version"`
	StartedAt        time.Time         `json:"startedAt"`
	UptimeSeconds    int64             `json:"uptimeSeconds"`
	SocketPath       string            `json:"socketPath,omitempty"`
	SessionCount     int               `json:"sessionCount"`
	FocusedSessionID string            `json:"focusedSessionId,omitempty"`
	Pipeline         pipeline.Counters `json:"pipeline"`
	Registry         registry.Counters `json:"registry"`
	WS               ws.Counters       `json:"ws"`
	Notifications    notify.Counters   `json:"notifications"`
	Archive          archiveCounters   `json:"archive"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	resp := statusResponse{
		Version:          s.deps.Version,
		StartedAt:        s.started,
		UptimeSeconds:    int64(time.Since(s.started).Seconds()),
		SocketPath:       s.deps.SocketPath,
		SessionCount:     len(s.deps.Registry.List()),
		FocusedSessionID: s.deps.Registry.Focused(),
		Registry:         s.deps.Registry.Counters(),
	}
	if s.deps.Router != nil {
		resp.Pipeline = s.deps.Router.Counters()
	}
	if s.deps.Hub != nil {
		resp.WS = s.deps.Hub.Counters()
	}
	if s.deps.Notifier != nil {
		resp.Notifications = s.deps.Notifier.Counters()
	}
	resp.Archive.Manifests, resp.Archive.Keywords = s.deps.Archive.Index().Counters()
	s.respond(w, http.StatusOK, resp)
}
