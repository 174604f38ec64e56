package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jacquesio/jacques/internal/errs"
	"github.com/jacquesio/jacques/internal/gitmeta"
	"github.com/jacquesio/jacques/internal/logging"
	"github.com/jacquesio/jacques/internal/paths"
	"github.com/jacquesio/jacques/internal/plans"
	"github.com/jacquesio/jacques/internal/transcript"
)

const (
	titleLength    = 80
	questionLength = 200
	snippetLength  = 300
	maxSnippets    = 20
)

// Options controls one extraction run.
type Options struct {
	// Force re-extracts sessions whose manifests are already current.
	Force bool
}

// Result accumulates per-session outcomes. One failed session never aborts
// the project; its error lands in Errors.
type Result struct {
	Extracted int      `json:"extracted"`
	Skipped   int      `json:"skipped"`
	Errors    []string `json:"errors,omitempty"`
}

func (r *Result) merge(other Result) {
	r.Extracted += other.Extracted
	r.Skipped += other.Skipped
	r.Errors = append(r.Errors, other.Errors...)
}

// ProgressFunc observes bulk extraction; completed counts finished projects.
type ProgressFunc func(total, completed int, current string)

// Extractor projects transcript logs into per-project catalogs.
type Extractor struct {
	projectsDir string
	sessions    *paths.IndexStore
	log         *slog.Logger
	now         func() time.Time
}

// NewExtractor builds an extractor over a transcript projects directory.
// store may be nil; when set, discovered project and session locations are
// recorded for path-decoding elsewhere.
func NewExtractor(projectsDir string, store *paths.IndexStore) *Extractor {
	return &Extractor{
		projectsDir: projectsDir,
		sessions:    store,
		log:         logging.Component("catalog"),
		now:         time.Now,
	}
}

// ExtractAll walks every encoded project directory under the transcript
// root. Per-project failures accumulate; only cancellation aborts the walk.
func (e *Extractor) ExtractAll(ctx context.Context, opts Options, progress ProgressFunc) (Result, error) {
	var agg Result
	dirEntries, err := os.ReadDir(e.projectsDir)
	if err != nil {
		return agg, errs.Wrap(errs.IO, "catalog.ExtractAll", err)
	}

	var encoded []string
	for _, d := range dirEntries {
		if d.IsDir() {
			encoded = append(encoded, d.Name())
		}
	}

	for i, enc := range encoded {
		if ctx.Err() != nil {
			return agg, errs.Wrap(errs.Cancelled, "catalog.ExtractAll", ctx.Err())
		}
		var snapshot *paths.SessionsIndex
		if e.sessions != nil {
			snapshot = e.sessions.Snapshot()
		}
		projectPath := paths.DecodeProjectPath(enc, snapshot)
		res, perr := e.ExtractProject(ctx, projectPath, opts)
		agg.merge(res)
		if perr != nil {
			if errs.KindOf(perr) == errs.Cancelled {
				return agg, perr
			}
			agg.Errors = append(agg.Errors, fmt.Sprintf("%s: %v", projectPath, perr))
			e.log.Warn("project extraction failed", "project", projectPath, "error", perr)
		}
		if progress != nil {
			progress(len(encoded), i+1, projectPath)
		}
	}
	e.log.Info("bulk extraction done",
		"projects", len(encoded), "extracted", agg.Extracted,
		"skipped", agg.Skipped, "errors", len(agg.Errors))
	return agg, nil
}

// ExtractProject runs the per-session pipeline for every transcript of one
// project, then persists the updated project index.
func (e *Extractor) ExtractProject(ctx context.Context, projectPath string, opts Options) (Result, error) {
	var res Result
	if _, err := os.Stat(projectPath); err != nil {
		return res, errs.Wrap(errs.NotFound, "catalog.ExtractProject", err)
	}

	enc := paths.EncodeProjectPath(projectPath)
	srcDir := filepath.Join(e.projectsDir, enc)
	files, err := os.ReadDir(srcDir)
	if err != nil {
		return res, errs.Wrap(errs.IO, "catalog.ExtractProject", err)
	}
	if e.sessions != nil {
		e.sessions.RecordProject(enc, projectPath)
	}

	lock, err := acquireLock(paths.ProjectCatalogDir(projectPath))
	if err != nil {
		return res, err
	}
	defer lock.release()

	idx, err := LoadProjectIndex(paths.ProjectIndexFile(projectPath))
	if err != nil {
		return res, err
	}
	planCatalog := plans.NewCatalog(paths.ProjectPlansDir(projectPath), idx.Plans)

	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".jsonl") {
			continue
		}
		if ctx.Err() != nil {
			return res, errs.Wrap(errs.Cancelled, "catalog.ExtractProject", ctx.Err())
		}
		sessionID := strings.TrimSuffix(f.Name(), ".jsonl")
		if !paths.ValidSessionID(sessionID) {
			continue
		}

		manifest, extracted, serr := e.extractSession(projectPath, srcDir, sessionID, planCatalog, idx, opts)
		switch {
		case serr != nil:
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", sessionID, serr))
			e.log.Warn("session extraction failed", "session", sessionID, "error", serr)
		case extracted:
			res.Extracted++
			upsertSessionRef(idx, manifest)
		default:
			res.Skipped++
		}
		if e.sessions != nil && serr == nil {
			e.sessions.RecordSession(sessionID, projectPath,
				filepath.Join(srcDir, f.Name()), manifest.JSONLModifiedAt)
		}
	}

	idx.Plans = planCatalog.Plans()
	idx.Context = scanContextDir(paths.ProjectContextDir(projectPath), idx.Context)
	if err := SaveProjectIndex(paths.ProjectIndexFile(projectPath), idx); err != nil {
		return res, err
	}
	return res, nil
}

// scanContextDir refreshes the index's listing of externally imported context
// files. Source annotations are owned by whoever imported the file, so
// entries that survive the rescan keep theirs; a scan failure other than a
// missing directory leaves the previous listing untouched.
func scanContextDir(dir string, prev []ContextRef) []ContextRef {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return prev
	}

	sources := make(map[string]string, len(prev))
	for _, ref := range prev {
		if ref.Source != "" {
			sources[ref.Path] = ref.Source
		}
	}

	var refs []ContextRef
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, ierr := e.Info()
		if ierr != nil {
			continue
		}
		refs = append(refs, ContextRef{
			Path:    e.Name(),
			Source:  sources[e.Name()],
			AddedAt: info.ModTime().UTC(),
		})
	}
	return refs
}

type agentMeta struct {
	Type        string
	Description string
}

func (e *Extractor) extractSession(projectPath, srcDir, sessionID string, planCatalog *plans.Catalog, idx *ProjectIndex, opts Options) (*SessionManifest, bool, error) {
	srcPath := filepath.Join(srcDir, sessionID+".jsonl")
	info, err := os.Stat(srcPath)
	if err != nil {
		return nil, false, errs.Wrap(errs.IO, "catalog.extractSession", err)
	}
	jsonlMod := info.ModTime().UTC()

	manifestPath := paths.ManifestFile(projectPath, sessionID)
	if !opts.Force {
		if existing, lerr := LoadManifest(manifestPath); lerr == nil && !existing.JSONLModifiedAt.Before(jsonlMod) {
			return existing, false, nil
		}
	}

	parsed, err := transcript.ParseFile(srcPath)
	if err != nil {
		return nil, false, err
	}
	entries := parsed.Entries
	stats := transcript.Statistics(entries)

	agents := collectAgentMeta(entries)
	subagentDir := filepath.Join(srcDir, sessionID, "subagents")
	subagentIDs, err := e.writeSubagentArtifacts(projectPath, subagentDir, sessionID, agents, idx)
	if err != nil {
		return nil, false, err
	}

	refs := plans.Merge(plans.Detect(entries))
	for i := range refs {
		if refs[i].Content != "" || refs[i].AgentID == "" {
			continue
		}
		agentFile := filepath.Join(subagentDir, "agent-"+refs[i].AgentID+".jsonl")
		body, aerr := plans.FromAgentTranscript(agentFile)
		if aerr != nil || body == "" {
			continue
		}
		refs[i].Content = body
		if refs[i].Source == plans.SourceAgent {
			refs[i].Title = plans.ExtractTitle(body)
		}
	}
	for i := range refs {
		if refs[i].Content == "" {
			continue
		}
		p, _, aerr := planCatalog.Add(refs[i].Content, refs[i].Title, sessionID)
		if aerr != nil {
			return nil, false, aerr
		}
		refs[i].CatalogID = p.ID
	}

	m := &SessionManifest{
		SessionID:       sessionID,
		ProjectPath:     projectPath,
		Title:           sessionTitle(entries, sessionID),
		StartedAt:       stats.FirstTimestamp,
		EndedAt:         stats.LastTimestamp,
		JSONLModifiedAt: jsonlMod,
		MessageCount:    stats.MessageCount,
		ToolCallCount:   stats.ToolCallCount,
		HasSubagents:    len(subagentIDs) > 0,
		SubagentIDs:     subagentIDs,
		HadAutoCompact:  stats.HadAutoCompact,
		Tokens: TokenTotals{
			Input:         stats.TotalInputTokens,
			Output:        stats.TotalOutputTokensEstimated,
			CacheCreation: stats.TotalCacheCreation,
			CacheRead:     stats.TotalCacheRead,
		},
		Mode:            sessionMode(entries),
		PlanCount:       len(refs),
		PlanRefs:        refs,
		Technologies:    Technologies(entries),
		UserQuestions:   userQuestions(entries),
		FilesModified:   filesModified(entries),
		ToolsUsed:       stats.ToolsUsed,
		ContextSnippets: contextSnippets(entries),
	}
	if info := gitmeta.Lookup(projectPath); info.Branch != "" && !info.Detached {
		m.GitBranch = info.Branch
	}

	if err := SaveManifest(manifestPath, m); err != nil {
		return nil, false, err
	}
	return m, true, nil
}

func (e *Extractor) writeSubagentArtifacts(projectPath, subagentDir, sessionID string, agents map[string]agentMeta, idx *ProjectIndex) ([]string, error) {
	files, err := os.ReadDir(subagentDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.IO, "catalog.writeSubagentArtifacts", err)
	}

	outDir := paths.ProjectSubagentsDir(projectPath)
	var ids []string
	for _, f := range files {
		name := f.Name()
		if f.IsDir() || !strings.HasPrefix(name, "agent-") || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		agentID := strings.TrimSuffix(strings.TrimPrefix(name, "agent-"), ".jsonl")
		if agentID == "" {
			continue
		}
		parsed, perr := transcript.ParseFile(filepath.Join(subagentDir, name))
		if perr != nil {
			return ids, perr
		}
		meta := agents[agentID]
		artifact := AgentArtifact(meta.Type, agentID, parsed.Entries)
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return ids, errs.Wrap(errs.IO, "catalog.writeSubagentArtifacts", err)
		}
		if err := paths.WriteFileAtomic(filepath.Join(outDir, agentID+".md"), []byte(artifact)); err != nil {
			return ids, errs.Wrap(errs.IO, "catalog.writeSubagentArtifacts", err)
		}
		ids = append(ids, agentID)
		upsertSubagentRef(idx, SubagentRef{
			AgentID:   agentID,
			AgentType: meta.Type,
			SessionID: sessionID,
			Path:      "subagents/" + agentID + ".md",
		})
	}
	return ids, nil
}

func collectAgentMeta(entries []transcript.Entry) map[string]agentMeta {
	agents := make(map[string]agentMeta)
	for _, e := range entries {
		if e.Type != transcript.AgentProgress || e.AgentID == "" {
			continue
		}
		cur, ok := agents[e.AgentID]
		if !ok {
			agents[e.AgentID] = agentMeta{Type: e.AgentType, Description: e.AgentDescription}
			continue
		}
		if cur.Type == "" && e.AgentType != "" {
			cur.Type = e.AgentType
			agents[e.AgentID] = cur
		}
	}
	return agents
}

func sessionTitle(entries []transcript.Entry, sessionID string) string {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Type == transcript.Summary && entries[i].Summary != "" {
			return truncate(entries[i].Summary, titleLength)
		}
	}
	for _, e := range entries {
		if e.Type == transcript.UserMessage && !e.IsInternal && strings.TrimSpace(e.Text) != "" {
			return truncate(e.Text, titleLength)
		}
	}
	if len(sessionID) > 8 {
		return "Session " + sessionID[:8]
	}
	return "Session " + sessionID
}

// sessionMode: planning beats execution; execution only when the first real
// user message carries a plan trigger.
func sessionMode(entries []transcript.Entry) string {
	for _, e := range entries {
		if e.Type == transcript.ToolCall && e.ToolName == "EnterPlanMode" {
			return "planning"
		}
	}
	for _, e := range entries {
		if e.Type == transcript.UserMessage && !e.IsInternal {
			if plans.HasTrigger(e.Text) {
				return "execution"
			}
			break
		}
	}
	return ""
}

func userQuestions(entries []transcript.Entry) []string {
	var out []string
	for _, e := range entries {
		if e.Type == transcript.UserMessage && !e.IsInternal && strings.TrimSpace(e.Text) != "" {
			out = append(out, truncate(e.Text, questionLength))
		}
	}
	return out
}

func contextSnippets(entries []transcript.Entry) []string {
	var out []string
	for _, e := range entries {
		if e.Type != transcript.AssistantMessage || strings.TrimSpace(e.Text) == "" {
			continue
		}
		out = append(out, truncate(e.Text, snippetLength))
		if len(out) == maxSnippets {
			break
		}
	}
	return out
}

func filesModified(entries []transcript.Entry) []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range entries {
		if e.Type != transcript.ToolCall {
			continue
		}
		if e.ToolName != "Write" && e.ToolName != "Edit" {
			continue
		}
		if p := toolFilePath(e); p != "" && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

func toolFilePath(e transcript.Entry) string {
	if len(e.ToolInput) == 0 {
		return ""
	}
	var input struct {
		FilePath string `json:"file_path"`
	}
	if json.Unmarshal(e.ToolInput, &input) != nil {
		return ""
	}
	return input.FilePath
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "…"
}

func upsertSessionRef(idx *ProjectIndex, m *SessionManifest) {
	ref := SessionRef{
		SessionID:    m.SessionID,
		Path:         "sessions/" + m.SessionID + ".json",
		Title:        m.Title,
		EndedAt:      m.EndedAt,
		MessageCount: m.MessageCount,
		PlanCount:    m.PlanCount,
	}
	for i := range idx.Sessions {
		if idx.Sessions[i].SessionID == m.SessionID {
			idx.Sessions[i] = ref
			return
		}
	}
	idx.Sessions = append(idx.Sessions, ref)
}

func upsertSubagentRef(idx *ProjectIndex, ref SubagentRef) {
	for i := range idx.Subagents {
		if idx.Subagents[i].AgentID == ref.AgentID {
			idx.Subagents[i] = ref
			return
		}
	}
	idx.Subagents = append(idx.Subagents, ref)
}
