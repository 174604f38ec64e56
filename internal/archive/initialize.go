package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jacquesio/jacques/internal/catalog"
	"github.com/jacquesio/jacques/internal/errs"
	"github.com/jacquesio/jacques/internal/paths"
	"github.com/jacquesio/jacques/internal/transcript"
)

// Initialize runs the full pipeline: extract every project catalog, copy the
// results into the archive, index them, and persist the keyword index. Three
// phases stream through progress: extract, archive, index. Per-session
// failures accumulate in the stats; only cancellation or a broken archive
// root aborts the run.
func (s *Store) Initialize(ctx context.Context, force bool, progress ProgressFunc) (InitStats, error) {
	var stats InitStats
	emit := func(p Progress) {
		if progress != nil {
			progress(p)
		}
	}

	ex := catalog.NewExtractor(s.projectsDir, s.sessions)
	res, err := ex.ExtractAll(ctx, catalog.Options{Force: force}, func(total, completed int, current string) {
		emit(Progress{Phase: "extract", Total: total, Completed: completed, Current: current})
	})
	stats.Extracted = res.Extracted
	stats.Skipped = res.Skipped
	stats.Errors = append(stats.Errors, res.Errors...)
	if err != nil {
		return stats, err
	}

	dirEntries, err := os.ReadDir(s.projectsDir)
	if err != nil {
		return stats, errs.Wrap(errs.IO, "archive.Initialize", err)
	}
	var encoded []string
	for _, d := range dirEntries {
		if d.IsDir() {
			encoded = append(encoded, d.Name())
		}
	}
	for i, enc := range encoded {
		if ctx.Err() != nil {
			return stats, errs.Wrap(errs.Cancelled, "archive.Initialize", ctx.Err())
		}
		var snapshot *paths.SessionsIndex
		if s.sessions != nil {
			snapshot = s.sessions.Snapshot()
		}
		projectPath := paths.DecodeProjectPath(enc, snapshot)
		if aerr := s.archiveProject(ctx, enc, projectPath, &stats); aerr != nil {
			if errs.KindOf(aerr) == errs.Cancelled {
				return stats, aerr
			}
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", projectPath, aerr))
			s.log.Warn("project archive failed", "project", projectPath, "error", aerr)
		}
		emit(Progress{Phase: "archive", Total: len(encoded), Completed: i + 1, Current: projectPath})
	}

	emit(Progress{Phase: "index", Total: 1, Completed: 0, Current: "index.json"})
	if err := s.index.Save(); err != nil {
		return stats, err
	}
	emit(Progress{Phase: "index", Total: 1, Completed: 1, Current: "index.json"})

	s.log.Info("archive initialized",
		"extracted", stats.Extracted, "skipped", stats.Skipped,
		"archived", stats.Archived, "errors", len(stats.Errors))
	return stats, nil
}

func (s *Store) archiveProject(ctx context.Context, enc, projectPath string, stats *InitStats) error {
	idx, err := catalog.LoadProjectIndex(paths.ProjectIndexFile(projectPath))
	if err != nil {
		return err
	}
	slug := paths.ProjectSlug(projectPath)

	for _, ref := range idx.Sessions {
		if ctx.Err() != nil {
			return errs.Wrap(errs.Cancelled, "archive.archiveProject", ctx.Err())
		}
		if err := s.archiveSession(enc, projectPath, slug, ref.SessionID); err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", ref.SessionID, err))
			continue
		}
		stats.Archived++
		stats.Indexed++
	}

	if err := s.archivePlans(projectPath, slug); err != nil {
		stats.Errors = append(stats.Errors, fmt.Sprintf("%s plans: %v", slug, err))
	}
	if err := s.archiveSubagents(projectPath, idx); err != nil {
		stats.Errors = append(stats.Errors, fmt.Sprintf("%s subagents: %v", slug, err))
	}
	return nil
}

func (s *Store) archiveSession(enc, projectPath, slug, sessionID string) error {
	data, err := os.ReadFile(paths.ManifestFile(projectPath, sessionID))
	if err != nil {
		return errs.Wrap(errs.IO, "archive.archiveSession", err)
	}
	var m catalog.SessionManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return errs.Wrap(errs.Parse, "archive.archiveSession", err)
	}

	if err := os.MkdirAll(paths.ArchiveManifestsDir(s.home), 0o755); err != nil {
		return errs.Wrap(errs.IO, "archive.archiveSession", err)
	}
	if err := paths.WriteFileAtomic(s.manifestPath(sessionID), data); err != nil {
		return errs.Wrap(errs.IO, "archive.archiveSession", err)
	}

	// The source transcript can be gone by now; the manifest copy alone is
	// still worth keeping.
	if parsed, perr := transcript.ParseFile(paths.TranscriptFile(s.projectsDir, enc, sessionID)); perr == nil {
		conv := Conversation{
			SessionID:   sessionID,
			ProjectPath: m.ProjectPath,
			Title:       m.Title,
			StartedAt:   m.StartedAt,
			EndedAt:     m.EndedAt,
			Entries:     parsed.Entries,
		}
		b, err := json.MarshalIndent(conv, "", "  ")
		if err != nil {
			return errs.Wrap(errs.IO, "archive.archiveSession", err)
		}
		dir := filepath.Join(paths.ArchiveConversationsDir(s.home), slug)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errs.Wrap(errs.IO, "archive.archiveSession", err)
		}
		if err := paths.WriteFileAtomic(s.conversationPath(slug, sessionID), append(b, '\n')); err != nil {
			return errs.Wrap(errs.IO, "archive.archiveSession", err)
		}
	} else {
		s.log.Debug("conversation source missing", "session", sessionID, "error", perr)
	}

	s.index.Add(sessionID, enc, &m)
	return nil
}

func (s *Store) archivePlans(projectPath, slug string) error {
	srcDir := paths.ProjectPlansDir(projectPath)
	files, err := os.ReadDir(srcDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errs.Wrap(errs.IO, "archive.archivePlans", err)
	}
	dstDir := filepath.Join(paths.ArchivePlansDir(s.home), slug)
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".md") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(srcDir, f.Name()))
		if err != nil {
			return errs.Wrap(errs.IO, "archive.archivePlans", err)
		}
		if err := os.MkdirAll(dstDir, 0o755); err != nil {
			return errs.Wrap(errs.IO, "archive.archivePlans", err)
		}
		if err := paths.WriteFileAtomic(filepath.Join(dstDir, f.Name()), data); err != nil {
			return errs.Wrap(errs.IO, "archive.archivePlans", err)
		}
	}
	return nil
}

func (s *Store) archiveSubagents(projectPath string, idx *catalog.ProjectIndex) error {
	for _, ref := range idx.Subagents {
		content, err := os.ReadFile(filepath.Join(paths.ProjectSubagentsDir(projectPath), ref.AgentID+".md"))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return errs.Wrap(errs.IO, "archive.archiveSubagents", err)
		}
		rec := SubagentRecord{
			AgentID:     ref.AgentID,
			AgentType:   ref.AgentType,
			SessionID:   ref.SessionID,
			ProjectPath: projectPath,
			Content:     string(content),
			ArchivedAt:  s.now().UTC(),
		}
		b, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return errs.Wrap(errs.IO, "archive.archiveSubagents", err)
		}
		if err := os.MkdirAll(paths.ArchiveSubagentsDir(s.home), 0o755); err != nil {
			return errs.Wrap(errs.IO, "archive.archiveSubagents", err)
		}
		if err := paths.WriteFileAtomic(s.subagentPath(ref.AgentID), append(b, '\n')); err != nil {
			return errs.Wrap(errs.IO, "archive.archiveSubagents", err)
		}
	}
	return nil
}

// Reindex rebuilds the keyword index from the archived manifests alone,
// without touching project catalogs or transcripts.
func (s *Store) Reindex(ctx context.Context, progress ProgressFunc) (InitStats, error) {
	var stats InitStats
	emit := func(p Progress) {
		if progress != nil {
			progress(p)
		}
	}

	files, err := os.ReadDir(paths.ArchiveManifestsDir(s.home))
	if err != nil && !os.IsNotExist(err) {
		return stats, errs.Wrap(errs.IO, "archive.Reindex", err)
	}
	var names []string
	for _, f := range files {
		if !f.IsDir() && strings.HasSuffix(f.Name(), ".json") {
			names = append(names, f.Name())
		}
	}

	s.index.Reset()
	for i, name := range names {
		if ctx.Err() != nil {
			return stats, errs.Wrap(errs.Cancelled, "archive.Reindex", ctx.Err())
		}
		sessionID := strings.TrimSuffix(name, ".json")
		data, err := os.ReadFile(filepath.Join(paths.ArchiveManifestsDir(s.home), name))
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", sessionID, err))
			continue
		}
		var m catalog.SessionManifest
		if err := json.Unmarshal(data, &m); err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", sessionID, err))
			continue
		}
		s.index.Add(sessionID, paths.EncodeProjectPath(m.ProjectPath), &m)
		stats.Indexed++
		emit(Progress{Phase: "reindex", Total: len(names), Completed: i + 1, Current: sessionID})
	}

	if err := s.index.Save(); err != nil {
		return stats, err
	}
	s.log.Info("reindex done", "manifests", stats.Indexed, "errors", len(stats.Errors))
	return stats, nil
}
