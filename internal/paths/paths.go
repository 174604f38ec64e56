// Package paths centralizes the on-disk layout: the jacques home directory,
// the transcript tree written by the AI tool, per-project catalog
// directories, and the encoding between project paths and transcript
// directory names.
package paths

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	// AppDirName is the dot-directory used both under the user home and
	// under each project root.
	AppDirName = ".jacques"

	// DefaultSocketPath is the hook-event socket. Overridable in the server
	// config for tests.
	DefaultSocketPath = "/tmp/jacques.sock"

	// HomeEnvVar relocates the jacques home directory.
	HomeEnvVar = "JACQUES_DIR"

	// TranscriptRootEnvVar relocates the AI tool's data directory.
	TranscriptRootEnvVar = "JACQUES_CLAUDE_DIR"
)

// Home returns the jacques home directory (~/.jacques), honoring
// JACQUES_DIR.
func Home() (string, error) {
	if dir := os.Getenv(HomeEnvVar); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, AppDirName), nil
}

// TranscriptRoot returns the AI tool's data directory (~/.claude by
// default), honoring JACQUES_CLAUDE_DIR.
func TranscriptRoot() (string, error) {
	if dir := os.Getenv(TranscriptRootEnvVar); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".claude"), nil
}

// Jacques home layout.

func ConfigFile(home string) string { return filepath.Join(home, "config.json") }
func PIDFile(home string) string    { return filepath.Join(home, "server.pid") }
func CacheDir(home string) string   { return filepath.Join(home, "cache") }
func ArchiveDir(home string) string { return filepath.Join(home, "archive") }

func SessionsIndexFile(home string) string {
	return filepath.Join(CacheDir(home), "sessions-index.json")
}

func ArchiveIndexFile(home string) string {
	return filepath.Join(ArchiveDir(home), "index.json")
}

func ArchiveManifestsDir(home string) string {
	return filepath.Join(ArchiveDir(home), "manifests")
}

func ArchiveConversationsDir(home string) string {
	return filepath.Join(ArchiveDir(home), "conversations")
}

func ArchivePlansDir(home string) string {
	return filepath.Join(ArchiveDir(home), "plans")
}

func ArchiveSubagentsDir(home string) string {
	return filepath.Join(ArchiveDir(home), "subagents")
}

// Transcript tree layout.

// ProjectsDir is where the AI tool keeps per-project transcript
// directories.
func ProjectsDir(transcriptRoot string) string {
	return filepath.Join(transcriptRoot, "projects")
}

// TranscriptFile is the main transcript log for a session.
func TranscriptFile(projectsDir, encoded, sessionID string) string {
	return filepath.Join(projectsDir, encoded, sessionID+".jsonl")
}

// SubagentsDir holds agent-<id>.jsonl transcripts spawned by a session.
func SubagentsDir(projectsDir, encoded, sessionID string) string {
	return filepath.Join(projectsDir, encoded, sessionID, "subagents")
}

// SettingsFile is the AI tool's own settings file (read, and rewritten only
// by RecordAutoCompactToggle).
func SettingsFile(transcriptRoot string) string {
	return filepath.Join(transcriptRoot, "settings.json")
}

// Per-project catalog layout.

func ProjectCatalogDir(projectPath string) string {
	return filepath.Join(projectPath, AppDirName)
}

func ProjectIndexFile(projectPath string) string {
	return filepath.Join(ProjectCatalogDir(projectPath), "index.json")
}

func ProjectSessionsDir(projectPath string) string {
	return filepath.Join(ProjectCatalogDir(projectPath), "sessions")
}

func ProjectPlansDir(projectPath string) string {
	return filepath.Join(ProjectCatalogDir(projectPath), "plans")
}

func ProjectSubagentsDir(projectPath string) string {
	return filepath.Join(ProjectCatalogDir(projectPath), "subagents")
}

func ProjectHandoffsDir(projectPath string) string {
	return filepath.Join(ProjectCatalogDir(projectPath), "handoffs")
}

func ProjectContextDir(projectPath string) string {
	return filepath.Join(ProjectCatalogDir(projectPath), "context")
}

func ManifestFile(projectPath, sessionID string) string {
	return filepath.Join(ProjectSessionsDir(projectPath), sessionID+".json")
}

// ProjectSlug is the human-readable short name for a project.
func ProjectSlug(projectPath string) string {
	return filepath.Base(filepath.Clean(projectPath))
}

var sessionIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidSessionID guards file lookups built from client-supplied ids against
// path traversal. Transcript basenames and UUIDs both pass.
func ValidSessionID(id string) bool {
	return id != "" && len(id) <= 128 && sessionIDPattern.MatchString(id)
}

// EncodeProjectPath converts an absolute project path to the transcript
// directory name: every / becomes -, including the leading one, so /a/b
// encodes to -a-b.
func EncodeProjectPath(path string) string {
	clean := filepath.Clean(path)
	return strings.ReplaceAll(clean, "/", "-")
}

// DecodeProjectPath reverses EncodeProjectPath. Dashes that were literal in
// the original path make the encoding ambiguous, so resolution goes: the
// sessions-index cache, then candidate paths checked against the
// filesystem (all-dash split first, then progressively keeping right-hand
// dashes literal), then a best-effort string fallback. idx may be nil.
func DecodeProjectPath(encoded string, idx *SessionsIndex) string {
	if idx != nil {
		if p, ok := idx.ProjectPath(encoded); ok {
			return p
		}
	}

	if !strings.HasPrefix(encoded, "-") {
		// Relative encodings do not occur in practice; return as-is.
		return encoded
	}

	if candidate := strings.ReplaceAll(encoded, "-", "/"); statDir(candidate) {
		return candidate
	}

	// Treat the rightmost segments as literal dashes, moving the boundary
	// left until a real directory matches.
	parts := strings.Split(encoded[1:], "-")
	for keep := len(parts) - 1; keep > 0; keep-- {
		candidate := "/" + strings.Join(parts[:keep], "/")
		if keep < len(parts) {
			candidate += "/" + strings.Join(parts[keep:], "-")
		}
		if statDir(candidate) {
			return candidate
		}
	}

	return strings.ReplaceAll(encoded, "-", "/")
}

func statDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
