package registry

import (
	"bufio"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/tidwall/gjson"

	"github.com/jacquesio/jacques/internal/gitmeta"
	"github.com/jacquesio/jacques/internal/logging"
	"github.com/jacquesio/jacques/internal/paths"
)

// Discovery registers sessions for AI tool processes that were already
// running when the daemon started. Discovered sessions carry DISCOVERED:*
// terminal keys; the real session_start from a hook later replaces the key
// while keeping the session id and registeredAt.
type Discovery struct {
	reg         *Registry
	projectsDir string
	names       []string
	window      time.Duration
	store       *paths.IndexStore
	log         *slog.Logger
	now         func() time.Time
}

// NewDiscovery scans for processes named in processNames (e.g. claude,
// cursor-agent). store may be nil; when set, discovered transcript locations
// are recorded for path decoding.
func NewDiscovery(reg *Registry, projectsDir string, processNames []string, window time.Duration, store *paths.IndexStore) *Discovery {
	if window <= 0 {
		window = 60 * time.Second
	}
	return &Discovery{
		reg:         reg,
		projectsDir: projectsDir,
		names:       processNames,
		window:      window,
		store:       store,
		log:         logging.Component("discovery"),
		now:         time.Now,
	}
}

// Run enumerates live processes once and registers a session per transcript
// that looks active. Returns the number of sessions registered; process
// enumeration failures abort, per-process failures are skipped.
func (d *Discovery) Run(ctx context.Context) (int, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return 0, err
	}

	transcriptRoot := filepath.Dir(d.projectsDir)
	registered := 0
	for _, p := range procs {
		if ctx.Err() != nil {
			return registered, ctx.Err()
		}
		name, err := p.NameWithContext(ctx)
		if err != nil || !d.matchesName(name) {
			continue
		}
		cwd, err := p.CwdWithContext(ctx)
		if err != nil || cwd == "" {
			continue
		}
		// The tool's own helper processes run inside its data directory.
		if cwd == transcriptRoot || strings.HasPrefix(cwd, transcriptRoot+string(os.PathSeparator)) {
			continue
		}
		registered += d.registerSessions(int(p.Pid), name, cwd)
	}
	d.log.Info("startup discovery done", "processes", len(procs), "sessions", registered)
	return registered, nil
}

func (d *Discovery) matchesName(name string) bool {
	for _, want := range d.names {
		if strings.EqualFold(name, want) {
			return true
		}
	}
	return false
}

func (d *Discovery) registerSessions(pid int, procName, cwd string) int {
	encoded := paths.EncodeProjectPath(cwd)
	dir := filepath.Join(d.projectsDir, encoded)
	files := recentTranscripts(dir, d.now(), d.window)
	if len(files) == 0 {
		return 0
	}
	if d.store != nil {
		d.store.RecordProject(encoded, cwd)
	}

	var workspace string
	if info := gitmeta.Lookup(cwd); info.Branch != "" && !info.Detached {
		workspace = info.Branch
	}

	count := 0
	for _, path := range files {
		sessionID := strings.TrimSuffix(filepath.Base(path), ".jsonl")
		probedID, probedCwd := probeTranscript(path)
		if probedID != "" {
			sessionID = probedID
		}
		projectPath := cwd
		if probedCwd != "" {
			projectPath = probedCwd
		}
		if !paths.ValidSessionID(sessionID) {
			continue
		}
		d.reg.Register(StartEvent{
			SessionID:      sessionID,
			Source:         sourceForProcess(procName),
			TranscriptPath: path,
			ProjectPath:    projectPath,
			Terminal:       &TerminalIdentity{PID: pid},
			Workspace:      workspace,
			PID:            pid,
			Discovered:     true,
		})
		if d.store != nil {
			if info, err := os.Stat(path); err == nil {
				d.store.RecordSession(sessionID, projectPath, path, info.ModTime().UTC())
			}
		}
		count++
	}
	return count
}

// recentTranscripts lists the .jsonl files under dir modified within the
// window, newest first. When nothing is that fresh the single most recent
// transcript is returned, so a quiet-but-live session is still discovered.
func recentTranscripts(dir string, now time.Time, window time.Duration) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	type candidate struct {
		path string
		mod  time.Time
	}
	var all []candidate
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		all = append(all, candidate{filepath.Join(dir, e.Name()), info.ModTime()})
	}
	if len(all) == 0 {
		return nil
	}
	sort.Slice(all, func(i, j int) bool { return all[i].mod.After(all[j].mod) })

	var fresh []string
	for _, c := range all {
		if now.Sub(c.mod) <= window {
			fresh = append(fresh, c.path)
		}
	}
	if len(fresh) > 0 {
		return fresh
	}
	return []string{all[0].path}
}

// probeTranscript pulls sessionId and cwd out of the first few records
// without a full parse.
func probeTranscript(path string) (sessionID, cwd string) {
	f, err := os.Open(path)
	if err != nil {
		return "", ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for lines := 0; lines < 10 && scanner.Scan(); lines++ {
		line := scanner.Bytes()
		if sessionID == "" {
			if v := gjson.GetBytes(line, "sessionId"); v.Exists() {
				sessionID = v.String()
			}
		}
		if cwd == "" {
			if v := gjson.GetBytes(line, "cwd"); v.Exists() {
				cwd = v.String()
			}
		}
		if sessionID != "" && cwd != "" {
			break
		}
	}
	return sessionID, cwd
}

func sourceForProcess(name string) string {
	if strings.Contains(strings.ToLower(name), "cursor") {
		return SourceCursor
	}
	return SourceClaude
}
