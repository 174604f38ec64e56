// Package mock drives demo mode. A Generator scripts a handful of fictional
// coding sessions and feeds their lifecycle through the real event router as
// wire-format JSON lines, so everything downstream (registry, notifications,
// websocket fan-out) behaves exactly as it does with live hooks.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/jacquesio/jacques/internal/logging"
	"github.com/jacquesio/jacques/internal/pipeline"
)

// demoSession is one scripted persona. Personas cycle forever: start,
// activity with context growth, sometimes an idle stretch, end, respawn
// under a fresh session id.
type demoSession struct {
	id             string
	slug           string
	title          string
	source         string
	model          string
	pattern        string
	tokensPerTick  int
	windowSize     int
	endTick        int // ticks from spawn to session_end (0 = never ends)
	tools          []string
	toolIdx        int
	inputTokens    int
	spawnedAt      int
	endedAt        int
	stalled        bool
	projectPath    string
	transcriptPath string
}

const respawnDelay = 24 // ticks between session_end and the next spawn

// Generator emits synthetic hook events on a fixed tick.
type Generator struct {
	router   *pipeline.Router
	root     string
	interval time.Duration
	sessions []*demoSession
	log      *slog.Logger
}

// NewGenerator returns a generator that routes events into router. Demo
// project directories and transcripts are created under root, so handoff
// watchers and the session detail endpoint work against real files.
func NewGenerator(router *pipeline.Router, root string) *Generator {
	return &Generator{
		router:   router,
		root:     root,
		interval: 500 * time.Millisecond,
		log:      logging.Component("mock"),
	}
}

// Start seeds the personas, emits their session_start events, and begins the
// tick loop in the background.
func (g *Generator) Start(ctx context.Context) {
	g.sessions = []*demoSession{
		{
			slug: "webapp", title: "refactor auth middleware",
			source: "claude", model: "claude-opus-4-5",
			pattern: "steady", tokensPerTick: 1400, windowSize: 200000, endTick: 150,
			tools: []string{"Read", "Grep", "Edit", "Write", "Bash"},
		},
		{
			slug: "api-server", title: "fix flaky integration tests",
			source: "claude", model: "claude-sonnet-4-5",
			pattern: "burst", tokensPerTick: 2600, windowSize: 200000, endTick: 120,
			tools: []string{"Read", "Write", "Bash", "Bash", "Write"},
		},
		{
			slug: "cli-tools", title: "debug config loader",
			source: "cursor-agent", model: "claude-sonnet-4-5",
			pattern: "stall", tokensPerTick: 900, windowSize: 200000, endTick: 0,
			tools: []string{"Read", "Grep", "Grep", "Bash"},
		},
		{
			slug: "analytics", title: "analyze query planner",
			source: "claude", model: "gemini-2.5-pro",
			pattern: "longrun", tokensPerTick: 1100, windowSize: 1048576, endTick: 0,
			tools: []string{"Read", "Read", "Grep", "Bash", "Read"},
		},
	}

	for _, ds := range g.sessions {
		g.spawn(ds, 0)
	}
	go g.run(ctx)
}

func (g *Generator) run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick++
			for _, ds := range g.sessions {
				g.advance(ds, tick)
			}
		}
	}
}

// spawn assigns a fresh session id, lays down the demo workspace, and emits
// session_start.
func (g *Generator) spawn(ds *demoSession, tick int) {
	ds.id = uuid.NewString()
	ds.inputTokens = 0
	ds.toolIdx = 0
	ds.spawnedAt = tick
	ds.endedAt = 0
	ds.stalled = false

	ds.projectPath = filepath.Join(g.root, "projects", ds.slug)
	if err := os.MkdirAll(ds.projectPath, 0o755); err != nil {
		g.log.Warn("demo project dir failed", "path", ds.projectPath, "error", err)
		ds.projectPath = ""
	}
	ds.transcriptPath = g.writeTranscript(ds)

	g.emit(startLine{
		Event:          pipeline.EventSessionStart,
		SessionID:      ds.id,
		Source:         ds.source,
		TranscriptPath: ds.transcriptPath,
		Cwd:            ds.projectPath,
		Model:          ds.model,
		Title:          ds.title,
		PID:            os.Getpid(),
	})
}

func (g *Generator) advance(ds *demoSession, tick int) {
	if ds.endedAt > 0 {
		if tick-ds.endedAt >= respawnDelay {
			g.spawn(ds, tick)
		}
		return
	}

	age := tick - ds.spawnedAt
	if ds.endTick > 0 && age >= ds.endTick {
		g.emit(eventLine{Event: pipeline.EventSessionEnd, SessionID: ds.id})
		ds.endedAt = tick
		return
	}

	switch ds.pattern {
	case "steady":
		g.advanceSteady(ds, age)
	case "burst":
		g.advanceBurst(ds, age)
	case "stall":
		g.advanceStall(ds, age)
	case "longrun":
		g.advanceLongrun(ds, age)
	}
}

// advanceSteady grows context at a constant rate. The webapp persona crosses
// the autocompact warning threshold late in its run, which exercises the
// notification path end to end.
func (g *Generator) advanceSteady(ds *demoSession, age int) {
	ds.inputTokens += ds.tokensPerTick + rand.Intn(400) - 200
	if age%3 == 0 {
		g.emitTool(ds)
	}
	if age%4 == 0 {
		g.emitContext(ds)
	}
}

// advanceBurst alternates short tool storms with quiet thinking, finishing
// each storm with an operation_complete.
func (g *Generator) advanceBurst(ds *demoSession, age int) {
	phase := age % 8
	if phase < 3 {
		ds.inputTokens += ds.tokensPerTick*2 + rand.Intn(500)
		g.emitTool(ds)
		if phase == 2 {
			g.emit(operationLine{
				Event:       pipeline.EventOperationComplete,
				SessionID:   ds.id,
				TotalTokens: ds.inputTokens,
			})
		}
	} else {
		ds.inputTokens += ds.tokensPerTick / 2
	}
	if age%4 == 0 {
		g.emitContext(ds)
	}
}

// advanceStall works for 40 ticks then goes quiet for 30, emitting a single
// idle event at the boundary so the registry flips the session to idle.
func (g *Generator) advanceStall(ds *demoSession, age int) {
	const cyclePeriod = 70
	phase := age % cyclePeriod

	if phase >= 40 {
		if !ds.stalled {
			g.emit(eventLine{Event: pipeline.EventIdle, SessionID: ds.id})
			ds.stalled = true
		}
		return
	}
	ds.stalled = false

	ds.inputTokens += ds.tokensPerTick + rand.Intn(200)
	if age%4 == 0 {
		g.emitTool(ds)
	}
	if age%5 == 0 {
		g.emitContext(ds)
	}
}

// advanceLongrun is the slow reader on a huge window: sinusoidal pace, never
// ends, never gets near the warning thresholds.
func (g *Generator) advanceLongrun(ds *demoSession, age int) {
	pace := 0.7 + 0.3*math.Sin(float64(age)/10.0)
	ds.inputTokens += int(float64(ds.tokensPerTick) * pace)
	if age%2 == 0 {
		g.emitTool(ds)
	}
	if age%6 == 0 {
		g.emitContext(ds)
	}
}

func (g *Generator) emitTool(ds *demoSession) {
	tool := ds.tools[ds.toolIdx%len(ds.tools)]
	ds.toolIdx++
	g.emit(activityLine{Event: pipeline.EventActivity, SessionID: ds.id, Tool: tool})
}

func (g *Generator) emitContext(ds *demoSession) {
	usedPct := float64(ds.inputTokens) / float64(ds.windowSize) * 100
	if usedPct > 100 {
		usedPct = 100
	}
	g.emit(contextLine{
		Event:       pipeline.EventContextUpdate,
		SessionID:   ds.id,
		UsedPct:     math.Round(usedPct*10) / 10,
		InputTokens: ds.inputTokens,
		WindowSize:  ds.windowSize,
		Model:       ds.model,
	})
}

func (g *Generator) emit(v any) {
	line, err := json.Marshal(v)
	if err != nil {
		return
	}
	g.router.Route(line)
}

// writeTranscript lays down a minimal transcript so the session detail
// endpoint has entries to show. Failure degrades to a metadata-only session.
func (g *Generator) writeTranscript(ds *demoSession) string {
	dir := filepath.Join(g.root, "transcripts")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		g.log.Warn("demo transcript dir failed", "path", dir, "error", err)
		return ""
	}
	path := filepath.Join(dir, ds.id+".jsonl")
	now := time.Now().UTC().Format(time.RFC3339)

	var lines string
	lines += fmt.Sprintf(`{"type":"summary","summary":%q,"leafUuid":"demo-leaf"}`+"\n", ds.title)
	lines += fmt.Sprintf(`{"type":"user","uuid":"demo-u1","timestamp":%q,"sessionId":%q,"cwd":%q,"message":{"role":"user","content":%q}}`+"\n",
		now, ds.id, ds.projectPath, "Please "+ds.title+".")
	lines += fmt.Sprintf(`{"type":"assistant","uuid":"demo-a1","parentUuid":"demo-u1","timestamp":%q,"sessionId":%q,"message":{"role":"assistant","model":%q,"content":[{"type":"text","text":%q}],"usage":{"input_tokens":900,"output_tokens":120}}}`+"\n",
		now, ds.id, ds.model, "Starting on it now. I'll read the relevant packages first and report back with a plan.")

	if err := os.WriteFile(path, []byte(lines), 0o644); err != nil {
		g.log.Warn("demo transcript write failed", "path", path, "error", err)
		return ""
	}
	return path
}

// Wire shapes for the emitted lines, matching the socket protocol.

type startLine struct {
	Event          string `json:"event"`
	SessionID      string `json:"session_id"`
	Source         string `json:"source"`
	TranscriptPath string `json:"transcript_path,omitempty"`
	Cwd            string `json:"cwd,omitempty"`
	Model          string `json:"model"`
	Title          string `json:"title"`
	PID            int    `json:"pid"`
}

type activityLine struct {
	Event     string `json:"event"`
	SessionID string `json:"session_id"`
	Tool      string `json:"tool"`
}

type contextLine struct {
	Event       string  `json:"event"`
	SessionID   string  `json:"session_id"`
	UsedPct     float64 `json:"used_pct"`
	InputTokens int     `json:"input_tokens"`
	WindowSize  int     `json:"window_size"`
	Model       string  `json:"model"`
}

type operationLine struct {
	Event       string `json:"event"`
	SessionID   string `json:"session_id"`
	TotalTokens int    `json:"total_tokens"`
}

type eventLine struct {
	Event     string `json:"event"`
	SessionID string `json:"session_id"`
}
