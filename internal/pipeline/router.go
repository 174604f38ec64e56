// Package pipeline receives hook events over the daemon's unix socket and
// routes them into the registry, the notification rules, and the per-session
// handoff watchers. The wire format is newline-delimited JSON, one event per
// line, snake_case fields.
package pipeline

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/jacquesio/jacques/internal/gitmeta"
	"github.com/jacquesio/jacques/internal/handoff"
	"github.com/jacquesio/jacques/internal/logging"
	"github.com/jacquesio/jacques/internal/notify"
	"github.com/jacquesio/jacques/internal/registry"
)

// Hook event names accepted on the socket.
const (
	EventSessionStart      = "session_start"
	EventActivity          = "activity"
	EventContextUpdate     = "context_update"
	EventIdle              = "idle"
	EventSessionEnd        = "session_end"
	EventOperationComplete = "operation_complete"
)

// Counters reports socket traffic outcomes for the status endpoint.
type Counters struct {
	Connections    int `json:"connections"`
	EventsReceived int `json:"eventsReceived"`
	EventsRouted   int `json:"eventsRouted"`
	DroppedInvalid int `json:"droppedInvalid"`
	DroppedUnknown int `json:"droppedUnknown"`
	ParseErrors    int `json:"parseErrors"`
}

// Router validates incoming event lines and dispatches them. The mock
// generator feeds it directly; the socket server feeds it per connection.
// Safe for concurrent use.
type Router struct {
	reg      *registry.Registry
	notifier *notify.Notifier
	handoffs *handoff.Manager

	mu       sync.Mutex
	counters Counters
	log      *slog.Logger
}

// NewRouter wires the router's downstream collaborators. notifier and
// handoffs may be nil (events still reach the registry).
func NewRouter(reg *registry.Registry, notifier *notify.Notifier, handoffs *handoff.Manager) *Router {
	return &Router{
		reg:      reg,
		notifier: notifier,
		handoffs: handoffs,
		log:      logging.Component("pipeline"),
	}
}

// startPayload is the session_start wire shape.
type startPayload struct {
	SessionID      string           `json:"session_id"`
	Source         string           `json:"source"`
	TranscriptPath string           `json:"transcript_path"`
	Cwd            string           `json:"cwd"`
	Model          string           `json:"model"`
	Title          string           `json:"title"`
	PID            int              `json:"pid"`
	Terminal       *terminalPayload `json:"terminal"`
}

type terminalPayload struct {
	TTY        string `json:"tty"`
	EmulatorID string `json:"emulator_id"`
	Emulator   string `json:"emulator"`
	PID        int    `json:"pid"`
	WindowID   string `json:"window_id"`
}

type activityPayload struct {
	SessionID string `json:"session_id"`
	Tool      string `json:"tool"`
}

type contextPayload struct {
	SessionID    string  `json:"session_id"`
	UsedPct      float64 `json:"used_pct"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	WindowSize   int     `json:"window_size"`
	Model        string  `json:"model"`
	IsEstimate   bool    `json:"is_estimate"`
}

type operationPayload struct {
	SessionID   string `json:"session_id"`
	TotalTokens int    `json:"total_tokens"`
}

// Route processes one event line. Invalid lines are dropped and counted,
// never fatal; a hostile or buggy hook cannot take the pipeline down.
func (rt *Router) Route(line []byte) {
	rt.count(func(c *Counters) { c.EventsReceived++ })

	if !gjson.ValidBytes(line) {
		rt.drop("invalid json", line)
		return
	}
	event := gjson.GetBytes(line, "event")
	sid := gjson.GetBytes(line, "session_id")
	if event.Type != gjson.String || event.Str == "" || sid.Type != gjson.String || sid.Str == "" {
		rt.drop("missing event or session_id", line)
		return
	}

	var routed bool
	switch event.Str {
	case EventSessionStart:
		routed = rt.routeStart(line)
	case EventActivity:
		routed = rt.routeActivity(line)
	case EventContextUpdate:
		routed = rt.routeContext(line)
	case EventIdle:
		rt.reg.SetIdle(sid.Str)
		routed = true
	case EventSessionEnd:
		rt.routeEnd(sid.Str)
		routed = true
	case EventOperationComplete:
		routed = rt.routeOperation(line)
	default:
		rt.count(func(c *Counters) { c.DroppedUnknown++ })
		rt.log.Warn("unknown event dropped", "event", event.Str, "session", sid.Str)
		return
	}
	if routed {
		rt.count(func(c *Counters) { c.EventsRouted++ })
	}
}

func (rt *Router) routeStart(line []byte) bool {
	var p startPayload
	if !rt.decode(line, &p) {
		return false
	}

	evt := registry.StartEvent{
		SessionID:      p.SessionID,
		Source:         p.Source,
		TranscriptPath: p.TranscriptPath,
		ProjectPath:    p.Cwd,
		Model:          p.Model,
		Title:          p.Title,
		PID:            p.PID,
	}
	if p.Terminal != nil {
		evt.Terminal = &registry.TerminalIdentity{
			TTY:        p.Terminal.TTY,
			EmulatorID: p.Terminal.EmulatorID,
			Emulator:   p.Terminal.Emulator,
			PID:        p.Terminal.PID,
			WindowID:   p.Terminal.WindowID,
		}
	}
	if p.Cwd != "" {
		evt.Workspace = gitmeta.Lookup(p.Cwd).Branch
	}
	rt.reg.Register(evt)

	if rt.handoffs != nil && p.Cwd != "" {
		if err := rt.handoffs.Watch(p.SessionID, p.Cwd); err != nil {
			rt.log.Warn("handoff watcher failed", "session", p.SessionID, "error", err)
		}
	}
	return true
}

func (rt *Router) routeActivity(line []byte) bool {
	var p activityPayload
	if !rt.decode(line, &p) {
		return false
	}
	rt.reg.UpdateActivity(registry.ActivityEvent{SessionID: p.SessionID, Tool: p.Tool})
	return true
}

func (rt *Router) routeContext(line []byte) bool {
	var p contextPayload
	if !rt.decode(line, &p) {
		return false
	}
	s := rt.reg.UpdateContext(registry.ContextEvent{
		SessionID:    p.SessionID,
		UsedPct:      p.UsedPct,
		InputTokens:  p.InputTokens,
		OutputTokens: p.OutputTokens,
		WindowSize:   p.WindowSize,
		Model:        p.Model,
		IsEstimate:   p.IsEstimate,
	})
	if rt.notifier != nil {
		rt.notifier.ObserveContext(p.SessionID, p.UsedPct, s.AutocompactEnabled)
	}
	return true
}

func (rt *Router) routeEnd(sessionID string) {
	if rt.handoffs != nil {
		rt.handoffs.Unwatch(sessionID)
	}
	rt.reg.Unregister(sessionID)
	if rt.notifier != nil {
		rt.notifier.ForgetSession(sessionID)
	}
}

func (rt *Router) routeOperation(line []byte) bool {
	var p operationPayload
	if !rt.decode(line, &p) {
		return false
	}
	if rt.notifier != nil {
		rt.notifier.ObserveOperation(p.SessionID, p.TotalTokens)
	}
	return true
}

// decode is the typed-payload stage after envelope validation. A payload that
// fails to decode still had a valid envelope, so it counts as a parse error
// rather than an invalid drop.
func (rt *Router) decode(line []byte, v any) bool {
	if err := json.Unmarshal(line, v); err != nil {
		rt.count(func(c *Counters) { c.ParseErrors++ })
		rt.log.Warn("event payload rejected", "error", err)
		return false
	}
	return true
}

func (rt *Router) drop(reason string, line []byte) {
	rt.count(func(c *Counters) { c.DroppedInvalid++ })
	preview := line
	if len(preview) > 120 {
		preview = preview[:120]
	}
	rt.log.Warn("event dropped", "reason", reason, "line", string(preview))
}

func (rt *Router) count(f func(*Counters)) {
	rt.mu.Lock()
	f(&rt.counters)
	rt.mu.Unlock()
}

// Counters snapshots the traffic counters.
func (rt *Router) Counters() Counters {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.counters
}
