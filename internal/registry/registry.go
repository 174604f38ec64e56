// Package registry holds the authoritative in-memory model of live observed
// sessions: their state machine, focus semantics, and terminal identity.
package registry

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jacquesio/jacques/internal/errs"
	"github.com/jacquesio/jacques/internal/logging"
)

const defaultWindowSize = 200000

// Sink receives registry signals. Implementations must not block and must
// not call back into the registry; signals are emitted under the registry
// lock so every observer sees mutations in one total order.
type Sink interface {
	SessionUpdated(s *Session)
	SessionRemoved(id string)
	FocusChanged(id string)
}

type noopSink struct{}

func (noopSink) SessionUpdated(*Session) {}
func (noopSink) SessionRemoved(string)   {}
func (noopSink) FocusChanged(string)     {}

// Config wires the registry's environment.
type Config struct {
	// SettingsPath is the AI tool's own settings file, consulted for the
	// autoCompact flag. Empty disables reads and makes toggles fail.
	SettingsPath string
	// WindowSize maps a model name to its context window.
	WindowSize func(model string) int
	// BugThreshold is the usedPct at which the tool's auto-compact is known
	// to misfire. Zero means the default.
	BugThreshold int
}

// Counters are registry observability numbers for the status endpoint.
type Counters struct {
	Registered       int `json:"registered"`
	Synthesized      int `json:"synthesized"`
	Unregistered     int `json:"unregistered"`
	StaleTranscripts int `json:"staleTranscripts"`
	JanitorReaped    int `json:"janitorReaped"`
}

// Registry is safe for concurrent use. All mutation runs under a single
// writer lock; reads hand out deep copies.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	keys     map[string]string // terminalKey -> sessionID
	focused  string
	sink     Sink
	cfg      Config
	counters Counters
	now      func() time.Time
	log      *slog.Logger
}

func New(cfg Config, sink Sink) *Registry {
	if sink == nil {
		sink = noopSink{}
	}
	if cfg.BugThreshold == 0 {
		cfg.BugThreshold = autoCompactBugThreshold
	}
	if cfg.WindowSize == nil {
		cfg.WindowSize = func(string) int { return defaultWindowSize }
	}
	return &Registry{
		sessions: make(map[string]*Session),
		keys:     make(map[string]string),
		sink:     sink,
		cfg:      cfg,
		now:      time.Now,
		log:      logging.Component("registry"),
	}
}

// SetSink replaces the signal sink. Call during startup wiring, before
// events flow; signals emitted earlier went to the previous sink.
func (r *Registry) SetSink(sink Sink) {
	if sink == nil {
		sink = noopSink{}
	}
	r.mu.Lock()
	r.sink = sink
	r.mu.Unlock()
}

// Register creates or replaces a session. Re-registration (including a real
// session_start after discovery or synthesis) keeps the id and registeredAt
// and overwrites everything the event actually carries.
func (r *Registry) Register(evt StartEvent) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	s, existed := r.sessions[evt.SessionID]
	if existed {
		delete(r.keys, s.TerminalKey)
	} else {
		s = &Session{ID: evt.SessionID, RegisteredAt: now}
		r.sessions[evt.SessionID] = s
	}
	r.counters.Registered++

	if evt.Source != "" {
		s.Source = evt.Source
	}
	if evt.TranscriptPath != "" {
		s.TranscriptPath = evt.TranscriptPath
	}
	if evt.ProjectPath != "" {
		s.ProjectPath = evt.ProjectPath
	}
	if evt.Terminal != nil {
		t := *evt.Terminal
		s.Terminal = &t
	}
	if evt.Model != "" {
		s.Model = evt.Model
	}
	if evt.Title != "" {
		s.Title = evt.Title
	}
	if evt.Workspace != "" {
		s.Workspace = evt.Workspace
	}
	switch {
	case evt.PID > 0:
		s.PID = evt.PID
	case evt.Terminal != nil && evt.Terminal.PID > 0:
		s.PID = evt.Terminal.PID
	}
	s.Status = StatusActive
	s.LastActivityAt = now

	key := deriveTerminalKey(s.Terminal, s.ID, evt.Discovered)
	if owner, taken := r.keys[key]; taken && owner != s.ID {
		key += ":" + idPrefix(s.ID)
	}
	r.keys[key] = s.ID
	s.TerminalKey = key

	enabled, threshold := loadToolSettings(r.cfg.SettingsPath)
	s.AutocompactEnabled = enabled
	s.AutocompactThreshold = threshold
	s.AutocompactBugThreshold = r.cfg.BugThreshold

	r.emitUpdated(s)
	if r.shouldFocusNewLocked(s.ID) {
		r.setFocusLocked(s.ID)
	}
	return s.clone()
}

// UpdateActivity marks tool use: idle or active sessions become working, a
// working session just refreshes lastActivityAt. Unknown ids are synthesized
// so a racing hook never loses events.
func (r *Registry) UpdateActivity(evt ActivityEvent) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.ensureLocked(evt.SessionID)
	s.Status = StatusWorking
	s.LastActivityAt = r.now().UTC()
	r.emitUpdated(s)
	r.setFocusLocked(s.ID)
	return s.clone()
}

// UpdateContext refreshes context metrics without moving the state machine.
func (r *Registry) UpdateContext(evt ContextEvent) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.ensureLocked(evt.SessionID)
	if evt.Model != "" {
		s.Model = evt.Model
	}
	window := evt.WindowSize
	if window <= 0 {
		window = r.cfg.WindowSize(s.Model)
	}
	s.Context = &ContextMetrics{
		UsedPct:      evt.UsedPct,
		RemainingPct: 100 - evt.UsedPct,
		InputTokens:  evt.InputTokens,
		OutputTokens: evt.OutputTokens,
		WindowSize:   window,
		IsEstimate:   evt.IsEstimate,
	}
	s.LastActivityAt = r.now().UTC()
	r.emitUpdated(s)
	if s.Status == StatusWorking {
		r.setFocusLocked(s.ID)
	}
	return s.clone()
}

// SetIdle moves a session to idle. Focus stays where it is.
func (r *Registry) SetIdle(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return
	}
	s.Status = StatusIdle
	r.emitUpdated(s)
}

// Unregister removes a session; unknown ids are a no-op. If the removed
// session was focused, focus moves to the most recently active survivor.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unregisterLocked(id)
}

// Reap is Unregister for sessions whose process died without a session_end;
// the janitor counter tracks how often that happens.
func (r *Registry) Reap(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unregisterLocked(id) {
		r.counters.JanitorReaped++
	}
}

func (r *Registry) unregisterLocked(id string) bool {
	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	delete(r.sessions, id)
	delete(r.keys, s.TerminalKey)
	r.counters.Unregistered++
	r.sink.SessionRemoved(id)
	if r.focused == id {
		r.focused = r.mostRecentLocked()
		r.sink.FocusChanged(r.focused)
	}
	return true
}

// NoteStaleTranscript counts a session whose recorded transcript path no
// longer resolves to a file on disk.
func (r *Registry) NoteStaleTranscript() {
	r.mu.Lock()
	r.counters.StaleTranscripts++
	r.mu.Unlock()
}

// Get returns a deep copy.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	return s.clone(), true
}

// List returns deep copies ordered by registration time.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RegisteredAt.Equal(out[j].RegisteredAt) {
			return out[i].RegisteredAt.Before(out[j].RegisteredAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Focused returns the focused session id, or "".
func (r *Registry) Focused() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.focused
}

// SelectSession forces focus onto an existing session.
func (r *Registry) SelectSession(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return errs.Newf(errs.NotFound, "registry.SelectSession", "no session %q", id)
	}
	r.setFocusLocked(id)
	return nil
}

// RecordAutoCompactToggle persists the flag to the AI tool's settings file
// and reflects it onto every live session.
func (r *Registry) RecordAutoCompactToggle(enabled bool, threshold int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := writeAutoCompact(r.cfg.SettingsPath, enabled); err != nil {
		return err
	}
	for _, s := range r.sessions {
		s.AutocompactEnabled = enabled
		if threshold > 0 {
			s.AutocompactThreshold = threshold
		}
		r.emitUpdated(s)
	}
	return nil
}

// ToggleAutoCompact flips the current settings-file flag and returns the new
// state.
func (r *Registry) ToggleAutoCompact() (bool, error) {
	enabled, _ := loadToolSettings(r.cfg.SettingsPath)
	next := !enabled
	if err := r.RecordAutoCompactToggle(next, 0); err != nil {
		return enabled, err
	}
	return next, nil
}

// Counters returns a snapshot of the observability counters.
func (r *Registry) Counters() Counters {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counters
}

func (r *Registry) emitUpdated(s *Session) {
	r.sink.SessionUpdated(s.clone())
}

func (r *Registry) shouldFocusNewLocked(id string) bool {
	if r.focused == "" || r.focused == id {
		return true
	}
	f, ok := r.sessions[r.focused]
	return !ok || f.Status == StatusIdle
}

func (r *Registry) setFocusLocked(id string) {
	if r.focused == id {
		return
	}
	r.focused = id
	r.sink.FocusChanged(id)
}

// ensureLocked synthesizes a minimal session when an event beats its
// session_start. Register later fills in the real fields.
func (r *Registry) ensureLocked(id string) *Session {
	if s, ok := r.sessions[id]; ok {
		return s
	}
	now := r.now().UTC()
	s := &Session{
		ID:             id,
		Status:         StatusActive,
		RegisteredAt:   now,
		LastActivityAt: now,
	}
	key := deriveTerminalKey(nil, id, false)
	if owner, taken := r.keys[key]; taken && owner != id {
		key += ":" + idPrefix(id)
	}
	r.keys[key] = id
	s.TerminalKey = key

	enabled, threshold := loadToolSettings(r.cfg.SettingsPath)
	s.AutocompactEnabled = enabled
	s.AutocompactThreshold = threshold
	s.AutocompactBugThreshold = r.cfg.BugThreshold

	r.sessions[id] = s
	r.counters.Synthesized++
	r.log.Debug("synthesized session from early event", "session", id)
	return s
}

func (r *Registry) mostRecentLocked() string {
	var best *Session
	for _, s := range r.sessions {
		if best == nil || s.LastActivityAt.After(best.LastActivityAt) ||
			(s.LastActivityAt.Equal(best.LastActivityAt) && s.ID > best.ID) {
			best = s
		}
	}
	if best == nil {
		return ""
	}
	return best.ID
}
