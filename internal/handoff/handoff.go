// Package handoff watches a session's project for handoff and plan markdown
// files. Each registered session gets one fsnotify watcher over the project's
// .jacques/handoffs and .jacques/plans directories; file events are debounced
// per path so an editor's create/write burst surfaces as a single event.
package handoff

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jacquesio/jacques/internal/errs"
	"github.com/jacquesio/jacques/internal/logging"
)

// Kind distinguishes which artifact directory produced an event.
type Kind string

const (
	KindHandoff Kind = "handoff"
	KindPlan    Kind = "plan"
)

const debounceWindow = 100 * time.Millisecond

// Event is one settled markdown artifact.
type Event struct {
	SessionID string
	Kind      Kind
	Path      string
}

// Manager owns the per-session watchers. Safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	emit     func(Event)
	watchers map[string]*watcher
	log      *slog.Logger
}

// NewManager builds a manager that delivers settled events to emit. emit is
// called from watcher goroutines and must not block.
func NewManager(emit func(Event)) *Manager {
	if emit == nil {
		emit = func(Event) {}
	}
	return &Manager{
		emit:     emit,
		watchers: make(map[string]*watcher),
		log:      logging.Component("handoff"),
	}
}

// Watch starts a watcher for the session's project. Watching an already
// watched session is a no-op. The artifact directories are created when
// missing so the watcher can bind before the first handoff is written.
func (m *Manager) Watch(sessionID, projectPath string) error {
	const op = "handoff.Watch"
	if projectPath == "" {
		return errs.New(errs.Invariant, op, "empty project path")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.watchers[sessionID]; ok {
		return nil
	}

	w, err := newWatcher(sessionID, projectPath, m.emit, m.log)
	if err != nil {
		return errs.Wrap(errs.IO, op, err)
	}
	m.watchers[sessionID] = w
	m.log.Debug("watching project artifacts", "session", sessionID, "project", projectPath)
	return nil
}

// Unwatch stops the session's watcher if one is running.
func (m *Manager) Unwatch(sessionID string) {
	m.mu.Lock()
	w, ok := m.watchers[sessionID]
	delete(m.watchers, sessionID)
	m.mu.Unlock()
	if ok {
		w.close()
	}
}

// Close stops every watcher. Used on daemon shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	ws := make([]*watcher, 0, len(m.watchers))
	for _, w := range m.watchers {
		ws = append(ws, w)
	}
	m.watchers = make(map[string]*watcher)
	m.mu.Unlock()
	for _, w := range ws {
		w.close()
	}
}

// Active reports how many sessions are being watched.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watchers)
}

type watcher struct {
	sessionID string
	fsw       *fsnotify.Watcher
	handoffs  string
	plans     string
	emit      func(Event)
	log       *slog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

func newWatcher(sessionID, projectPath string, emit func(Event), log *slog.Logger) (*watcher, error) {
	handoffs := filepath.Join(projectPath, ".jacques", "handoffs")
	plans := filepath.Join(projectPath, ".jacques", "plans")
	for _, dir := range []string{handoffs, plans} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, dir := range []string{handoffs, plans} {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, err
		}
	}

	w := &watcher{
		sessionID: sessionID,
		fsw:       fsw,
		handoffs:  handoffs,
		plans:     plans,
		emit:      emit,
		log:       log,
		timers:    make(map[string]*time.Timer),
	}
	go w.run()
	return w, nil
}

func (w *watcher) run() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !strings.EqualFold(filepath.Ext(event.Name), ".md") {
				continue
			}
			w.schedule(event.Name)
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			// Keep watching; a transient inotify error is not fatal.
		}
	}
}

// schedule arms (or re-arms) the per-path debounce timer.
func (w *watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(debounceWindow, func() { w.settle(path) })
}

// settle fires once a path has been quiet for the debounce window.
func (w *watcher) settle(path string) {
	w.mu.Lock()
	delete(w.timers, path)
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return
	}

	kind := KindHandoff
	if filepath.Dir(path) == w.plans {
		kind = KindPlan
	}
	w.emit(Event{SessionID: w.sessionID, Kind: kind, Path: path})
}

func (w *watcher) close() {
	w.mu.Lock()
	w.closed = true
	for _, t := range w.timers {
		t.Stop()
	}
	w.timers = make(map[string]*time.Timer)
	w.mu.Unlock()
	w.fsw.Close()
}
