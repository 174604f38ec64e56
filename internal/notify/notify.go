// Package notify turns observed session events into user-facing
// notifications: context-threshold crossings, large-operation completions,
// handoff and plan artifacts, and the auto-compact misfire warning. Rules are
// rate-limited per category and session; a short history backs client
// reconnects.
package notify

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jacquesio/jacques/internal/config"
	"github.com/jacquesio/jacques/internal/logging"
)

// Priorities, lowest to highest.
const (
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

const historySize = 50

// Default per-category cooldowns between notifications for the same session.
var cooldowns = map[string]time.Duration{
	config.CategoryContext:     60 * time.Second,
	config.CategoryOperation:   10 * time.Second,
	config.CategoryPlan:        30 * time.Second,
	config.CategoryAutoCompact: 60 * time.Second,
	config.CategoryHandoff:     10 * time.Second,
}

// The AI tool is known to compact around this usedPct even with auto-compact
// off; crossing it with the flag off warrants a warning.
const autoCompactBugPct = 78

// Priority bounds for context crossings.
const (
	criticalPct = 90
	highPct     = 70
)

// Operation notifications escalate to high at this many tokens.
const largeOperationHighWater = 100000

// Notification is one fired rule, broadcast to subscribers and kept in the
// history ring.
type Notification struct {
	ID        string    `json:"id"`
	Category  string    `json:"category"`
	Priority  string    `json:"priority"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	FiredAt   time.Time `json:"firedAt"`
}

// Sink receives fired notifications. Must not block.
type Sink func(Notification)

// Counters reports rule outcomes for the status endpoint.
type Counters struct {
	Fired      int `json:"fired"`
	Cooldowned int `json:"cooldowned"`
	Disabled   int `json:"disabled"`
}

// Notifier evaluates the rules. Safe for concurrent use.
type Notifier struct {
	mu       sync.Mutex
	settings *config.Settings
	sink     Sink
	lastFire map[string]time.Time        // category:sessionID
	crossed  map[string]map[int]struct{} // sessionID -> thresholds crossed
	lastPct  map[string]float64          // sessionID -> last observed usedPct
	bugFired map[string]struct{}         // sessionID -> auto-compact warning sent
	history  []Notification
	counters Counters
	now      func() time.Time
	log      *slog.Logger
}

// New builds a notifier over the user's notification settings. sink may be
// nil (rules still run, history still accumulates).
func New(settings *config.Settings, sink Sink) *Notifier {
	if settings == nil {
		settings = config.DefaultSettings()
	}
	if sink == nil {
		sink = func(Notification) {}
	}
	return &Notifier{
		settings: settings,
		sink:     sink,
		lastFire: make(map[string]time.Time),
		crossed:  make(map[string]map[int]struct{}),
		lastPct:  make(map[string]float64),
		bugFired: make(map[string]struct{}),
		now:      time.Now,
		log:      logging.Component("notify"),
	}
}

// UpdateSettings swaps in fresh user settings (after a config.json write).
func (n *Notifier) UpdateSettings(settings *config.Settings) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if settings != nil {
		n.settings = settings
	}
}

// SetSink replaces the notification sink. Call during startup wiring, before
// events flow.
func (n *Notifier) SetSink(sink Sink) {
	if sink == nil {
		sink = func(Notification) {}
	}
	n.mu.Lock()
	n.sink = sink
	n.mu.Unlock()
}

// ObserveContext runs the context-threshold and auto-compact rules against a
// fresh usedPct reading.
func (n *Notifier) ObserveContext(sessionID string, usedPct float64, autocompactEnabled bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	prev := n.lastPct[sessionID]
	n.lastPct[sessionID] = usedPct

	thresholds := append([]int(nil), n.settings.Notifications.ContextThresholds...)
	sort.Sort(sort.Reverse(sort.IntSlice(thresholds)))

	crossed := n.crossed[sessionID]
	if crossed == nil {
		crossed = make(map[int]struct{})
		n.crossed[sessionID] = crossed
	}

	// Descending walk so a jump across several thresholds reports the most
	// severe one; the lower crossings are marked but rate-limited away.
	for _, th := range thresholds {
		if _, done := crossed[th]; done {
			continue
		}
		if prev >= float64(th) || usedPct < float64(th) {
			continue
		}
		crossed[th] = struct{}{}
		n.fireLocked(Notification{
			Category:  config.CategoryContext,
			Priority:  contextPriority(th),
			Title:     fmt.Sprintf("Context at %.0f%%", usedPct),
			Body:      fmt.Sprintf("Session crossed the %d%% context threshold", th),
			SessionID: sessionID,
		})
	}

	if usedPct >= autoCompactBugPct && !autocompactEnabled {
		if _, done := n.bugFired[sessionID]; !done {
			n.bugFired[sessionID] = struct{}{}
			n.fireLocked(Notification{
				Category:  config.CategoryAutoCompact,
				Priority:  PriorityHigh,
				Title:     "Auto-compact misfire range",
				Body:      fmt.Sprintf("Context at %.0f%% with auto-compact disabled; the tool may compact on its own near %d%%", usedPct, autoCompactBugPct),
				SessionID: sessionID,
			})
		}
	}
}

// ObserveOperation runs the large-operation rule.
func (n *Notifier) ObserveOperation(sessionID string, totalTokens int) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if totalTokens < n.settings.Notifications.LargeOperationThreshold {
		return
	}
	priority := PriorityMedium
	if totalTokens >= largeOperationHighWater {
		priority = PriorityHigh
	}
	n.fireLocked(Notification{
		Category:  config.CategoryOperation,
		Priority:  priority,
		Title:     "Large operation completed",
		Body:      fmt.Sprintf("%d tokens", totalTokens),
		SessionID: sessionID,
	})
}

// ObserveHandoff fires for a handoff artifact appearing on disk.
func (n *Notifier) ObserveHandoff(sessionID, path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fireLocked(Notification{
		Category:  config.CategoryHandoff,
		Priority:  PriorityMedium,
		Title:     "Handoff ready",
		Body:      path,
		SessionID: sessionID,
	})
}

// ObservePlan fires for a plan file appearing on disk.
func (n *Notifier) ObservePlan(sessionID, path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fireLocked(Notification{
		Category:  config.CategoryPlan,
		Priority:  PriorityMedium,
		Title:     "Plan detected",
		Body:      path,
		SessionID: sessionID,
	})
}

// ForgetSession drops per-session rule state once a session unregisters, so
// a reused id starts its thresholds fresh and ended sessions do not pin
// cooldown entries forever.
func (n *Notifier) ForgetSession(sessionID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.crossed, sessionID)
	delete(n.lastPct, sessionID)
	delete(n.bugFired, sessionID)
	for category := range cooldowns {
		delete(n.lastFire, category+":"+sessionID)
	}
}

// History copies the retained ring, oldest first.
func (n *Notifier) History() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Notification, len(n.history))
	copy(out, n.history)
	return out
}

// Counters snapshots the rule outcome counters.
func (n *Notifier) Counters() Counters {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.counters
}

func (n *Notifier) fireLocked(note Notification) {
	if !n.settings.CategoryEnabled(note.Category) {
		n.counters.Disabled++
		return
	}

	key := note.Category + ":" + note.SessionID
	now := n.now()
	if last, ok := n.lastFire[key]; ok && now.Sub(last) < cooldowns[note.Category] {
		n.counters.Cooldowned++
		return
	}
	n.lastFire[key] = now

	note.ID = uuid.NewString()
	note.FiredAt = now.UTC()
	n.history = append(n.history, note)
	if len(n.history) > historySize {
		n.history = n.history[len(n.history)-historySize:]
	}
	n.counters.Fired++
	n.log.Debug("notification fired",
		"category", note.Category, "priority", note.Priority, "session", note.SessionID)
	n.sink(note)
}

func contextPriority(threshold int) string {
	switch {
	case threshold >= criticalPct:
		return PriorityCritical
	case threshold >= highPct:
		return PriorityHigh
	default:
		return PriorityMedium
	}
}
