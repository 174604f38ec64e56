package notify

import (
	"fmt"
	"testing"
	"time"

	"github.com/jacquesio/jacques/internal/config"
)

type capture struct {
	fired []Notification
}

func (c *capture) sink(n Notification) { c.fired = append(c.fired, n) }

func (c *capture) categories() []string {
	out := make([]string, len(c.fired))
	for i, n := range c.fired {
		out[i] = n.Category
	}
	return out
}

// newTestNotifier returns a notifier with a manually advanced clock so
// cooldown windows are exact.
func newTestNotifier(t *testing.T) (*Notifier, *capture, *time.Time) {
	t.Helper()
	c := &capture{}
	n := New(config.DefaultSettings(), c.sink)
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return now }
	return n, c, &now
}

func TestContextThresholdCrossings(t *testing.T) {
	n, c, now := newTestNotifier(t)

	n.ObserveContext("s1", 40, true)
	if len(c.fired) != 0 {
		t.Fatalf("below all thresholds fired %d notifications", len(c.fired))
	}

	n.ObserveContext("s1", 55, true)
	if len(c.fired) != 1 {
		t.Fatalf("crossing 50 fired %d notifications, want 1", len(c.fired))
	}
	if got := c.fired[0].Priority; got != PriorityMedium {
		t.Errorf("50%% crossing priority = %q, want %q", got, PriorityMedium)
	}
	if got := c.fired[0].Category; got != config.CategoryContext {
		t.Errorf("category = %q, want %q", got, config.CategoryContext)
	}

	// Oscillating back under and over again must not re-fire.
	n.ObserveContext("s1", 45, true)
	n.ObserveContext("s1", 60, true)
	if len(c.fired) != 1 {
		t.Fatalf("oscillation re-fired: %d notifications", len(c.fired))
	}

	*now = now.Add(2 * time.Minute)
	n.ObserveContext("s1", 72, true)
	if len(c.fired) != 2 {
		t.Fatalf("crossing 70 fired %d notifications, want 2", len(c.fired))
	}
	if got := c.fired[1].Priority; got != PriorityHigh {
		t.Errorf("70%% crossing priority = %q, want %q", got, PriorityHigh)
	}

	*now = now.Add(2 * time.Minute)
	n.ObserveContext("s1", 95, true)
	if len(c.fired) != 3 {
		t.Fatalf("crossing 90 fired %d notifications, want 3", len(c.fired))
	}
	if got := c.fired[2].Priority; got != PriorityCritical {
		t.Errorf("90%% crossing priority = %q, want %q", got, PriorityCritical)
	}
}

func TestContextJumpReportsMostSevere(t *testing.T) {
	n, c, _ := newTestNotifier(t)

	// 0 -> 75 crosses 50 and 70 at once. The highest lands; the lower one is
	// absorbed by the context cooldown but still counts as crossed.
	n.ObserveContext("s1", 75, true)
	if len(c.fired) != 1 {
		t.Fatalf("jump fired %d notifications, want 1", len(c.fired))
	}
	if got := c.fired[0].Priority; got != PriorityHigh {
		t.Errorf("priority = %q, want %q", got, PriorityHigh)
	}
	if got := n.Counters().Cooldowned; got != 1 {
		t.Errorf("Cooldowned = %d, want 1", got)
	}

	// The absorbed 50 must not fire later.
	n.ObserveContext("s1", 40, true)
	n.ObserveContext("s1", 55, true)
	if len(c.fired) != 1 {
		t.Fatalf("absorbed threshold re-fired: %d notifications", len(c.fired))
	}
}

func TestContextCooldownPerSession(t *testing.T) {
	n, c, now := newTestNotifier(t)

	n.ObserveContext("s1", 55, true)
	n.ObserveContext("s2", 55, true)
	if len(c.fired) != 2 {
		t.Fatalf("independent sessions fired %d, want 2", len(c.fired))
	}

	// s1 crossing a new threshold inside the 60s window is suppressed.
	*now = now.Add(30 * time.Second)
	n.ObserveContext("s1", 72, true)
	if len(c.fired) != 2 {
		t.Fatalf("within cooldown fired %d, want 2", len(c.fired))
	}

	// But the 90 crossing fires once the window has passed.
	*now = now.Add(61 * time.Second)
	n.ObserveContext("s1", 92, true)
	if len(c.fired) != 3 {
		t.Fatalf("after cooldown fired %d, want 3", len(c.fired))
	}
}

func TestAutoCompactRule(t *testing.T) {
	t.Run("fires once when disabled in range", func(t *testing.T) {
		n, c, now := newTestNotifier(t)
		n.ObserveContext("s1", 80, false)

		want := []string{config.CategoryContext, config.CategoryAutoCompact}
		got := c.categories()
		if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
			t.Fatalf("categories = %v, want %v", got, want)
		}
		if c.fired[1].Priority != PriorityHigh {
			t.Errorf("auto-compact priority = %q, want %q", c.fired[1].Priority, PriorityHigh)
		}

		*now = now.Add(5 * time.Minute)
		n.ObserveContext("s1", 85, false)
		for _, fired := range c.fired[2:] {
			if fired.Category == config.CategoryAutoCompact {
				t.Fatal("auto-compact warning fired twice for one session")
			}
		}
	})

	t.Run("silent when autocompact enabled", func(t *testing.T) {
		n, c, _ := newTestNotifier(t)
		n.ObserveContext("s1", 80, true)
		for _, fired := range c.fired {
			if fired.Category == config.CategoryAutoCompact {
				t.Fatal("auto-compact warning fired despite enabled flag")
			}
		}
	})

	t.Run("resets after ForgetSession", func(t *testing.T) {
		n, c, now := newTestNotifier(t)
		n.ObserveContext("s1", 80, false)
		n.ForgetSession("s1")
		*now = now.Add(5 * time.Minute)
		n.ObserveContext("s1", 80, false)

		warnings := 0
		for _, fired := range c.fired {
			if fired.Category == config.CategoryAutoCompact {
				warnings++
			}
		}
		if warnings != 2 {
			t.Fatalf("auto-compact warnings = %d, want 2 after forget", warnings)
		}
	})
}

func TestOperationRule(t *testing.T) {
	n, c, now := newTestNotifier(t)

	n.ObserveOperation("s1", 49999)
	if len(c.fired) != 0 {
		t.Fatalf("below threshold fired %d notifications", len(c.fired))
	}

	n.ObserveOperation("s1", 50000)
	if len(c.fired) != 1 {
		t.Fatalf("at threshold fired %d notifications, want 1", len(c.fired))
	}
	if got := c.fired[0].Priority; got != PriorityMedium {
		t.Errorf("50k priority = %q, want %q", got, PriorityMedium)
	}

	// Within the 10s operation cooldown.
	*now = now.Add(5 * time.Second)
	n.ObserveOperation("s1", 120000)
	if len(c.fired) != 1 {
		t.Fatalf("within cooldown fired %d, want 1", len(c.fired))
	}

	*now = now.Add(11 * time.Second)
	n.ObserveOperation("s1", 120000)
	if len(c.fired) != 2 {
		t.Fatalf("after cooldown fired %d, want 2", len(c.fired))
	}
	if got := c.fired[1].Priority; got != PriorityHigh {
		t.Errorf("100k+ priority = %q, want %q", got, PriorityHigh)
	}
}

func TestHandoffAndPlanRules(t *testing.T) {
	n, c, _ := newTestNotifier(t)

	n.ObserveHandoff("s1", "/proj/.jacques/handoffs/h1.md")
	n.ObservePlan("s1", "/proj/.jacques/plans/p1.md")

	if len(c.fired) != 2 {
		t.Fatalf("fired %d notifications, want 2", len(c.fired))
	}
	if c.fired[0].Category != config.CategoryHandoff || c.fired[0].Priority != PriorityMedium {
		t.Errorf("handoff = %s/%s, want %s/%s",
			c.fired[0].Category, c.fired[0].Priority, config.CategoryHandoff, PriorityMedium)
	}
	if c.fired[1].Category != config.CategoryPlan || c.fired[1].Priority != PriorityMedium {
		t.Errorf("plan = %s/%s, want %s/%s",
			c.fired[1].Category, c.fired[1].Priority, config.CategoryPlan, PriorityMedium)
	}
	if c.fired[0].Body != "/proj/.jacques/handoffs/h1.md" {
		t.Errorf("handoff body = %q", c.fired[0].Body)
	}
}

func TestCategoryDisabled(t *testing.T) {
	settings := config.DefaultSettings()
	settings.Notifications.Categories[config.CategoryOperation] = false

	c := &capture{}
	n := New(settings, c.sink)
	n.ObserveOperation("s1", 200000)

	if len(c.fired) != 0 {
		t.Fatalf("disabled category fired %d notifications", len(c.fired))
	}
	if got := n.Counters().Disabled; got != 1 {
		t.Errorf("Disabled = %d, want 1", got)
	}
}

func TestGlobalDisableSilencesEverything(t *testing.T) {
	settings := config.DefaultSettings()
	settings.Notifications.Enabled = false

	c := &capture{}
	n := New(settings, c.sink)
	n.ObserveContext("s1", 95, false)
	n.ObserveOperation("s1", 200000)
	n.ObserveHandoff("s1", "h.md")

	if len(c.fired) != 0 {
		t.Fatalf("global disable leaked %d notifications", len(c.fired))
	}
}

func TestUpdateSettingsTakesEffect(t *testing.T) {
	n, c, _ := newTestNotifier(t)

	tightened := config.DefaultSettings()
	tightened.Notifications.LargeOperationThreshold = 10000
	n.UpdateSettings(tightened)

	n.ObserveOperation("s1", 20000)
	if len(c.fired) != 1 {
		t.Fatalf("updated threshold fired %d notifications, want 1", len(c.fired))
	}
}

func TestHistoryRing(t *testing.T) {
	n, _, now := newTestNotifier(t)

	// Distinct sessions sidestep cooldowns so every fire lands.
	for i := 0; i < historySize+10; i++ {
		n.ObserveHandoff(fmt.Sprintf("s%d", i), "h.md")
		*now = now.Add(time.Second)
	}

	hist := n.History()
	if len(hist) != historySize {
		t.Fatalf("history length = %d, want %d", len(hist), historySize)
	}
	// Oldest retained entry is the 11th fired.
	if hist[0].SessionID != "s10" {
		t.Errorf("oldest retained = %q, want s10", hist[0].SessionID)
	}
	if hist[len(hist)-1].SessionID != fmt.Sprintf("s%d", historySize+9) {
		t.Errorf("newest retained = %q", hist[len(hist)-1].SessionID)
	}

	for _, fired := range hist {
		if fired.ID == "" {
			t.Fatal("notification missing id")
		}
		if fired.FiredAt.IsZero() {
			t.Fatal("notification missing firedAt")
		}
	}
}

func TestCountersTally(t *testing.T) {
	n, _, now := newTestNotifier(t)

	n.ObserveHandoff("s1", "a.md")
	n.ObserveHandoff("s1", "b.md") // within 10s cooldown
	*now = now.Add(time.Minute)
	n.ObserveHandoff("s1", "c.md")

	got := n.Counters()
	if got.Fired != 2 || got.Cooldowned != 1 {
		t.Errorf("counters = %+v, want Fired 2 Cooldowned 1", got)
	}
}
