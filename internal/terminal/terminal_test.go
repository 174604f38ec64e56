package terminal

import (
	"testing"
)

func TestParsePanes(t *testing.T) {
	input := "1234\tmain\t0\t0\n5678\tmain\t1\t0\n9012\tdev\t2\t1\n"

	panes := parsePanes(input)
	if len(panes) != 3 {
		t.Fatalf("expected 3 panes, got %d", len(panes))
	}

	tests := []struct {
		idx    int
		pid    int
		target string
	}{
		{0, 1234, "main:0.0"},
		{1, 5678, "main:1.0"},
		{2, 9012, "dev:2.1"},
	}
	for _, tt := range tests {
		p := panes[tt.idx]
		if p.PanePID != tt.pid {
			t.Errorf("pane %d: pid = %d, want %d", tt.idx, p.PanePID, tt.pid)
		}
		if p.Target != tt.target {
			t.Errorf("pane %d: target = %q, want %q", tt.idx, p.Target, tt.target)
		}
	}
}

func TestParsePanesMalformed(t *testing.T) {
	if got := parsePanes(""); len(got) != 0 {
		t.Errorf("empty input: %d panes", len(got))
	}
	input := "notanumber\tmain\t0\t0\n1234\tmain\tbad\t0\n1234\t0\t0\n"
	if got := parsePanes(input); len(got) != 0 {
		t.Errorf("malformed input: %d panes", len(got))
	}
}

func TestResolveDirectMatch(t *testing.T) {
	r := newResolver([]Pane{
		{PanePID: 100, Target: "main:0.0"},
		{PanePID: 200, Target: "main:1.0"},
	}, func(int) int { return 0 })

	target, ok := r.Resolve(100)
	if !ok || target != "main:0.0" {
		t.Errorf("Resolve(100) = (%q, %v), want (main:0.0, true)", target, ok)
	}
}

func TestResolveAncestorWalk(t *testing.T) {
	// 400 -> 300 -> 200 (pane shell) -> 1
	parents := map[int]int{400: 300, 300: 200, 200: 1}
	r := newResolver([]Pane{{PanePID: 200, Target: "dev:3.1"}},
		func(pid int) int { return parents[pid] })

	target, ok := r.Resolve(400)
	if !ok || target != "dev:3.1" {
		t.Errorf("Resolve(400) = (%q, %v), want (dev:3.1, true)", target, ok)
	}
}

func TestResolveNoMatch(t *testing.T) {
	r := newResolver([]Pane{{PanePID: 100, Target: "main:0.0"}},
		func(int) int { return 0 })
	if target, ok := r.Resolve(999); ok {
		t.Errorf("Resolve(999) = (%q, true), want no match", target)
	}
}

func TestResolveStopsOnSelfParent(t *testing.T) {
	r := newResolver([]Pane{{PanePID: 1, Target: "x:0.0"}},
		func(pid int) int { return pid })
	if _, ok := r.Resolve(500); ok {
		t.Error("self-parenting walk should not resolve")
	}
}

func TestResolveNilResolver(t *testing.T) {
	var r *Resolver
	if target, ok := r.Resolve(100); ok {
		t.Errorf("nil resolver resolved %q", target)
	}
}
