package plans

import "testing"

func TestMergeWriteWinsOverEmbedded(t *testing.T) {
	refs := []Reference{
		{Title: "JWT Auth", Source: SourceEmbedded, MessageIndex: 0, Content: "# JWT Auth\n\nbody"},
		{Title: "JWT Auth", Source: SourceWrite, MessageIndex: 5, FilePath: "docs/plan.md", Content: "# JWT Auth\n\nbody"},
	}
	merged := Merge(refs)
	if len(merged) != 1 {
		t.Fatalf("got %d refs, want 1", len(merged))
	}
	m := merged[0]
	if m.Source != SourceWrite {
		t.Errorf("canonical source = %q, want write", m.Source)
	}
	if m.FilePath != "docs/plan.md" {
		t.Errorf("FilePath = %q", m.FilePath)
	}
	if len(m.Sources) != 2 || m.Sources[0] != SourceEmbedded || m.Sources[1] != SourceWrite {
		t.Errorf("Sources = %v", m.Sources)
	}
}

func TestMergeAgentJoinsEmbeddedGroup(t *testing.T) {
	refs := []Reference{
		{Title: "JWT Auth", Source: SourceEmbedded, MessageIndex: 2, Content: "# JWT Auth\n\nbody"},
		{Title: "design auth", Source: SourceAgent, MessageIndex: 10, AgentID: "ag1"},
	}
	merged := Merge(refs)
	if len(merged) != 1 {
		t.Fatalf("got %d refs, want 1", len(merged))
	}
	m := merged[0]
	if m.Source != SourceEmbedded {
		t.Errorf("canonical source = %q, want embedded", m.Source)
	}
	if m.Title != "JWT Auth" {
		t.Errorf("Title = %q, want canonical title", m.Title)
	}
	if m.AgentID != "ag1" {
		t.Errorf("AgentID = %q, want carried forward", m.AgentID)
	}
}

func TestMergeAgentAloneKeepsOwnGroup(t *testing.T) {
	refs := []Reference{
		{Title: "explore storage", Source: SourceAgent, MessageIndex: 3, AgentID: "ag1"},
	}
	merged := Merge(refs)
	if len(merged) != 1 || merged[0].Source != SourceAgent {
		t.Fatalf("merged = %+v", merged)
	}
}

func TestMergeWindowSplitsGroups(t *testing.T) {
	refs := []Reference{
		{Title: "JWT Auth", Source: SourceEmbedded, MessageIndex: 0, Content: "# JWT Auth\n\nbody"},
		{Title: "JWT Auth", Source: SourceWrite, MessageIndex: 25, Content: "# JWT Auth\n\nbody"},
	}
	merged := Merge(refs)
	if len(merged) != 2 {
		t.Fatalf("got %d refs, want 2 (outside merge window)", len(merged))
	}
}

func TestMergeDifferentTitlesStaySeparate(t *testing.T) {
	refs := []Reference{
		{Title: "JWT Auth", Source: SourceEmbedded, MessageIndex: 0, Content: "# JWT Auth\n\naaa"},
		{Title: "Cache Layer", Source: SourceWrite, MessageIndex: 2, Content: "# Cache Layer\n\nbbb"},
	}
	merged := Merge(refs)
	if len(merged) != 2 {
		t.Fatalf("got %d refs, want 2", len(merged))
	}
}

func TestMergeFirstOfHighestPriorityWins(t *testing.T) {
	refs := []Reference{
		{Title: "JWT Auth", Source: SourceWrite, MessageIndex: 2, FilePath: "a.md", Content: "# JWT Auth\n\nbody"},
		{Title: "JWT Auth", Source: SourceWrite, MessageIndex: 4, FilePath: "b.md", Content: "# JWT Auth\n\nbody"},
	}
	merged := Merge(refs)
	if len(merged) != 1 {
		t.Fatalf("got %d refs, want 1", len(merged))
	}
	if merged[0].FilePath != "a.md" {
		t.Errorf("canonical = %q, want the earliest write", merged[0].FilePath)
	}
}

func TestMergeEmpty(t *testing.T) {
	if got := Merge(nil); got != nil {
		t.Errorf("Merge(nil) = %v", got)
	}
}
