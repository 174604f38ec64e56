package plans

import "sort"

// References more than this many entries past a group's last member start a
// new group instead of joining it.
const mergeWindow = 20

var sourceRank = map[Source]int{
	SourceWrite:    3,
	SourceEmbedded: 2,
	SourceAgent:    1,
}

type refGroup struct {
	refs        []Reference
	lastIndex   int
	hasEmbedded bool
}

// Merge collapses raw references from one session into logical plans. Refs
// are walked in message order; a reference joins the nearest open group that
// still looks like the same plan, otherwise it opens its own. The canonical
// reference of a group is the first with the highest source priority
// (write > embedded > agent); Sources becomes the union.
func Merge(refs []Reference) []Reference {
	if len(refs) == 0 {
		return nil
	}
	sorted := make([]Reference, len(refs))
	copy(sorted, refs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MessageIndex < sorted[j].MessageIndex
	})

	var groups []*refGroup
	for _, r := range sorted {
		joined := false
		for i := len(groups) - 1; i >= 0; i-- {
			g := groups[i]
			if r.MessageIndex-g.lastIndex > mergeWindow {
				break
			}
			if g.accepts(r) {
				g.refs = append(g.refs, r)
				g.lastIndex = r.MessageIndex
				g.hasEmbedded = g.hasEmbedded || r.Source == SourceEmbedded
				joined = true
				break
			}
		}
		if !joined {
			groups = append(groups, &refGroup{
				refs:        []Reference{r},
				lastIndex:   r.MessageIndex,
				hasEmbedded: r.Source == SourceEmbedded,
			})
		}
	}

	out := make([]Reference, 0, len(groups))
	for _, g := range groups {
		out = append(out, g.collapse())
	}
	return out
}

// accepts decides whether r belongs to this group's logical plan. Agent refs
// attach to any group opened by an embedded plan (the agent executes it);
// everything else needs a matching title or identical content.
func (g *refGroup) accepts(r Reference) bool {
	if r.Source == SourceAgent {
		return g.hasEmbedded
	}
	for _, existing := range g.refs {
		if Normalize(existing.Title) == Normalize(r.Title) {
			return true
		}
		if existing.Content != "" && r.Content != "" &&
			Normalize(existing.Content) == Normalize(r.Content) {
			return true
		}
	}
	return false
}

func (g *refGroup) collapse() Reference {
	canonical := g.refs[0]
	for _, r := range g.refs[1:] {
		if sourceRank[r.Source] > sourceRank[canonical.Source] {
			canonical = r
		}
	}

	out := canonical
	out.Sources = nil
	seen := make(map[Source]bool)
	for _, r := range g.refs {
		if !seen[r.Source] {
			seen[r.Source] = true
			out.Sources = append(out.Sources, r.Source)
		}
		if out.FilePath == "" && r.FilePath != "" {
			out.FilePath = r.FilePath
		}
		if out.AgentID == "" && r.AgentID != "" {
			out.AgentID = r.AgentID
		}
		if out.Content == "" && r.Content != "" {
			out.Content = r.Content
		}
	}
	return out
}
