package catalog

import (
	"fmt"
	"strings"

	"github.com/jacquesio/jacques/internal/plans"
	"github.com/jacquesio/jacques/internal/transcript"
)

// AgentArtifact turns a subagent transcript into its markdown artifact.
// Plan/Explore agents keep their last substantial output; web searches are
// listed as query + result count; a trailing short assistant message is the
// fallback body.
func AgentArtifact(agentType, agentID string, entries []transcript.Entry) string {
	if agentType == "" {
		agentType = "Task"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# %s agent %s\n", agentType, agentID)

	var searches []transcript.Entry
	for _, e := range entries {
		if e.Type == transcript.WebSearch && e.SearchQuery != "" {
			searches = append(searches, e)
		}
	}
	if len(searches) > 0 {
		b.WriteString("\n## Searches\n\n")
		for _, e := range searches {
			fmt.Fprintf(&b, "- %s (%d results)\n", e.SearchQuery, e.SearchResultCount)
		}
	}

	body := plans.LastSubstantialAssistant(entries)
	if body == "" {
		body = lastAssistantText(entries)
	}
	if body != "" {
		b.WriteString("\n")
		b.WriteString(body)
		b.WriteString("\n")
	}
	return b.String()
}

func lastAssistantText(entries []transcript.Entry) string {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Type == transcript.AssistantMessage && entries[i].Text != "" {
			return entries[i].Text
		}
	}
	return ""
}
