package plans

import (
	"strings"

	"github.com/jacquesio/jacques/internal/transcript"
)

// FromAgentTranscript extracts the plan a Plan subagent produced: the last
// substantial assistant message in the agent's own transcript log. Returns
// "" when the transcript yields nothing substantial.
func FromAgentTranscript(path string) (string, error) {
	res, err := transcript.ParseFile(path)
	if err != nil {
		return "", err
	}
	return LastSubstantialAssistant(res.Entries), nil
}

// LastSubstantialAssistant finds the final assistant message that carries
// real plan content: longer than 100 chars with a markdown heading mark.
func LastSubstantialAssistant(entries []transcript.Entry) string {
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.Type != transcript.AssistantMessage {
			continue
		}
		if len(e.Text) > minPlanLength && strings.Contains(e.Text, "#") {
			return e.Text
		}
	}
	return ""
}
