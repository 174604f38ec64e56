package transcript

import "time"

// Stats is the aggregate view of one parsed transcript.
//
// Token figures follow two regimes. The Total* sums add up every turn and
// overcount real context (cache reads repeat across turns). The Last* fields
// hold the final assistant turn only; LastInputTokens + LastCacheRead is the
// true context-window occupancy at end of session. Cache creation is a
// subset of input, not additive.
type Stats struct {
	MessageCount          int      `json:"messageCount"`
	UserMessageCount      int      `json:"userMessageCount"`
	AssistantMessageCount int      `json:"assistantMessageCount"`
	ToolCallCount         int      `json:"toolCallCount"`
	ToolsUsed             []string `json:"toolsUsed,omitempty"`

	TotalInputTokens           int `json:"totalInputTokens"`
	TotalOutputTokensRaw       int `json:"totalOutputTokensRaw"`
	TotalOutputTokensEstimated int `json:"totalOutputTokensEstimated"`
	TotalCacheCreation         int `json:"totalCacheCreationTokens"`
	TotalCacheRead             int `json:"totalCacheReadTokens"`

	LastInputTokens   int `json:"lastInputTokens"`
	LastCacheCreation int `json:"lastCacheCreationTokens"`
	LastCacheRead     int `json:"lastCacheReadTokens"`

	HadAutoCompact bool      `json:"hadAutoCompact"`
	FirstTimestamp time.Time `json:"firstTimestamp"`
	LastTimestamp  time.Time `json:"lastTimestamp"`
	Model          string    `json:"model,omitempty"`
}

// ContextTokens is the context-window occupancy of the last assistant turn.
func (s Stats) ContextTokens() int {
	return s.LastInputTokens + s.LastCacheRead
}

// Statistics aggregates parsed entries. UserMessageCount excludes internal
// messages; MessageCount covers real user messages plus all assistant turns.
func Statistics(entries []Entry) Stats {
	var st Stats
	seenTools := make(map[string]bool)

	for _, e := range entries {
		if !e.Timestamp.IsZero() {
			if st.FirstTimestamp.IsZero() {
				st.FirstTimestamp = e.Timestamp
			}
			st.LastTimestamp = e.Timestamp
		}

		switch e.Type {
		case UserMessage:
			if !e.IsInternal {
				st.UserMessageCount++
				st.MessageCount++
			}
		case AssistantMessage:
			st.AssistantMessageCount++
			st.MessageCount++
		case ToolCall:
			st.ToolCallCount++
			st.MessageCount++
			if e.ToolName != "" && !seenTools[e.ToolName] {
				seenTools[e.ToolName] = true
				st.ToolsUsed = append(st.ToolsUsed, e.ToolName)
			}
		case SystemEvent:
			if e.EventType == "compact_boundary" {
				st.HadAutoCompact = true
			}
		}

		if e.Type == AssistantMessage || e.Type == ToolCall {
			if e.Model != "" {
				st.Model = e.Model
			}
			if u := e.Usage; u != nil {
				st.TotalInputTokens += u.InputTokens
				st.TotalOutputTokensRaw += u.OutputTokens
				st.TotalCacheCreation += u.CacheCreationTokens
				st.TotalCacheRead += u.CacheReadTokens
				st.LastInputTokens = u.InputTokens
				st.LastCacheCreation = u.CacheCreationTokens
				st.LastCacheRead = u.CacheReadTokens
			}
			st.TotalOutputTokensEstimated += CountTokens(e.Text)
			st.TotalOutputTokensEstimated += CountTokens(e.Thinking)
			if len(e.ToolInput) > 0 {
				st.TotalOutputTokensEstimated += CountTokens(string(e.ToolInput))
			}
		}
	}
	return st
}
