package transcript

import (
	"encoding/json"
	"strings"
	"time"
)

// EntryType classifies a normalized transcript record.
type EntryType int

const (
	UserMessage EntryType = iota
	AssistantMessage
	ToolCall
	ToolResult
	AgentProgress
	WebSearch
	SystemEvent
	Summary
	Skip
)

var entryTypeNames = map[EntryType]string{
	UserMessage:      "user-message",
	AssistantMessage: "assistant-message",
	ToolCall:         "tool-call",
	ToolResult:       "tool-result",
	AgentProgress:    "agent-progress",
	WebSearch:        "web-search",
	SystemEvent:      "system-event",
	Summary:          "summary",
	Skip:             "skip",
}

var entryTypeFromName = map[string]EntryType{
	"user-message":      UserMessage,
	"assistant-message": AssistantMessage,
	"tool-call":         ToolCall,
	"tool-result":       ToolResult,
	"agent-progress":    AgentProgress,
	"web-search":        WebSearch,
	"system-event":      SystemEvent,
	"summary":           Summary,
	"skip":              Skip,
}

func (t EntryType) String() string {
	if s, ok := entryTypeNames[t]; ok {
		return s
	}
	return "unknown"
}

func (t EntryType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *EntryType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if v, ok := entryTypeFromName[s]; ok {
		*t = v
	}
	return nil
}

// Usage is the normalized per-turn token accounting reported by the model.
type Usage struct {
	InputTokens         int `json:"inputTokens"`
	OutputTokens        int `json:"outputTokens"`
	CacheCreationTokens int `json:"cacheCreationTokens"`
	CacheReadTokens     int `json:"cacheReadTokens"`
}

// Entry is one normalized transcript record. Only the fields relevant to the
// entry's type are populated; the rest stay at their zero value.
type Entry struct {
	Type       EntryType `json:"entryType"`
	UUID       string    `json:"uuid,omitempty"`
	ParentUUID string    `json:"parentUuid,omitempty"`
	SessionID  string    `json:"sessionId,omitempty"`
	Timestamp  time.Time `json:"timestamp"`

	Text              string          `json:"text,omitempty"`
	Thinking          string          `json:"thinking,omitempty"`
	ToolName          string          `json:"toolName,omitempty"`
	ToolInput         json.RawMessage `json:"toolInput,omitempty"`
	ToolResultContent string          `json:"toolResultContent,omitempty"`
	EventType         string          `json:"eventType,omitempty"`
	EventData         json.RawMessage `json:"eventData,omitempty"`
	Summary           string          `json:"summary,omitempty"`
	AgentID           string          `json:"agentId,omitempty"`
	AgentType         string          `json:"agentType,omitempty"`
	AgentDescription  string          `json:"agentDescription,omitempty"`
	SearchQuery       string          `json:"searchQuery,omitempty"`
	SearchResultCount int             `json:"searchResultCount,omitempty"`
	Usage             *Usage          `json:"usage,omitempty"`
	CostUSD           float64         `json:"costUSD,omitempty"`
	DurationMs        int64           `json:"durationMs,omitempty"`
	Model             string          `json:"model,omitempty"`

	// IsInternal marks user messages injected by the AI tool itself
	// (slash-command plumbing, caveats). They stay in the entry stream but
	// are excluded wherever "real" user messages are counted.
	IsInternal bool `json:"isInternal,omitempty"`
}

var internalPrefixes = []string{
	"<local-command-caveat>",
	"<command-name>",
	"<command-message>",
	"<command-args>",
	"<local-command-stdout>",
}

// IsInternalUserText reports whether a user-message text is tool plumbing
// rather than something the user typed.
func IsInternalUserText(text string) bool {
	trimmed := strings.TrimSpace(text)
	for _, p := range internalPrefixes {
		if strings.HasPrefix(trimmed, p) {
			return true
		}
	}
	return false
}
