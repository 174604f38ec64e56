package registry

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the session state machine position.
type Status int

const (
	StatusActive Status = iota
	StatusWorking
	StatusIdle
)

var statusNames = map[Status]string{
	StatusActive:  "active",
	StatusWorking: "working",
	StatusIdle:    "idle",
}

var statusFromName = map[string]Status{
	"active":  StatusActive,
	"working": StatusWorking,
	"idle":    StatusIdle,
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	v, ok := statusFromName[name]
	if !ok {
		return fmt.Errorf("unknown session status %q", name)
	}
	*s = v
	return nil
}

// Known hook sources. The registry treats the value as opaque.
const (
	SourceClaude = "claude"
	SourceCursor = "cursor"
)

// TerminalIdentity is whatever the hook could observe about the terminal the
// AI tool runs in. Any subset of fields may be present.
type TerminalIdentity struct {
	TTY        string `json:"tty,omitempty"`
	EmulatorID string `json:"emulatorId,omitempty"`
	Emulator   string `json:"emulator,omitempty"`
	PID        int    `json:"pid,omitempty"`
	WindowID   string `json:"windowId,omitempty"`
}

// ContextMetrics is the last observed context-window usage.
type ContextMetrics struct {
	UsedPct      float64 `json:"usedPct"`
	RemainingPct float64 `json:"remainingPct"`
	InputTokens  int     `json:"inputTokens"`
	OutputTokens int     `json:"outputTokens"`
	WindowSize   int     `json:"windowSize"`
	IsEstimate   bool    `json:"isEstimate"`
}

// Session is one live, observed AI coding session.
type Session struct {
	ID             string            `json:"sessionId"`
	Source         string            `json:"source,omitempty"`
	TranscriptPath string            `json:"transcriptPath,omitempty"`
	ProjectPath    string            `json:"projectPath,omitempty"`
	Terminal       *TerminalIdentity `json:"terminal,omitempty"`
	TerminalKey    string            `json:"terminalKey"`
	Status         Status            `json:"status"`
	LastActivityAt time.Time         `json:"lastActivityAt"`
	RegisteredAt   time.Time         `json:"registeredAt"`
	Context        *ContextMetrics   `json:"contextMetrics,omitempty"`
	Model          string            `json:"model,omitempty"`
	Workspace      string            `json:"workspace,omitempty"`
	Title          string            `json:"title,omitempty"`
	PID            int               `json:"pid,omitempty"`

	AutocompactEnabled      bool `json:"autocompactEnabled"`
	AutocompactThreshold    int  `json:"autocompactThreshold"`
	AutocompactBugThreshold int  `json:"autocompactBugThreshold"`
}

// clone deep-copies so callers never alias registry-owned memory.
func (s *Session) clone() *Session {
	cp := *s
	if s.Terminal != nil {
		t := *s.Terminal
		cp.Terminal = &t
	}
	if s.Context != nil {
		c := *s.Context
		cp.Context = &c
	}
	return &cp
}

// StartEvent is a session_start (or a synthesized discovery registration).
type StartEvent struct {
	SessionID      string
	Source         string
	TranscriptPath string
	ProjectPath    string
	Terminal       *TerminalIdentity
	Model          string
	Workspace      string
	Title          string
	PID            int
	Discovered     bool
}

// ActivityEvent is a tool-use notification.
type ActivityEvent struct {
	SessionID string
	Tool      string
}

// ContextEvent carries fresh context-window numbers.
type ContextEvent struct {
	SessionID    string
	UsedPct      float64
	InputTokens  int
	OutputTokens int
	WindowSize   int
	Model        string
	IsEstimate   bool
}
