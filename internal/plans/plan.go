// Package plans detects plans in parsed transcripts and maintains their
// identity across sessions: one plan file per logical plan, however many
// times and ways it shows up.
package plans

import "time"

// Source says how a plan reference was detected.
type Source string

const (
	SourceEmbedded Source = "embedded"
	SourceWrite    Source = "write"
	SourceAgent    Source = "agent"
)

// Reference is one detected plan occurrence inside a session. After
// within-session merging, Sources holds the union of detection sources that
// collapsed into it.
type Reference struct {
	Title        string   `json:"title"`
	Source       Source   `json:"source"`
	MessageIndex int      `json:"messageIndex"`
	FilePath     string   `json:"filePath,omitempty"`
	AgentID      string   `json:"agentId,omitempty"`
	CatalogID    string   `json:"catalogId,omitempty"`
	Sources      []Source `json:"sources,omitempty"`

	// Content carries the detected plan text through to cataloging; it is
	// never persisted on the reference itself.
	Content string `json:"-"`
}

// Plan is one catalog entry in a project's plan list. The file it names
// lives under the project's plans directory.
type Plan struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Filename    string    `json:"filename"`
	Path        string    `json:"path"`
	ContentHash string    `json:"contentHash"`
	BodyHash    string    `json:"bodyHash"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Sessions    []string  `json:"sessions"`
}
