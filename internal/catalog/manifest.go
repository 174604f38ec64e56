// Package catalog projects transcript logs into per-project catalog
// directories: one manifest per session, deduplicated plan files, and
// subagent artifacts, all under the project's .jacques dir.
package catalog

import (
	"encoding/json"
	"os"
	"time"

	"github.com/jacquesio/jacques/internal/errs"
	"github.com/jacquesio/jacques/internal/paths"
	"github.com/jacquesio/jacques/internal/plans"
)

// TokenTotals carries the manifest's token accounting. Input is the summed
// per-turn figure; output is the corrected estimate.
type TokenTotals struct {
	Input         int `json:"input"`
	Output        int `json:"output"`
	CacheCreation int `json:"cacheCreation"`
	CacheRead     int `json:"cacheRead"`
}

// SessionManifest is the per-session catalog artifact.
type SessionManifest struct {
	SessionID       string    `json:"sessionId"`
	ProjectPath     string    `json:"projectPath"`
	Title           string    `json:"title"`
	StartedAt       time.Time `json:"startedAt"`
	EndedAt         time.Time `json:"endedAt"`
	JSONLModifiedAt time.Time `json:"jsonlModifiedAt"`

	MessageCount   int      `json:"messageCount"`
	ToolCallCount  int      `json:"toolCallCount"`
	HasSubagents   bool     `json:"hasSubagents"`
	SubagentIDs    []string `json:"subagentIds,omitempty"`
	HadAutoCompact bool     `json:"hadAutoCompact"`

	Tokens TokenTotals `json:"tokens"`

	// Mode is "planning", "execution", or empty when neither applies.
	Mode string `json:"mode,omitempty"`

	PlanCount int               `json:"planCount"`
	PlanRefs  []plans.Reference `json:"planRefs,omitempty"`

	Technologies    []string `json:"technologies,omitempty"`
	UserQuestions   []string `json:"userQuestions,omitempty"`
	FilesModified   []string `json:"filesModified,omitempty"`
	ToolsUsed       []string `json:"toolsUsed,omitempty"`
	ContextSnippets []string `json:"contextSnippets,omitempty"`

	GitBranch string `json:"gitBranch,omitempty"`
}

// ProjectIndex is the one-per-project catalog file tying everything
// together.
type ProjectIndex struct {
	Context   []ContextRef  `json:"context"`
	Sessions  []SessionRef  `json:"sessions"`
	Plans     []plans.Plan  `json:"plans"`
	Subagents []SubagentRef `json:"subagents"`
}

// ContextRef names an externally imported context file.
type ContextRef struct {
	Path    string    `json:"path"`
	Source  string    `json:"source,omitempty"`
	AddedAt time.Time `json:"addedAt"`
}

// SessionRef links the index to one session manifest.
type SessionRef struct {
	SessionID    string    `json:"sessionId"`
	Path         string    `json:"path"`
	Title        string    `json:"title,omitempty"`
	EndedAt      time.Time `json:"endedAt"`
	MessageCount int       `json:"messageCount"`
	PlanCount    int       `json:"planCount"`
}

// SubagentRef links the index to one subagent artifact.
type SubagentRef struct {
	AgentID   string `json:"agentId"`
	AgentType string `json:"agentType,omitempty"`
	SessionID string `json:"sessionId"`
	Path      string `json:"path"`
}

// LoadManifest reads one session manifest. Missing file → errs.NotFound.
func LoadManifest(path string) (*SessionManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.Wrap(errs.NotFound, "catalog.LoadManifest", err)
		}
		return nil, errs.Wrap(errs.IO, "catalog.LoadManifest", err)
	}
	var m SessionManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errs.Wrap(errs.Parse, "catalog.LoadManifest", err)
	}
	return &m, nil
}

// SaveManifest writes a manifest atomically (temp file + rename).
func SaveManifest(path string, m *SessionManifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errs.Wrap(errs.Invariant, "catalog.SaveManifest", err)
	}
	if err := paths.WriteFileAtomic(path, append(data, '\n')); err != nil {
		return errs.Wrap(errs.IO, "catalog.SaveManifest", err)
	}
	return nil
}

// LoadProjectIndex reads a project's index.json; a missing file yields an
// empty index.
func LoadProjectIndex(path string) (*ProjectIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ProjectIndex{}, nil
		}
		return nil, errs.Wrap(errs.IO, "catalog.LoadProjectIndex", err)
	}
	var idx ProjectIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, errs.Wrap(errs.Parse, "catalog.LoadProjectIndex", err)
	}
	return &idx, nil
}

// SaveProjectIndex writes index.json atomically, skipping the write when the
// serialized bytes are unchanged.
func SaveProjectIndex(path string, idx *ProjectIndex) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return errs.Wrap(errs.Invariant, "catalog.SaveProjectIndex", err)
	}
	data = append(data, '\n')
	if existing, rerr := os.ReadFile(path); rerr == nil && string(existing) == string(data) {
		return nil
	}
	if err := paths.WriteFileAtomic(path, data); err != nil {
		return errs.Wrap(errs.IO, "catalog.SaveProjectIndex", err)
	}
	return nil
}
