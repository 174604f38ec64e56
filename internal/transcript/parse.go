package transcript

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jacquesio/jacques/internal/errs"
)

// Tool results routinely exceed bufio's default 64 KB token limit.
const (
	scanBufInitial = 64 * 1024
	scanBufMax     = 64 * 1024 * 1024
)

// ParseResult is the outcome of reading one transcript log. Malformed lines
// are counted, never fatal; skip-typed records are already filtered out.
type ParseResult struct {
	Entries     []Entry
	SessionID   string
	ParseErrors int
}

type rawRecord struct {
	Type       string          `json:"type"`
	Subtype    string          `json:"subtype"`
	UUID       string          `json:"uuid"`
	ParentUUID string          `json:"parentUuid"`
	SessionID  string          `json:"sessionId"`
	Timestamp  string          `json:"timestamp"`
	Message    json.RawMessage `json:"message"`
	Data       json.RawMessage `json:"data"`
	Summary    string          `json:"summary"`
	LeafUUID   string          `json:"leafUuid"`
	ToolUseID  string          `json:"toolUseID"`
	CostUSD    float64         `json:"costUSD"`
	DurationMs int64           `json:"durationMs"`
}

type rawMessage struct {
	Role    string          `json:"role"`
	Model   string          `json:"model"`
	Content json.RawMessage `json:"content"`
	Usage   *rawUsage       `json:"usage"`
}

type rawUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
}

type rawBlock struct {
	Type     string          `json:"type"`
	Text     string          `json:"text"`
	Thinking string          `json:"thinking"`
	Name     string          `json:"name"`
	Input    json.RawMessage `json:"input"`
	Content  json.RawMessage `json:"content"`
}

type rawProgressData struct {
	Type        string `json:"type"`
	AgentID     string `json:"agentId"`
	AgentType   string `json:"agentType"`
	Description string `json:"description"`
	Query       string `json:"query"`
	ResultCount int    `json:"resultCount"`
}

// ParseFile reads a whole transcript log. The file is finite and
// append-only; this never follows the tail.
func ParseFile(path string) (*ParseResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.IO, "transcript.ParseFile", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse normalizes newline-delimited JSON records from r. A malformed line
// increments ParseErrors and parsing continues; only a reader failure (line
// over the scan limit, I/O error) returns an error, alongside the partial
// result.
func Parse(r io.Reader) (*ParseResult, error) {
	res := &ParseResult{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, scanBufInitial), scanBufMax)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var raw rawRecord
		if err := json.Unmarshal(line, &raw); err != nil {
			res.ParseErrors++
			continue
		}
		entry := normalize(&raw)
		if entry.Type == Skip {
			continue
		}
		if res.SessionID == "" && entry.SessionID != "" {
			res.SessionID = entry.SessionID
		}
		res.Entries = append(res.Entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return res, errs.Wrap(errs.IO, "transcript.Parse", err)
	}
	return res, nil
}

func normalize(raw *rawRecord) Entry {
	e := Entry{
		Type:       Skip,
		UUID:       raw.UUID,
		ParentUUID: raw.ParentUUID,
		SessionID:  raw.SessionID,
	}
	if raw.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw.Timestamp); err == nil {
			e.Timestamp = t
		}
	}

	switch raw.Type {
	case "user", "queue-operation":
		normalizeUser(raw, &e)
	case "assistant":
		normalizeAssistant(raw, &e)
	case "progress":
		normalizeProgress(raw, &e)
	case "system":
		e.Type = SystemEvent
		e.EventType = raw.Subtype
		e.EventData = raw.Data
		if raw.Subtype == "turn_duration" {
			e.DurationMs = raw.DurationMs
		}
	case "summary":
		if raw.Summary != "" {
			e.Type = Summary
			e.Summary = raw.Summary
			if e.UUID == "" {
				e.UUID = raw.LeafUUID
			}
		}
	case "file-history-snapshot":
		// checkpoint bookkeeping, nothing conversational
	}
	return e
}

func normalizeUser(raw *rawRecord, e *Entry) {
	if len(raw.Message) == 0 {
		return
	}
	var msg rawMessage
	if err := json.Unmarshal(raw.Message, &msg); err != nil {
		return
	}

	// Content is either a bare string or a list of blocks.
	var s string
	if err := json.Unmarshal(msg.Content, &s); err == nil {
		if s == "" {
			return
		}
		e.Type = UserMessage
		e.Text = s
		e.IsInternal = IsInternalUserText(s)
		return
	}

	var blocks []rawBlock
	if err := json.Unmarshal(msg.Content, &blocks); err != nil {
		return
	}
	var texts, results []string
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if b.Text != "" {
				texts = append(texts, b.Text)
			}
		case "tool_result":
			results = append(results, stringifyToolResult(b.Content))
		}
	}
	if len(texts) > 0 {
		e.Type = UserMessage
		e.Text = strings.Join(texts, "\n")
		e.IsInternal = IsInternalUserText(e.Text)
		return
	}
	if len(results) > 0 {
		e.Type = ToolResult
		e.ToolResultContent = strings.Join(results, "\n")
	}
}

func normalizeAssistant(raw *rawRecord, e *Entry) {
	if len(raw.Message) == 0 {
		return
	}
	var msg rawMessage
	if err := json.Unmarshal(raw.Message, &msg); err != nil {
		return
	}
	e.Model = msg.Model
	e.CostUSD = raw.CostUSD
	e.DurationMs = raw.DurationMs
	if msg.Usage != nil {
		e.Usage = &Usage{
			InputTokens:         msg.Usage.InputTokens,
			OutputTokens:        msg.Usage.OutputTokens,
			CacheCreationTokens: msg.Usage.CacheCreationInputTokens,
			CacheReadTokens:     msg.Usage.CacheReadInputTokens,
		}
	}

	var blocks []rawBlock
	if err := json.Unmarshal(msg.Content, &blocks); err != nil {
		// Some emitters write assistant content as a bare string.
		var s string
		if json.Unmarshal(msg.Content, &s) == nil && s != "" {
			e.Type = AssistantMessage
			e.Text = s
		}
		return
	}

	var texts, thinking []string
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if b.Text != "" {
				texts = append(texts, b.Text)
			}
		case "thinking":
			if b.Thinking != "" {
				thinking = append(thinking, b.Thinking)
			}
		case "tool_use":
			// First tool_use wins; block ordering is not meaningful.
			if e.ToolName == "" {
				e.ToolName = b.Name
				e.ToolInput = b.Input
			}
		}
	}
	e.Text = strings.Join(texts, "\n")
	e.Thinking = strings.Join(thinking, "\n")
	switch {
	case e.ToolName != "":
		e.Type = ToolCall
	case e.Text != "" || e.Thinking != "":
		e.Type = AssistantMessage
	}
}

func normalizeProgress(raw *rawRecord, e *Entry) {
	subtype := raw.Subtype
	var data rawProgressData
	if len(raw.Data) > 0 {
		if err := json.Unmarshal(raw.Data, &data); err == nil && subtype == "" {
			subtype = data.Type
		}
	}

	switch subtype {
	case "hook_progress":
		// Belongs to the event pipeline, not the reader.
	case "agent_progress", "bash_progress":
		e.Type = AgentProgress
		e.AgentID = data.AgentID
		if e.AgentID == "" {
			e.AgentID = raw.ToolUseID
		}
		e.AgentType = data.AgentType
		e.AgentDescription = data.Description
	case "mcp_progress", "query_update", "search_results_received":
		e.Type = WebSearch
		e.SearchQuery = data.Query
		e.SearchResultCount = data.ResultCount
	default:
		e.Type = SystemEvent
		e.EventType = subtype
		e.EventData = raw.Data
	}
}

func stringifyToolResult(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []rawBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var texts []string
		for _, b := range blocks {
			if b.Type == "text" && b.Text != "" {
				texts = append(texts, b.Text)
			}
		}
		return strings.Join(texts, "\n")
	}
	return string(raw)
}
