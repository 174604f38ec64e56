package plans

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/jacquesio/jacques/internal/transcript"
)

// Trigger phrases that mark an embedded plan in a user message. Matched
// case-insensitively at any position.
var triggers = []string{
	"implement the following plan:",
	"here is the plan:",
	"follow this plan:",
}

// Embedded plan content below this length is rejected as noise.
const minPlanLength = 100

var (
	topHeading  = regexp.MustCompile(`(?m)^#\s`)
	headingLine = regexp.MustCompile(`(?m)^#\s+(.+)$`)
	listLine    = regexp.MustCompile(`(?m)^\s*(?:[-*+]|\d+\.)\s`)
)

var codeExtensions = map[string]bool{
	".ts": true, ".tsx": true, ".js": true, ".jsx": true, ".mjs": true,
	".cjs": true, ".py": true, ".go": true, ".rs": true, ".java": true,
	".rb": true, ".c": true, ".cc": true, ".cpp": true, ".h": true,
	".hpp": true, ".cs": true, ".swift": true, ".kt": true, ".sh": true,
}

var codeOpeners = map[string]bool{
	"import": true, "export": true, "const": true, "function": true,
	"class": true, "interface": true, "type": true,
}

// Detect scans parsed entries for plan references from all three sources.
// Multiple agent-progress records for the same agent collapse to one
// reference.
func Detect(entries []transcript.Entry) []Reference {
	var refs []Reference
	seenAgents := make(map[string]bool)

	for i, e := range entries {
		switch e.Type {
		case transcript.UserMessage:
			if e.IsInternal {
				continue
			}
			refs = append(refs, detectEmbedded(i, e.Text)...)
		case transcript.ToolCall:
			if r := detectWritten(i, e); r != nil {
				refs = append(refs, *r)
			}
		case transcript.AgentProgress:
			if e.AgentType != "Plan" || e.AgentID == "" || seenAgents[e.AgentID] {
				continue
			}
			seenAgents[e.AgentID] = true
			title := e.AgentDescription
			if title == "" {
				title = "Plan agent"
			}
			refs = append(refs, Reference{
				Title:        ExtractTitle(title),
				Source:       SourceAgent,
				MessageIndex: i,
				AgentID:      e.AgentID,
			})
		}
	}
	return refs
}

// HasTrigger reports whether text contains an embedded-plan trigger phrase.
func HasTrigger(text string) bool {
	lower := strings.ToLower(text)
	for _, trig := range triggers {
		if strings.Contains(lower, trig) {
			return true
		}
	}
	return false
}

func detectEmbedded(idx int, text string) []Reference {
	lower := strings.ToLower(text)
	pos, trigLen := -1, 0
	for _, trig := range triggers {
		if p := strings.Index(lower, trig); p >= 0 && (pos == -1 || p < pos) {
			pos, trigLen = p, len(trig)
		}
	}
	if pos < 0 {
		return nil
	}
	content := strings.TrimSpace(text[pos+trigLen:])
	if len(content) < minPlanLength || !strings.Contains(content, "#") {
		return nil
	}

	var refs []Reference
	for _, piece := range splitTopLevel(content) {
		if len(piece) < minPlanLength {
			continue
		}
		refs = append(refs, Reference{
			Title:        ExtractTitle(piece),
			Source:       SourceEmbedded,
			MessageIndex: idx,
			Content:      piece,
		})
	}
	return refs
}

func detectWritten(idx int, e transcript.Entry) *Reference {
	if e.ToolName != "Write" || len(e.ToolInput) == 0 {
		return nil
	}
	var input struct {
		FilePath string `json:"file_path"`
		Content  string `json:"content"`
	}
	if err := json.Unmarshal(e.ToolInput, &input); err != nil {
		return nil
	}
	if !looksLikePlanPath(input.FilePath) || !looksLikeMarkdownPlan(input.Content) {
		return nil
	}
	return &Reference{
		Title:        ExtractTitle(input.Content),
		Source:       SourceWrite,
		MessageIndex: idx,
		FilePath:     input.FilePath,
		Content:      input.Content,
	}
}

func looksLikePlanPath(path string) bool {
	if path == "" {
		return false
	}
	lower := strings.ToLower(path)
	if dot := strings.LastIndex(lower, "."); dot >= 0 {
		if codeExtensions[lower[dot:]] {
			return false
		}
	}
	return strings.HasSuffix(lower, ".md") || strings.Contains(lower, "plan")
}

func looksLikeMarkdownPlan(content string) bool {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return false
	}
	fields := strings.Fields(trimmed)
	if len(fields) > 0 && codeOpeners[strings.ToLower(strings.Trim(fields[0], "({"))] {
		return false
	}
	if !headingLine.MatchString(content) {
		return false
	}
	return listLine.MatchString(content) || strings.Contains(content, "\n\n")
}

// splitTopLevel breaks content with multiple top-level headings into one
// piece per heading. With zero or one heading the content stays whole.
func splitTopLevel(content string) []string {
	locs := topHeading.FindAllStringIndex(content, -1)
	if len(locs) <= 1 {
		return []string{content}
	}
	pieces := make([]string, 0, len(locs))
	for i, loc := range locs {
		end := len(content)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		if piece := strings.TrimSpace(content[loc[0]:end]); piece != "" {
			pieces = append(pieces, piece)
		}
	}
	return pieces
}

// ExtractTitle pulls a display title from plan content: the first heading
// line (with any "Plan:" prefix stripped), else the first non-empty line.
// Titles cap at 80 runes.
func ExtractTitle(content string) string {
	if m := headingLine.FindStringSubmatch(content); m != nil {
		title := strings.TrimSpace(m[1])
		for _, pre := range []string{"Plan:", "plan:"} {
			title = strings.TrimSpace(strings.TrimPrefix(title, pre))
		}
		if title != "" {
			return truncateTitle(title)
		}
	}
	for _, line := range strings.Split(content, "\n") {
		if s := strings.TrimSpace(strings.TrimLeft(line, "# ")); s != "" {
			return truncateTitle(s)
		}
	}
	return "Untitled Plan"
}

func truncateTitle(s string) string {
	if utf8.RuneCountInString(s) <= 80 {
		return s
	}
	return string([]rune(s)[:80]) + "…"
}

// Body returns content with its first heading line removed.
func Body(content string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			rest := make([]string, 0, len(lines)-1)
			rest = append(rest, lines[:i]...)
			rest = append(rest, lines[i+1:]...)
			return strings.TrimSpace(strings.Join(rest, "\n"))
		}
	}
	return strings.TrimSpace(content)
}
