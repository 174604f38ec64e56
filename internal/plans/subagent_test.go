package plans

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jacquesio/jacques/internal/transcript"
)

func TestLastSubstantialAssistant(t *testing.T) {
	long := "# Plan\n\n" + strings.Repeat("do the thing properly. ", 8)
	entries := []transcript.Entry{
		{Type: transcript.AssistantMessage, Text: long},
		{Type: transcript.AssistantMessage, Text: strings.Repeat("no heading here at all. ", 8)},
		{Type: transcript.AssistantMessage, Text: "# short"},
		{Type: transcript.UserMessage, Text: "thanks"},
	}
	if got := LastSubstantialAssistant(entries); got != long {
		t.Errorf("got %.40q, want the heading-bearing long message", got)
	}
}

func TestLastSubstantialAssistantNone(t *testing.T) {
	entries := []transcript.Entry{
		{Type: transcript.AssistantMessage, Text: "ok"},
	}
	if got := LastSubstantialAssistant(entries); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}

func TestFromAgentTranscript(t *testing.T) {
	long := "# Auth Plan\n\n" + strings.Repeat("validate tokens on every route. ", 6)
	line := `{"type":"assistant","uuid":"a1","sessionId":"ag1","message":{"role":"assistant","content":[{"type":"text","text":` + jsonString(long) + `}]}}`
	path := filepath.Join(t.TempDir(), "agent-ag1.jsonl")
	if err := os.WriteFile(path, []byte(line+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := FromAgentTranscript(path)
	if err != nil {
		t.Fatalf("FromAgentTranscript: %v", err)
	}
	if got != long {
		t.Errorf("got %.40q", got)
	}
}

func jsonString(s string) string {
	out := strings.ReplaceAll(s, `\`, `\\`)
	out = strings.ReplaceAll(out, `"`, `\"`)
	out = strings.ReplaceAll(out, "\n", `\n`)
	return `"` + out + `"`
}
