package catalog

import (
	"regexp"
	"strings"

	"github.com/jacquesio/jacques/internal/transcript"
)

type techRule struct {
	name    string
	pattern *regexp.Regexp
}

// Fixed detection rules, matched case-insensitively against message text and
// file paths. Word boundaries keep short names ("go", "java") from matching
// inside prose; bare extensions only count in path-like positions.
var techRules = []techRule{
	{"typescript", regexp.MustCompile(`(?i)\btypescript\b|\.tsx?\b`)},
	{"javascript", regexp.MustCompile(`(?i)\bjavascript\b|\.[mc]?js\b`)},
	{"python", regexp.MustCompile(`(?i)\bpython\b|\.py\b`)},
	{"go", regexp.MustCompile(`(?i)\bgolang\b|\.go\b|\bgo\.mod\b`)},
	{"rust", regexp.MustCompile(`(?i)\brust\b|\.rs\b|\bcargo\.toml\b`)},
	{"java", regexp.MustCompile(`(?i)\bjava\b|\.java\b`)},
	{"ruby", regexp.MustCompile(`(?i)\bruby\b|\.rb\b`)},
	{"c++", regexp.MustCompile(`(?i)\bc\+\+\b|\.cpp\b|\.cc\b`)},
	{"swift", regexp.MustCompile(`(?i)\bswift\b|\.swift\b`)},
	{"kotlin", regexp.MustCompile(`(?i)\bkotlin\b|\.kt\b`)},

	{"react", regexp.MustCompile(`(?i)\breact\b`)},
	{"nextjs", regexp.MustCompile(`(?i)\bnext\.?js\b`)},
	{"vue", regexp.MustCompile(`(?i)\bvue\b`)},
	{"svelte", regexp.MustCompile(`(?i)\bsvelte\b`)},
	{"angular", regexp.MustCompile(`(?i)\bangular\b`)},
	{"node", regexp.MustCompile(`(?i)\bnode\.?js\b|\bnpm\b|\bpackage\.json\b`)},
	{"django", regexp.MustCompile(`(?i)\bdjango\b`)},
	{"flask", regexp.MustCompile(`(?i)\bflask\b`)},
	{"fastapi", regexp.MustCompile(`(?i)\bfastapi\b`)},
	{"rails", regexp.MustCompile(`(?i)\brails\b`)},
	{"spring", regexp.MustCompile(`(?i)\bspring boot\b|\bspringframework\b`)},
	{"tailwind", regexp.MustCompile(`(?i)\btailwind(css)?\b`)},
	{"graphql", regexp.MustCompile(`(?i)\bgraphql\b`)},
	{"grpc", regexp.MustCompile(`(?i)\bgrpc\b|\.proto\b`)},

	{"aws", regexp.MustCompile(`(?i)\baws\b|\bdynamodb\b|\bcloudformation\b`)},
	{"gcp", regexp.MustCompile(`(?i)\bgcp\b|\bgoogle cloud\b|\bbigquery\b`)},
	{"azure", regexp.MustCompile(`(?i)\bazure\b`)},
	{"docker", regexp.MustCompile(`(?i)\bdocker\b|\bdockerfile\b`)},
	{"kubernetes", regexp.MustCompile(`(?i)\bkubernetes\b|\bk8s\b|\bkubectl\b`)},
	{"terraform", regexp.MustCompile(`(?i)\bterraform\b|\.tf\b`)},

	{"postgres", regexp.MustCompile(`(?i)\bpostgres(ql)?\b|\bpsql\b`)},
	{"mysql", regexp.MustCompile(`(?i)\bmysql\b`)},
	{"sqlite", regexp.MustCompile(`(?i)\bsqlite3?\b`)},
	{"mongodb", regexp.MustCompile(`(?i)\bmongo(db)?\b`)},
	{"redis", regexp.MustCompile(`(?i)\bredis\b`)},
	{"kafka", regexp.MustCompile(`(?i)\bkafka\b`)},
	{"elasticsearch", regexp.MustCompile(`(?i)\belasticsearch\b`)},

	{"webpack", regexp.MustCompile(`(?i)\bwebpack\b`)},
	{"vite", regexp.MustCompile(`(?i)\bvite\b`)},
	{"prisma", regexp.MustCompile(`(?i)\bprisma\b`)},
	{"jest", regexp.MustCompile(`(?i)\bjest\b`)},
	{"vitest", regexp.MustCompile(`(?i)\bvitest\b`)},
	{"pytest", regexp.MustCompile(`(?i)\bpytest\b`)},
	{"cypress", regexp.MustCompile(`(?i)\bcypress\b`)},
	{"playwright", regexp.MustCompile(`(?i)\bplaywright\b`)},

	{"jwt", regexp.MustCompile(`(?i)\bjwt\b|\bjson web token\b`)},
	{"oauth", regexp.MustCompile(`(?i)\boauth2?\b`)},
	{"websocket", regexp.MustCompile(`(?i)\bwebsockets?\b`)},
	{"rest", regexp.MustCompile(`(?i)\brest(ful)? api\b`)},
}

// Technologies matches the fixed rule set against all entry text and file
// paths of a session. Result order follows the rule table, duplicates
// collapsed.
func Technologies(entries []transcript.Entry) []string {
	var b strings.Builder
	for _, e := range entries {
		switch e.Type {
		case transcript.UserMessage, transcript.AssistantMessage:
			b.WriteString(e.Text)
			b.WriteByte('\n')
		case transcript.ToolCall:
			b.WriteString(e.ToolName)
			b.WriteByte(' ')
			if p := toolFilePath(e); p != "" {
				b.WriteString(p)
			}
			b.WriteByte('\n')
		}
	}
	haystack := b.String()

	var out []string
	for _, rule := range techRules {
		if rule.pattern.MatchString(haystack) {
			out = append(out, rule.name)
		}
	}
	return out
}
