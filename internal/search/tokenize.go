package search

import (
	"regexp"
	"strings"
)

const (
	minTokenLen = 2
	maxTokenLen = 50
)

var nonWordRun = regexp.MustCompile(`\W+`)

// Path-ish strings tokenize on their separators too, so auth/login_form.ts
// yields auth, login, form, ts.
var pathSeps = strings.NewReplacer("/", " ", "\\", " ", "_", " ", "-", " ", ".", " ")

// stopWords is frozen. Changing it silently invalidates every index built
// before the change, so additions require a reindex migration.
var stopWords = map[string]struct{}{}

func init() {
	const frozen = "the and for are but not you all can was " +
		"to of in on at is it as an be by or do we " +
		"had has have been were they their them this that these those " +
		"with will would should could from into about after before when " +
		"while then than what which who how why where there here some " +
		"any each just very much more most also only such too"
	for _, w := range strings.Fields(frozen) {
		stopWords[w] = struct{}{}
	}
}

// Tokenize lowercases text and splits it on runs of non-word characters.
// Tokens shorter than 2, longer than 50, all-digit, or in the stop-word set
// are dropped.
func Tokenize(text string) []string {
	var out []string
	for _, tok := range nonWordRun.Split(strings.ToLower(text), -1) {
		if validToken(tok) {
			out = append(out, tok)
		}
	}
	return out
}

func validToken(tok string) bool {
	if len(tok) < minTokenLen || len(tok) > maxTokenLen {
		return false
	}
	if _, stop := stopWords[tok]; stop {
		return false
	}
	allDigits := true
	for _, r := range tok {
		if r < '0' || r > '9' {
			allDigits = false
			break
		}
	}
	return !allDigits
}

func pathTokens(s string) []string {
	return Tokenize(pathSeps.Replace(s))
}
