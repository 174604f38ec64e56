package transcript

import (
	"sync"
	"unicode/utf8"

	"github.com/tiktoken-go/tokenizer"
)

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
)

func cl100k() tokenizer.Codec {
	codecOnce.Do(func() {
		if c, err := tokenizer.Get(tokenizer.Cl100kBase); err == nil {
			codec = c
		}
	})
	return codec
}

// CountTokens returns the cl100k_base token count of text. The raw
// output_tokens field in transcript logs is unreliable (often 1-9 regardless
// of content), so estimated counts come from here. When the codec is
// unavailable or encoding fails, the fallback is ceil(runes/4).
func CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if c := cl100k(); c != nil {
		if ids, _, err := c.Encode(text); err == nil {
			return len(ids)
		}
	}
	return (utf8.RuneCountInString(text) + 3) / 4
}
