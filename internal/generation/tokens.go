package generation

import (
	"fmt"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

const defaultEncoding = "cl100k_base"

// approxBytesPerToken is used when no BPE encoding could be loaded.
const approxBytesPerToken = 4

type encoder interface {
	Encode(text string, allowedSpecial []string, disallowedSpecial []string) []int
	Decode(tokens []int) string
}

// Truncator caps source text at a token budget before it is placed in a prompt.
type Truncator struct {
	enc       encoder
	maxTokens int
}

// NewTruncator loads the cl100k_base encoding. When the encoding cannot be
// loaded it returns a Truncator that estimates tokens from byte length,
// together with the load error for the caller to log.
func NewTruncator(maxTokens int) (*Truncator, error) {
	enc, err := tiktoken.GetEncoding(defaultEncoding)
	if err != nil {
		return &Truncator{maxTokens: maxTokens}, fmt.Errorf("failed to load %s encoding: %w", defaultEncoding, err)
	}
	return &Truncator{enc: enc, maxTokens: maxTokens}, nil
}

// Count returns the token count of text.
func (t *Truncator) Count(text string) int {
	if t.enc == nil {
		return (len(text) + approxBytesPerToken - 1) / approxBytesPerToken
	}
	return len(t.enc.Encode(text, nil, nil))
}

// Truncate returns text cut to the token budget and whether it was cut.
// A non-positive budget disables truncation.
func (t *Truncator) Truncate(text string) (string, bool) {
	if t.maxTokens <= 0 {
		return text, false
	}
	if t.enc == nil {
		limit := t.maxTokens * approxBytesPerToken
		if len(text) <= limit {
			return text, false
		}
		for limit > 0 && !utf8.RuneStart(text[limit]) {
			limit--
		}
		return text[:limit], true
	}

	tokens := t.enc.Encode(text, nil, nil)
	if len(tokens) <= t.maxTokens {
		return text, false
	}
	return t.enc.Decode(tokens[:t.maxTokens]), true
}
