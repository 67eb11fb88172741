// Package tokens counts model tokens and truncates text to a token budget.
package tokens

import (
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rotisserie/eris"
)

// fallbackEncoding is used when the model has no registered encoding.
const fallbackEncoding = "cl100k_base"

// Encoder counts tokens for a piece of text.
type Encoder interface {
	Count(text string) int
}

// Budget wraps a tokenizer to count tokens and shrink text to a maximum
// token budget.
type Budget struct {
	enc Encoder
}

type tiktokenEncoder struct {
	tkm *tiktoken.Tiktoken
}

func (e *tiktokenEncoder) Count(text string) int {
	return len(e.tkm.Encode(text, nil, nil))
}

// NewBudget creates a Budget using the tokenizer registered for model,
// falling back to cl100k_base for unknown models.
func NewBudget(model string) (*Budget, error) {
	tkm, err := tiktoken.EncodingForModel(model)
	if err != nil {
		tkm, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			return nil, eris.Wrapf(err, "tokens: load encoding for model %s", model)
		}
	}
	return &Budget{enc: &tiktokenEncoder{tkm: tkm}}, nil
}

// NewBudgetWithEncoder creates a Budget over a custom encoder.
func NewBudgetWithEncoder(enc Encoder) *Budget {
	return &Budget{enc: enc}
}

// Count returns the exact token count of text under the active tokenizer.
func (b *Budget) Count(text string) int {
	if text == "" {
		return 0
	}
	return b.enc.Count(text)
}

// Truncate shrinks text until its token count is at most maxTokens. Text
// already within budget is returned unchanged, so Truncate is idempotent.
// Each iteration cuts the text by maxTokens/current with a 10% safety
// margin and re-measures; the length strictly decreases while over budget,
// so the loop terminates. A non-positive budget yields "".
func (b *Budget) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}

	for {
		n := b.Count(text)
		if n <= maxTokens {
			return text
		}

		ratio := float64(maxTokens) / float64(n) * 0.9
		next := int(float64(len(text)) * ratio)
		if next >= len(text) {
			next = len(text) - 1
		}
		if next <= 0 {
			return ""
		}
		text = cutAtRune(text, next)
	}
}

// cutAtRune truncates s to at most n bytes without splitting a rune.
func cutAtRune(s string, n int) string {
	if n >= len(s) {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
