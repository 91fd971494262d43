// Package tokens estimates token costs for conversation text.
//
// Counts are approximations used for window budgeting, not exact
// tokenizer output. An Encoder can be plugged in when an exact
// tokenizer is available; otherwise a deterministic heuristic runs.
package tokens

import (
	"math"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Encoder turns text into token ids. Only the number of ids is used.
type Encoder interface {
	Encode(text string) ([]int, error)
}

// messageOverhead covers role and framing tokens that a flat text
// count misses.
const messageOverhead = 10

// wordMultiplier leans high relative to typical BPE output so budget
// checks never undercount.
const wordMultiplier = 2.2

// longWordLength is the rune length above which a word likely splits
// into multiple tokens.
const longWordLength = 6

// Estimator converts text into approximate token counts.
type Estimator struct {
	encoder Encoder
}

// NewEstimator returns an estimator backed by the built-in heuristic.
func NewEstimator() *Estimator {
	return &Estimator{}
}

// NewEstimatorWithEncoder returns an estimator that prefers enc and
// falls back to the heuristic when enc fails. A nil enc is valid.
func NewEstimatorWithEncoder(enc Encoder) *Estimator {
	return &Estimator{encoder: enc}
}

// Count returns the approximate token count for text. Empty text
// counts as zero; any other text counts as at least one token.
func (e *Estimator) Count(text string) int {
	if text == "" {
		return 0
	}
	if e.encoder != nil {
		if ids, err := e.encoder.Encode(text); err == nil {
			return len(ids)
		}
		// Encoder failure is not fatal, the heuristic still answers.
	}
	return heuristic(text)
}

// CountMessage returns the token cost of a full chat message,
// including the fixed per-message framing overhead.
func (e *Estimator) CountMessage(role, content string) int {
	return e.Count(content) + messageOverhead
}

// heuristic estimates tokens from text shape alone: a per-word base
// rate plus surcharges for punctuation density, long words, and very
// long payloads.
func heuristic(text string) int {
	words := strings.Fields(text)
	estimate := int(math.Round(float64(len(words)) * wordMultiplier))

	special := 0
	for _, r := range text {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r) {
			special++
		}
	}
	estimate += special / 2

	for _, w := range words {
		if utf8.RuneCountInString(w) > longWordLength {
			estimate++
		}
	}

	if n := utf8.RuneCountInString(text); n > 1000 {
		estimate += n / 40
	}

	if estimate < 1 {
		estimate = 1
	}
	return estimate
}
