// Package token estimates token counts for budgeting decisions (context
// truncation, window trimming). The primary counter uses the tiktoken BPE
// vocabularies; a byte-length heuristic is the fallback when a codec is not
// available.
package token

import "github.com/tiktoken-go/tokenizer"

// Counter estimates the token count of a text fragment.
type Counter interface {
	Count(text string) int
}

// CounterFunc adapts a plain function to the Counter interface.
type CounterFunc func(text string) int

// Count implements Counter.
func (f CounterFunc) Count(text string) int { return f(text) }

// NewCounter returns a tiktoken-backed counter, falling back to the heuristic
// when the codec cannot be constructed.
func NewCounter() Counter {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return Heuristic()
	}
	return &tiktokenCounter{codec: codec}
}

type tiktokenCounter struct {
	codec tokenizer.Codec
}

// Count implements Counter using a real BPE encoding pass.
func (c *tiktokenCounter) Count(text string) int {
	ids, _, err := c.codec.Encode(text)
	if err != nil {
		return heuristicCount(text)
	}
	return len(ids)
}

// Heuristic returns the ~4 bytes/token estimator used when no codec is
// available. It intentionally over-counts short non-ASCII text, which errs on
// the safe side for budgets.
func Heuristic() Counter {
	return CounterFunc(heuristicCount)
}

func heuristicCount(text string) int {
	if text == "" {
		return 0
	}
	n := len(text)/4 + 1
	return n
}
