package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter estimates token counts for rate limiting. Estimates only;
// exactness is not required anywhere these numbers are used.
type TokenCounter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewTokenCounter creates a counter using the cl100k_base encoding,
// falling back to a bytes/4 heuristic when the encoding cannot be loaded.
func NewTokenCounter() *TokenCounter {
	return &TokenCounter{}
}

// Count returns the estimated token count of text
func (t *TokenCounter) Count(text string) int {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
		if err == nil {
			t.enc = enc
		}
	})
	if t.enc != nil {
		return len(t.enc.Encode(text, nil, nil))
	}
	// Rough heuristic: one token per four bytes
	return len(text)/4 + 1
}

// CountAll sums the estimates over texts
func (t *TokenCounter) CountAll(texts []string) int {
	total := 0
	for _, s := range texts {
		total += t.Count(s)
	}
	return total
}
