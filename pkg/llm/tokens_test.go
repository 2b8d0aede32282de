package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenCounter(t *testing.T) {
	c := NewTokenCounter()

	short := c.Count("hello")
	long := c.Count("hello world, this is a longer sentence about knowledge graphs")
	assert.Greater(t, short, 0)
	assert.Greater(t, long, short)

	assert.Equal(t, 0, c.CountAll(nil))
	assert.Equal(t, c.Count("a")+c.Count("bb"), c.CountAll([]string{"a", "bb"}))
}

func TestTokenCounterFallback(t *testing.T) {
	// Force the heuristic path by skipping encoder initialization
	c := &TokenCounter{}
	c.once.Do(func() {})

	assert.Equal(t, 1, c.Count(""))
	assert.Equal(t, 3, c.Count("12345678"))
}
