package tokenizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestByteEstimate(t *testing.T) {
	e := ByteEstimate{}
	assert.Zero(t, e.Count(""))
	assert.GreaterOrEqual(t, e.Count("a"), 1)

	// Four bytes per token plus a 20% margin.
	n := e.Count(strings.Repeat("a", 400))
	assert.Equal(t, 120, n)

	// Longer text never counts fewer tokens.
	assert.GreaterOrEqual(t, e.Count(strings.Repeat("a", 800)), n)
}

func TestForModelFallsBack(t *testing.T) {
	// Unknown models still produce a usable counter.
	c := ForModel("definitely-not-a-model")
	assert.Greater(t, c.Count("hello world"), 0)
}

func TestForModelKnownEncoding(t *testing.T) {
	c := ForModel("gpt-4o-mini")
	got := c.Count("hello world, this is a token counting test")
	assert.Greater(t, got, 0)
	assert.Less(t, got, 20)
	assert.Zero(t, c.Count(""))
}
