package tokens

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCount(t *testing.T) {
	counter, err := NewCounter()
	require.NoError(t, err)

	assert.Equal(t, 0, counter.Count(""))
	assert.Greater(t, counter.Count("hello world, this is a test"), 0)

	// Longer text counts more tokens.
	short := counter.Count("one two three")
	long := counter.Count(strings.Repeat("one two three ", 50))
	assert.Greater(t, long, short)
}

func TestCountFallbackEstimate(t *testing.T) {
	// A nil codec falls back to the 4-chars-per-token estimate.
	var c *Counter
	assert.Equal(t, 5, c.Count(strings.Repeat("a", 20)))
}

func TestFits(t *testing.T) {
	counter, err := NewCounter()
	require.NoError(t, err)

	assert.True(t, counter.Fits("tiny", 100))
	assert.False(t, counter.Fits(strings.Repeat("overflow ", 200), 10))
}

func TestTruncate(t *testing.T) {
	counter, err := NewCounter()
	require.NoError(t, err)

	text := strings.Repeat("the quick brown fox jumps over the lazy dog ", 100)

	kept := counter.Truncate(text, 100000)
	assert.Equal(t, text, kept, "text under the limit passes through")

	cut := counter.Truncate(text, 50)
	assert.Less(t, len(cut), len(text))
	assert.True(t, strings.HasSuffix(cut, "..."))
	assert.LessOrEqual(t, counter.Count(cut), 60, "truncated text lands near the limit")

	assert.Equal(t, "", counter.Truncate(text, 0))
}

func TestTruncateChars(t *testing.T) {
	assert.Equal(t, "hello", TruncateChars("hello", 10))
	assert.Equal(t, "he...", TruncateChars("hello", 2))
	assert.Equal(t, "", TruncateChars("hello", 0))

	// Multi-byte runes are not split.
	s := "héllo wörld"
	cut := TruncateChars(s, 2)
	assert.True(t, strings.HasPrefix(cut, "h"))
	assert.True(t, strings.HasSuffix(cut, "..."))
}
