// Package tokens provides token counting and budget truncation for prompt
// assembly. Local models use assorted tokenizers; cl100k counts are close
// enough for budgeting across all of them.
package tokens

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"
)

// Counter counts tokens with a character-based fallback when the codec is
// unavailable.
type Counter struct {
	codec tokenizer.Codec
}

// NewCounter returns a counter backed by the cl100k encoding.
func NewCounter() (*Counter, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, fmt.Errorf("failed to load cl100k tokenizer: %w", err)
	}
	return &Counter{codec: codec}, nil
}

// Count returns the number of tokens in text, estimating at 4 chars per
// token when the codec cannot encode it.
func (c *Counter) Count(text string) int {
	if c == nil || c.codec == nil {
		return estimate(text)
	}
	count, err := c.codec.Count(text)
	if err != nil {
		return estimate(text)
	}
	return count
}

// Fits reports whether text is within the given token limit.
func (c *Counter) Fits(text string, limit int) bool {
	return c.Count(text) <= limit
}

// Truncate cuts text to approximately fit the token limit. The cut is
// proportional by characters with a safety margin, so the result may land
// slightly under the limit but never meaningfully over it.
func (c *Counter) Truncate(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	current := c.Count(text)
	if current <= limit {
		return text
	}

	ratio := float64(limit) / float64(current)
	charLimit := int(float64(len(text)) * ratio * 0.9)
	if charLimit <= 0 {
		charLimit = 1
	}
	if charLimit >= len(text) {
		return text
	}

	// Avoid splitting a multi-byte rune.
	for charLimit > 0 && text[charLimit]&0xC0 == 0x80 {
		charLimit--
	}
	return text[:charLimit] + "..."
}

// TruncateChars cuts text to a hard character limit, rune-safe, appending an
// ellipsis when anything was removed.
func TruncateChars(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && text[cut]&0xC0 == 0x80 {
		cut--
	}
	return text[:cut] + "..."
}

func estimate(text string) int {
	return len(text) / 4
}
