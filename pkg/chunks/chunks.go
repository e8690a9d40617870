// Package chunks tracks the code fragments attached to the current
// conversation turn. Chunks are numbered in insertion order and rendered
// into prompts as a labeled list, so the model and the extractor share one
// naming scheme for targets.
package chunks

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Chunk is one attached code fragment. Line numbers are 1-based and
// inclusive. Modified is set once a replacement has been applied to the
// chunk; the host renders modified chunks differently.
type Chunk struct {
	ID        string
	FilePath  string
	FileName  string
	StartLine int
	EndLine   int
	Text      string
	Modified  bool
}

// LineCount returns the number of lines the chunk spans.
func (c Chunk) LineCount() int {
	return c.EndLine - c.StartLine + 1
}

// Label returns the chunk's prompt header without its ordinal.
func (c Chunk) Label() string {
	return fmt.Sprintf("%s (Lines %d-%d)", c.FileName, c.StartLine, c.EndLine)
}

// Context is the ordered chunk collection for one turn. It is owned by the
// coordinator loop and is not safe for concurrent use.
type Context struct {
	chunks []Chunk
}

// NewContext returns an empty chunk context.
func NewContext() *Context {
	return &Context{}
}

// New builds a chunk from a file region.
func New(filePath string, startLine, endLine int, text string) (Chunk, error) {
	if filePath == "" {
		return Chunk{}, fmt.Errorf("chunk requires a file path")
	}
	if startLine < 1 {
		return Chunk{}, fmt.Errorf("chunk start line %d is not 1-based", startLine)
	}
	if startLine > endLine {
		return Chunk{}, fmt.Errorf("chunk line range %d-%d is inverted", startLine, endLine)
	}
	return Chunk{
		ID:        uuid.NewString(),
		FilePath:  filePath,
		FileName:  filepath.Base(filePath),
		StartLine: startLine,
		EndLine:   endLine,
		Text:      text,
	}, nil
}

// Add appends a chunk and returns it with its 1-based ordinal. Re-adding a
// chunk with the same file path, line range, and text is a no-op returning
// the existing chunk and ordinal; ordinals never shift once assigned.
func (ctx *Context) Add(chunk Chunk) (Chunk, int) {
	for i := range ctx.chunks {
		existing := &ctx.chunks[i]
		if existing.FilePath == chunk.FilePath &&
			existing.StartLine == chunk.StartLine &&
			existing.EndLine == chunk.EndLine &&
			existing.Text == chunk.Text {
			return *existing, i + 1
		}
	}
	ctx.chunks = append(ctx.chunks, chunk)
	return chunk, len(ctx.chunks)
}

// AddRegion builds and adds a chunk in one step.
func (ctx *Context) AddRegion(filePath string, startLine, endLine int, text string) (Chunk, int, error) {
	chunk, err := New(filePath, startLine, endLine, text)
	if err != nil {
		return Chunk{}, 0, err
	}
	added, ordinal := ctx.Add(chunk)
	return added, ordinal, nil
}

// Get returns the chunk at the given 1-based ordinal.
func (ctx *Context) Get(ordinal int) (Chunk, bool) {
	if ordinal < 1 || ordinal > len(ctx.chunks) {
		return Chunk{}, false
	}
	return ctx.chunks[ordinal-1], true
}

// ByID returns the chunk with the given ID.
func (ctx *Context) ByID(id string) (Chunk, bool) {
	for i := range ctx.chunks {
		if ctx.chunks[i].ID == id {
			return ctx.chunks[i], true
		}
	}
	return Chunk{}, false
}

// ApplyReplacement records a successful replacement: the chunk's text
// becomes the applied text, its end line tracks the new length, and it is
// marked modified. Reports false when no chunk has the ID.
func (ctx *Context) ApplyReplacement(id, text string) bool {
	for i := range ctx.chunks {
		if ctx.chunks[i].ID != id {
			continue
		}
		c := &ctx.chunks[i]
		c.Text = text
		c.EndLine = c.StartLine + strings.Count(strings.TrimSuffix(text, "\n"), "\n")
		c.Modified = true
		return true
	}
	return false
}

// Remove drops the chunk with the given ID. Later chunks shift down one
// ordinal. Reports false when no chunk has the ID.
func (ctx *Context) Remove(id string) bool {
	for i := range ctx.chunks {
		if ctx.chunks[i].ID == id {
			ctx.chunks = append(ctx.chunks[:i], ctx.chunks[i+1:]...)
			return true
		}
	}
	return false
}

// All returns the chunks in insertion order. The slice is a copy; the
// chunks are value snapshots.
func (ctx *Context) All() []Chunk {
	out := make([]Chunk, len(ctx.chunks))
	copy(out, ctx.chunks)
	return out
}

// Len returns the number of attached chunks.
func (ctx *Context) Len() int {
	return len(ctx.chunks)
}

// Clear drops all chunks. The host calls this when a turn starts with fresh
// context.
func (ctx *Context) Clear() {
	ctx.chunks = nil
}

// PromptBlock renders the numbered chunk list for prompt inclusion. An empty
// context renders as an empty string.
func (ctx *Context) PromptBlock() string {
	if len(ctx.chunks) == 0 {
		return ""
	}

	var b strings.Builder
	for i := range ctx.chunks {
		chunk := &ctx.chunks[i]
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Chunk %d: %s (Lines %d-%d)\n", i+1, chunk.FileName, chunk.StartLine, chunk.EndLine)
		b.WriteString("```\n")
		b.WriteString(chunk.Text)
		if !strings.HasSuffix(chunk.Text, "\n") {
			b.WriteString("\n")
		}
		b.WriteString("```\n")
	}
	return b.String()
}
