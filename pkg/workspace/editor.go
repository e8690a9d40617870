package workspace

import (
	"fmt"
	"strings"
)

// Selection is an editor selection. Lines and columns are 1-based; lines are
// inclusive.
type Selection struct {
	StartLine int
	StartCol  int
	EndLine   int
	EndCol    int
	Text      string
}

// Empty reports whether the selection carries no text.
func (s Selection) Empty() bool {
	return strings.TrimSpace(s.Text) == ""
}

// Editor is the editor collaborator: the current document, the selection,
// and range replacement. Hosts with a real editor adapt it; the CLI uses the
// headless implementation.
type Editor interface {
	CurrentFile() (path string, ok bool)
	Document(path string) (string, error)
	Selection() (Selection, bool)
	ReplaceRange(path string, startLine, endLine int, text string) error
	ReplaceAll(path, text string) error
	IsDirty(path string) bool
}

// Headless is an in-memory editor over a Filesystem. Edits write through to
// the filesystem immediately; a document is only dirty while a write-through
// has failed and the buffer differs from disk.
type Headless struct {
	fs      Filesystem
	open    map[string]string
	dirty   map[string]bool
	current string
	sel     *Selection
}

// NewHeadless returns an editor with no open documents.
func NewHeadless(fs Filesystem) *Headless {
	return &Headless{
		fs:    fs,
		open:  make(map[string]string),
		dirty: make(map[string]bool),
	}
}

// Open loads a file into the editor and makes it current. The selection is
// cleared; it belonged to the previous document.
func (h *Headless) Open(path string) error {
	content, err := h.fs.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	h.open[path] = content
	h.current = path
	h.sel = nil
	return nil
}

// SetSelection records a selection in the current document.
func (h *Headless) SetSelection(sel Selection) error {
	if h.current == "" {
		return fmt.Errorf("no file open to select in")
	}
	if sel.StartLine < 1 || sel.StartLine > sel.EndLine {
		return fmt.Errorf("selection line range %d-%d is invalid", sel.StartLine, sel.EndLine)
	}
	h.sel = &sel
	return nil
}

// ClearSelection drops the selection.
func (h *Headless) ClearSelection() {
	h.sel = nil
}

// SelectLines selects a line range of the current document, deriving the
// selected text from the buffer.
func (h *Headless) SelectLines(startLine, endLine int) error {
	if h.current == "" {
		return fmt.Errorf("no file open to select in")
	}
	doc := h.open[h.current]
	lines := strings.Split(doc, "\n")
	if startLine < 1 || endLine < startLine || endLine > len(lines) {
		return fmt.Errorf("selection range %d-%d out of bounds (document has %d lines)", startLine, endLine, len(lines))
	}
	text := strings.Join(lines[startLine-1:endLine], "\n")
	h.sel = &Selection{
		StartLine: startLine,
		StartCol:  1,
		EndLine:   endLine,
		EndCol:    len(lines[endLine-1]) + 1,
		Text:      text,
	}
	return nil
}

func (h *Headless) CurrentFile() (string, bool) {
	return h.current, h.current != ""
}

func (h *Headless) Document(path string) (string, error) {
	if content, ok := h.open[path]; ok {
		return content, nil
	}
	content, err := h.fs.ReadFile(path)
	if err != nil {
		return "", err
	}
	return content, nil
}

func (h *Headless) Selection() (Selection, bool) {
	if h.sel == nil {
		return Selection{}, false
	}
	return *h.sel, true
}

// ReplaceRange splices text over the 1-based inclusive line range of the
// document, then writes through to the filesystem.
func (h *Headless) ReplaceRange(path string, startLine, endLine int, text string) error {
	doc, err := h.Document(path)
	if err != nil {
		return fmt.Errorf("failed to load %s for replacement: %w", path, err)
	}

	lines := strings.Split(doc, "\n")
	if startLine < 1 || startLine > endLine || endLine > len(lines) {
		return fmt.Errorf("replacement range %d-%d out of bounds (document has %d lines)", startLine, endLine, len(lines))
	}

	replacement := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	spliced := make([]string, 0, len(lines)-(endLine-startLine+1)+len(replacement))
	spliced = append(spliced, lines[:startLine-1]...)
	spliced = append(spliced, replacement...)
	spliced = append(spliced, lines[endLine:]...)

	return h.commit(path, strings.Join(spliced, "\n"))
}

// ReplaceAll swaps the whole document, then writes through.
func (h *Headless) ReplaceAll(path, text string) error {
	if _, err := h.Document(path); err != nil {
		return fmt.Errorf("failed to load %s for replacement: %w", path, err)
	}
	return h.commit(path, text)
}

func (h *Headless) IsDirty(path string) bool {
	return h.dirty[path]
}

// commit stores the buffer and writes it through. A failed write leaves the
// buffer dirty so the caller sees the divergence.
func (h *Headless) commit(path, content string) error {
	h.open[path] = content
	if err := h.fs.WriteFile(path, content); err != nil {
		h.dirty[path] = true
		return fmt.Errorf("failed to persist %s: %w", path, err)
	}
	h.dirty[path] = false

	// Invalidate a selection that pointed into the replaced document.
	if h.current == path {
		h.sel = nil
	}
	return nil
}

var _ Editor = (*Headless)(nil)
