package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFS(t *testing.T) *Local {
	t.Helper()
	fs, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	return fs
}

func TestLocalRejectsEscapes(t *testing.T) {
	fs := newTestFS(t)

	tests := []struct {
		name string
		path string
	}{
		{"parent traversal", "../outside.txt"},
		{"nested traversal", "sub/../../outside.txt"},
		{"absolute path", "/etc/passwd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fs.ReadFile(tt.path)
			assert.Error(t, err)
			err = fs.WriteFile(tt.path, "nope")
			assert.Error(t, err)
		})
	}
}

func TestLocalWriteCreatesParents(t *testing.T) {
	fs := newTestFS(t)

	require.NoError(t, fs.WriteFile("deep/nested/dir/file.txt", "hello"))

	content, err := fs.ReadFile("deep/nested/dir/file.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", content)
	assert.True(t, fs.Exists("deep/nested/dir/file.txt"))
	assert.False(t, fs.Exists("deep/nested/dir/missing.txt"))
}

func TestLocalListDirectorySorted(t *testing.T) {
	fs := newTestFS(t)
	require.NoError(t, fs.WriteFile("b.txt", "b"))
	require.NoError(t, fs.WriteFile("a.txt", "a"))
	require.NoError(t, fs.CreateDirectory("zdir"))

	entries, err := fs.ListDirectory(".")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "a.txt", entries[0].Name)
	assert.Equal(t, "b.txt", entries[1].Name)
	assert.Equal(t, "zdir", entries[2].Name)
	assert.True(t, entries[2].IsDir)
}

func TestNewLocalRequiresDirectory(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "plain.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := NewLocal(file)
	assert.Error(t, err)

	_, err = NewLocal(filepath.Join(dir, "does-not-exist"))
	assert.Error(t, err)
}

func TestHeadlessOpenAndSelect(t *testing.T) {
	fs := newTestFS(t)
	require.NoError(t, fs.WriteFile("main.css", ":root {\n  --bg: #111;\n  --fg: #eee;\n}"))

	ed := NewHeadless(fs)

	_, ok := ed.CurrentFile()
	assert.False(t, ok)
	require.Error(t, ed.SelectLines(1, 2))

	require.NoError(t, ed.Open("main.css"))
	path, ok := ed.CurrentFile()
	require.True(t, ok)
	assert.Equal(t, "main.css", path)

	require.NoError(t, ed.SelectLines(2, 3))
	sel, ok := ed.Selection()
	require.True(t, ok)
	assert.Equal(t, 2, sel.StartLine)
	assert.Equal(t, 3, sel.EndLine)
	assert.Equal(t, "  --bg: #111;\n  --fg: #eee;", sel.Text)

	assert.Error(t, ed.SelectLines(0, 2))
	assert.Error(t, ed.SelectLines(3, 99))
}

func TestHeadlessReplaceRange(t *testing.T) {
	fs := newTestFS(t)
	require.NoError(t, fs.WriteFile("list.txt", "one\ntwo\nthree\nfour"))

	ed := NewHeadless(fs)
	require.NoError(t, ed.Open("list.txt"))

	require.NoError(t, ed.ReplaceRange("list.txt", 2, 3, "TWO\nTWO-AND-A-HALF\nTHREE\n"))

	got, err := ed.Document("list.txt")
	require.NoError(t, err)
	assert.Equal(t, "one\nTWO\nTWO-AND-A-HALF\nTHREE\nfour", got)

	// Write-through: the file on disk matches the buffer.
	onDisk, err := fs.ReadFile("list.txt")
	require.NoError(t, err)
	assert.Equal(t, got, onDisk)
	assert.False(t, ed.IsDirty("list.txt"))
}

func TestHeadlessReplaceRangeBounds(t *testing.T) {
	fs := newTestFS(t)
	require.NoError(t, fs.WriteFile("two.txt", "a\nb"))

	ed := NewHeadless(fs)

	tests := []struct {
		name       string
		start, end int
	}{
		{"zero start", 0, 1},
		{"inverted", 2, 1},
		{"past end", 1, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, ed.ReplaceRange("two.txt", tt.start, tt.end, "x"))
		})
	}
}

func TestHeadlessReplaceAllClearsSelection(t *testing.T) {
	fs := newTestFS(t)
	require.NoError(t, fs.WriteFile("doc.txt", "old line"))

	ed := NewHeadless(fs)
	require.NoError(t, ed.Open("doc.txt"))
	require.NoError(t, ed.SelectLines(1, 1))

	require.NoError(t, ed.ReplaceAll("doc.txt", "brand new"))

	_, ok := ed.Selection()
	assert.False(t, ok, "selection into the replaced document must not survive")

	onDisk, err := fs.ReadFile("doc.txt")
	require.NoError(t, err)
	assert.Equal(t, "brand new", onDisk)
}

type failingFS struct {
	Filesystem
	writeErr error
}

func (f *failingFS) WriteFile(string, string) error { return f.writeErr }

func TestHeadlessDirtyOnFailedWrite(t *testing.T) {
	fs := newTestFS(t)
	require.NoError(t, fs.WriteFile("doc.txt", "content"))

	broken := &failingFS{Filesystem: fs, writeErr: errors.New("disk full")}
	ed := NewHeadless(broken)
	require.NoError(t, ed.Open("doc.txt"))

	err := ed.ReplaceAll("doc.txt", "new content")
	require.Error(t, err)
	assert.True(t, ed.IsDirty("doc.txt"))

	// The buffer kept the edit even though the disk write failed.
	got, docErr := ed.Document("doc.txt")
	require.NoError(t, docErr)
	assert.Equal(t, "new content", got)
}
