// Package workspace defines the collaborator interfaces the dispatcher
// mutates the project through: the filesystem and the editor surface. Both
// report success explicitly; the dispatcher never assumes a write landed.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Entry is one directory listing item.
type Entry struct {
	Name  string
	IsDir bool
}

// Filesystem is the file collaborator. Paths are relative to the project
// root; implementations must reject escapes above it.
type Filesystem interface {
	ReadFile(path string) (string, error)
	WriteFile(path, content string) error
	Exists(path string) bool
	CreateDirectory(path string) error
	ListDirectory(path string) ([]Entry, error)
}

// Local implements Filesystem over the OS filesystem, rooted at a project
// directory.
type Local struct {
	root string
}

// NewLocal returns a filesystem rooted at root.
func NewLocal(root string) (*Local, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root %q: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace root %q not accessible: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root %q is not a directory", root)
	}
	return &Local{root: abs}, nil
}

// Root returns the absolute workspace root.
func (l *Local) Root() string {
	return l.root
}

// resolve turns a workspace-relative path into an absolute one, rejecting
// anything that climbs above the root.
func (l *Local) resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path")
	}
	cleaned := filepath.Clean(filepath.Join(l.root, path))
	if cleaned != l.root && !strings.HasPrefix(cleaned, l.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the workspace root", path)
	}
	return cleaned, nil
}

func (l *Local) ReadFile(path string) (string, error) {
	abs, err := l.resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}

// WriteFile writes content, creating parent directories as needed.
func (l *Local) WriteFile(path, content string) error {
	abs, err := l.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return fmt.Errorf("failed to create parent directory for %s: %w", path, err)
	}
	if err := os.WriteFile(abs, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func (l *Local) Exists(path string) bool {
	abs, err := l.resolve(path)
	if err != nil {
		return false
	}
	_, err = os.Stat(abs)
	return err == nil
}

func (l *Local) CreateDirectory(path string) error {
	abs, err := l.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}

func (l *Local) ListDirectory(path string) ([]Entry, error) {
	abs, err := l.resolve(path)
	if err != nil {
		return nil, err
	}
	dirEntries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", path, err)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		entries = append(entries, Entry{Name: de.Name(), IsDir: de.IsDir()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

var _ Filesystem = (*Local)(nil)
