// Package eventlog appends the session transcript as JSONL with daily file
// rotation. Every record is flushed to disk before the write returns, so the
// transcript survives a crash mid-turn.
package eventlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Kind tags what a transcript record describes.
type Kind string

const (
	KindTurn    Kind = "turn"    // one user message entering the pipeline
	KindIntent  Kind = "intent"  // classification outcome
	KindPlan    Kind = "plan"    // plan built or finished
	KindTask    Kind = "task"    // task status transition
	KindStream  Kind = "stream"  // stream session terminal state
	KindApply   Kind = "apply"   // replacement applied or rejected
	KindCommand Kind = "command" // shell command executed
)

// Record is one transcript line.
type Record struct {
	Time    time.Time         `json:"time"`
	Kind    Kind              `json:"kind"`
	Session string            `json:"session,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Writer appends records to daily transcript files under one directory.
// Safe for concurrent use.
type Writer struct {
	mu          sync.Mutex
	logDir      string
	currentFile *os.File
	currentDate string
}

// NewWriter creates the log directory if needed and opens today's transcript.
func NewWriter(logDir string) (*Writer, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	w := &Writer{logDir: logDir}
	if err := w.rotateIfNeeded(); err != nil {
		return nil, fmt.Errorf("failed to open transcript file: %w", err)
	}
	return w, nil
}

// Append writes one record, stamping its time if unset. The line is synced
// to disk before returning.
func (w *Writer) Append(rec Record) error {
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to serialize transcript record: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.rotateIfNeeded(); err != nil {
		return fmt.Errorf("failed to rotate transcript file: %w", err)
	}
	if _, err := w.currentFile.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write transcript record: %w", err)
	}
	if err := w.currentFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync transcript file: %w", err)
	}
	return nil
}

// Event is the common append path: a kind, the owning session, and key=value
// detail pairs in alternating order. An odd trailing key gets an empty value.
func (w *Writer) Event(kind Kind, session string, kv ...string) error {
	rec := Record{Kind: kind, Session: session}
	if len(kv) > 0 {
		rec.Fields = make(map[string]string, (len(kv)+1)/2)
		for i := 0; i < len(kv); i += 2 {
			if i+1 < len(kv) {
				rec.Fields[kv[i]] = kv[i+1]
			} else {
				rec.Fields[kv[i]] = ""
			}
		}
	}
	return w.Append(rec)
}

func (w *Writer) rotateIfNeeded() error {
	date := time.Now().Format("2006-01-02")
	if w.currentFile != nil && w.currentDate == date {
		return nil
	}

	if w.currentFile != nil {
		if err := w.currentFile.Close(); err != nil {
			return fmt.Errorf("failed to close previous transcript: %w", err)
		}
	}

	path := filepath.Join(w.logDir, transcriptName(date))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	w.currentFile = file
	w.currentDate = date
	return nil
}

// CurrentPath returns the path of the transcript currently being written.
func (w *Writer) CurrentPath() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.currentFile == nil {
		return ""
	}
	return filepath.Join(w.logDir, transcriptName(w.currentDate))
}

// Close flushes and closes the current transcript file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.currentFile == nil {
		return nil
	}
	err := w.currentFile.Close()
	w.currentFile = nil
	if err != nil {
		return fmt.Errorf("failed to close transcript file: %w", err)
	}
	return nil
}

func transcriptName(date string) string {
	return fmt.Sprintf("transcript-%s.jsonl", date)
}

// Read parses one transcript file. Lines that fail to parse are skipped;
// a transcript truncated by a crash still yields its intact records.
func Read(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}

	var records []Record
	start := 0
	for i := 0; i <= len(data); i++ {
		if i != len(data) && data[i] != '\n' {
			continue
		}
		line := data[start:i]
		start = i + 1
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// ListFiles returns every transcript file in the directory, oldest first.
func ListFiles(logDir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(logDir, "transcript-*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to list transcripts: %w", err)
	}
	sort.Strings(files)
	return files, nil
}
