// Package eventlog keeps a JSONL transcript of interview events, one file per day.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"
)

// Kind names what happened.
type Kind string

// Event kinds.
const (
	KindQuestion Kind = "question"
	KindAnswer   Kind = "answer"
	KindAdvance  Kind = "advance"
	KindReset    Kind = "reset"
	KindDocument Kind = "document"
)

// Event is one transcript line.
type Event struct {
	Time       time.Time `json:"time"`
	Session    string    `json:"session"`
	Kind       Kind      `json:"kind"`
	Phase      string    `json:"phase,omitempty"`
	QuestionID string    `json:"question_id,omitempty"`
	Text       string    `json:"text,omitempty"`
}

// Writer appends events to events-YYYY-MM-DD.jsonl under a directory,
// switching files when the date changes.
type Writer struct {
	logDir      string
	currentFile *os.File
	currentDate string
	now         func() time.Time
	mu          sync.Mutex
}

// NewWriter creates logDir if needed and opens today's file.
func NewWriter(logDir string) (*Writer, error) {
	return newWriter(logDir, time.Now)
}

func newWriter(logDir string, now func() time.Time) (*Writer, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	w := &Writer{logDir: logDir, now: now}
	if err := w.rotateIfNeeded(); err != nil {
		return nil, fmt.Errorf("failed to initialize log file: %w", err)
	}
	return w, nil
}

// Write appends ev as one JSON line. A zero Time is set to now.
func (w *Writer) Write(ev Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentFile == nil {
		return fmt.Errorf("event log is closed")
	}
	if err := w.rotateIfNeeded(); err != nil {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}
	if ev.Time.IsZero() {
		ev.Time = w.now()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.currentFile.Write(data); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return w.currentFile.Sync()
}

func (w *Writer) rotateIfNeeded() error {
	date := w.now().Format("2006-01-02")
	if w.currentFile != nil && w.currentDate == date {
		return nil
	}
	if w.currentFile != nil {
		if err := w.currentFile.Close(); err != nil {
			return fmt.Errorf("failed to close current log file: %w", err)
		}
	}

	path := filepath.Join(w.logDir, fileName(date))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	w.currentFile = file
	w.currentDate = date
	return nil
}

// Close closes the current file. Later writes fail.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentFile == nil {
		return nil
	}
	err := w.currentFile.Close()
	w.currentFile = nil
	if err != nil {
		return fmt.Errorf("failed to close event log file: %w", err)
	}
	return nil
}

// CurrentFile returns the path being written, or "" after Close.
func (w *Writer) CurrentFile() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentFile == nil {
		return ""
	}
	return filepath.Join(w.logDir, fileName(w.currentDate))
}

func fileName(date string) string {
	return fmt.Sprintf("events-%s.jsonl", date)
}

// ReadEvents parses one log file. Blank lines are skipped.
func ReadEvents(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for line := 1; scanner.Scan(); line++ {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			return nil, fmt.Errorf("%s:%d: failed to parse event: %w", path, line, err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}
	return events, nil
}

// ListLogFiles returns the log files in logDir, oldest first.
func ListLogFiles(logDir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(logDir, "events-*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to list log files: %w", err)
	}
	slices.Sort(files)
	return files, nil
}

// SessionEvents returns every event for session across all files in logDir,
// in the order they were written.
func SessionEvents(logDir, session string) ([]Event, error) {
	files, err := ListLogFiles(logDir)
	if err != nil {
		return nil, err
	}
	var out []Event
	for _, f := range files {
		events, err := ReadEvents(f)
		if err != nil {
			return nil, err
		}
		for _, ev := range events {
			if ev.Session == session {
				out = append(out, ev)
			}
		}
	}
	return out, nil
}
