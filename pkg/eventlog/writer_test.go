package eventlog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestNewWriter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")

	w, err := NewWriter(dir)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()

	current := w.CurrentFile()
	if current == "" {
		t.Fatal("no current log file")
	}
	if _, err := os.Stat(current); err != nil {
		t.Errorf("current log file missing: %v", err)
	}
}

func TestWriteAndRead(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	w, err := newWriter(dir, func() time.Time { return at })
	if err != nil {
		t.Fatalf("newWriter: %v", err)
	}

	in := []Event{
		{Session: "s1", Kind: KindQuestion, Phase: "intro", QuestionID: "q1", Text: "What?"},
		{Session: "s1", Kind: KindAnswer, Phase: "intro", QuestionID: "q1", Text: "This\nand that"},
		{Session: "s1", Kind: KindAdvance, Phase: "next"},
	}
	for _, ev := range in {
		if err := w.Write(ev); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, err := ReadEvents(filepath.Join(dir, "events-2024-05-01.jsonl"))
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	for i := range in {
		in[i].Time = at
	}
	if diff := cmp.Diff(in, got); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestRotationAndSessionEvents(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2024, 5, 1, 23, 59, 0, 0, time.UTC)
	w, err := newWriter(dir, func() time.Time { return at })
	if err != nil {
		t.Fatalf("newWriter: %v", err)
	}
	defer w.Close()

	mustWrite := func(ev Event) {
		t.Helper()
		if err := w.Write(ev); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	mustWrite(Event{Session: "a", Kind: KindAnswer, Text: "one"})
	mustWrite(Event{Session: "b", Kind: KindAnswer, Text: "other"})
	at = at.Add(2 * time.Minute)
	mustWrite(Event{Session: "a", Kind: KindAnswer, Text: "two"})

	files, err := ListLogFiles(dir)
	if err != nil {
		t.Fatalf("ListLogFiles: %v", err)
	}
	want := []string{
		filepath.Join(dir, "events-2024-05-01.jsonl"),
		filepath.Join(dir, "events-2024-05-02.jsonl"),
	}
	if diff := cmp.Diff(want, files); diff != "" {
		t.Errorf("files mismatch (-want +got):\n%s", diff)
	}
	if got := w.CurrentFile(); got != want[1] {
		t.Errorf("CurrentFile = %q, want %q", got, want[1])
	}

	events, err := SessionEvents(dir, "a")
	if err != nil {
		t.Fatalf("SessionEvents: %v", err)
	}
	var texts []string
	for _, ev := range events {
		texts = append(texts, ev.Text)
	}
	if diff := cmp.Diff([]string{"one", "two"}, texts); diff != "" {
		t.Errorf("session a mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteAfterClose(t *testing.T) {
	w, err := NewWriter(t.TempDir())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := w.Write(Event{Session: "s", Kind: KindReset}); err == nil {
		t.Error("Write after Close succeeded")
	}
	if w.CurrentFile() != "" {
		t.Error("CurrentFile after Close should be empty")
	}
}

func TestReadEventsBadLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events-2024-01-01.jsonl")
	if err := os.WriteFile(path, []byte("{\"session\":\"s\"}\n\nnot json\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadEvents(path); err == nil {
		t.Error("expected a parse error")
	}
}
