package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
		hasError bool
	}{
		{"debug", LevelDebug, false},
		{"DEBUG", LevelDebug, false},
		{"info", LevelInfo, false},
		{"", LevelInfo, false},
		{"warn", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"loud", LevelInfo, true},
	}

	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			level, err := ParseLevel(test.input)
			if test.hasError && err == nil {
				t.Error("expected error, got nil")
			}
			if !test.hasError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if level != test.expected {
				t.Errorf("expected level %v, got %v", test.expected, level)
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("JSON"); err != nil || f != FormatJSON {
		t.Errorf("expected json format, got %v (%v)", f, err)
	}
	if f, err := ParseFormat(""); err != nil || f != FormatText {
		t.Errorf("expected text format, got %v (%v)", f, err)
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestJSONOutputCarriesComponent(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&Config{Level: LevelInfo, Format: FormatJSON, Component: "scriptor", Writer: &buf})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	l.Debug("hidden")
	l.WithComponent("engine").Info("Recording...", "events", 3)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
	}

	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if rec["msg"] != "Recording..." {
		t.Errorf("unexpected msg %v", rec["msg"])
	}
	if rec["events"] != float64(3) {
		t.Errorf("unexpected events %v", rec["events"])
	}
	if _, ok := rec["time"]; !ok {
		t.Error("records must be timestamped")
	}
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "scriptor.log")
	l, err := New(&Config{Level: LevelInfo, Output: "file", FilePath: path, MaxSizeMB: 1, MaxBackups: 2})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	l.Info("hello file")
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "hello file") {
		t.Errorf("log file missing record: %q", data)
	}
}

func TestRotatorRotatesAndPrunes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scriptor.log")

	r, err := NewFileRotator(path, 100, 2, true)
	if err != nil {
		t.Fatalf("NewFileRotator failed: %v", err)
	}
	defer r.Close()

	line := []byte(strings.Repeat("x", 60) + "\n")
	for i := 0; i < 6; i++ {
		if _, err := r.Write(line); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	backups, err := r.Backups()
	if err != nil {
		t.Fatalf("Backups failed: %v", err)
	}
	if len(backups) != 2 {
		t.Fatalf("expected 2 backups after pruning, got %d: %v", len(backups), backups)
	}
	for _, b := range backups {
		if !strings.HasSuffix(b, ".gz") {
			t.Errorf("expected compressed backup, got %s", b)
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat current log: %v", err)
	}
	if info.Size() != int64(len(line)) {
		t.Errorf("expected current log to hold one line, got %d bytes", info.Size())
	}
}

func TestGuardRecoversPanic(t *testing.T) {
	var buf bytes.Buffer
	l, _ := New(&Config{Level: LevelInfo, Writer: &buf})
	crashDir := t.TempDir()

	err := Guard(l.Logger, crashDir, "playback", func() error {
		var m map[string]int
		m["boom"] = 1
		return nil
	})

	var pe *PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PanicError, got %v", err)
	}
	if pe.Task != "playback" {
		t.Errorf("unexpected task %q", pe.Task)
	}
	if pe.Report == "" {
		t.Fatal("expected a crash report path")
	}

	data, err := os.ReadFile(pe.Report)
	if err != nil {
		t.Fatalf("read crash report: %v", err)
	}
	var report CrashReport
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("invalid crash report: %v", err)
	}
	if !strings.Contains(report.Stack, "TestGuardRecoversPanic") {
		t.Error("crash report should include the stack")
	}
	if !strings.Contains(buf.String(), "task panicked") {
		t.Error("panic should be logged")
	}
}

func TestGuardPassesThrough(t *testing.T) {
	l, _ := New(&Config{Writer: &bytes.Buffer{}})
	want := errors.New("plain failure")
	if err := Guard(l.Logger, "", "listen", func() error { return want }); !errors.Is(err, want) {
		t.Errorf("expected %v, got %v", want, err)
	}
}
