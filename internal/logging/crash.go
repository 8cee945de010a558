package logging

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"time"
)

// CrashReport is written when a guarded goroutine panics.
type CrashReport struct {
	Timestamp  time.Time `json:"timestamp"`
	Task       string    `json:"task"`
	GOOS       string    `json:"goos"`
	GOARCH     string    `json:"goarch"`
	Goroutines int       `json:"goroutines"`
	Panic      string    `json:"panic"`
	Stack      string    `json:"stack"`
}

// PanicError is returned by Guard when fn panicked.
type PanicError struct {
	Task   string
	Value  any
	Report string // path of the crash report, "" if none was written
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%s panicked: %v", e.Task, e.Value)
}

// DefaultCrashDir returns the directory crash reports are written to.
func DefaultCrashDir() string {
	return filepath.Join(filepath.Dir(DefaultLogPath()), "crashes")
}

// Guard runs fn and turns a panic into a *PanicError, logging the stack and
// writing a crash report to crashDir when it is not empty. Long-running
// daemon tasks run under Guard so a bug in one does not take down the rest.
func Guard(log *slog.Logger, crashDir, task string, fn func() error) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		report := CrashReport{
			Timestamp:  time.Now().UTC(),
			Task:       task,
			GOOS:       runtime.GOOS,
			GOARCH:     runtime.GOARCH,
			Goroutines: runtime.NumGoroutine(),
			Panic:      fmt.Sprint(r),
			Stack:      string(debug.Stack()),
		}
		pe := &PanicError{Task: task, Value: r}
		if crashDir != "" {
			path, werr := writeCrashReport(crashDir, report)
			if werr != nil {
				log.Error("write crash report", "error", werr)
			}
			pe.Report = path
		}
		log.Error("task panicked", "task", task, "panic", report.Panic, "stack", report.Stack, "report", pe.Report)
		err = pe
	}()
	return fn()
}

func writeCrashReport(dir string, report CrashReport) (string, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("create crash directory: %w", err)
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal crash report: %w", err)
	}
	name := fmt.Sprintf("crash-%s-%s.json", report.Task, report.Timestamp.Format("20060102-150405.000"))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0640); err != nil {
		return "", fmt.Errorf("write crash report: %w", err)
	}
	return path, nil
}
