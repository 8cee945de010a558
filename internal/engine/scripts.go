package engine

import (
	"fmt"
	"path/filepath"
	"time"

	"scriptor/internal/script"
)

// LoadScript replaces the record buffer with the script at path. Capture is
// suspended while the file is read. On any error the buffer is left as it
// was. Loading while recording fails with ErrRecording.
func (e *Engine) LoadScript(path string) error {
	resume := e.SuspendCapture()
	defer resume()

	if e.Mode() == Recording {
		return ErrRecording
	}

	events, err := script.ReadFile(path)
	if err != nil {
		e.log.Error("load script failed", "path", path, "error", err)
		return fmt.Errorf("load script %s: %w", path, err)
	}

	e.mu.Lock()
	if e.mode == Recording {
		e.mu.Unlock()
		return ErrRecording
	}
	e.buf.replace(events)
	e.scriptName = filepath.Base(path)
	e.mu.Unlock()

	e.announce("Script loaded", "path", path, "events", len(events))
	e.observeScript(ScriptFile{Path: path, Op: ScriptLoaded, Events: len(events), At: time.Now()})
	return nil
}

// SaveScript writes the record buffer to path, adding the .bin extension
// when path has none, and returns the path written. Capture is suspended
// while the file is written.
func (e *Engine) SaveScript(path string) (string, error) {
	resume := e.SuspendCapture()
	defer resume()

	path = script.WithExtension(path)

	e.mu.Lock()
	events := e.buf.snapshot()
	e.mu.Unlock()

	if err := script.WriteFile(path, events); err != nil {
		e.log.Error("save script failed", "path", path, "error", err)
		return "", fmt.Errorf("save script %s: %w", path, err)
	}

	e.mu.Lock()
	e.scriptName = filepath.Base(path)
	e.mu.Unlock()

	e.announce("File saved successfully", "path", path, "events", len(events))
	e.observeScript(ScriptFile{Path: path, Op: ScriptSaved, Events: len(events), At: time.Now()})
	return path, nil
}

// ScriptOp says what happened to a script file.
type ScriptOp string

const (
	ScriptLoaded ScriptOp = "load"
	ScriptSaved  ScriptOp = "save"
)

// ScriptFile describes a script file that was loaded or saved.
type ScriptFile struct {
	Path   string    `json:"path"`
	Op     ScriptOp  `json:"op"`
	Events int       `json:"events"`
	At     time.Time `json:"at"`
}

// ScriptObserver is optionally implemented by an Observer that also wants
// to hear about script files.
type ScriptObserver interface {
	ScriptFileChanged(ScriptFile) error
}

func (e *Engine) observeScript(f ScriptFile) {
	e.observe(func(o Observer) error {
		if so, ok := o.(ScriptObserver); ok {
			return so.ScriptFileChanged(f)
		}
		return nil
	})
}
