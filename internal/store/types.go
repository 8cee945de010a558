// Package store keeps the recording and playback history of scriptor in
// SQLite.
package store

import "time"

// Recording is one finished recording session.
type Recording struct {
	ID      int64
	Started time.Time
	Stopped time.Time
	Events  int
}

// Duration is how long the session lasted.
func (r Recording) Duration() time.Duration {
	return r.Stopped.Sub(r.Started)
}

// Run is one finished playback.
type Run struct {
	ID        int64
	Started   time.Time
	Finished  time.Time
	Script    string
	Events    int
	Passes    int
	Injected  int
	Failures  int
	Infinite  bool
	LoopCount int
	Halted    bool
	Empty     bool
}

// Duration is how long the run took.
func (r Run) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// ScriptFile is a script load or save.
type ScriptFile struct {
	ID     int64
	Path   string
	Op     string
	Events int
	At     time.Time
}

// Stats summarizes the whole history.
type Stats struct {
	Recordings       int64
	RecordedEvents   int64
	Runs             int64
	HaltedRuns       int64
	InjectedEvents   int64
	FailedInjections int64
	ScriptFiles      int64
}
