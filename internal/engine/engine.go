// Package engine is the record/replay core. An Engine owns the mode state
// machine, the record buffer and the playback settings; a capture dispatcher
// feeds it input events and a playback driver replays the buffer through an
// input.Injector.
//
// Three key releases drive the engine from the keyboard: Comma starts
// recording, Dot stops it and Slash toggles playback. They are never recorded.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"scriptor/internal/input"
)

// Shortcut keys. Each acts on release.
const (
	StartRecordingKey = input.KeyComma
	StopRecordingKey  = input.KeyDot
	ToggleRunKey      = input.KeySlash
)

// DefaultFastDelay is the pause between events when natural delay is off.
const DefaultFastDelay = 50 * time.Microsecond

// scriptLabelLen is how many characters of a script name Status shows.
const scriptLabelLen = 12

var (
	ErrRecording        = errors.New("engine: recording in progress")
	ErrInvalidLoopCount = errors.New("engine: loop count must be a whole number >= 1")
	ErrInvalidDelay     = errors.New("engine: fast delay must not be negative")
	ErrCaptureClosed    = errors.New("engine: capture stream closed")
)

// Mode is the engine's exclusive state.
type Mode int32

const (
	Idle Mode = iota
	Recording
	Running
)

func (m Mode) String() string {
	switch m {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Running:
		return "running"
	default:
		return "mode(" + strconv.Itoa(int(m)) + ")"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// ParseMode is the inverse of Mode.String.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "idle":
		return Idle, nil
	case "recording":
		return Recording, nil
	case "running":
		return Running, nil
	}
	return Idle, fmt.Errorf("unknown mode %q", s)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Options are the playback settings.
type Options struct {
	InfiniteLoop bool          `json:"infinite_loop"`
	NaturalDelay bool          `json:"natural_delay"`
	LoopCount    int           `json:"loop_count"`
	FastDelay    time.Duration `json:"fast_delay"`
}

// DefaultOptions loops forever with recorded timing.
func DefaultOptions() Options {
	return Options{
		InfiniteLoop: true,
		NaturalDelay: true,
		LoopCount:    1,
		FastDelay:    DefaultFastDelay,
	}
}

// ParseLoopCount sets LoopCount from user input such as " 3 ".
func (o *Options) ParseLoopCount(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("%w: got %q", ErrInvalidLoopCount, s)
	}
	o.LoopCount = n
	return nil
}

// StepLoopCount adds delta to LoopCount, stopping at 1.
func (o *Options) StepLoopCount(delta int) {
	o.LoopCount = max(o.LoopCount+delta, 1)
}

// Validate checks the options without applying them.
func (o Options) Validate() error {
	if o.LoopCount < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidLoopCount, o.LoopCount)
	}
	if o.FastDelay < 0 {
		return fmt.Errorf("%w: got %s", ErrInvalidDelay, o.FastDelay)
	}
	return nil
}

// Notifier shows short user-facing messages. Notify must not block.
type Notifier interface {
	Notify(title, body string)
}

// Observer is told about finished recordings and runs. Calls happen on
// their own goroutine so a slow observer never stalls capture or playback.
type Observer interface {
	RecordingFinished(RecordingSummary) error
	RunFinished(RunReport) error
}

// RecordingSummary describes a recording session that just ended.
type RecordingSummary struct {
	Started time.Time `json:"started"`
	Stopped time.Time `json:"stopped"`
	Events  int       `json:"events"`
}

// Config configures a new Engine.
type Config struct {
	Options  Options
	Logger   *slog.Logger
	Notifier Notifier
	Observer Observer
}

// Engine is the record/replay core. It is safe for concurrent use.
type Engine struct {
	mu         sync.Mutex
	mode       Mode
	runGen     uint64
	buf        recordBuffer
	scriptName string
	recStarted time.Time
	lastRun    *RunReport

	// optsMu serializes writers of the settings below
	optsMu       sync.Mutex
	infiniteLoop atomic.Bool
	naturalDelay atomic.Bool
	loopCount    atomic.Int64
	fastDelay    atomic.Int64
	suspend      atomic.Int32

	injected atomic.Uint64
	failures atomic.Uint64
	runs     atomic.Uint64

	injector  input.Injector
	log       *slog.Logger
	notifier  Notifier
	observer  Observer
	runSignal chan struct{}
}

// New creates an Engine that replays through injector.
func New(injector input.Injector, cfg Config) (*Engine, error) {
	if injector == nil {
		return nil, errors.New("engine: injector is required")
	}
	if err := cfg.Options.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	e := &Engine{
		injector:  injector,
		log:       cfg.Logger.With(slog.String("component", "engine")),
		notifier:  cfg.Notifier,
		observer:  cfg.Observer,
		runSignal: make(chan struct{}, 1),
	}
	e.store(cfg.Options)
	return e, nil
}

func (e *Engine) store(o Options) {
	e.infiniteLoop.Store(o.InfiniteLoop)
	e.naturalDelay.Store(o.NaturalDelay)
	e.loopCount.Store(int64(o.LoopCount))
	e.fastDelay.Store(int64(o.FastDelay))
}

// Mode returns the current mode.
func (e *Engine) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// StartRecording clears the buffer and starts recording. It is a no-op
// while already recording. During playback it takes over: the run halts at
// its next event boundary and its snapshot is unaffected by the cleared
// buffer.
func (e *Engine) StartRecording() error {
	e.mu.Lock()
	switch e.mode {
	case Recording:
		e.mu.Unlock()
		return nil
	case Running:
		e.runGen++
		e.log.Debug("recording interrupts playback")
	}
	e.buf.reset()
	e.scriptName = ""
	e.recStarted = time.Now()
	e.mode = Recording
	e.mu.Unlock()

	e.announce("Recording...")
	return nil
}

// StopRecording returns to Idle. It is a no-op unless recording.
func (e *Engine) StopRecording() error {
	e.mu.Lock()
	if e.mode != Recording {
		e.mu.Unlock()
		return nil
	}
	e.mode = Idle
	summary := RecordingSummary{
		Started: e.recStarted,
		Stopped: time.Now(),
		Events:  e.buf.len(),
	}
	e.mu.Unlock()

	e.announce("Stopped recording...", slog.Int("events", summary.Events))
	e.observe(func(o Observer) error { return o.RecordingFinished(summary) })
	return nil
}

// StartRunning switches to Running and wakes the playback driver. It is a
// no-op while already running and fails with ErrRecording while recording.
func (e *Engine) StartRunning() error {
	e.mu.Lock()
	switch e.mode {
	case Running:
		e.mu.Unlock()
		return nil
	case Recording:
		e.mu.Unlock()
		return ErrRecording
	}
	e.mode = Running
	e.runGen++
	e.mu.Unlock()

	e.signalRun()
	e.announce("Running...")
	return nil
}

// StopRunning halts playback. The playback loop notices at the next event
// boundary. It is a no-op unless running.
func (e *Engine) StopRunning() error {
	e.mu.Lock()
	if e.mode != Running {
		e.mu.Unlock()
		return nil
	}
	e.mode = Idle
	e.mu.Unlock()

	e.announce("Stopped running...")
	return nil
}

// ToggleRunning starts playback when idle and halts it when running. While
// recording it does nothing and returns ErrRecording.
func (e *Engine) ToggleRunning() (Mode, error) {
	e.mu.Lock()
	switch e.mode {
	case Recording:
		e.mu.Unlock()
		return Recording, ErrRecording
	case Running:
		e.mode = Idle
		e.mu.Unlock()
		e.announce("Stopped running...")
		return Idle, nil
	}
	e.mode = Running
	e.runGen++
	e.mu.Unlock()

	e.signalRun()
	e.announce("Running...")
	return Running, nil
}

// signalRun wakes the playback driver. The channel holds one pending wake-up.
func (e *Engine) signalRun() {
	select {
	case e.runSignal <- struct{}{}:
	default:
	}
}

// SetInfiniteLoop sets whether playback repeats until halted.
func (e *Engine) SetInfiniteLoop(v bool) {
	_, _ = e.Update(func(o *Options) error {
		o.InfiniteLoop = v
		return nil
	})
}

// SetNaturalDelay sets whether playback reproduces recorded timing.
func (e *Engine) SetNaturalDelay(v bool) {
	_, _ = e.Update(func(o *Options) error {
		o.NaturalDelay = v
		return nil
	})
}

// SetLoopCount sets the number of passes used when infinite loop is off.
// n < 1 is rejected and the previous value kept.
func (e *Engine) SetLoopCount(n int) error {
	_, err := e.Update(func(o *Options) error {
		o.LoopCount = n
		return nil
	})
	return err
}

// SetLoopCountString parses s as a loop count, as typed by a user.
func (e *Engine) SetLoopCountString(s string) error {
	_, err := e.Update(func(o *Options) error { return o.ParseLoopCount(s) })
	return err
}

// AdjustLoopCount adds delta to the loop count, stopping at 1, and returns
// the new value.
func (e *Engine) AdjustLoopCount(delta int) int {
	o, _ := e.Update(func(o *Options) error {
		o.StepLoopCount(delta)
		return nil
	})
	return o.LoopCount
}

// SetFastDelay sets the pause between events when natural delay is off.
func (e *Engine) SetFastDelay(d time.Duration) error {
	_, err := e.Update(func(o *Options) error {
		o.FastDelay = d
		return nil
	})
	return err
}

// Options returns the current playback settings.
func (e *Engine) Options() Options {
	return Options{
		InfiniteLoop: e.infiniteLoop.Load(),
		NaturalDelay: e.naturalDelay.Load(),
		LoopCount:    int(e.loopCount.Load()),
		FastDelay:    time.Duration(e.fastDelay.Load()),
	}
}

// Apply replaces every playback setting. Invalid options are rejected as a
// whole and nothing changes.
func (e *Engine) Apply(o Options) error {
	_, err := e.Update(func(cur *Options) error {
		*cur = o
		return nil
	})
	return err
}

// Update edits a copy of the current settings with fn and stores the result
// if fn succeeds and the result is valid. Updates, Apply and the setters are
// serialized, so concurrent edits of different fields are never lost. The
// playback loop keeps reading the settings lock-free.
func (e *Engine) Update(fn func(*Options) error) (Options, error) {
	e.optsMu.Lock()
	defer e.optsMu.Unlock()

	prev := e.Options()
	next := prev
	if err := fn(&next); err != nil {
		e.log.Warn("rejected playback options", "error", err)
		return prev, err
	}
	if err := next.Validate(); err != nil {
		e.log.Warn("rejected playback options", "error", err)
		return prev, err
	}
	if next == prev {
		return next, nil
	}
	e.store(next)
	e.log.Info("playback options applied",
		"infinite_loop", next.InfiniteLoop,
		"natural_delay", next.NaturalDelay,
		"loop_count", next.LoopCount,
		"fast_delay", next.FastDelay)
	return next, nil
}

// SuspendCapture makes the dispatcher drop every event until the returned
// function is called. Suspensions nest.
func (e *Engine) SuspendCapture() (resume func()) {
	e.suspend.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() { e.suspend.Add(-1) })
	}
}

// CaptureSuspended reports whether capture is currently suspended.
func (e *Engine) CaptureSuspended() bool {
	return e.suspend.Load() > 0
}

// ScriptName returns the base name of the last loaded or saved script, or
// "" if the buffer came from a recording.
func (e *Engine) ScriptName() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scriptName
}

// ScriptLabel shortens a script name for display.
func ScriptLabel(name string) string {
	r := []rune(name)
	if len(r) > scriptLabelLen {
		return string(r[:scriptLabelLen]) + "..."
	}
	return name
}

// Events returns a copy of the record buffer.
func (e *Engine) Events() []input.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buf.snapshot()
}

// Status is a point-in-time view of the engine.
type Status struct {
	Mode             Mode       `json:"mode"`
	Events           int        `json:"events"`
	ScriptName       string     `json:"script_name,omitempty"`
	ScriptLabel      string     `json:"script_label,omitempty"`
	Options          Options    `json:"options"`
	CaptureSuspended bool       `json:"capture_suspended"`
	Stats            Stats      `json:"stats"`
	LastRun          *RunReport `json:"last_run,omitempty"`
}

// Stats are cumulative playback counters.
type Stats struct {
	Runs     uint64 `json:"runs"`
	Injected uint64 `json:"injected"`
	Failures uint64 `json:"failures"`
}

// Stats returns the cumulative playback counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Runs:     e.runs.Load(),
		Injected: e.injected.Load(),
		Failures: e.failures.Load(),
	}
}

// Status returns a snapshot of mode, buffer size, settings and counters.
func (e *Engine) Status() Status {
	e.mu.Lock()
	st := Status{
		Mode:       e.mode,
		Events:     e.buf.len(),
		ScriptName: e.scriptName,
	}
	if e.lastRun != nil {
		r := *e.lastRun
		st.LastRun = &r
	}
	e.mu.Unlock()

	st.ScriptLabel = ScriptLabel(st.ScriptName)
	st.Options = e.Options()
	st.CaptureSuspended = e.CaptureSuspended()
	st.Stats = e.Stats()
	return st
}

// announce logs a user-facing message and forwards it to the notifier.
func (e *Engine) announce(msg string, attrs ...any) {
	e.log.Info(msg, attrs...)
	if e.notifier != nil {
		e.notifier.Notify("scriptor", msg)
	}
}

func (e *Engine) observe(fn func(Observer) error) {
	if e.observer == nil {
		return
	}
	obs := e.observer
	go func() {
		if err := fn(obs); err != nil {
			e.log.Warn("observer failed", "error", err)
		}
	}()
}
