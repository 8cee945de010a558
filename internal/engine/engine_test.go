package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scriptor/internal/input"
	"scriptor/internal/script"
)

// =============================================================================
// Helpers
// =============================================================================

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(_, body string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, body)
}

func (n *recordingNotifier) Messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.messages...)
}

type chanObserver struct {
	recordings chan RecordingSummary
	runs       chan RunReport
}

func newChanObserver() *chanObserver {
	return &chanObserver{
		recordings: make(chan RecordingSummary, 8),
		runs:       make(chan RunReport, 8),
	}
}

func (o *chanObserver) RecordingFinished(s RecordingSummary) error {
	o.recordings <- s
	return nil
}

func (o *chanObserver) RunFinished(r RunReport) error {
	o.runs <- r
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, opts Options) (*Engine, *input.Simulated, *recordingNotifier) {
	t.Helper()
	sim := input.NewSimulated()
	n := &recordingNotifier{}
	e, err := New(sim, Config{Options: opts, Logger: quietLogger(), Notifier: n})
	require.NoError(t, err)
	return e, sim, n
}

func fastOptions() Options {
	return Options{InfiniteLoop: false, NaturalDelay: false, LoopCount: 1, FastDelay: 0}
}

func release(k input.Key) input.Event { return input.NewEvent(input.KeyRelease(k)) }
func press(k input.Key) input.Event   { return input.NewEvent(input.KeyPress(k)) }

func setBuffer(e *Engine, events []input.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buf.replace(events)
}

func spaced(base time.Time, gaps ...time.Duration) []input.Event {
	events := []input.Event{{Timestamp: base, Action: input.KeyPress(input.KeyA)}}
	at := base
	for i, g := range gaps {
		at = at.Add(g)
		a := input.KeyRelease(input.KeyA)
		if i%2 == 1 {
			a = input.KeyPress(input.KeyA)
		}
		events = append(events, input.Event{Timestamp: at, Action: a})
	}
	return events
}

func actions(events []input.Event) []input.Action {
	out := make([]input.Action, len(events))
	for i, ev := range events {
		out[i] = ev.Action
	}
	return out
}

// =============================================================================
// Mode transitions
// =============================================================================

func TestNewDefaults(t *testing.T) {
	e, _, _ := newTestEngine(t, DefaultOptions())

	assert.Equal(t, Idle, e.Mode())
	opts := e.Options()
	assert.True(t, opts.InfiniteLoop)
	assert.True(t, opts.NaturalDelay)
	assert.Equal(t, 1, opts.LoopCount)
	assert.Equal(t, DefaultFastDelay, opts.FastDelay)

	_, err := New(nil, Config{})
	assert.Error(t, err)

	_, err = New(input.NewSimulated(), Config{Options: Options{LoopCount: 0}})
	assert.ErrorIs(t, err, ErrInvalidLoopCount)
}

func TestStartRecordingIdempotent(t *testing.T) {
	e, _, _ := newTestEngine(t, DefaultOptions())

	require.NoError(t, e.StartRecording())
	e.Dispatch(press(input.KeyA))
	require.Len(t, e.Events(), 1)

	require.NoError(t, e.StartRecording())
	assert.Equal(t, Recording, e.Mode())
	assert.Len(t, e.Events(), 1, "second start must not clear the buffer")

	e.Dispatch(release(StartRecordingKey))
	assert.Equal(t, Recording, e.Mode())
	assert.Len(t, e.Events(), 1, "shortcut while recording must not be recorded")
}

func TestModesAreExclusive(t *testing.T) {
	e, _, _ := newTestEngine(t, DefaultOptions())

	require.NoError(t, e.StartRecording())
	assert.ErrorIs(t, e.StartRunning(), ErrRecording)
	assert.Equal(t, Recording, e.Mode())

	_, err := e.ToggleRunning()
	assert.ErrorIs(t, err, ErrRecording)

	e.Dispatch(release(ToggleRunKey))
	assert.Equal(t, Recording, e.Mode())

	require.NoError(t, e.StopRecording())
	require.NoError(t, e.StartRunning())
	mode, err := e.ToggleRunning()
	require.NoError(t, err)
	assert.Equal(t, Idle, mode)
	assert.Equal(t, Idle, e.Mode())
}

func TestStartRecordingShortcutInterruptsPlayback(t *testing.T) {
	e, sim, n := newTestEngine(t, fastOptions())
	setBuffer(e, spaced(time.Now(), time.Millisecond, time.Millisecond, time.Millisecond))

	var once sync.Once
	sim.OnInject(func(input.Action) {
		once.Do(func() { e.Dispatch(release(StartRecordingKey)) })
	})

	require.NoError(t, e.StartRunning())
	report := e.Play(context.Background())

	assert.True(t, report.Halted)
	assert.Equal(t, 1, report.Injected, "playback stops at the next event boundary")
	assert.Len(t, sim.Injected(), 1)
	assert.Equal(t, Recording, e.Mode(), "the finished run must not reset the new recording")
	assert.Empty(t, e.Events())
	assert.Equal(t, "Recording...", n.Messages()[len(n.Messages())-1])

	e.Dispatch(press(input.KeyB))
	require.NoError(t, e.StopRecording())
	assert.Len(t, e.Events(), 1)
}

func TestStopIsNoopOutsideMode(t *testing.T) {
	e, _, n := newTestEngine(t, DefaultOptions())

	assert.NoError(t, e.StopRecording())
	assert.NoError(t, e.StopRunning())
	assert.Equal(t, Idle, e.Mode())
	assert.Empty(t, n.Messages())
}

func TestShortcutProtocol(t *testing.T) {
	e, _, n := newTestEngine(t, DefaultOptions())

	seq := []input.Event{
		press(input.KeyB), // idle, dropped
		press(StartRecordingKey),
		release(StartRecordingKey), // start
		press(input.KeyA),
		release(input.KeyA),
		release(ToggleRunKey),      // ignored while recording
		release(StartRecordingKey), // no-op
		input.NewEvent(input.MouseMove(3, 4)),
		press(StopRecordingKey),
		release(StopRecordingKey), // stop
		press(input.KeyC),         // idle, dropped
	}
	for _, ev := range seq {
		e.Dispatch(ev)
	}

	assert.Equal(t, Idle, e.Mode())
	got := actions(e.Events())
	assert.Equal(t, []input.Action{
		input.KeyPress(input.KeyA),
		input.KeyRelease(input.KeyA),
		input.MouseMove(3, 4),
		input.KeyPress(StopRecordingKey),
	}, got)

	for _, a := range got {
		if a.Kind != input.KindKeyRelease {
			continue
		}
		assert.NotContains(t, []input.Key{StartRecordingKey, StopRecordingKey, ToggleRunKey}, a.Key)
	}

	assert.Equal(t, []string{"Recording...", "Stopped recording..."}, n.Messages())

	e.Dispatch(release(ToggleRunKey))
	assert.Equal(t, Running, e.Mode())
	e.Dispatch(release(ToggleRunKey))
	assert.Equal(t, Idle, e.Mode())
	assert.Equal(t, []string{"Recording...", "Stopped recording...", "Running...", "Stopped running..."}, n.Messages())
}

func TestRecordingRestartClearsBuffer(t *testing.T) {
	e, _, _ := newTestEngine(t, DefaultOptions())

	e.Dispatch(release(StartRecordingKey))
	e.Dispatch(press(input.KeyA))
	e.Dispatch(release(StopRecordingKey))
	require.Len(t, e.Events(), 1)

	e.Dispatch(release(StartRecordingKey))
	assert.Empty(t, e.Events())
}

func TestSuspendCapture(t *testing.T) {
	e, _, _ := newTestEngine(t, DefaultOptions())

	resume1 := e.SuspendCapture()
	resume2 := e.SuspendCapture()
	assert.True(t, e.CaptureSuspended())

	e.Dispatch(release(StartRecordingKey))
	assert.Equal(t, Idle, e.Mode(), "suspended capture must not interpret shortcuts")

	resume1()
	resume1() // second call is a no-op
	assert.True(t, e.CaptureSuspended())

	resume2()
	assert.False(t, e.CaptureSuspended())

	e.Dispatch(release(StartRecordingKey))
	assert.Equal(t, Recording, e.Mode())
}

// =============================================================================
// Settings
// =============================================================================

func TestSetLoopCount(t *testing.T) {
	e, _, _ := newTestEngine(t, DefaultOptions())

	require.NoError(t, e.SetLoopCount(5))
	assert.ErrorIs(t, e.SetLoopCount(0), ErrInvalidLoopCount)
	assert.ErrorIs(t, e.SetLoopCount(-3), ErrInvalidLoopCount)
	assert.Equal(t, 5, e.Options().LoopCount)

	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"7", 7, false},
		{" 12 ", 12, false},
		{"abc", 12, true},
		{"0", 12, true},
		{"", 12, true},
		{"3.5", 12, true},
	}
	for _, tt := range tests {
		err := e.SetLoopCountString(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidLoopCount, "input %q", tt.in)
		} else {
			assert.NoError(t, err, "input %q", tt.in)
		}
		assert.Equal(t, tt.want, e.Options().LoopCount, "after input %q", tt.in)
	}
}

func TestAdjustLoopCount(t *testing.T) {
	e, _, _ := newTestEngine(t, DefaultOptions())

	assert.Equal(t, 2, e.AdjustLoopCount(1))
	assert.Equal(t, 5, e.AdjustLoopCount(3))
	assert.Equal(t, 1, e.AdjustLoopCount(-10))
	assert.Equal(t, 1, e.AdjustLoopCount(-1))
}

func TestApplyRejectsInvalidAsWhole(t *testing.T) {
	e, _, _ := newTestEngine(t, DefaultOptions())

	err := e.Apply(Options{InfiniteLoop: false, NaturalDelay: false, LoopCount: 0})
	assert.ErrorIs(t, err, ErrInvalidLoopCount)
	assert.Equal(t, DefaultOptions(), e.Options())

	assert.ErrorIs(t, e.SetFastDelay(-time.Second), ErrInvalidDelay)

	want := Options{InfiniteLoop: false, NaturalDelay: false, LoopCount: 4, FastDelay: time.Millisecond}
	require.NoError(t, e.Apply(want))
	assert.Equal(t, want, e.Options())
}

func TestUpdateSerializesWriters(t *testing.T) {
	e, _, _ := newTestEngine(t, DefaultOptions())

	got, err := e.Update(func(o *Options) error {
		o.StepLoopCount(2)
		return o.ParseLoopCount("x")
	})
	assert.ErrorIs(t, err, ErrInvalidLoopCount)
	assert.Equal(t, DefaultOptions(), got, "a failed update returns the settings in effect")
	assert.Equal(t, DefaultOptions(), e.Options())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			e.AdjustLoopCount(1)
		}()
		go func() {
			defer wg.Done()
			e.SetNaturalDelay(false)
		}()
	}
	wg.Wait()

	assert.Equal(t, 51, e.Options().LoopCount)
	assert.False(t, e.Options().NaturalDelay)
}

func TestScriptLabel(t *testing.T) {
	assert.Equal(t, "short.bin", ScriptLabel("short.bin"))
	assert.Equal(t, "exactly12.ab", ScriptLabel("exactly12.ab"))
	assert.Equal(t, "a-very-long-...", ScriptLabel("a-very-long-name.bin"))
	assert.Equal(t, "", ScriptLabel(""))
}

func TestModeText(t *testing.T) {
	for _, m := range []Mode{Idle, Recording, Running} {
		b, err := m.MarshalText()
		require.NoError(t, err)
		var back Mode
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, m, back)
	}
	var m Mode
	assert.Error(t, m.UnmarshalText([]byte("paused")))
}

// =============================================================================
// Playback
// =============================================================================

func TestPlayEmptyBuffer(t *testing.T) {
	e, sim, n := newTestEngine(t, fastOptions())

	require.NoError(t, e.StartRunning())
	report := e.Play(context.Background())

	assert.True(t, report.Empty)
	assert.Zero(t, report.Injected)
	assert.Equal(t, Idle, e.Mode())
	assert.Empty(t, sim.Injected())
	assert.Contains(t, n.Messages(), "No events to run")
}

func TestPlayRequiresRunning(t *testing.T) {
	e, sim, _ := newTestEngine(t, fastOptions())
	setBuffer(e, spaced(time.Now(), time.Millisecond))

	report := e.Play(context.Background())
	assert.True(t, report.Halted)
	assert.Empty(t, sim.Injected())
}

func TestPlayLoopCount(t *testing.T) {
	opts := fastOptions()
	opts.LoopCount = 3
	e, sim, _ := newTestEngine(t, opts)

	recorded := spaced(time.Now(), time.Second, time.Second)
	setBuffer(e, recorded)

	require.NoError(t, e.StartRunning())
	report := e.Play(context.Background())

	assert.Equal(t, 3, report.Passes)
	assert.False(t, report.Halted)
	assert.Equal(t, Idle, e.Mode())

	var want []input.Action
	for i := 0; i < 3; i++ {
		want = append(want, actions(recorded)...)
		want = append(want, input.KeyRelease(StopRecordingKey))
	}
	assert.Equal(t, want, actions(sim.Injected()))
	assert.Equal(t, len(want), report.Injected)
	assert.Equal(t, uint64(len(want)), e.Stats().Injected)
}

func TestPlayInfiniteUntilHalt(t *testing.T) {
	opts := fastOptions()
	opts.InfiniteLoop = true
	e, sim, _ := newTestEngine(t, opts)
	setBuffer(e, spaced(time.Now(), time.Millisecond))

	const stopAfter = 25
	var count int
	sim.OnInject(func(input.Action) {
		count++
		if count == stopAfter {
			_ = e.StopRunning()
		}
	})

	require.NoError(t, e.StartRunning())
	report := e.Play(context.Background())

	assert.True(t, report.Halted)
	assert.Greater(t, report.Passes, 3, "infinite playback should repeat past the loop count")
	assert.Len(t, sim.Injected(), stopAfter, "no event may be injected after the halt is observed")
	assert.Equal(t, Idle, e.Mode())
}

func TestHaltLatency(t *testing.T) {
	opts := fastOptions()
	opts.NaturalDelay = true
	e, sim, _ := newTestEngine(t, opts)

	base := time.Now()
	setBuffer(e, spaced(base, 30*time.Millisecond, 30*time.Millisecond, 30*time.Millisecond, 30*time.Millisecond))

	injected := make(chan struct{}, 16)
	sim.OnInject(func(input.Action) { injected <- struct{}{} })

	require.NoError(t, e.StartRunning())
	done := make(chan RunReport, 1)
	go func() { done <- e.Play(context.Background()) }()

	select {
	case <-injected:
	case <-time.After(2 * time.Second):
		t.Fatal("playback never injected")
	}
	require.NoError(t, e.StopRunning())
	atHalt := len(sim.Injected())

	select {
	case report := <-done:
		assert.True(t, report.Halted)
	case <-time.After(2 * time.Second):
		t.Fatal("playback did not stop")
	}
	assert.LessOrEqual(t, len(sim.Injected()), atHalt+1)
}

func TestPlayTimingFidelity(t *testing.T) {
	opts := fastOptions()
	opts.NaturalDelay = true
	e, sim, _ := newTestEngine(t, opts)

	gaps := []time.Duration{20 * time.Millisecond, 15 * time.Millisecond, 25 * time.Millisecond}
	recorded := spaced(time.Now(), gaps...)
	setBuffer(e, recorded)

	require.NoError(t, e.StartRunning())
	start := time.Now()
	e.Play(context.Background())

	got := sim.Injected()
	require.Len(t, got, len(recorded)+1)
	for i, ev := range recorded {
		want := ev.Timestamp.Sub(recorded[0].Timestamp)
		elapsed := got[i].Timestamp.Sub(start)
		assert.GreaterOrEqual(t, elapsed, want, "event %d played early", i)
		assert.Less(t, elapsed, want+50*time.Millisecond, "event %d played far too late", i)
	}
}

func TestPlayFastModeIgnoresGaps(t *testing.T) {
	opts := fastOptions()
	opts.FastDelay = DefaultFastDelay
	e, sim, _ := newTestEngine(t, opts)

	setBuffer(e, spaced(time.Now(), 10*time.Second, 10*time.Second, 10*time.Second))

	require.NoError(t, e.StartRunning())
	start := time.Now()
	e.Play(context.Background())

	assert.Less(t, time.Since(start), time.Second)
	assert.Len(t, sim.Injected(), 5)
}

func TestPlayUsesSnapshot(t *testing.T) {
	e, sim, _ := newTestEngine(t, fastOptions())

	recorded := spaced(time.Now(), time.Millisecond, time.Millisecond)
	setBuffer(e, recorded)

	var once sync.Once
	sim.OnInject(func(input.Action) {
		once.Do(func() {
			setBuffer(e, []input.Event{input.NewEvent(input.Wheel(0, 9))})
		})
	})

	require.NoError(t, e.StartRunning())
	e.Play(context.Background())

	want := append(actions(recorded), input.KeyRelease(StopRecordingKey))
	assert.Equal(t, want, actions(sim.Injected()))
}

func TestPlayInjectionFailureContinues(t *testing.T) {
	e, sim, _ := newTestEngine(t, fastOptions())

	base := time.Now()
	setBuffer(e, []input.Event{
		{Timestamp: base, Action: input.KeyPress(input.KeyA)},
		{Timestamp: base, Action: input.Wheel(0, 1)},
		{Timestamp: base, Action: input.KeyRelease(input.KeyA)},
	})
	sim.FailInjection(func(a input.Action) error {
		if a.Kind == input.KindWheel {
			return input.ErrUnsupportedAction
		}
		return nil
	})

	require.NoError(t, e.StartRunning())
	report := e.Play(context.Background())

	assert.Equal(t, 1, report.Failures)
	assert.Equal(t, 3, report.Injected)
	assert.Equal(t, 1, report.Passes)
	assert.Equal(t, uint64(1), e.Stats().Failures)
}

func TestHaltThenRestartKeepsNewRun(t *testing.T) {
	e, sim, _ := newTestEngine(t, fastOptions())
	setBuffer(e, spaced(time.Now(), time.Millisecond, time.Millisecond))

	var once sync.Once
	sim.OnInject(func(input.Action) {
		once.Do(func() {
			_ = e.StopRunning()
			_ = e.StartRunning()
		})
	})

	require.NoError(t, e.StartRunning())
	report := e.Play(context.Background())

	assert.True(t, report.Halted)
	assert.Equal(t, Running, e.Mode(), "the restarted run must not be reset to idle")

	// the driver picks up the pending restart
	report = e.Play(context.Background())
	assert.False(t, report.Halted)
	assert.Equal(t, Idle, e.Mode())
}

func TestServeDrivesPlayback(t *testing.T) {
	e, sim, _ := newTestEngine(t, fastOptions())
	setBuffer(e, spaced(time.Now(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- e.Serve(ctx) }()

	require.NoError(t, e.StartRunning())
	require.Eventually(t, func() bool {
		return e.Mode() == Idle && len(sim.Injected()) == 3
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, e.StartRunning())
	require.Eventually(t, func() bool {
		return e.Mode() == Idle && len(sim.Injected()) == 6
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestPlayStopsOnContextCancel(t *testing.T) {
	opts := fastOptions()
	opts.InfiniteLoop = true
	e, _, _ := newTestEngine(t, opts)
	setBuffer(e, spaced(time.Now(), time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	require.NoError(t, e.StartRunning())
	report := e.Play(ctx)
	assert.True(t, report.Halted)
	assert.Equal(t, Idle, e.Mode())
}

func TestObserverNotified(t *testing.T) {
	obs := newChanObserver()
	sim := input.NewSimulated()
	e, err := New(sim, Config{Options: fastOptions(), Logger: quietLogger(), Observer: obs})
	require.NoError(t, err)

	e.Dispatch(release(StartRecordingKey))
	e.Dispatch(press(input.KeyA))
	e.Dispatch(release(StopRecordingKey))

	select {
	case s := <-obs.recordings:
		assert.Equal(t, 1, s.Events)
		assert.False(t, s.Stopped.Before(s.Started))
	case <-time.After(time.Second):
		t.Fatal("recording not observed")
	}

	require.NoError(t, e.StartRunning())
	e.Play(context.Background())

	select {
	case r := <-obs.runs:
		assert.Equal(t, 1, r.Passes)
		assert.Equal(t, 2, r.Injected)
	case <-time.After(time.Second):
		t.Fatal("run not observed")
	}

	require.NotNil(t, e.Status().LastRun)
	assert.Equal(t, 1, e.Status().LastRun.Passes)
}

// =============================================================================
// Capture listener
// =============================================================================

func TestListenDispatches(t *testing.T) {
	e, _, _ := newTestEngine(t, DefaultOptions())
	src := input.NewSimulated()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Listen(ctx, src) }()

	require.Eventually(t, func() bool {
		src.EmitAction(input.KeyRelease(StartRecordingKey))
		return e.Mode() == Recording
	}, time.Second, 5*time.Millisecond)

	src.EmitAction(input.KeyPress(input.KeyQ))
	require.Eventually(t, func() bool { return len(e.Events()) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Listen did not return")
	}
}

func TestListenCaptureFailureIsFatal(t *testing.T) {
	e, _, _ := newTestEngine(t, DefaultOptions())
	require.NoError(t, e.StartRecording())

	src := input.NewSimulated()
	hookErr := errors.New("hook died")

	done := make(chan error, 1)
	go func() { done <- e.Listen(context.Background(), src) }()

	require.Eventually(t, func() bool {
		src.Fail(hookErr)
		select {
		case err := <-done:
			assert.ErrorIs(t, err, hookErr)
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, Recording, e.Mode(), "engine keeps its last mode")
}

func TestListenSubscribeError(t *testing.T) {
	e, _, _ := newTestEngine(t, DefaultOptions())
	src := input.NewSimulated()

	_, err := src.Subscribe(context.Background())
	require.NoError(t, err)

	err = e.Listen(context.Background(), src)
	assert.ErrorIs(t, err, input.ErrAlreadySubscribed)
}

// =============================================================================
// Script load/save
// =============================================================================

func TestSaveAndLoadScript(t *testing.T) {
	e, _, _ := newTestEngine(t, DefaultOptions())
	dir := t.TempDir()

	e.Dispatch(release(StartRecordingKey))
	e.Dispatch(press(input.KeyH))
	e.Dispatch(input.NewEvent(input.ButtonPress(input.ButtonLeft)))
	e.Dispatch(release(StopRecordingKey))
	recorded := e.Events()

	path, err := e.SaveScript(filepath.Join(dir, "greeting-macro-long"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "greeting-macro-long.bin"), path)
	assert.Equal(t, "greeting-macro-long.bin", e.ScriptName())
	assert.Equal(t, "greeting-mac...", e.Status().ScriptLabel)
	assert.False(t, e.CaptureSuspended())

	e.Dispatch(release(StartRecordingKey))
	assert.Empty(t, e.ScriptName(), "a new recording forgets the script name")
	e.Dispatch(release(StopRecordingKey))
	require.Empty(t, e.Events())

	require.NoError(t, e.LoadScript(path))
	loaded := e.Events()
	require.Len(t, loaded, len(recorded))
	for i := range recorded {
		assert.Equal(t, recorded[i].Action, loaded[i].Action)
		assert.Equal(t, recorded[i].Timestamp.UnixNano(), loaded[i].Timestamp.UnixNano())
	}
	assert.False(t, e.CaptureSuspended())
}

func TestLoadFailureLeavesBuffer(t *testing.T) {
	e, _, _ := newTestEngine(t, DefaultOptions())
	dir := t.TempDir()

	e.Dispatch(release(StartRecordingKey))
	e.Dispatch(press(input.KeyZ))
	e.Dispatch(release(StopRecordingKey))
	before := e.Events()

	bad := filepath.Join(dir, "bad.bin")
	good := script.Encode(spaced(time.Now(), time.Millisecond))
	require.NoError(t, os.WriteFile(bad, good[:len(good)-3], 0644))

	err := e.LoadScript(bad)
	var de *script.DecodeError
	assert.True(t, errors.As(err, &de), "expected DecodeError, got %v", err)
	assert.Equal(t, before, e.Events())
	assert.Empty(t, e.ScriptName())

	err = e.LoadScript(filepath.Join(dir, "missing.bin"))
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Equal(t, before, e.Events())
	assert.False(t, e.CaptureSuspended())
}

func TestLoadWhileRecordingRejected(t *testing.T) {
	e, _, _ := newTestEngine(t, DefaultOptions())
	path := filepath.Join(t.TempDir(), "x.bin")
	require.NoError(t, script.WriteFile(path, nil))

	require.NoError(t, e.StartRecording())
	assert.ErrorIs(t, e.LoadScript(path), ErrRecording)
}

func TestSaveScriptError(t *testing.T) {
	e, _, _ := newTestEngine(t, DefaultOptions())

	_, err := e.SaveScript(filepath.Join(t.TempDir(), "no-such-dir", "x.bin"))
	assert.Error(t, err)
	assert.False(t, e.CaptureSuspended())
}
