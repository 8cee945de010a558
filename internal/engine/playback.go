package engine

import (
	"context"
	"time"

	"scriptor/internal/input"
)

// RunReport describes one playback run.
type RunReport struct {
	Started   time.Time `json:"started"`
	Finished  time.Time `json:"finished"`
	Script    string    `json:"script,omitempty"`
	Events    int       `json:"events"`
	Passes    int       `json:"passes"`
	Injected  int       `json:"injected"`
	Failures  int       `json:"failures"`
	Infinite  bool      `json:"infinite"`
	LoopCount int       `json:"loop_count"`
	Halted    bool      `json:"halted"`
	Empty     bool      `json:"empty"`
}

// Duration is how long the run took.
func (r RunReport) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// Serve is the playback driver. It waits for the engine to enter Running
// and plays the buffer on the calling goroutine, until ctx is done.
func (e *Engine) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.runSignal:
			if e.Mode() == Running {
				e.Play(ctx)
			}
		}
	}
}

// Play replays a snapshot of the record buffer and returns when every pass
// is done or playback is halted. It does nothing unless the engine is
// Running. Leaving Running, a restart, or ctx being done halts playback
// at the next event boundary; the whole repeat loop stops, not just the
// current pass.
func (e *Engine) Play(ctx context.Context) RunReport {
	e.mu.Lock()
	if e.mode != Running {
		e.mu.Unlock()
		now := time.Now()
		return RunReport{Started: now, Finished: now, Halted: true}
	}
	gen := e.runGen
	snapshot := e.buf.snapshot()
	name := e.scriptName
	e.mu.Unlock()

	report := RunReport{
		Started:   time.Now(),
		Script:    name,
		Events:    len(snapshot),
		LoopCount: int(e.loopCount.Load()),
	}

	if len(snapshot) == 0 {
		report.Empty = true
		e.announce("No events to run")
		return e.finishRun(gen, report)
	}

	e.log.Info("playback started", "events", len(snapshot), "loop_count", report.LoopCount)

	for pass := 0; ; pass++ {
		// the infinite flag may be flipped mid-run; the count is fixed at start
		report.Infinite = e.infiniteLoop.Load()
		if !report.Infinite && pass >= report.LoopCount {
			break
		}
		if !e.playPass(ctx, gen, snapshot, &report) {
			report.Halted = true
			e.log.Info("playback halted", "pass", pass+1)
			break
		}
		report.Passes++
	}

	return e.finishRun(gen, report)
}

// playPass injects every event once, paced against the recording, and
// reports whether the pass completed.
func (e *Engine) playPass(ctx context.Context, gen uint64, snapshot []input.Event, r *RunReport) bool {
	playStart := time.Now()
	recordingStart := snapshot[0].Timestamp

	for _, ev := range snapshot {
		if !e.stillRunning(gen) || ctx.Err() != nil {
			return false
		}

		if e.naturalDelay.Load() {
			target := ev.Timestamp.Sub(recordingStart)
			if actual := time.Since(playStart); target > actual {
				preciseSleep(ctx, target-actual)
			}
		} else {
			preciseSleep(ctx, time.Duration(e.fastDelay.Load()))
		}
		if ctx.Err() != nil {
			return false
		}

		e.inject(ev.Action, r)
	}

	// release the stop-recording key in case a listener saw only its press
	e.inject(input.KeyRelease(StopRecordingKey), r)
	return true
}

func (e *Engine) stillRunning(gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode == Running && e.runGen == gen
}

func (e *Engine) inject(a input.Action, r *RunReport) {
	if err := e.injector.Inject(a); err != nil {
		r.Failures++
		e.failures.Add(1)
		e.log.Warn("injection failed", "action", a.String(), "error", err)
		return
	}
	r.Injected++
	e.injected.Add(1)
}

// finishRun returns the engine to Idle unless another run has started
// since gen, and records the report.
func (e *Engine) finishRun(gen uint64, r RunReport) RunReport {
	r.Finished = time.Now()

	e.mu.Lock()
	if e.mode == Running && e.runGen == gen {
		e.mode = Idle
	}
	last := r
	e.lastRun = &last
	e.mu.Unlock()

	e.runs.Add(1)
	e.log.Info("done",
		"passes", r.Passes,
		"injected", r.Injected,
		"failures", r.Failures,
		"halted", r.Halted,
		"duration", r.Duration())
	e.observe(func(o Observer) error { return o.RunFinished(r) })
	return r
}
