package engine

import (
	"context"
	"errors"
	"fmt"

	"scriptor/internal/input"
)

// Dispatch applies one captured event. Shortcut releases change mode and
// are consumed; anything else is appended while recording and dropped
// otherwise. Events are ignored entirely while capture is suspended.
func (e *Engine) Dispatch(ev input.Event) {
	if e.CaptureSuspended() {
		return
	}

	if ev.Action.Kind == input.KindKeyRelease {
		switch ev.Action.Key {
		case StartRecordingKey:
			_ = e.StartRecording()
			return
		case StopRecordingKey:
			_ = e.StopRecording()
			return
		case ToggleRunKey:
			if _, err := e.ToggleRunning(); errors.Is(err, ErrRecording) {
				e.log.Debug("run shortcut ignored while recording")
			}
			return
		}
	}

	e.mu.Lock()
	if e.mode == Recording {
		e.buf.append(ev)
	}
	e.mu.Unlock()
}

// Listen subscribes to src and dispatches every event until ctx is done or
// the stream ends. A stream that ends on its own is fatal: the error is
// logged and returned, and the engine keeps whatever mode it was in.
func (e *Engine) Listen(ctx context.Context, src input.Source) error {
	events, err := src.Subscribe(ctx)
	if err != nil {
		e.log.Error("capture unavailable", "error", err)
		return fmt.Errorf("subscribe to capture: %w", err)
	}
	e.log.Info("capture started")

	for {
		select {
		case <-ctx.Done():
			e.log.Info("capture stopped")
			return nil
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					e.log.Info("capture stopped")
					return nil
				}
				cause := src.Err()
				if cause == nil {
					cause = ErrCaptureClosed
				}
				e.log.Error("capture stream ended", "error", cause, "mode", e.Mode())
				return fmt.Errorf("capture: %w", cause)
			}
			e.Dispatch(ev)
		}
	}
}
