package input

import (
	"context"
	"errors"
	"testing"
	"time"
)

// =============================================================================
// Tests for Action and Key
// =============================================================================

func TestActionConstructors(t *testing.T) {
	tests := []struct {
		name   string
		action Action
		kind   ActionKind
		str    string
	}{
		{"key press", KeyPress(KeyA), KindKeyPress, "key_press(a)"},
		{"key release", KeyRelease(KeyComma), KindKeyRelease, "key_release(,)"},
		{"mouse move", MouseMove(10, 20), KindMouseMove, "mouse_move(10,20)"},
		{"button press", ButtonPress(ButtonLeft), KindButtonPress, "button_press(left)"},
		{"button release", ButtonRelease(ButtonRight), KindButtonRelease, "button_release(right)"},
		{"wheel", Wheel(-1, 3), KindWheel, "wheel(-1,3)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.action.Kind != tt.kind {
				t.Errorf("expected kind %s, got %s", tt.kind, tt.action.Kind)
			}
			if !tt.action.Kind.Valid() {
				t.Errorf("kind %s should be valid", tt.action.Kind)
			}
			if got := tt.action.String(); got != tt.str {
				t.Errorf("expected %q, got %q", tt.str, got)
			}
		})
	}

	if ActionKind(0).Valid() || ActionKind(99).Valid() {
		t.Error("out-of-range kinds should be invalid")
	}
}

func TestKeyNames(t *testing.T) {
	for k := KeyUnknown + 1; k < keyNamedEnd; k++ {
		name := k.String()
		if name == "" {
			t.Fatalf("key %d has no name", k)
		}
		parsed, ok := ParseKey(name)
		if !ok {
			t.Fatalf("ParseKey(%q) failed", name)
		}
		if parsed != k {
			t.Errorf("ParseKey(%q) = %d, want %d", name, parsed, k)
		}
	}

	if _, ok := ParseKey("no-such-key"); ok {
		t.Error("ParseKey should reject unknown names")
	}
}

func TestRawKey(t *testing.T) {
	k := RawKey(183)
	code, ok := k.Raw()
	if !ok {
		t.Fatal("RawKey should report a raw code")
	}
	if code != 183 {
		t.Errorf("expected raw code 183, got %d", code)
	}
	if k.String() != "raw(183)" {
		t.Errorf("unexpected name %q", k.String())
	}

	if _, ok := KeySlash.Raw(); ok {
		t.Error("named keys should not report a raw code")
	}
}

// =============================================================================
// Tests for Simulated
// =============================================================================

func TestSimulatedStream(t *testing.T) {
	sim := NewSimulated()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := sim.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if _, err := sim.Subscribe(ctx); !errors.Is(err, ErrAlreadySubscribed) {
		t.Errorf("expected ErrAlreadySubscribed, got %v", err)
	}

	sim.EmitAction(KeyPress(KeyA))
	sim.EmitAction(KeyRelease(KeyA))

	for _, want := range []Action{KeyPress(KeyA), KeyRelease(KeyA)} {
		select {
		case ev := <-ch:
			if ev.Action != want {
				t.Errorf("expected %s, got %s", want, ev.Action)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for event")
		}
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected stream to close after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("stream not closed after cancel")
	}
	if sim.Err() != nil {
		t.Errorf("cancelled stream should have nil Err, got %v", sim.Err())
	}
}

func TestSimulatedFail(t *testing.T) {
	sim := NewSimulated()
	ch, err := sim.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	hookErr := errors.New("hook crashed")
	sim.Fail(hookErr)

	if _, ok := <-ch; ok {
		t.Error("expected closed stream")
	}
	if !errors.Is(sim.Err(), hookErr) {
		t.Errorf("expected %v, got %v", hookErr, sim.Err())
	}

	// Emitting after failure is a no-op
	sim.EmitAction(KeyPress(KeyA))
}

func TestSimulatedInject(t *testing.T) {
	sim := NewSimulated()

	if err := sim.Inject(KeyPress(KeyB)); err != nil {
		t.Fatalf("Inject failed: %v", err)
	}

	injectErr := errors.New("blocked")
	sim.FailInjection(func(a Action) error {
		if a.Kind == KindWheel {
			return injectErr
		}
		return nil
	})

	if err := sim.Inject(Wheel(0, 1)); !errors.Is(err, injectErr) {
		t.Errorf("expected injection error, got %v", err)
	}
	if err := sim.Inject(KeyRelease(KeyB)); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	got := sim.Injected()
	if len(got) != 2 {
		t.Fatalf("expected 2 injected actions, got %d", len(got))
	}
	if got[0].Action != KeyPress(KeyB) || got[1].Action != KeyRelease(KeyB) {
		t.Errorf("unexpected injected actions: %v", got)
	}

	sim.Reset()
	if len(sim.Injected()) != 0 {
		t.Error("Reset should clear injected actions")
	}
}

func TestSimulatedAvailable(t *testing.T) {
	sim := NewSimulated()
	ok, msg := sim.Available()
	if !ok {
		t.Error("simulated device should always be available")
	}
	if msg == "" {
		t.Error("expected a description")
	}
}

func TestOpenNoneBackend(t *testing.T) {
	if _, err := Open(Options{Backend: "none"}); !errors.Is(err, ErrNotAvailable) {
		t.Errorf("expected ErrNotAvailable, got %v", err)
	}
	if _, err := Open(Options{Backend: "carrier-pigeon"}); !errors.Is(err, ErrNotAvailable) {
		t.Errorf("expected ErrNotAvailable for unknown backend, got %v", err)
	}
}
