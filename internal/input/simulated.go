package input

import (
	"context"
	"sync"
	"time"
)

// Simulated is a Device that does not touch the OS. Tests and headless
// tooling feed it events with Emit and inspect what playback injected.
type Simulated struct {
	mu       sync.Mutex
	ch       chan Event
	err      error
	injected []Event
	failWith func(Action) error
	onInject func(Action)
}

// NewSimulated creates a simulated device.
func NewSimulated() *Simulated {
	return &Simulated{}
}

// Subscribe opens the simulated stream.
func (s *Simulated) Subscribe(ctx context.Context) (<-chan Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ch != nil {
		return nil, ErrAlreadySubscribed
	}
	s.ch = make(chan Event, 256)
	s.err = nil
	ch := s.ch

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.ch == ch {
			close(s.ch)
			s.ch = nil
		}
	}()
	return ch, nil
}

// Emit delivers an event to the subscriber. It blocks while the stream
// buffer is full and is a no-op when nobody is subscribed.
func (s *Simulated) Emit(ev Event) {
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()
	if ch == nil {
		return
	}
	defer func() { _ = recover() }() // stream closed concurrently
	ch <- ev
}

// EmitAction stamps a with the current time and emits it.
func (s *Simulated) EmitAction(a Action) {
	s.Emit(Event{Timestamp: time.Now(), Action: a})
}

// Fail terminates the stream with err, as a crashed OS hook would.
func (s *Simulated) Fail(err error) {
	s.closeStream(err)
}

func (s *Simulated) closeStream(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch == nil {
		return
	}
	close(s.ch)
	s.ch = nil
	s.err = err
}

// Err returns the error passed to Fail.
func (s *Simulated) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Inject records the action. If FailInjection installed a hook and it
// returns an error, the action is not recorded.
func (s *Simulated) Inject(a Action) error {
	s.mu.Lock()
	fail := s.failWith
	hook := s.onInject
	s.mu.Unlock()

	if fail != nil {
		if err := fail(a); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.injected = append(s.injected, Event{Timestamp: time.Now(), Action: a})
	s.mu.Unlock()

	if hook != nil {
		hook(a)
	}
	return nil
}

// FailInjection installs a hook deciding whether an injection fails.
func (s *Simulated) FailInjection(fn func(Action) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = fn
}

// OnInject installs a callback run after every successful injection.
func (s *Simulated) OnInject(fn func(Action)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onInject = fn
}

// Injected returns a copy of every injected action with its injection time.
func (s *Simulated) Injected() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.injected))
	copy(out, s.injected)
	return out
}

// Reset forgets injected actions.
func (s *Simulated) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.injected = nil
}

// Available returns true (simulated is always available).
func (s *Simulated) Available() (bool, string) {
	return true, "simulated device (for testing)"
}

// Close ends any open stream.
func (s *Simulated) Close() error {
	s.closeStream(nil)
	return nil
}
