package engine

import "scriptor/internal/input"

// recordBuffer holds captured events in capture order. It has no lock of its
// own; every access happens under Engine.mu.
type recordBuffer struct {
	events []input.Event
}

func (b *recordBuffer) append(ev input.Event) {
	b.events = append(b.events, ev)
}

func (b *recordBuffer) reset() {
	b.events = nil
}

func (b *recordBuffer) len() int {
	return len(b.events)
}

// snapshot returns a copy that later appends or resets cannot touch.
func (b *recordBuffer) snapshot() []input.Event {
	out := make([]input.Event, len(b.events))
	copy(out, b.events)
	return out
}

// replace swaps in events wholesale. The caller must not keep using the
// slice.
func (b *recordBuffer) replace(events []input.Event) {
	b.events = events
}
