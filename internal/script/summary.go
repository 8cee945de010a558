package script

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"scriptor/internal/input"
)

// Summary describes a script without replaying it.
type Summary struct {
	Events   int
	ByKind   map[input.ActionKind]int
	First    time.Time
	Last     time.Time
	Duration time.Duration
}

// Summarize counts events per action kind and measures the span between
// the first and last timestamps.
func Summarize(events []input.Event) Summary {
	s := Summary{
		Events: len(events),
		ByKind: make(map[input.ActionKind]int),
	}
	if len(events) == 0 {
		return s
	}
	for _, ev := range events {
		s.ByKind[ev.Action.Kind]++
	}
	s.First = events[0].Timestamp
	s.Last = events[len(events)-1].Timestamp
	s.Duration = s.Last.Sub(s.First)
	return s
}

// String renders the summary on one line, e.g.
// "12 events over 3.2s (key_press=4 key_release=4 mouse_move=4)".
func (s Summary) String() string {
	if s.Events == 0 {
		return "0 events"
	}
	kinds := make([]input.ActionKind, 0, len(s.ByKind))
	for k := range s.ByKind {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, fmt.Sprintf("%s=%d", k, s.ByKind[k]))
	}
	return fmt.Sprintf("%d events over %s (%s)",
		s.Events, s.Duration.Round(time.Millisecond), strings.Join(parts, " "))
}
