package report

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"

	"firestige.xyz/flowscope/internal/analyzer"
)

// EventFilter selects analyzer events by name with shell-style globs, for
// example "*rttmeasurement" or "{newconnection,connectiondelete}".
type EventFilter struct {
	patterns []string
	globs    []glob.Glob
	mask     analyzer.Event
}

// NewEventFilter compiles the patterns. No patterns selects everything.
func NewEventFilter(patterns []string) (*EventFilter, error) {
	if len(patterns) == 0 {
		patterns = []string{"*"}
	}
	f := &EventFilter{patterns: patterns}
	for _, p := range patterns {
		g, err := glob.Compile(strings.ToLower(p))
		if err != nil {
			return nil, fmt.Errorf("invalid event pattern %q: %w", p, err)
		}
		f.globs = append(f.globs, g)
	}
	for _, ev := range analyzer.AllEvents.Events() {
		if f.Match(ev.String()) {
			f.mask |= ev
		}
	}
	if f.mask == 0 {
		return nil, fmt.Errorf("event patterns %v match no event", patterns)
	}
	return f, nil
}

// Match reports whether an event name is selected.
func (f *EventFilter) Match(name string) bool {
	for _, g := range f.globs {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// Mask is the set of events the filter selects.
func (f *EventFilter) Mask() analyzer.Event { return f.mask }

func (f *EventFilter) String() string { return strings.Join(f.patterns, ",") }
