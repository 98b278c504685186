package model

import (
	"fmt"
	"sort"
	"strings"
)

// RunState is the process-wide aggregate for one invocation. It is owned by
// the aggregator: jobs report results over a channel and never touch it
// directly.
type RunState struct {
	// Highest is the maximum exit status over finalized jobs so far. It is
	// monotonically non-decreasing.
	Highest int

	// Tallies counts finalized jobs per classification.
	Tallies map[Class]int

	// ErrorLines collects every matched error line, in completion order.
	ErrorLines []string

	// Completed is set only when the queue fully drained and the final join
	// finished.
	Completed bool

	finalized int
}

func NewRunState() *RunState {
	return &RunState{Tallies: make(map[Class]int)}
}

// Fold records one finished job. Highest never decreases.
func (s *RunState) Fold(r Result) {
	if r.Status > s.Highest {
		s.Highest = r.Status
	}
	s.Tallies[r.Class]++
	s.ErrorLines = append(s.ErrorLines, r.ErrorLines...)
	s.finalized++
}

// Finalized reports how many jobs have been folded so far.
func (s *RunState) Finalized() int {
	return s.finalized
}

// Summary renders the end-of-run report: per-classification counts followed
// by the matched error lines.
func (s *RunState) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run complete: %d jobs, highest status %d\n", s.finalized, s.Highest)

	classes := make([]string, 0, len(s.Tallies))
	for c := range s.Tallies {
		classes = append(classes, string(c))
	}
	sort.Strings(classes)
	for _, c := range classes {
		fmt.Fprintf(&b, "  %-8s %d\n", c, s.Tallies[Class(c)])
	}

	if len(s.ErrorLines) > 0 {
		fmt.Fprintf(&b, "matched error lines (%d):\n", len(s.ErrorLines))
		for _, line := range s.ErrorLines {
			fmt.Fprintf(&b, "  %s\n", line)
		}
	}
	return b.String()
}
