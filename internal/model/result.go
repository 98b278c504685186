package model

import (
	"fmt"
	"time"
)

// Result is the single finalization record of one job. It is produced exactly
// once per launched job, by the job's own runner, and consumed only by the
// aggregator.
type Result struct {
	Index  int
	Path   string
	PID    int
	Status int
	Class  Class

	Start   time.Time
	End     time.Time
	Elapsed time.Duration

	// TimedOut marks a job killed at the wall-clock limit.
	TimedOut bool

	// ErrorLines are output lines matching the configured error signature,
	// minus the ignore pattern.
	ErrorLines []string
}

// Record renders the one-line completion record appended to the record
// stream, including the human-readable elapsed duration.
func (r Result) Record() string {
	line := fmt.Sprintf("job %03d %s status=%d class=%s elapsed=%s",
		r.Index, r.Path, r.Status, r.Class, r.Elapsed.Round(time.Second))
	if r.TimedOut {
		line += " timeout"
	}
	return line
}
