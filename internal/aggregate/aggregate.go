// Package aggregate folds job results into the run-wide tallies and mirrors
// them onto the record streams in the run directory.
package aggregate

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mwhitfield/backherd/internal/model"
	"github.com/mwhitfield/backherd/internal/runlog"
)

// Stream file names inside the run directory. Both are transient: the exit
// handler removes them on every path.
const (
	RecordStream = "completion.stream"
	ErrorStream  = "errors.stream"
)

// Aggregator is the sole consumer of job results. It owns the RunState;
// nothing else mutates it.
type Aggregator struct {
	runDir   string
	total    int
	interval time.Duration
	logger   *runlog.Logger

	state   *model.RunState
	records *os.File
	errors  *os.File
	done    chan struct{}
}

func New(runDir string, total int, interval time.Duration, logger *runlog.Logger) (*Aggregator, error) {
	records, err := os.OpenFile(filepath.Join(runDir, RecordStream), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open record stream: %w", err)
	}
	errStream, err := os.OpenFile(filepath.Join(runDir, ErrorStream), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		records.Close()
		return nil, fmt.Errorf("open error stream: %w", err)
	}

	return &Aggregator{
		runDir:   runDir,
		total:    total,
		interval: interval,
		logger:   logger,
		state:    model.NewRunState(),
		records:  records,
		errors:   errStream,
		done:     make(chan struct{}),
	}, nil
}

// Run drains results until the channel closes, then releases Done. It is the
// only goroutine touching the RunState while running.
func (a *Aggregator) Run(results <-chan model.Result) {
	defer close(a.done)
	defer a.records.Close()
	defer a.errors.Close()

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case res, ok := <-results:
			if !ok {
				return
			}
			a.fold(res)
		case <-ticker.C:
			a.logger.Infof("progress: %d of %d jobs finished, highest status %d",
				a.state.Finalized(), a.total, a.state.Highest)
		}
	}
}

func (a *Aggregator) fold(res model.Result) {
	a.state.Fold(res)

	fmt.Fprintln(a.records, res.Record())
	for _, line := range res.ErrorLines {
		fmt.Fprintln(a.errors, line)
		a.logger.Warnf("error line: %s", line)
	}
}

// Done is released once Run has drained the closed results channel.
func (a *Aggregator) Done() <-chan struct{} {
	return a.done
}

// State exposes the aggregate. Callers must wait on Done first; after that
// the state is quiescent.
func (a *Aggregator) State() *model.RunState {
	return a.state
}

// RemoveStreams deletes the transient stream files. Missing files are fine.
func (a *Aggregator) RemoveStreams() {
	os.Remove(filepath.Join(a.runDir, RecordStream))
	os.Remove(filepath.Join(a.runDir, ErrorStream))
}
