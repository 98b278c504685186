// Package coordinator drives one backup run end to end: enumerate, shuffle,
// gate-bounded launching, aggregation, and the guaranteed exit-path cleanup.
package coordinator

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/mwhitfield/backherd/internal/aggregate"
	"github.com/mwhitfield/backherd/internal/config"
	"github.com/mwhitfield/backherd/internal/enumerate"
	"github.com/mwhitfield/backherd/internal/gate"
	"github.com/mwhitfield/backherd/internal/lock"
	"github.com/mwhitfield/backherd/internal/model"
	"github.com/mwhitfield/backherd/internal/proc"
	"github.com/mwhitfield/backherd/internal/retention"
	"github.com/mwhitfield/backherd/internal/runlog"
	"github.com/mwhitfield/backherd/internal/runner"
	"github.com/mwhitfield/backherd/internal/shuffle"
	"github.com/mwhitfield/backherd/internal/state"
)

// Phase is the coordinator's lifecycle state.
type Phase int32

const (
	PhaseRunning Phase = iota
	PhaseDraining
	PhaseCompleted
	PhaseInterrupted
)

func (p Phase) String() string {
	switch p {
	case PhaseRunning:
		return "running"
	case PhaseDraining:
		return "draining"
	case PhaseCompleted:
		return "completed"
	case PhaseInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// ExitFatal is the exit status for configuration and enumeration failures.
// It is outside the agent status bands and distinct from the reserved 255.
const ExitFatal = 1

// Coordinator owns one run. Jobs communicate with it only through the
// results channel and the gate; cleanup is scoped through the process table.
type Coordinator struct {
	cfg    config.Config
	runDir string

	logger  *runlog.Logger
	store   *state.Store
	gate    *gate.Gate
	procs   *proc.Table
	runLock *lock.RunLock
	runner  *runner.Runner
	agg     *aggregate.Aggregator

	phase    atomic.Int32
	finalize sync.Once
}

// New prepares the run directory under the log root, acquires the run lock,
// and opens the run log. An unwritable log root is a fatal configuration
// error.
func New(cfg config.Config) (*Coordinator, error) {
	if err := os.MkdirAll(cfg.LogRoot, 0755); err != nil {
		return nil, fmt.Errorf("log root %s not writable: %w", cfg.LogRoot, err)
	}

	// Timestamp plus a short unique suffix: two runs started in the same
	// second must not share a directory.
	runID := time.Now().UTC().Format("20060102-150405") + "-" + uuid.NewString()[:8]
	runDir := filepath.Join(cfg.LogRoot, runID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return nil, fmt.Errorf("create run directory: %w", err)
	}

	logger, err := runlog.New(runDir, runlog.ParseLevel(cfg.LogLevel))
	if err != nil {
		return nil, err
	}

	runLock := lock.NewRunLock(filepath.Join(runDir, lock.FileName))
	if err := runLock.TryLock(); err != nil {
		logger.Close()
		return nil, err
	}

	store := state.NewStore(runDir)
	procs := proc.NewTable()

	return &Coordinator{
		cfg:     cfg,
		runDir:  runDir,
		logger:  logger,
		store:   store,
		gate:    gate.New(cfg.MaxProc),
		procs:   procs,
		runLock: runLock,
		runner: runner.New(cfg.Agent, cfg.JobTimeout, runDir,
			cfg.ErrPattern, cfg.IgnorePattern, store, procs, logger),
	}, nil
}

// RunDir returns the directory holding this run's log, record and output
// files.
func (c *Coordinator) RunDir() string {
	return c.runDir
}

// Phase returns the current lifecycle phase.
func (c *Coordinator) Phase() Phase {
	return Phase(c.phase.Load())
}

func (c *Coordinator) setPhase(p Phase) {
	c.phase.Store(int32(p))
	c.logger.Debugf("phase=%s", p)
}

// Run executes the whole run and returns the process exit status: the
// highest agent status on completion, the recovered highest (or 255) on
// interruption, ExitFatal on pre-run failure. The exit-path handler runs on
// every return.
func (c *Coordinator) Run(ctx context.Context) int {
	defer c.teardown()

	c.setPhase(PhaseRunning)
	c.logger.Infof("run starting pid=%d dir=%s maxproc=%d", os.Getpid(), c.runDir, c.cfg.MaxProc)

	removed := retention.Sweep(c.cfg.LogRoot, c.cfg.Retention(), time.Now(), c.logger)
	c.logger.Infof("retention sweep removed %d run directories older than %d days", removed, c.cfg.RetentionDays)

	set, err := c.enumerate()
	if err != nil {
		c.logger.Errorf("enumeration failed: %v", err)
		return ExitFatal
	}
	shuffle.Targets(set.Queued)
	c.logger.Infof("enumerated %d targets (%d exempt, %d queued)",
		set.Total(), len(set.Exempt), len(set.Queued))

	agg, err := aggregate.New(c.runDir, set.Total(), c.cfg.PollInterval, c.logger)
	if err != nil {
		c.logger.Errorf("aggregator setup failed: %v", err)
		return ExitFatal
	}
	c.agg = agg

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Buffered for every job, so a worker finishing after an interrupt never
	// blocks on a consumer that already stopped.
	results := make(chan model.Result, set.Total())
	go agg.Run(results)

	var wg sync.WaitGroup
	launch := func(t model.Target, release bool) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if release {
				defer c.gate.Release()
			}
			results <- c.runner.Run(t)
		}()
	}

	// Exempt LargeFS parents start immediately and never occupy a slot.
	for _, t := range set.Exempt {
		launch(t, false)
	}

	interrupted := false
	for _, t := range set.Queued {
		if err := c.gate.Acquire(ctx); err != nil {
			c.logger.Warnf("termination signal received, no further jobs will be launched")
			interrupted = true
			break
		}
		launch(t, true)
	}

	c.setPhase(PhaseDraining)

	if !interrupted {
		joined := make(chan struct{})
		go func() {
			wg.Wait()
			close(joined)
		}()
		select {
		case <-joined:
		case <-ctx.Done():
			interrupted = true
		}
	}

	if interrupted {
		c.setPhase(PhaseInterrupted)
		status := c.store.RecoverHighest()
		c.logger.Errorf("run cancelled, exiting with status %d", status)
		return status
	}

	close(results)
	<-agg.Done()

	st := agg.State()
	st.Completed = true
	if err := c.store.MarkCompleted(st.Highest); err != nil {
		c.logger.Errorf("persist completion: %v", err)
	}
	c.setPhase(PhaseCompleted)
	return st.Highest
}

func (c *Coordinator) enumerate() (enumerate.Set, error) {
	if c.cfg.LargeFSMode() {
		return enumerate.LargeFS(c.cfg.LargeFS)
	}
	return enumerate.Flat(c.cfg.Include, c.cfg.Exclude)
}

// teardown is the guaranteed exit-path handler: it kills every live job
// process group, prints the summary only on completion, removes the durable
// record and the transient streams, and releases the run lock.
func (c *Coordinator) teardown() {
	c.finalize.Do(func() {
		if killed := c.procs.KillAll(syscall.SIGKILL); killed > 0 {
			c.logger.Warnf("killed %d live job process groups", killed)
		}

		if c.agg != nil {
			if c.Phase() == PhaseCompleted {
				for _, line := range strings.Split(strings.TrimRight(c.agg.State().Summary(), "\n"), "\n") {
					c.logger.Infof("%s", line)
				}
			}
			c.agg.RemoveStreams()
		}

		if err := c.store.Remove(); err != nil {
			c.logger.Warnf("%v", err)
		}
		c.runLock.Unlock()
		c.logger.Close()
	})
}
