// Package runner executes one backup agent process per target, with a
// wall-clock timeout, per-job output capture, and error-signature scanning.
package runner

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/mwhitfield/backherd/internal/model"
	"github.com/mwhitfield/backherd/internal/proc"
	"github.com/mwhitfield/backherd/internal/runlog"
	"github.com/mwhitfield/backherd/internal/state"
)

// Runner launches agent processes. One Runner serves all jobs of a run; each
// Run call is independent and safe to invoke concurrently.
type Runner struct {
	agent   string
	timeout time.Duration
	runDir  string

	errPattern    *regexp.Regexp
	ignorePattern *regexp.Regexp

	store  *state.Store
	procs  *proc.Table
	logger *runlog.Logger
}

func New(agent string, timeout time.Duration, runDir string, errPattern, ignorePattern *regexp.Regexp, store *state.Store, procs *proc.Table, logger *runlog.Logger) *Runner {
	return &Runner{
		agent:         agent,
		timeout:       timeout,
		runDir:        runDir,
		errPattern:    errPattern,
		ignorePattern: ignorePattern,
		store:         store,
		procs:         procs,
		logger:        logger,
	}
}

// OutputFile returns the per-job raw output path for a target index.
func (r *Runner) OutputFile(index int) string {
	return filepath.Join(r.runDir, fmt.Sprintf("job-%03d.out", index))
}

// Run executes the agent against one target and finalizes exactly one
// Result. It blocks until the agent exits or the timeout kills it; it never
// blocks on another job.
func (r *Runner) Run(t model.Target) model.Result {
	start := time.Now()
	res := model.Result{
		Index: t.Index,
		Path:  t.Path,
		Start: start,
	}

	outPath := r.OutputFile(t.Index)
	outFile, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		r.logger.Errorf("job %03d %s: create output file: %v", t.Index, t.Path, err)
		return r.finalize(res, model.StatusTimeout, false)
	}
	defer outFile.Close()

	cmd := exec.Command(r.agent, "incr", t.Path, t.SubdirFlag())
	cmd.Stdout = outFile
	cmd.Stderr = outFile
	// Each agent gets its own process group so the timeout and the exit
	// handler can take down its whole descendant tree without touching
	// other concurrent runs.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		r.logger.Errorf("job %03d %s: start agent: %v", t.Index, t.Path, err)
		return r.finalize(res, 127, false)
	}

	pid := cmd.Process.Pid
	res.PID = pid
	r.procs.Add(pid)
	r.logger.Infof("job %03d started path=%s pid=%d %s", t.Index, t.Path, pid, t.SubdirFlag())

	var timedOut atomic.Bool
	timer := time.AfterFunc(r.timeout, func() {
		timedOut.Store(true)
		syscall.Kill(-pid, syscall.SIGKILL)
	})

	waitErr := cmd.Wait()
	timer.Stop()
	r.procs.Remove(pid)

	status := exitStatus(cmd, waitErr)
	if timedOut.Load() {
		status = model.StatusTimeout
		r.logger.Warnf("job %03d %s: timeout after %s, process group killed", t.Index, t.Path, r.timeout)
	}

	res.ErrorLines = r.scanOutput(outPath, t)
	return r.finalize(res, status, timedOut.Load())
}

// finalize raises the durable highest, classifies, and stamps timings. This
// runs in the job's own flow immediately after the agent exits, so the
// durable record is current even if the coordinator dies next.
func (r *Runner) finalize(res model.Result, status int, timedOut bool) model.Result {
	res.Status = status
	res.Class = model.Classify(status)
	res.TimedOut = timedOut
	res.End = time.Now()
	res.Elapsed = res.End.Sub(res.Start)

	if err := r.store.Raise(status); err != nil {
		r.logger.Errorf("job %03d %s: persist highest status: %v", res.Index, res.Path, err)
	}

	r.logger.Infof("job %03d finished path=%s status=%d class=%s elapsed=%s",
		res.Index, res.Path, res.Status, res.Class, res.Elapsed.Round(time.Second))
	return res
}

// scanOutput collects output lines matching the error signature, minus the
// ignore pattern.
func (r *Runner) scanOutput(outPath string, t model.Target) []string {
	if r.errPattern == nil {
		return nil
	}
	f, err := os.Open(outPath)
	if err != nil {
		r.logger.Warnf("job %03d %s: scan output: %v", t.Index, t.Path, err)
		return nil
	}
	defer f.Close()

	var matched []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !r.errPattern.MatchString(line) {
			continue
		}
		if r.ignorePattern != nil && r.ignorePattern.MatchString(line) {
			continue
		}
		matched = append(matched, fmt.Sprintf("%s: %s", t.Path, line))
	}
	if err := sc.Err(); err != nil {
		r.logger.Warnf("job %03d %s: scan output: %v", t.Index, t.Path, err)
	}
	return matched
}

// exitStatus derives the agent's exit status, mapping signal deaths into the
// 128+signal band.
func exitStatus(cmd *exec.Cmd, waitErr error) int {
	if waitErr == nil {
		return 0
	}
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return 128 + int(ws.Signal())
		}
		return exitErr.ExitCode()
	}
	return model.StatusTimeout
}
