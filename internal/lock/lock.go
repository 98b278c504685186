// Package lock provides the flock-based per-run lock. The coordinator holds
// it for the lifetime of a run; the retention sweeper treats a held lock as
// proof the run directory is still active.
package lock

import (
	"fmt"
	"os"
	"syscall"
)

// FileName is the lock file's name inside a run directory.
const FileName = "run.lock"

type RunLock struct {
	path string
	file *os.File
}

func NewRunLock(path string) *RunLock {
	return &RunLock{path: path}
}

// TryLock acquires the lock without blocking and stamps the holder's PID
// into the lock file.
func (rl *RunLock) TryLock() error {
	f, err := os.OpenFile(rl.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return fmt.Errorf("acquire run lock (run still active?): %w", err)
	}

	if err := f.Truncate(0); err != nil {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		return fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		return fmt.Errorf("write PID to lock file: %w", err)
	}
	if err := f.Sync(); err != nil {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		return fmt.Errorf("sync lock file: %w", err)
	}

	rl.file = f
	return nil
}

// Unlock releases and removes the lock file. Unlocking an unheld lock is a
// no-op.
func (rl *RunLock) Unlock() error {
	if rl.file == nil {
		return nil
	}

	if err := syscall.Flock(int(rl.file.Fd()), syscall.LOCK_UN); err != nil {
		rl.file.Close()
		return fmt.Errorf("release run lock: %w", err)
	}
	if err := rl.file.Close(); err != nil {
		return fmt.Errorf("close lock file: %w", err)
	}

	os.Remove(rl.path)
	rl.file = nil
	return nil
}

// Held probes whether another process currently holds the lock at path.
// A missing lock file means not held.
func Held(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_SH|syscall.LOCK_NB); err != nil {
		return true
	}
	syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	return false
}
