// Package retention prunes old run directories from the log root.
package retention

import (
	"os"
	"path/filepath"
	"time"

	"github.com/mwhitfield/backherd/internal/lock"
	"github.com/mwhitfield/backherd/internal/runlog"
)

// Sweep removes first-level subdirectories of logRoot whose modification
// time is older than the retention age. The log root itself is never
// removed, directories whose run lock is still held are skipped, and a
// failed removal is logged and counted against nothing. Returns how many
// directories were removed.
func Sweep(logRoot string, retention time.Duration, now time.Time, logger *runlog.Logger) int {
	entries, err := os.ReadDir(logRoot)
	if err != nil {
		logger.Warnf("retention sweep: read log root: %v", err)
		return 0
	}

	cutoff := now.Add(-retention)
	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(logRoot, e.Name())
		info, err := e.Info()
		if err != nil {
			logger.Warnf("retention sweep: stat %s: %v", dir, err)
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if lock.Held(filepath.Join(dir, lock.FileName)) {
			logger.Warnf("retention sweep: %s is older than retention but still locked, skipping", dir)
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			logger.Warnf("retention sweep: remove %s: %v", dir, err)
			continue
		}
		logger.Infof("retention sweep: removed %s", dir)
		removed++
	}
	return removed
}
