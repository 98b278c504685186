package proc

import (
	"os/exec"
	"syscall"
	"testing"
	"time"
)

func TestTable_AddRemoveLive(t *testing.T) {
	tbl := NewTable()
	if tbl.Live() != 0 {
		t.Fatalf("new table live = %d", tbl.Live())
	}

	tbl.Add(100)
	tbl.Add(200)
	if tbl.Live() != 2 {
		t.Fatalf("live = %d, want 2", tbl.Live())
	}

	tbl.Remove(100)
	if tbl.Live() != 1 {
		t.Fatalf("live = %d, want 1", tbl.Live())
	}

	// Removing an unknown pgid is a no-op.
	tbl.Remove(999)
	if tbl.Live() != 1 {
		t.Fatalf("live = %d, want 1", tbl.Live())
	}
}

func TestTable_KillAllTerminatesGroups(t *testing.T) {
	tbl := NewTable()

	cmd := exec.Command("sleep", "60")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		t.Fatalf("start sleep: %v", err)
	}
	pid := cmd.Process.Pid
	tbl.Add(pid)

	killed := tbl.KillAll(syscall.SIGKILL)
	if killed != 1 {
		t.Errorf("KillAll signalled %d groups, want 1", killed)
	}
	if tbl.Live() != 0 {
		t.Errorf("table not cleared: live = %d", tbl.Live())
	}

	done := make(chan struct{})
	go func() {
		cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("process survived KillAll")
	}
}

func TestTable_KillAllIgnoresGoneGroups(t *testing.T) {
	tbl := NewTable()
	// A pgid that cannot exist: kill fails, nothing is counted.
	tbl.Add(1 << 22)

	if killed := tbl.KillAll(syscall.SIGKILL); killed != 0 {
		t.Errorf("KillAll counted a nonexistent group: %d", killed)
	}
	if tbl.Live() != 0 {
		t.Errorf("table not cleared: live = %d", tbl.Live())
	}
}
