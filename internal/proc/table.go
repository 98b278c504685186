// Package proc tracks the process groups of live jobs so cleanup is scoped
// to this run and never touches other concurrent runs.
package proc

import (
	"sync"
	"syscall"
)

// Table is the registry of live job process groups. Each job runs in its own
// group (pgid == leader pid), so killing -pgid takes down the agent and every
// descendant it spawned.
type Table struct {
	mu    sync.Mutex
	pgids map[int]struct{}
}

func NewTable() *Table {
	return &Table{pgids: make(map[int]struct{})}
}

func (t *Table) Add(pgid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pgids[pgid] = struct{}{}
}

func (t *Table) Remove(pgid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pgids, pgid)
}

// Live returns how many job process groups are currently registered.
func (t *Table) Live() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pgids)
}

// KillAll sends sig to every registered process group and clears the table.
// It returns how many groups were signalled. Errors from already-gone groups
// are ignored.
func (t *Table) KillAll(sig syscall.Signal) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for pgid := range t.pgids {
		if err := syscall.Kill(-pgid, sig); err == nil {
			n++
		}
		delete(t.pgids, pgid)
	}
	return n
}
