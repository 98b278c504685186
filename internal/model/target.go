// Package model defines the data structures for backherd's targets, job
// results, and run-wide aggregate state.
package model

// Target is one filesystem path designated for one backup job. Targets are
// immutable once enumerated.
type Target struct {
	// Path is the directory or mount point handed to the agent.
	Path string

	// Recurse tells the agent to descend into subdirectories.
	Recurse bool

	// Index is the enumeration sequence number, unique within a run.
	Index int

	// Exempt targets are launched immediately and never occupy a gate slot.
	// Only LargeFS parent directories are exempt.
	Exempt bool
}

// SubdirFlag renders the recursion flag as the agent expects it on the
// command line.
func (t Target) SubdirFlag() string {
	if t.Recurse {
		return "subdir=yes"
	}
	return "subdir=no"
}
