// Package state persists the run's highest observed exit status so it
// survives a hard interruption.
package state

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/mwhitfield/backherd/internal/model"
)

// RecordFile is the durable record's name inside the run directory.
const RecordFile = "state.yaml"

// Record is the durable run-state document.
type Record struct {
	Highest   int       `yaml:"highest"`
	PID       int       `yaml:"pid"`
	Updated   time.Time `yaml:"updated"`
	Completed bool      `yaml:"completed"`
}

// Store serializes all writers of the durable record. Raise is a true
// compare-and-set: concurrent job completions cannot lose an update, and the
// write-then-rename persistence means no reader ever observes a partial
// value.
type Store struct {
	mu     sync.Mutex
	path   string
	closed bool
}

func NewStore(runDir string) *Store {
	return &Store{path: filepath.Join(runDir, RecordFile)}
}

// Path returns the record's location.
func (s *Store) Path() string {
	return s.path
}

// Raise persists status as the new highest if it exceeds the current record.
// The record is reread immediately before any overwrite, so a value written
// by an earlier crashed writer is never regressed.
func (s *Store) Raise(status int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	cur, ok, err := s.read()
	if err != nil {
		return err
	}
	if ok && status <= cur.Highest {
		return nil
	}
	return s.write(Record{
		Highest:   status,
		PID:       os.Getpid(),
		Updated:   time.Now().UTC(),
		Completed: false,
	})
}

// MarkCompleted records the final highest with the completion flag set.
func (s *Store) MarkCompleted(highest int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.write(Record{
		Highest:   highest,
		PID:       os.Getpid(),
		Updated:   time.Now().UTC(),
		Completed: true,
	})
}

// Read returns the current record, reporting ok=false when none exists.
func (s *Store) Read() (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// RecoverHighest yields the last durable highest, or 255 when no record
// survives. This is the interrupted-run exit status.
func (s *Store) RecoverHighest() int {
	rec, ok, err := s.Read()
	if err != nil || !ok {
		return model.StatusInterrupted
	}
	return rec.Highest
}

// Remove deletes the durable record and disarms the store: a Raise arriving
// from a job killed during teardown can no longer resurrect the file.
func (s *Store) Remove() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove state record: %w", err)
	}
	return nil
}

func (s *Store) read() (Record, bool, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("read state record: %w", err)
	}
	var rec Record
	if err := yamlv3.Unmarshal(data, &rec); err != nil {
		return Record{}, false, fmt.Errorf("parse state record: %w", err)
	}
	return rec, true, nil
}

// write persists the record atomically: temp file in the same directory,
// sync, then rename over the target.
func (s *Store) write(rec Record) error {
	content, err := yamlv3.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal state record: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".state-tmp-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("rename state record: %w", err)
	}
	return nil
}
