// Package enumerate builds the ordered set of backup targets for one run,
// in either flat or LargeFS mode.
package enumerate

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/mwhitfield/backherd/internal/model"
)

// Set holds the enumerated targets. Exempt targets are launched immediately
// and bypass the gate; Queued targets are shuffled and admitted one by one.
type Set struct {
	Exempt []model.Target
	Queued []model.Target
}

// Total is the number of jobs this run will launch.
func (s Set) Total() int {
	return len(s.Exempt) + len(s.Queued)
}

const mountsPath = "/proc/self/mounts"

// Flat enumerates every mounted filesystem from the system mounts table,
// keeping mount points that match include (nil matches all) and do not match
// exclude (nil matches none). All flat targets are queued and recursive.
func Flat(include, exclude *regexp.Regexp) (Set, error) {
	f, err := os.Open(mountsPath)
	if err != nil {
		return Set{}, fmt.Errorf("open mounts table: %w", err)
	}
	defer f.Close()
	return FlatFrom(f, include, exclude)
}

// FlatFrom is Flat over an arbitrary mounts table, the injection seam used
// by tests.
func FlatFrom(r io.Reader, include, exclude *regexp.Regexp) (Set, error) {
	var set Set
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		mount := unescapeMount(fields[1])
		if include != nil && !include.MatchString(mount) {
			continue
		}
		if exclude != nil && exclude.MatchString(mount) {
			continue
		}
		set.Queued = append(set.Queued, model.Target{
			Path:    mount,
			Recurse: true,
			Index:   len(set.Queued),
		})
	}
	if err := sc.Err(); err != nil {
		return Set{}, fmt.Errorf("read mounts table: %w", err)
	}
	if set.Total() == 0 {
		return Set{}, fmt.Errorf("no eligible filesystems after include/exclude filtering")
	}
	return set, nil
}

// LargeFS enumerates each configured parent directory as an exempt,
// non-recursive target and its immediate child directories as queued
// recursive targets.
func LargeFS(parents []string) (Set, error) {
	var set Set
	index := 0
	for _, parent := range parents {
		entries, err := os.ReadDir(parent)
		if err != nil {
			return Set{}, fmt.Errorf("read parent directory %s: %w", parent, err)
		}
		set.Exempt = append(set.Exempt, model.Target{
			Path:    parent,
			Recurse: false,
			Index:   index,
			Exempt:  true,
		})
		index++
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			set.Queued = append(set.Queued, model.Target{
				Path:    filepath.Join(parent, e.Name()),
				Recurse: true,
				Index:   index,
			})
			index++
		}
	}
	if set.Total() == 0 {
		return Set{}, fmt.Errorf("no targets under configured LargeFS parents")
	}
	return set, nil
}

// unescapeMount decodes the octal escapes the kernel uses for whitespace in
// mount points (\040 etc).
func unescapeMount(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) {
			var c byte
			ok := true
			for j := 1; j <= 3; j++ {
				d := s[i+j]
				if d < '0' || d > '7' {
					ok = false
					break
				}
				c = c<<3 | (d - '0')
			}
			if ok {
				b.WriteByte(c)
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
