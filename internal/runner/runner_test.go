package runner

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwhitfield/backherd/internal/model"
	"github.com/mwhitfield/backherd/internal/proc"
	"github.com/mwhitfield/backherd/internal/runlog"
	"github.com/mwhitfield/backherd/internal/state"
)

func writeAgent(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mock-agent")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755))
	return path
}

func newTestRunner(t *testing.T, agent string, timeout time.Duration, errPat, ignorePat string) (*Runner, *state.Store, *proc.Table, string) {
	t.Helper()
	runDir := t.TempDir()
	store := state.NewStore(runDir)
	procs := proc.NewTable()
	logger := runlog.NewWithWriter(&bytes.Buffer{}, nil, runlog.LevelDebug)

	var errRe, ignoreRe *regexp.Regexp
	if errPat != "" {
		errRe = regexp.MustCompile(errPat)
	}
	if ignorePat != "" {
		ignoreRe = regexp.MustCompile(ignorePat)
	}
	return New(agent, timeout, runDir, errRe, ignoreRe, store, procs, logger), store, procs, runDir
}

func TestRunner_StatusClassification(t *testing.T) {
	agent := writeAgent(t, `case "$2" in
*/warn) exit 4 ;;
*/err) exit 8 ;;
*/bad) exit 9 ;;
*) exit 0 ;;
esac
`)
	r, _, _, _ := newTestRunner(t, agent, time.Minute, "", "")

	cases := []struct {
		path   string
		status int
		class  model.Class
	}{
		{"/x/ok", 0, model.ClassSuccess},
		{"/x/warn", 4, model.ClassWarning},
		{"/x/err", 8, model.ClassError},
		{"/x/bad", 9, model.ClassFail},
	}
	for i, c := range cases {
		res := r.Run(model.Target{Path: c.path, Recurse: true, Index: i})
		assert.Equal(t, c.status, res.Status, c.path)
		assert.Equal(t, c.class, res.Class, c.path)
		assert.False(t, res.TimedOut, c.path)
		assert.Equal(t, i, res.Index)
	}
}

func TestRunner_AgentArguments(t *testing.T) {
	agent := writeAgent(t, `echo "argv: $1 $2 $3"
exit 0
`)
	r, _, _, _ := newTestRunner(t, agent, time.Minute, "", "")

	res := r.Run(model.Target{Path: "/data/a", Recurse: true, Index: 3})
	require.Equal(t, 0, res.Status)

	out, err := os.ReadFile(r.OutputFile(3))
	require.NoError(t, err)
	assert.Contains(t, string(out), "argv: incr /data/a subdir=yes")
}

func TestRunner_NonRecursiveFlag(t *testing.T) {
	agent := writeAgent(t, `echo "flag=$3"
exit 0
`)
	r, _, _, _ := newTestRunner(t, agent, time.Minute, "", "")

	r.Run(model.Target{Path: "/archive", Recurse: false, Index: 0, Exempt: true})
	out, err := os.ReadFile(r.OutputFile(0))
	require.NoError(t, err)
	assert.Contains(t, string(out), "flag=subdir=no")
}

func TestRunner_ErrorLineScan(t *testing.T) {
	agent := writeAgent(t, `echo "starting"
echo "ANS1301E file vanished"
echo "ANS1898E progress noise"
echo "all fine"
exit 8
`)
	r, _, _, _ := newTestRunner(t, agent, time.Minute, `ANS[0-9]+E`, `ANS1898E`)

	res := r.Run(model.Target{Path: "/data/a", Recurse: true, Index: 0})
	require.Len(t, res.ErrorLines, 1)
	assert.Equal(t, "/data/a: ANS1301E file vanished", res.ErrorLines[0])
}

func TestRunner_TimeoutKillsProcessGroup(t *testing.T) {
	agent := writeAgent(t, `sleep 30 &
sleep 30
exit 0
`)
	r, store, procs, _ := newTestRunner(t, agent, 200*time.Millisecond, "", "")

	start := time.Now()
	res := r.Run(model.Target{Path: "/x/slow", Recurse: true, Index: 0})

	assert.True(t, res.TimedOut)
	assert.Equal(t, model.StatusTimeout, res.Status)
	assert.Equal(t, model.ClassFail, res.Class)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 0, procs.Live())

	// The timeout status is durable like any other.
	assert.Equal(t, model.StatusTimeout, store.RecoverHighest())
}

func TestRunner_RaisesDurableHighest(t *testing.T) {
	agent := writeAgent(t, `exit 4
`)
	r, store, _, _ := newTestRunner(t, agent, time.Minute, "", "")

	r.Run(model.Target{Path: "/x", Recurse: true, Index: 0})
	assert.Equal(t, 4, store.RecoverHighest())
}

func TestRunner_MissingAgent(t *testing.T) {
	r, _, procs, _ := newTestRunner(t, "/nonexistent/agent", time.Minute, "", "")

	res := r.Run(model.Target{Path: "/x", Recurse: true, Index: 0})
	assert.Equal(t, 127, res.Status)
	assert.Equal(t, model.ClassFail, res.Class)
	assert.Equal(t, 0, procs.Live())
}

func TestRunner_OutputFilePerJob(t *testing.T) {
	agent := writeAgent(t, `echo "backed up $2"
exit 0
`)
	r, _, _, runDir := newTestRunner(t, agent, time.Minute, "", "")

	r.Run(model.Target{Path: "/data/a", Recurse: true, Index: 0})
	r.Run(model.Target{Path: "/data/b", Recurse: true, Index: 1})

	a, err := os.ReadFile(filepath.Join(runDir, "job-000.out"))
	require.NoError(t, err)
	b, err := os.ReadFile(filepath.Join(runDir, "job-001.out"))
	require.NoError(t, err)
	assert.Contains(t, string(a), "/data/a")
	assert.Contains(t, string(b), "/data/b")
}
