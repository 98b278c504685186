package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, lines string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backherd.conf")
	require.NoError(t, os.WriteFile(path, []byte(lines), 0644))
	return path
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "backherd "+version+"\n", out)
}

func TestSweepCommand(t *testing.T) {
	logRoot := t.TempDir()
	old := filepath.Join(logRoot, "20260101-000000-aaaaaaaa")
	require.NoError(t, os.MkdirAll(old, 0755))
	stale := time.Now().Add(-40 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(old, stale, stale))
	recent := filepath.Join(logRoot, "20260827-000000-bbbbbbbb")
	require.NoError(t, os.MkdirAll(recent, 0755))

	cfgPath := writeConfig(t, "MAXPROC=4\nLOGROOT="+logRoot+"\nRETENTIONDAYS=30\n")

	out, err := execute(t, "--config", cfgPath, "sweep")
	require.NoError(t, err)
	assert.Equal(t, "removed 1 run directories older than 30 days\n", out)

	_, err = os.Stat(old)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(recent)
	assert.NoError(t, err)
}

func TestSweepCommand_MissingConfig(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "absent.conf"), "sweep")
	assert.Error(t, err)
}

func TestSweepCommand_InvalidConfig(t *testing.T) {
	cfgPath := writeConfig(t, "MAXPROC=1\n")
	_, err := execute(t, "--config", cfgPath, "sweep")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAXPROC")
}

func TestSweepCommand_RejectsArgs(t *testing.T) {
	cfgPath := writeConfig(t, "MAXPROC=4\n")
	_, err := execute(t, "--config", cfgPath, "sweep", "extra")
	assert.Error(t, err)
}

func TestUnknownCommand(t *testing.T) {
	_, err := execute(t, "bogus")
	assert.Error(t, err)
}
