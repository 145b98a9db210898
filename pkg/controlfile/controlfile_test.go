package controlfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestWriteSnapshotThenReadServers(t *testing.T) {
	dir := t.TempDir()
	b := New(dir)

	servers := []ServerRecord{{ProjectName: "demo", Port: 9000, Status: "running"}}
	require.NoError(t, b.WriteSnapshot(1234, servers))

	pid, err := b.ReadSupervisorPID()
	require.NoError(t, err)
	require.Equal(t, 1234, pid)

	got, err := b.ReadServers()
	require.NoError(t, err)
	require.Equal(t, servers, got)
}

func TestAppendCommandCreatesFileWhenMissing(t *testing.T) {
	dir := t.TempDir()
	b := New(dir)

	require.NoError(t, b.AppendCommand("restart", "demo"))

	data, err := os.ReadFile(filepath.Join(dir, FileName))
	require.NoError(t, err)
	require.Contains(t, string(data), `"restart"`)
}

func TestDrainAppliesAndClearsCommands(t *testing.T) {
	dir := t.TempDir()
	b := New(dir)

	require.NoError(t, b.WriteSnapshot(1, nil))
	require.NoError(t, b.AppendCommand("start", "alpha"))
	require.NoError(t, b.AppendCommand("bogus", "beta"))

	var applied []string
	err := b.Drain(func(action, project string) error {
		applied = append(applied, action+":"+project)
		return nil
	})
	require.Error(t, err) // the unknown "bogus" action surfaces as an error
	require.Equal(t, []string{"start:alpha"}, applied)

	servers, err := b.ReadServers()
	require.NoError(t, err)
	require.Empty(t, servers)
}

func TestIsStaleDetectsDeadPID(t *testing.T) {
	dir := t.TempDir()
	b := New(dir)

	require.NoError(t, b.WriteSnapshot(1, nil))
	stale, err := b.IsStale()
	require.NoError(t, err)
	require.False(t, stale)

	// PID 999999 is exceedingly unlikely to be a live process in any
	// sandbox this test runs in.
	require.NoError(t, b.WriteSnapshot(999999, nil))
	stale, err = b.IsStale()
	require.NoError(t, err)
	require.True(t, stale)
}

func TestRemoveIfStaleDeletesOnlyWhenStale(t *testing.T) {
	dir := t.TempDir()
	b := New(dir)

	require.NoError(t, b.WriteSnapshot(os.Getpid(), nil))
	require.NoError(t, b.RemoveIfStale())
	require.FileExists(t, b.Path())

	require.NoError(t, b.WriteSnapshot(999999, nil))
	require.NoError(t, b.RemoveIfStale())
	require.NoFileExists(t, b.Path())
}

func TestWatcherSignalsOnControlFileWrite(t *testing.T) {
	dir := t.TempDir()
	b := New(dir)

	w, err := NewWatcher(dir, zerolog.Nop())
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, b.WriteSnapshot(1, nil))

	select {
	case <-w.Changed:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a change notification after WriteSnapshot")
	}
}
