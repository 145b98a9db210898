package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/projectforge/devsupervisor/pkg/workerproc"
)

// sleeperScript writes a script that ignores every argument and just
// sleeps, standing in for a worker binary that cannot be built here.
func sleeperScript(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sleeper.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexec sleep 60\n"), 0o755))
	return path
}

func newTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	return New(Config{
		WorkerBinary: sleeperScript(t),
		LogDir:       t.TempDir(),
		BasePort:     20000,
	})
}

func TestAddServerRejectsDuplicateNameAndPort(t *testing.T) {
	s := newTestSupervisor(t)
	reg := workerproc.Registration{ProjectName: "demo", ProjectPath: "/tmp/demo", Port: 20000, Transport: "streamable", Host: "127.0.0.1"}
	require.NoError(t, s.AddServer(reg))
	require.Error(t, s.AddServer(reg))

	reg2 := workerproc.Registration{ProjectName: "demo2", ProjectPath: "/tmp/demo2", Port: 20000, Transport: "streamable", Host: "127.0.0.1"}
	require.Error(t, s.AddServer(reg2))
}

func TestStartStopServerLifecycle(t *testing.T) {
	s := newTestSupervisor(t)
	reg := workerproc.Registration{ProjectName: "demo", ProjectPath: "/tmp/demo", Port: 20001, Transport: "streamable", Host: "127.0.0.1"}
	require.NoError(t, s.AddServer(reg))
	require.NoError(t, s.StartServer("demo"))

	stats, err := s.GetServerStats(context.Background(), "demo")
	require.NoError(t, err)
	require.Equal(t, "running", stats.Status)
	require.NotZero(t, stats.PID)

	require.NoError(t, s.StopServer("demo"))
	stats, err = s.GetServerStats(context.Background(), "demo")
	require.NoError(t, err)
	require.Equal(t, "stopped", stats.Status)
}

func TestAddAndStartServerDerivesUniqueNameOnCollision(t *testing.T) {
	s := newTestSupervisor(t)

	name1, err := s.AddAndStartServer("/srv/projects/widget", "streamable", "127.0.0.1", "", nil, "")
	require.NoError(t, err)
	require.Equal(t, "widget", name1)

	name2, err := s.AddAndStartServer("/srv/other/widget", "streamable", "127.0.0.1", "", nil, "")
	require.NoError(t, err)
	require.Equal(t, "widget_2", name2)

	servers := s.ListServers(context.Background())
	require.Len(t, servers, 2)
	require.NotEqual(t, servers[0].Port, servers[1].Port)
}

func TestFindFreePortSkipsUsedPorts(t *testing.T) {
	s := newTestSupervisor(t)
	require.NoError(t, s.AddServer(workerproc.Registration{ProjectName: "a", ProjectPath: "/tmp/a", Port: 20000, Transport: "streamable", Host: "127.0.0.1"}))

	port, err := s.FindFreePort()
	require.NoError(t, err)
	require.GreaterOrEqual(t, port, 20001)
}

func TestRemoveServerStopsRunningWorker(t *testing.T) {
	s := newTestSupervisor(t)
	reg := workerproc.Registration{ProjectName: "demo", ProjectPath: "/tmp/demo", Port: 20002, Transport: "streamable", Host: "127.0.0.1"}
	require.NoError(t, s.AddServer(reg))
	require.NoError(t, s.StartServer("demo"))

	require.NoError(t, s.RemoveServer("demo"))
	_, err := s.GetServerStats(context.Background(), "demo")
	require.Error(t, err)
}

func TestGetServerLogsTailsLines(t *testing.T) {
	s := newTestSupervisor(t)
	reg := workerproc.Registration{ProjectName: "demo", ProjectPath: "/tmp/demo", Port: 20003, Transport: "streamable", Host: "127.0.0.1"}
	require.NoError(t, s.AddServer(reg))

	logPath := filepath.Join(s.cfg.LogDir, "demo.stdout.log")
	content := "line1\nline2\nline3\nline4\n"
	require.NoError(t, os.WriteFile(logPath, []byte(content), 0o644))

	lines, err := s.GetServerLogs("demo", "stdout", 2)
	require.NoError(t, err)
	require.Equal(t, []string{"line3", "line4"}, lines)
}

func TestMonitorTickRestartsCrashedAutoRestartWorker(t *testing.T) {
	s := newTestSupervisor(t)
	reg := workerproc.Registration{ProjectName: "demo", ProjectPath: "/tmp/demo", Port: 20004, Transport: "streamable", Host: "127.0.0.1", AutoRestart: true}
	require.NoError(t, s.AddServer(reg))
	require.NoError(t, s.StartServer("demo"))

	h, err := s.lookup("demo")
	require.NoError(t, err)
	firstPID := h.PID()
	require.NoError(t, syscall.Kill(firstPID, syscall.SIGKILL))

	require.Eventually(t, func() bool {
		return h.Status() == workerproc.StatusCrashed
	}, 2*time.Second, 20*time.Millisecond)

	s.monitorTick()

	require.Eventually(t, func() bool {
		return h.Status() == workerproc.StatusRunning && h.PID() != firstPID
	}, 5*time.Second, 20*time.Millisecond)
}

func TestShutdownStopsAllWorkersAndIsIdempotent(t *testing.T) {
	s := newTestSupervisor(t)
	require.NoError(t, s.AddServer(workerproc.Registration{ProjectName: "a", ProjectPath: "/tmp/a", Port: 20005, Transport: "streamable", Host: "127.0.0.1"}))
	require.NoError(t, s.AddServer(workerproc.Registration{ProjectName: "b", ProjectPath: "/tmp/b", Port: 20006, Transport: "streamable", Host: "127.0.0.1"}))
	s.StartAll()

	done := make(chan struct{})
	go func() {
		s.Shutdown()
		s.Shutdown() // must not panic or block on double-close
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not complete")
	}

	for _, name := range []string{"a", "b"} {
		stats, err := s.GetServerStats(context.Background(), name)
		require.NoError(t, err)
		require.Equal(t, "stopped", stats.Status)
	}
}
