package workerproc

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// sleeperScript writes a shell script that ignores every argument
// (including the fixed --project/--transport/... flags Start always
// appends) and just sleeps, so Start/Stop/IsAlive can be exercised
// without a real worker binary.
func sleeperScript(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sleeper.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexec sleep 60\n"), 0o755))
	return path
}

func TestStartMarksHandleRunningAndAlive(t *testing.T) {
	logDir := t.TempDir()
	h := New(sleeperScript(t), logDir, Registration{ProjectName: "demo", ProjectPath: "/tmp/demo", Port: 9000, Transport: "streamable", Host: "127.0.0.1"})

	require.NoError(t, h.Start())
	require.Equal(t, StatusRunning, h.Status())
	require.True(t, h.IsAlive())
	require.NoError(t, h.Stop())
	require.Equal(t, StatusStopped, h.Status())

	require.FileExists(t, filepath.Join(logDir, "demo.stdout.log"))
	require.FileExists(t, filepath.Join(logDir, "demo.stderr.log"))
}

func TestStopReturnsPromptlyWhenChildHonorsSigterm(t *testing.T) {
	logDir := t.TempDir()
	h := New(sleeperScript(t), logDir, Registration{ProjectName: "demo2", ProjectPath: "/tmp/demo2", Port: 9001, Transport: "streamable", Host: "127.0.0.1"})

	require.NoError(t, h.Start())
	start := time.Now()
	require.NoError(t, h.Stop())
	require.Less(t, time.Since(start), stopGraceTimeout)
}

func TestRestartResetsCounterAfterStablePeriod(t *testing.T) {
	h := New(sleeperScript(t), t.TempDir(), Registration{ProjectName: "demo3", ProjectPath: "/tmp/demo3"})
	h.restartCount = 2
	h.status = StatusRunning
	h.startTime = time.Now().Add(-2 * stablePeriod)

	h.ResetRestartCounterIfStable()
	require.Equal(t, 0, h.restartCount)
}

func TestRestartStopsAfterExhaustingAttempts(t *testing.T) {
	h := New(sleeperScript(t), t.TempDir(), Registration{ProjectName: "demo4", ProjectPath: "/tmp/demo4", AutoRestart: true})
	h.restartCount = maxRestartAttempts

	err := h.Restart()
	require.Error(t, err)
	require.False(t, h.AutoRestart)
	require.Equal(t, StatusStopped, h.Status())
}

func TestCheckHealthReportsHealthyOn200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h := handleForServer(t, srv)
	result := h.CheckHealth(context.Background())
	require.True(t, result.Healthy)
	require.True(t, h.IsHealthy())
}

func TestCheckHealthReportsUnhealthyOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	h := handleForServer(t, srv)
	result := h.CheckHealth(context.Background())
	require.False(t, result.Healthy)
}

func TestIsHealthyDefaultsTrueBeforeFirstCheck(t *testing.T) {
	h := New(sleeperScript(t), t.TempDir(), Registration{ProjectName: "demo5", Host: "127.0.0.1", Port: 9500})
	require.True(t, h.IsHealthy())
}

// handleForServer builds a Handle whose Host/Port target a running
// httptest.Server, so CheckHealth's constructed URL resolves to it.
func handleForServer(t *testing.T, srv *httptest.Server) *Handle {
	t.Helper()
	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return New(sleeperScript(t), t.TempDir(), Registration{ProjectName: "demo-health", Host: host, Port: port})
}

func TestArgvShapeMatchesFixedOrder(t *testing.T) {
	h := New("worker-bin", "/tmp/logs", Registration{
		ProjectPath: "/srv/proj",
		Transport:   "streamable",
		Host:        "127.0.0.1",
		Port:        9100,
		Context:     "server",
		Modes:       []string{"a", "b"},
		LogLevel:    "debug",
	})

	args := h.argv()
	require.Equal(t, []string{
		"--project", "/srv/proj",
		"--transport", "streamable",
		"--host", "127.0.0.1",
		"--port", "9100",
		"--context", "server",
		"--mode", "a",
		"--mode", "b",
		"--log-level", "debug",
	}, args)
}
