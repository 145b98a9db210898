// Package workerproc encapsulates one supervised worker child process:
// its argv, its log files, its liveness, and its restart backoff.
package workerproc

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/projectforge/devsupervisor/pkg/health"
)

// Status is the derived lifecycle state of a worker handle.
type Status string

const (
	StatusCreated Status = "created"
	StatusRunning Status = "running"
	StatusCrashed Status = "crashed"
	StatusStopped Status = "stopped"
)

const (
	maxRestartAttempts = 3
	maxBackoff         = 30 * time.Second
	stablePeriod       = 60 * time.Second
	stopGraceTimeout   = 10 * time.Second
)

// Registration is the immutable tuple describing one project's worker.
type Registration struct {
	ProjectName string
	ProjectPath string
	Port        int
	Transport   string // "streamable" or "server-sent-events"
	Host        string
	Context     string
	Modes       []string
	LogLevel    string
	AutoRestart bool
}

// Handle owns one child process: its argv, log files, restart counter
// and derived status. All methods are safe to call concurrently.
type Handle struct {
	Registration
	binary string
	logDir string

	cmd          *exec.Cmd
	stdoutFile   *os.File
	stderrFile   *os.File
	startTime    time.Time
	restartCount int
	status       Status
	lastExitErr  error
	exited       chan struct{} // closed by wait() once cmd.Wait() returns
	health       *health.Status
}

// New returns a created-but-not-started Handle. binary is the worker
// executable path; logDir is the managed log directory
// (<home>/.devsupervisor/logs/multi-server).
func New(binary, logDir string, reg Registration) *Handle {
	return &Handle{
		Registration: reg,
		binary:       binary,
		logDir:       logDir,
		status:       StatusCreated,
		health:       health.NewStatus(),
	}
}

// Status returns the handle's current derived status.
func (h *Handle) Status() Status { return h.status }

// StartTime returns when the child process was last started.
func (h *Handle) StartTime() time.Time { return h.startTime }

// RestartCount returns the current restart counter.
func (h *Handle) RestartCount() int { return h.restartCount }

// PID returns the child process id, or 0 if not running.
func (h *Handle) PID() int {
	if h.cmd == nil || h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// argv builds the fixed argv shape: <binary> --project <path>
// --transport <t> --host <h> --port <p> [--context <c>] [--mode <m>]...
// [--log-level <l>].
func (h *Handle) argv() []string {
	args := []string{
		"--project", h.ProjectPath,
		"--transport", h.Transport,
		"--host", h.Host,
		"--port", strconv.Itoa(h.Port),
	}
	if h.Context != "" {
		args = append(args, "--context", h.Context)
	}
	for _, mode := range h.Modes {
		args = append(args, "--mode", mode)
	}
	if h.LogLevel != "" {
		args = append(args, "--log-level", h.LogLevel)
	}
	return args
}

// Start opens append-mode stdout/stderr log files and launches the
// child process.
func (h *Handle) Start() error {
	if err := os.MkdirAll(h.logDir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}

	stdoutPath := filepath.Join(h.logDir, h.ProjectName+".stdout.log")
	stderrPath := filepath.Join(h.logDir, h.ProjectName+".stderr.log")

	stdoutFile, err := os.OpenFile(stdoutPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open stdout log: %w", err)
	}
	stderrFile, err := os.OpenFile(stderrPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		stdoutFile.Close()
		return fmt.Errorf("open stderr log: %w", err)
	}

	cmd := exec.Command(h.binary, h.argv()...)
	cmd.Stdout = stdoutFile
	cmd.Stderr = stderrFile

	if err := cmd.Start(); err != nil {
		stdoutFile.Close()
		stderrFile.Close()
		return fmt.Errorf("start worker: %w", err)
	}

	h.cmd = cmd
	h.stdoutFile = stdoutFile
	h.stderrFile = stderrFile
	h.startTime = time.Now()
	h.status = StatusRunning
	h.lastExitErr = nil
	h.exited = make(chan struct{})

	go h.wait()

	return nil
}

// wait blocks for the child's exit, marks the handle crashed unless it
// was already stopped, and signals any Stop call waiting on exited.
// It is the sole caller of cmd.Wait — Stop/forceKill never call it
// directly, since a process may only be waited on once.
func (h *Handle) wait() {
	cmd := h.cmd
	exited := h.exited
	if cmd == nil {
		return
	}
	err := cmd.Wait()
	if h.status != StatusStopped {
		h.lastExitErr = err
		h.status = StatusCrashed
	}
	h.closeLogFiles()
	close(exited)
}

func (h *Handle) closeLogFiles() {
	if h.stdoutFile != nil {
		h.stdoutFile.Close()
	}
	if h.stderrFile != nil {
		h.stderrFile.Close()
	}
}

// Stop sends a graceful termination signal, waits up to a timeout, then
// force-kills and waits again.
func (h *Handle) Stop() error {
	if h.cmd == nil || h.cmd.Process == nil {
		h.status = StatusStopped
		return nil
	}

	h.status = StatusStopped

	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return h.forceKill()
	}

	select {
	case <-h.exited:
		return nil
	case <-time.After(stopGraceTimeout):
		return h.forceKill()
	}
}

func (h *Handle) forceKill() error {
	if h.cmd == nil || h.cmd.Process == nil {
		return nil
	}
	if err := h.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("force-kill worker: %w", err)
	}
	<-h.exited
	return nil
}

// IsAlive reports whether the child process is still running, without
// blocking, by sending it the null signal.
func (h *Handle) IsAlive() bool {
	if h.cmd == nil || h.cmd.Process == nil {
		return false
	}
	return h.cmd.Process.Signal(syscall.Signal(0)) == nil
}

// CheckHealth probes the worker's /healthz endpoint, a stronger
// liveness signal than process existence: a hung worker can still
// pass IsAlive while failing every request. The result feeds a
// consecutive-failure counter so one slow response during startup
// doesn't immediately flip the worker unhealthy.
func (h *Handle) CheckHealth(ctx context.Context) health.Result {
	checker := health.NewHTTPChecker(fmt.Sprintf("http://%s:%d/healthz", h.Host, h.Port))
	result := checker.Check(ctx)
	h.health.Update(result, health.DefaultConfig())
	return result
}

// IsHealthy reports the outcome of the most recent CheckHealth calls,
// defaulting to healthy until the first check runs.
func (h *Handle) IsHealthy() bool {
	return h.health.Healthy
}

// Uptime returns how long the worker has been continuously running
// since its last Start.
func (h *Handle) Uptime() time.Duration {
	if h.startTime.IsZero() {
		return 0
	}
	return time.Since(h.startTime)
}

// ResetRestartCounterIfStable zeroes the restart counter once the
// worker has run continuously for at least stablePeriod.
func (h *Handle) ResetRestartCounterIfStable() {
	if h.status == StatusRunning && h.Uptime() > stablePeriod {
		h.restartCount = 0
	}
}

// Restart implements bounded exponential backoff: 2^restartCount
// seconds capped at 30s, up to maxRestartAttempts attempts. After the
// attempts are exhausted, it stops the handle and forces auto_restart
// off so the supervisor's monitor loop does not retry forever.
func (h *Handle) Restart() error {
	if h.restartCount >= maxRestartAttempts {
		h.AutoRestart = false
		h.status = StatusStopped
		return fmt.Errorf("worker %s exhausted %d restart attempts", h.ProjectName, maxRestartAttempts)
	}

	backoff := time.Duration(1<<uint(h.restartCount)) * time.Second
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	h.restartCount++

	time.Sleep(backoff)

	return h.Start()
}
