// Package supervisor holds the process-level registry of worker
// handles: registration, start/stop/restart, free-port allocation, and
// the monitor loop that restarts crashed workers and drains the
// control file.
package supervisor

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/projectforge/devsupervisor/pkg/metrics"
	"github.com/projectforge/devsupervisor/pkg/sysinfo"
	"github.com/projectforge/devsupervisor/pkg/workerproc"
)

const (
	monitorTick   = 5 * time.Second
	startAllGrace = 10 * time.Second
	portWindow    = 100
	defaultPort   = 9100
)

// ServerStatus is the JSON-friendly snapshot of one worker handle,
// matching the control file's worker_status_record shape.
type ServerStatus struct {
	ProjectName   string  `json:"project_name"`
	ProjectPath   string  `json:"project_path"`
	Port          int     `json:"port"`
	Transport     string  `json:"transport"`
	Host          string  `json:"host"`
	Status        string  `json:"status"`
	PID           int     `json:"pid"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	AutoRestart   bool    `json:"auto_restart"`
	MemoryRSSMB   float64 `json:"memory_rss_mb"`
}

// CommandDrainer applies pending start/stop/restart commands read from
// the control file and is implemented by pkg/controlfile.
type CommandDrainer interface {
	Drain(apply func(action, project string) error) error
}

// Config configures a Supervisor.
type Config struct {
	WorkerBinary string
	LogDir       string
	BasePort     int
	Logger       zerolog.Logger
	Commands     CommandDrainer  // optional; nil disables control-file draining
	Wake         <-chan struct{} // optional; a control-file watcher's Changed channel
}

// Supervisor owns the project_name -> Worker Handle map.
type Supervisor struct {
	cfg Config
	log zerolog.Logger

	mu      sync.Mutex
	workers map[string]*workerproc.Handle

	shutdownOnce sync.Once
	shutdown     chan struct{}
	monitorDone  chan struct{}
}

// New constructs a Supervisor. It does not start any workers or the
// monitor loop; call StartAll/Start and Run for that.
func New(cfg Config) *Supervisor {
	if cfg.BasePort == 0 {
		cfg.BasePort = defaultPort
	}
	return &Supervisor{
		cfg:         cfg,
		log:         cfg.Logger,
		workers:     make(map[string]*workerproc.Handle),
		shutdown:    make(chan struct{}),
		monitorDone: make(chan struct{}),
	}
}

// AddServer registers a worker without starting it. It errors if the
// name or port is already in use.
func (s *Supervisor) AddServer(reg workerproc.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.workers[reg.ProjectName]; exists {
		return fmt.Errorf("project %q already registered", reg.ProjectName)
	}
	for name, h := range s.workers {
		if h.Port == reg.Port {
			return fmt.Errorf("port %d already in use by %q", reg.Port, name)
		}
	}

	s.workers[reg.ProjectName] = workerproc.New(s.cfg.WorkerBinary, s.cfg.LogDir, reg)
	return nil
}

// StartServer starts a previously-registered worker.
func (s *Supervisor) StartServer(name string) error {
	h, err := s.lookup(name)
	if err != nil {
		return err
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.WorkerStartDuration)

	if err := h.Start(); err != nil {
		return fmt.Errorf("start %q: %w", name, err)
	}
	s.log.Info().Str("project", name).Int("port", h.Port).Msg("worker started")
	return nil
}

// StopServer stops a registered worker.
func (s *Supervisor) StopServer(name string) error {
	h, err := s.lookup(name)
	if err != nil {
		return err
	}
	if err := h.Stop(); err != nil {
		return fmt.Errorf("stop %q: %w", name, err)
	}
	s.log.Info().Str("project", name).Msg("worker stopped")
	return nil
}

// RestartServer stops the worker if it is running, then starts it
// again. It calls the handle's Stop and Start directly: there is no
// backoff delay and the handle's restart counter is not changed.
func (s *Supervisor) RestartServer(name string) error {
	h, err := s.lookup(name)
	if err != nil {
		return err
	}
	if h.Status() == workerproc.StatusRunning {
		if err := h.Stop(); err != nil {
			return fmt.Errorf("stop %q for restart: %w", name, err)
		}
	}
	if err := h.Start(); err != nil {
		return fmt.Errorf("restart %q: %w", name, err)
	}
	metrics.WorkerRestartsTotal.WithLabelValues(name).Inc()
	return nil
}

// RemoveServer stops (if running) and deregisters a worker.
func (s *Supervisor) RemoveServer(name string) error {
	s.mu.Lock()
	h, ok := s.workers[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("project %q not registered", name)
	}
	delete(s.workers, name)
	s.mu.Unlock()

	if h.IsAlive() {
		return h.Stop()
	}
	return nil
}

// ListServers returns a stable-ordered snapshot of every registered
// worker's status.
func (s *Supervisor) ListServers(ctx context.Context) []ServerStatus {
	s.mu.Lock()
	handles := make([]*workerproc.Handle, 0, len(s.workers))
	for _, h := range s.workers {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	sort.Slice(handles, func(i, j int) bool { return handles[i].ProjectName < handles[j].ProjectName })

	out := make([]ServerStatus, 0, len(handles))
	for _, h := range handles {
		out = append(out, s.statusOf(ctx, h))
	}
	return out
}

func (s *Supervisor) statusOf(ctx context.Context, h *workerproc.Handle) ServerStatus {
	rss := 0.0
	if pid := h.PID(); pid != 0 {
		if v, err := sysinfo.TreeRSSMB(ctx, int32(pid)); err == nil {
			rss = v
		}
	}
	return ServerStatus{
		ProjectName:   h.ProjectName,
		ProjectPath:   h.ProjectPath,
		Port:          h.Port,
		Transport:     h.Transport,
		Host:          h.Host,
		Status:        string(h.Status()),
		PID:           h.PID(),
		UptimeSeconds: h.Uptime().Seconds(),
		AutoRestart:   h.AutoRestart,
		MemoryRSSMB:   rss,
	}
}

// GetServerStats returns the status record for one worker.
func (s *Supervisor) GetServerStats(ctx context.Context, name string) (ServerStatus, error) {
	h, err := s.lookup(name)
	if err != nil {
		return ServerStatus{}, err
	}
	return s.statusOf(ctx, h), nil
}

// GetSystemStats returns a host-wide resource snapshot.
func (s *Supervisor) GetSystemStats(ctx context.Context) (sysinfo.System, error) {
	return sysinfo.Snapshot(ctx)
}

// CheckWorkerHealth probes a worker's /healthz endpoint and returns
// whether it is currently considered healthy, a stronger signal than
// ListServers' process-alive Status.
func (s *Supervisor) CheckWorkerHealth(ctx context.Context, name string) (bool, error) {
	h, err := s.lookup(name)
	if err != nil {
		return false, err
	}
	if !h.IsAlive() {
		return false, nil
	}
	h.CheckHealth(ctx)
	return h.IsHealthy(), nil
}

// GetServerLogs tails up to n lines from a worker's stdout or stderr
// log file.
func (s *Supervisor) GetServerLogs(name, stream string, n int) ([]string, error) {
	h, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	if stream != "stdout" && stream != "stderr" {
		return nil, fmt.Errorf("unknown log stream %q", stream)
	}
	path := filepath.Join(s.cfg.LogDir, fmt.Sprintf("%s.%s.log", h.ProjectName, stream))
	return tailLines(path, n)
}

func tailLines(path string, n int) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read log %s: %w", path, err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return []string{}, nil
	}
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

// FindFreePort scans for an available port starting from max(used
// ports)+1, or the configured base port if no registered port is at or
// above it, within a window of portWindow ports.
func (s *Supervisor) FindFreePort() (int, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.FreePortScanDuration)

	s.mu.Lock()
	start := s.cfg.BasePort
	for _, h := range s.workers {
		if h.Port >= start {
			start = h.Port + 1
		}
	}
	s.mu.Unlock()

	for port := start; port < start+portWindow; port++ {
		if isPortFree(port) {
			return port, nil
		}
	}
	return 0, fmt.Errorf("no free port found in window [%d, %d)", start, start+portWindow)
}

func isPortFree(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}

// AddAndStartServer derives a unique project name from the path's
// basename (appending _2, _3, ... on collision), allocates a free
// port, registers and starts the worker.
func (s *Supervisor) AddAndStartServer(path, transport, host, ctxMode string, modes []string, logLevel string) (string, error) {
	base := filepath.Base(strings.TrimRight(path, string(filepath.Separator)))
	if base == "" || base == "." {
		base = "project"
	}

	name := s.uniqueName(base)

	port, err := s.FindFreePort()
	if err != nil {
		return "", err
	}

	reg := workerproc.Registration{
		ProjectName: name,
		ProjectPath: path,
		Port:        port,
		Transport:   transport,
		Host:        host,
		Context:     ctxMode,
		Modes:       modes,
		LogLevel:    logLevel,
		AutoRestart: true,
	}
	if err := s.AddServer(reg); err != nil {
		return "", err
	}
	if err := s.StartServer(name); err != nil {
		_ = s.RemoveServer(name)
		return "", err
	}
	return name, nil
}

func (s *Supervisor) uniqueName(base string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := base
	for i := 2; ; i++ {
		if _, exists := s.workers[name]; !exists {
			return name
		}
		name = fmt.Sprintf("%s_%d", base, i)
	}
}

func (s *Supervisor) lookup(name string) (*workerproc.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.workers[name]
	if !ok {
		return nil, fmt.Errorf("project %q not registered", name)
	}
	return h, nil
}

// StartAll starts every registered worker that is not already running.
func (s *Supervisor) StartAll() {
	s.mu.Lock()
	names := make([]string, 0, len(s.workers))
	for name := range s.workers {
		names = append(names, name)
	}
	s.mu.Unlock()

	for _, name := range names {
		if err := s.StartServer(name); err != nil {
			s.log.Warn().Err(err).Str("project", name).Msg("failed to start worker")
		}
	}
}

// Run starts the monitor loop and blocks until Shutdown is called or
// ctx is cancelled. It also installs SIGTERM/SIGINT handling.
func (s *Supervisor) Run(ctx context.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
			s.log.Info().Msg("received termination signal, shutting down")
			s.Shutdown()
		case <-ctx.Done():
			s.Shutdown()
		case <-s.shutdown:
		}
	}()

	timer := time.NewTimer(startAllGrace)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-s.shutdown:
		close(s.monitorDone)
		return
	}

	ticker := time.NewTicker(monitorTick)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			close(s.monitorDone)
			return
		case <-ticker.C:
			s.monitorTick()
		case <-s.cfg.Wake:
			s.monitorTick()
		}
	}
}

// monitorTick snapshots the worker set, releases the lock, then
// restarts dead auto-restart workers and resets stable workers'
// restart counters, mirroring the registration's crash-handling
// contract without holding the map lock during process operations.
func (s *Supervisor) monitorTick() {
	s.mu.Lock()
	handles := make([]*workerproc.Handle, 0, len(s.workers))
	for _, h := range s.workers {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	for _, h := range handles {
		switch {
		case !h.IsAlive() && h.Status() != workerproc.StatusStopped && h.AutoRestart:
			s.log.Warn().Str("project", h.ProjectName).Msg("worker not alive, attempting restart")
			if err := h.Restart(); err != nil {
				s.log.Error().Err(err).Str("project", h.ProjectName).Msg("worker restart failed")
			} else {
				metrics.WorkerRestartsTotal.WithLabelValues(h.ProjectName).Inc()
			}
		case h.IsAlive():
			h.ResetRestartCounterIfStable()
		}
	}

	s.reportGaugeCounts(handles)
	s.drainCommands()
}

func (s *Supervisor) reportGaugeCounts(handles []*workerproc.Handle) {
	counts := map[workerproc.Status]int{}
	for _, h := range handles {
		counts[h.Status()]++
	}
	for _, status := range []workerproc.Status{workerproc.StatusRunning, workerproc.StatusCrashed, workerproc.StatusStopped, workerproc.StatusCreated} {
		metrics.WorkersTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

func (s *Supervisor) drainCommands() {
	if s.cfg.Commands == nil {
		return
	}
	err := s.cfg.Commands.Drain(func(action, project string) error {
		switch action {
		case "start":
			return s.StartServer(project)
		case "stop":
			return s.StopServer(project)
		case "restart":
			return s.RestartServer(project)
		default:
			return fmt.Errorf("unknown command action %q", action)
		}
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("control file command drain failed")
	}
}

// Shutdown stops every worker and signals Run to return. Safe to call
// more than once and from any goroutine.
func (s *Supervisor) Shutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)

		s.mu.Lock()
		handles := make([]*workerproc.Handle, 0, len(s.workers))
		for _, h := range s.workers {
			handles = append(handles, h)
		}
		s.mu.Unlock()

		var wg sync.WaitGroup
		for _, h := range handles {
			wg.Add(1)
			go func(h *workerproc.Handle) {
				defer wg.Done()
				if err := h.Stop(); err != nil {
					s.log.Warn().Err(err).Str("project", h.ProjectName).Msg("failed to stop worker during shutdown")
				}
			}(h)
		}
		wg.Wait()
	})
}

// Wait blocks until the monitor loop started by Run has exited.
func (s *Supervisor) Wait() {
	<-s.monitorDone
}
