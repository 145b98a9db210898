// Command devsupervisord is the multi-server daemon: it loads a
// project registry manifest, registers and starts one worker process
// per project, serves the admin HTTP API, and keeps the control file
// in sync with the live worker set.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/projectforge/devsupervisor/pkg/adminapi"
	"github.com/projectforge/devsupervisor/pkg/config"
	"github.com/projectforge/devsupervisor/pkg/controlfile"
	"github.com/projectforge/devsupervisor/pkg/log"
	"github.com/projectforge/devsupervisor/pkg/supervisor"
)

const snapshotInterval = 5 * time.Second

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "devsupervisord",
	Short: "devsupervisord runs the multi-project worker supervisor",
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)
	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Load a project registry manifest and supervise its workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		manifestPath, _ := cmd.Flags().GetString("config")
		workerBinary, _ := cmd.Flags().GetString("worker-binary")
		adminAddr, _ := cmd.Flags().GetString("admin-addr")
		return serve(manifestPath, workerBinary, adminAddr)
	},
}

func init() {
	serveCmd.Flags().String("config", "devsupervisor.yaml", "path to the project registry manifest")
	serveCmd.Flags().String("worker-binary", "devsupervisor-worker", "path to the devsupervisor-worker binary")
	serveCmd.Flags().String("admin-addr", "127.0.0.1:8900", "admin API listen address")
}

func serve(manifestPath, workerBinary, adminAddr string) error {
	logger := log.WithComponent("devsupervisord")

	manifest, err := config.Load(manifestPath)
	if err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}

	logDir := filepath.Join(manifest.Spec.ManagedDir, "logs", "multi-server")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}

	bridge := controlfile.New(manifest.Spec.ManagedDir)
	watcher, err := controlfile.NewWatcher(manifest.Spec.ManagedDir, logger)
	if err != nil {
		return fmt.Errorf("start control file watcher: %w", err)
	}
	defer watcher.Close()

	sup := supervisor.New(supervisor.Config{
		WorkerBinary: workerBinary,
		LogDir:       logDir,
		BasePort:     manifest.Spec.BasePort,
		Logger:       logger,
		Commands:     bridge,
		Wake:         watcher.Changed,
	})

	if err := registerProjects(sup, manifest); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	router := adminapi.NewRouter(adminapi.Config{
		Supervisor:   sup,
		ProjectsRoot: filepath.Dir(manifestPath),
		Logger:       logger,
	})
	httpSrv := &http.Server{Addr: adminAddr, Handler: router}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("admin server error")
		}
	}()

	go publishSnapshots(ctx, sup, bridge, logger)

	sup.StartAll()
	logger.Info().Int("project_count", len(manifest.Spec.Projects)).Str("admin_addr", adminAddr).Msg("devsupervisord serving")

	sup.Run(ctx)
	sup.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// registerProjects assigns a port to every project that didn't pin one
// explicitly, in manifest order, and registers each with the
// supervisor. Ports are tracked locally rather than via
// Supervisor.FindFreePort so the whole batch can be computed before
// any worker is registered.
func registerProjects(sup *supervisor.Supervisor, manifest *config.Manifest) error {
	used := make(map[int]bool, len(manifest.Spec.Projects))
	for _, p := range manifest.Spec.Projects {
		if p.Port != 0 {
			used[p.Port] = true
		}
	}
	next := manifest.Spec.BasePort
	portFor := func(name string) int {
		for used[next] {
			next++
		}
		port := next
		used[port] = true
		next++
		return port
	}

	for _, reg := range manifest.Registrations(portFor) {
		if err := sup.AddServer(reg); err != nil {
			return fmt.Errorf("register project %q: %w", reg.ProjectName, err)
		}
	}
	return nil
}

// publishSnapshots periodically rewrites the control file with the
// live worker set so external CLI processes can read supervisor state
// without going through the admin API.
func publishSnapshots(ctx context.Context, sup *supervisor.Supervisor, bridge *controlfile.Bridge, logger zerolog.Logger) {
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()

	pid := os.Getpid()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			records := toRecords(sup.ListServers(ctx))
			if err := bridge.WriteSnapshot(pid, records); err != nil {
				logger.Warn().Err(err).Msg("write control file snapshot failed")
			}
		}
	}
}

func toRecords(statuses []supervisor.ServerStatus) []controlfile.ServerRecord {
	records := make([]controlfile.ServerRecord, len(statuses))
	for i, s := range statuses {
		records[i] = controlfile.ServerRecord{
			ProjectName:   s.ProjectName,
			ProjectPath:   s.ProjectPath,
			Port:          s.Port,
			Transport:     s.Transport,
			Host:          s.Host,
			Status:        s.Status,
			PID:           s.PID,
			UptimeSeconds: s.UptimeSeconds,
			AutoRestart:   s.AutoRestart,
			MemoryRSSMB:   s.MemoryRSSMB,
		}
	}
	return records
}
