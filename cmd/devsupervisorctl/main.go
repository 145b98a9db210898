// Command devsupervisorctl is the operator CLI for a running
// devsupervisord: it queues start/stop/restart commands through the
// control file and talks to the admin HTTP API for everything else
// (listing, stats, logs, registering and removing projects).
//
// Exit codes: 0 success, 1 command rejected, 2 no running supervisor.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/projectforge/devsupervisor/pkg/config"
	"github.com/projectforge/devsupervisor/pkg/controlfile"
)

const (
	exitRejected     = 1
	exitNoSupervisor = 2
)

// exitCodeError carries a specific process exit code through cobra's
// error-returning RunE, so main can translate it after Execute.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string { return e.err.Error() }
func (e *exitCodeError) Unwrap() error { return e.err }

func rejected(format string, args ...any) error {
	return &exitCodeError{code: exitRejected, err: fmt.Errorf(format, args...)}
}

func noSupervisor(format string, args ...any) error {
	return &exitCodeError{code: exitNoSupervisor, err: fmt.Errorf(format, args...)}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if ec, ok := err.(*exitCodeError); ok {
			os.Exit(ec.code)
		}
		os.Exit(exitRejected)
	}
}

var rootCmd = &cobra.Command{
	Use:   "devsupervisorctl",
	Short: "devsupervisorctl controls a running devsupervisord",
}

func init() {
	home, _ := os.UserHomeDir()
	rootCmd.PersistentFlags().String("managed-dir", filepath.Join(home, ".devsupervisor"), "supervisor's managed directory (control file location)")
	rootCmd.PersistentFlags().String("admin-addr", "127.0.0.1:8900", "admin API base address")

	rootCmd.AddCommand(statusCmd, listCmd, startCmd, stopCmd, restartCmd, logsCmd, statsCmd, systemCmd, addCmd, removeCmd, applyCmd)
}

func bridgeFromFlags(cmd *cobra.Command) *controlfile.Bridge {
	dir, _ := cmd.Flags().GetString("managed-dir")
	return controlfile.New(dir)
}

func adminClientFromFlags(cmd *cobra.Command) *adminClient {
	addr, _ := cmd.Flags().GetString("admin-addr")
	return &adminClient{baseURL: "http://" + addr, http: &http.Client{Timeout: 10 * time.Second}}
}

// requireRunningSupervisor reads the control file's recorded PID and
// confirms the process is still alive, matching the "no running
// supervisor" exit code the control file's PID field exists to answer.
func requireRunningSupervisor(bridge *controlfile.Bridge) (int, error) {
	pid, err := bridge.ReadSupervisorPID()
	if err != nil {
		return 0, noSupervisor("no running supervisor: %v", err)
	}
	stale, err := bridge.IsStale()
	if err != nil {
		return 0, noSupervisor("no running supervisor: %v", err)
	}
	if stale {
		return 0, noSupervisor("no running supervisor (control file is stale)")
	}
	return pid, nil
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether a supervisor is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		bridge := bridgeFromFlags(cmd)
		pid, err := requireRunningSupervisor(bridge)
		if err != nil {
			return err
		}
		fmt.Printf("supervisor running, pid %d\n", pid)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered projects and their status",
	RunE: func(cmd *cobra.Command, args []string) error {
		bridge := bridgeFromFlags(cmd)
		if _, err := requireRunningSupervisor(bridge); err != nil {
			return err
		}
		servers, err := bridge.ReadServers()
		if err != nil {
			return noSupervisor("read control file: %v", err)
		}
		if len(servers) == 0 {
			fmt.Println("No projects registered")
			return nil
		}
		fmt.Printf("%-20s %-10s %-7s %-8s %s\n", "NAME", "STATUS", "PORT", "PID", "UPTIME")
		for _, s := range servers {
			uptime := humanize.RelTime(time.Now().Add(-time.Duration(s.UptimeSeconds)*time.Second), time.Now(), "", "")
			fmt.Printf("%-20s %-10s %-7d %-8d %s\n", s.ProjectName, s.Status, s.Port, s.PID, uptime)
		}
		return nil
	},
}

func controlCommand(action string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " NAME",
		Short: action + " a registered project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			bridge := bridgeFromFlags(cmd)
			if _, err := requireRunningSupervisor(bridge); err != nil {
				return err
			}

			servers, err := bridge.ReadServers()
			if err != nil {
				return noSupervisor("read control file: %v", err)
			}
			found := false
			for _, s := range servers {
				if s.ProjectName == name {
					found = true
					break
				}
			}
			if !found {
				return rejected("unknown project %q", name)
			}

			if err := bridge.AppendCommand(action, name); err != nil {
				return rejected("queue %s command: %v", action, err)
			}
			fmt.Printf("queued %s for %q\n", action, name)
			return nil
		},
	}
}

var startCmd = controlCommand("start")
var stopCmd = controlCommand("stop")
var restartCmd = controlCommand("restart")

var logsCmd = &cobra.Command{
	Use:   "logs NAME",
	Short: "Tail a project's worker logs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		stream, _ := cmd.Flags().GetString("stream")
		lines, _ := cmd.Flags().GetInt("lines")

		var out struct {
			Lines []string `json:"lines"`
		}
		path := fmt.Sprintf("/admin/servers/%s/logs?type=%s&lines=%d", args[0], stream, lines)
		if err := adminClientFromFlags(cmd).get(path, &out); err != nil {
			return err
		}
		for _, line := range out.Lines {
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	logsCmd.Flags().String("stream", "stdout", "stdout or stderr")
	logsCmd.Flags().Int("lines", 100, "number of trailing lines to show")
}

var statsCmd = &cobra.Command{
	Use:   "stats NAME",
	Short: "Show one project's resource and uptime stats",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out map[string]any
		if err := adminClientFromFlags(cmd).get("/admin/servers/"+args[0]+"/stats", &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

var systemCmd = &cobra.Command{
	Use:   "system",
	Short: "Show host-wide system stats",
	RunE: func(cmd *cobra.Command, args []string) error {
		var out map[string]any
		if err := adminClientFromFlags(cmd).get("/admin/system", &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

var addCmd = &cobra.Command{
	Use:   "add PATH",
	Short: "Register and start a new project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		transport, _ := cmd.Flags().GetString("transport")
		host, _ := cmd.Flags().GetString("host")
		ctxTag, _ := cmd.Flags().GetString("context")
		modes, _ := cmd.Flags().GetStringSlice("mode")
		logLevel, _ := cmd.Flags().GetString("log-level")

		body := addServerRequest{
			Path:      args[0],
			Transport: transport,
			Host:      host,
			Context:   ctxTag,
			Modes:     modes,
			LogLevel:  logLevel,
		}
		var out map[string]any
		if err := adminClientFromFlags(cmd).post("/admin/servers", body, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

func init() {
	addCmd.Flags().String("transport", "streamable", "streamable or server-sent-events")
	addCmd.Flags().String("host", "127.0.0.1", "listen host")
	addCmd.Flags().String("context", "", "worker context tag")
	addCmd.Flags().StringSlice("mode", nil, "repeatable worker mode flag")
	addCmd.Flags().String("log-level", "", "worker log level")
}

var removeCmd = &cobra.Command{
	Use:   "remove NAME",
	Short: "Stop and deregister a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := adminClientFromFlags(cmd).delete("/admin/servers/" + args[0]); err != nil {
			return err
		}
		fmt.Printf("removed %q\n", args[0])
		return nil
	},
}

var applyCmd = &cobra.Command{
	Use:   "apply MANIFEST",
	Short: "Register every project in a manifest with a running supervisor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		manifest, err := config.Load(args[0])
		if err != nil {
			return rejected("load manifest: %v", err)
		}

		client := adminClientFromFlags(cmd)
		for _, p := range manifest.Spec.Projects {
			body := addServerRequest{
				Path:      p.Path,
				Transport: p.Transport,
				Host:      p.Host,
				Context:   p.Context,
				Modes:     p.Modes,
				LogLevel:  p.LogLevel,
			}
			var out map[string]any
			if err := client.post("/admin/servers", body, &out); err != nil {
				return err
			}
			fmt.Printf("registered %q\n", p.Name)
		}
		return nil
	},
}

// addServerRequest mirrors the admin API's POST /admin/servers body.
type addServerRequest struct {
	Path      string   `json:"path"`
	Transport string   `json:"transport,omitempty"`
	Host      string   `json:"host,omitempty"`
	Context   string   `json:"context,omitempty"`
	Modes     []string `json:"modes,omitempty"`
	LogLevel  string   `json:"log_level,omitempty"`
}

// adminClient is a minimal JSON HTTP client for the admin API, kept
// local to this binary since it has no other caller.
type adminClient struct {
	baseURL string
	http    *http.Client
}

func (c *adminClient) get(path string, out any) error {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return rejected("admin API unreachable: %v", err)
	}
	defer resp.Body.Close()
	return decodeOrReject(resp, out)
}

func (c *adminClient) post(path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return rejected("encode request: %v", err)
	}
	resp, err := c.http.Post(c.baseURL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return rejected("admin API unreachable: %v", err)
	}
	defer resp.Body.Close()
	return decodeOrReject(resp, out)
}

func (c *adminClient) delete(path string) error {
	req, err := http.NewRequest(http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return rejected("build request: %v", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return rejected("admin API unreachable: %v", err)
	}
	defer resp.Body.Close()
	return decodeOrReject(resp, nil)
}

func decodeOrReject(resp *http.Response, out any) error {
	if resp.StatusCode >= 400 {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		if body.Error == "" {
			body.Error = resp.Status
		}
		return rejected("%s", body.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
