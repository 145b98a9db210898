// Package controlfile implements the JSON bridge between the
// supervisor process and external CLI clients: the supervisor writes
// authoritative snapshots, CLI processes append commands, and an
// fsnotify watch wakes the supervisor's monitor loop early.
package controlfile

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// FileName is the well-known control file name within a managed
// directory.
const FileName = "control.json"

// ServerRecord mirrors one worker's status for the control file's
// servers array.
type ServerRecord struct {
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

// Command is a pending start/stop/restart request appended by a CLI
// client.
type Command struct {
	Action  string `json:"action"`
	Project string `json:"project"`
}

// document is the on-disk shape. The wire format names the supervisor
// PID field "pid" (see spec's control file JSON example); nothing
// outside this package should assume "supervisor_pid".
type document struct {
	PID      int            `json:"pid"`
	Servers  []ServerRecord `json:"servers"`
	Commands []Command      `json:"commands"`
}

// Bridge reads and writes one control file.
type Bridge struct {
	path string
	mu   sync.Mutex
}

// New returns a Bridge for the control file under managedDir.
func New(managedDir string) *Bridge {
	return &Bridge{path: filepath.Join(managedDir, FileName)}
}

// Path returns the control file's absolute path.
func (b *Bridge) Path() string { return b.path }

// WriteSnapshot rewrites the control file as an authoritative
// snapshot: the supervisor's own PID, the current worker set, and an
// empty commands list (commands are consumed, not echoed back).
// Writes are atomic via a temp-file-then-rename.
func (b *Bridge) WriteSnapshot(pid int, servers []ServerRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	doc := document{PID: pid, Servers: servers, Commands: []Command{}}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal control file: %w", err)
	}

	tmp := fmt.Sprintf("%s.tmp-%s", b.path, randomSuffix())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write control file temp: %w", err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename control file: %w", err)
	}
	return nil
}

// AppendCommand appends one command to the control file. A missing
// file is treated as an empty document; a file that cannot be decoded
// (for example one caught mid-write) is reported as an error and left
// unchanged. This is the CLI side of the cooperative single-writer
// discipline: the supervisor owns snapshot rewrites, CLI processes
// only ever add to the commands list.
func (b *Bridge) AppendCommand(action, project string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	doc, err := readDocument(b.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read control file: %w", err)
	}

	doc.Commands = append(doc.Commands, Command{Action: action, Project: project})

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal control file: %w", err)
	}
	return os.WriteFile(b.path, data, 0o644)
}

// ReadSupervisorPID returns the PID recorded in the control file, or
// an error if the file is absent (meaning no supervisor is running).
func (b *Bridge) ReadSupervisorPID() (int, error) {
	doc, err := readDocument(b.path)
	if err != nil {
		return 0, err
	}
	return doc.PID, nil
}

// ReadServers returns the last-published worker status snapshot.
func (b *Bridge) ReadServers() ([]ServerRecord, error) {
	doc, err := readDocument(b.path)
	if err != nil {
		return nil, err
	}
	return doc.Servers, nil
}

// Drain reads pending commands, rewrites the file with an empty
// commands list, then applies each command via apply. A failing or
// unknown command does not abort the batch; all failures are returned
// together as one joined error. It implements
// supervisor.CommandDrainer.
func (b *Bridge) Drain(apply func(action, project string) error) error {
	b.mu.Lock()
	doc, err := readDocument(b.path)
	if err != nil {
		b.mu.Unlock()
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read control file: %w", err)
	}
	commands := doc.Commands
	doc.Commands = []Command{}
	data, marshalErr := json.MarshalIndent(doc, "", "  ")
	if marshalErr == nil {
		_ = os.WriteFile(b.path, data, 0o644)
	}
	b.mu.Unlock()

	var errs []error
	for _, cmd := range commands {
		switch cmd.Action {
		case "start", "stop", "restart":
			if err := apply(cmd.Action, cmd.Project); err != nil {
				errs = append(errs, fmt.Errorf("%s %s: %w", cmd.Action, cmd.Project, err))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown control file command action %q", cmd.Action))
		}
	}
	return errors.Join(errs...)
}

// IsStale reports whether the control file refers to a supervisor PID
// that is no longer alive, probed with a no-op signal.
func (b *Bridge) IsStale() (bool, error) {
	pid, err := b.ReadSupervisorPID()
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if pid <= 0 {
		return true, nil
	}
	// EPERM means the process exists but belongs to another user.
	if err := syscall.Kill(pid, syscall.Signal(0)); err != nil && !errors.Is(err, syscall.EPERM) {
		return true, nil
	}
	return false, nil
}

// RemoveIfStale deletes the control file if IsStale reports true.
func (b *Bridge) RemoveIfStale() error {
	stale, err := b.IsStale()
	if err != nil {
		return err
	}
	if stale {
		if err := os.Remove(b.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove stale control file: %w", err)
		}
	}
	return nil
}

// Remove deletes the control file unconditionally, used by an orderly
// shutdown.
func (b *Bridge) Remove() error {
	err := os.Remove(b.path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

func readDocument(path string) (document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return document{}, err
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		// A reader mid-write by another process sees a partial file;
		// callers retry on the next tick rather than treating this as fatal.
		return document{}, fmt.Errorf("decode control file (possibly mid-write): %w", err)
	}
	return doc, nil
}

func randomSuffix() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "fallback"
	}
	return fmt.Sprintf("%x", buf)
}

// Watcher watches the control file's parent directory and wakes a
// channel whenever an event names the control file itself (other files
// in the directory are ignored), so the monitor loop can react before the next 5-second
// tick. It is a latency optimization, not a replacement for polling.
type Watcher struct {
	fsw     *fsnotify.Watcher
	log     zerolog.Logger
	Changed chan struct{}
	done    chan struct{}
}

// NewWatcher starts watching dir (the control file's parent
// directory). If the directory cannot be watched (for example because
// it does not exist yet), the failure is logged, the watch is not
// retried, and Changed never fires.
func NewWatcher(dir string, log zerolog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("control file directory watch failed, falling back to polling only")
	}

	w := &Watcher{
		fsw:     fsw,
		log:     log,
		Changed: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != FileName {
				continue
			}
			select {
			case w.Changed <- struct{}{}:
			default:
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("control file watcher error")
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	<-w.done
	return err
}
