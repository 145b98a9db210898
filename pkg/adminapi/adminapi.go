// Package adminapi exposes the supervisor's HTTP control surface: the
// worker registry, per-project and system statistics, log tailing, and
// the Prometheus exposition endpoint.
package adminapi

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/projectforge/devsupervisor/pkg/metrics"
	"github.com/projectforge/devsupervisor/pkg/supervisor"
	"github.com/projectforge/devsupervisor/pkg/sysinfo"
)

// Supervisor is the subset of *supervisor.Supervisor the admin API
// depends on, so handlers can be tested against a fake.
type Supervisor interface {
	ListServers(ctx context.Context) []supervisor.ServerStatus
	GetServerStats(ctx context.Context, name string) (supervisor.ServerStatus, error)
	GetSystemStats(ctx context.Context) (sysinfo.System, error)
	GetServerLogs(name, stream string, n int) ([]string, error)
	CheckWorkerHealth(ctx context.Context, name string) (bool, error)
	AddAndStartServer(path, transport, host, ctxMode string, modes []string, logLevel string) (string, error)
	StartServer(name string) error
	StopServer(name string) error
	RestartServer(name string) error
	RemoveServer(name string) error
}

// Config configures the admin API router.
type Config struct {
	Supervisor   Supervisor
	ProjectsRoot string // directory scanned for /admin/available-projects
	StaticHTML   []byte
	AllowOrigins []string
	Logger       zerolog.Logger
}

// NewRouter builds the chi.Router implementing spec.md's admin HTTP
// surface.
func NewRouter(cfg Config) http.Handler {
	h := &handler{cfg: cfg}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(requestTimer(h))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowOriginsOrWildcard(cfg.AllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
	}))

	r.Get("/", h.index)
	r.Get("/admin/system", h.systemStats)
	r.Get("/admin/available-projects", h.availableProjects)
	r.Get("/admin/servers", h.listServers)
	r.Post("/admin/servers", h.addServer)
	r.Get("/admin/servers/{name}/logs", h.serverLogs)
	r.Get("/admin/servers/{name}/stats", h.serverStats)
	r.Get("/admin/servers/{name}/healthz", h.serverHealth)
	r.Post("/admin/servers/{name}/{action}", h.serverAction)
	r.Delete("/admin/servers/{name}", h.removeServer)
	r.Get("/admin/metrics", h.metricsHandler)

	return r
}

func allowOriginsOrWildcard(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

type handler struct {
	cfg Config
}

func requestTimer(h *handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			timer := metrics.NewTimer()
			route := r.URL.Path
			rw := &statusCapturingWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)
			metrics.AdminRequestDuration.WithLabelValues(route).Observe(timer.Duration().Seconds())
			metrics.AdminRequestsTotal.WithLabelValues(route, strconv.Itoa(rw.status)).Inc()
		})
	}
}

type statusCapturingWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusCapturingWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (h *handler) index(w http.ResponseWriter, r *http.Request) {
	if len(h.cfg.StaticHTML) == 0 {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<!doctype html><title>devsupervisor</title><body>devsupervisor admin UI</body>"))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(h.cfg.StaticHTML)
}

func (h *handler) systemStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.cfg.Supervisor.GetSystemStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *handler) availableProjects(w http.ResponseWriter, r *http.Request) {
	if h.cfg.ProjectsRoot == "" {
		writeJSON(w, http.StatusOK, []string{})
		return
	}

	entries, err := os.ReadDir(h.cfg.ProjectsRoot)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	managed := make(map[string]struct{})
	for _, s := range h.cfg.Supervisor.ListServers(r.Context()) {
		managed[filepath.Clean(s.ProjectPath)] = struct{}{}
	}

	available := []string{}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(h.cfg.ProjectsRoot, e.Name())
		if _, ok := managed[filepath.Clean(path)]; ok {
			continue
		}
		available = append(available, e.Name())
	}
	sort.Strings(available)
	writeJSON(w, http.StatusOK, available)
}

func (h *handler) listServers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cfg.Supervisor.ListServers(r.Context()))
}

type addServerRequest struct {
	Path      string   `json:"path"`
	Transport string   `json:"transport"`
	Host      string   `json:"host"`
	Context   string   `json:"context"`
	Modes     []string `json:"modes"`
	LogLevel  string   `json:"log_level"`
}

func (h *handler) addServer(w http.ResponseWriter, r *http.Request) {
	var req addServerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, errMsg("path is required"))
		return
	}
	if req.Transport == "" {
		req.Transport = "streamable"
	}
	if req.Host == "" {
		req.Host = "127.0.0.1"
	}

	name, err := h.cfg.Supervisor.AddAndStartServer(req.Path, req.Transport, req.Host, req.Context, req.Modes, req.LogLevel)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	stats, err := h.cfg.Supervisor.GetServerStats(r.Context(), name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, stats)
}

func (h *handler) serverLogs(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	stream := r.URL.Query().Get("type")
	if stream == "" {
		stream = "stdout"
	}
	n := 100
	if raw := r.URL.Query().Get("lines"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			n = v
		}
	}

	lines, err := h.cfg.Supervisor.GetServerLogs(name, stream, n)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lines": lines})
}

func (h *handler) serverStats(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	stats, err := h.cfg.Supervisor.GetServerStats(r.Context(), name)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *handler) serverHealth(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	healthy, err := h.cfg.Supervisor.CheckWorkerHealth(r.Context(), name)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]bool{"healthy": healthy})
}

func (h *handler) serverAction(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	action := chi.URLParam(r, "action")

	var err error
	switch action {
	case "start":
		err = h.cfg.Supervisor.StartServer(name)
	case "stop":
		err = h.cfg.Supervisor.StopServer(name)
	case "restart":
		err = h.cfg.Supervisor.RestartServer(name)
	default:
		writeError(w, http.StatusNotFound, errMsg("unknown action "+action))
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) removeServer(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.cfg.Supervisor.RemoveServer(name); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) metricsHandler(w http.ResponseWriter, r *http.Request) {
	metrics.Handler().ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// errorBody is the wire shape every failed handler returns: an error
// message plus a request ID for log correlation.
type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error(), RequestID: uuid.NewString()})
}

type errMsg string

func (e errMsg) Error() string { return string(e) }
