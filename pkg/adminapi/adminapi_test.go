package adminapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/projectforge/devsupervisor/pkg/supervisor"
	"github.com/projectforge/devsupervisor/pkg/sysinfo"
)

type fakeSupervisor struct {
	servers map[string]supervisor.ServerStatus
	addErr  error
	addName string
	healthy bool
}

func newFakeSupervisor() *fakeSupervisor {
	return &fakeSupervisor{healthy: true, servers: map[string]supervisor.ServerStatus{
		"demo": {ProjectName: "demo", ProjectPath: "/srv/demo", Port: 9000, Status: "running"},
	}}
}

func (f *fakeSupervisor) ListServers(ctx context.Context) []supervisor.ServerStatus {
	out := make([]supervisor.ServerStatus, 0, len(f.servers))
	for _, s := range f.servers {
		out = append(out, s)
	}
	return out
}

func (f *fakeSupervisor) GetServerStats(ctx context.Context, name string) (supervisor.ServerStatus, error) {
	s, ok := f.servers[name]
	if !ok {
		return supervisor.ServerStatus{}, errMsg("not found")
	}
	return s, nil
}

func (f *fakeSupervisor) GetSystemStats(ctx context.Context) (sysinfo.System, error) {
	return sysinfo.System{CPUCount: 4}, nil
}

func (f *fakeSupervisor) GetServerLogs(name, stream string, n int) ([]string, error) {
	if _, ok := f.servers[name]; !ok {
		return nil, errMsg("not found")
	}
	return []string{"log line"}, nil
}

func (f *fakeSupervisor) AddAndStartServer(path, transport, host, ctxMode string, modes []string, logLevel string) (string, error) {
	if f.addErr != nil {
		return "", f.addErr
	}
	name := f.addName
	if name == "" {
		name = "newproject"
	}
	f.servers[name] = supervisor.ServerStatus{ProjectName: name, ProjectPath: path, Status: "running"}
	return name, nil
}

func (f *fakeSupervisor) StartServer(name string) error {
	if _, ok := f.servers[name]; !ok {
		return errMsg("not found")
	}
	return nil
}

func (f *fakeSupervisor) StopServer(name string) error {
	if _, ok := f.servers[name]; !ok {
		return errMsg("not found")
	}
	return nil
}

func (f *fakeSupervisor) RestartServer(name string) error {
	if _, ok := f.servers[name]; !ok {
		return errMsg("not found")
	}
	return nil
}

func (f *fakeSupervisor) RemoveServer(name string) error {
	if _, ok := f.servers[name]; !ok {
		return errMsg("not found")
	}
	delete(f.servers, name)
	return nil
}

func (f *fakeSupervisor) CheckWorkerHealth(ctx context.Context, name string) (bool, error) {
	if _, ok := f.servers[name]; !ok {
		return false, errMsg("not found")
	}
	return f.healthy, nil
}

func newTestRouter(fs *fakeSupervisor) http.Handler {
	return NewRouter(Config{Supervisor: fs})
}

func TestListServersReturnsJSON(t *testing.T) {
	r := newTestRouter(newFakeSupervisor())

	req := httptest.NewRequest(http.MethodGet, "/admin/servers", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var servers []supervisor.ServerStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &servers))
	require.Len(t, servers, 1)
}

func TestAddServerRejectsMissingPath(t *testing.T) {
	r := newTestRouter(newFakeSupervisor())

	req := httptest.NewRequest(http.MethodPost, "/admin/servers", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body.RequestID)
}

func TestAddServerSucceeds(t *testing.T) {
	fs := newFakeSupervisor()
	fs.addName = "widget"
	r := newTestRouter(fs)

	req := httptest.NewRequest(http.MethodPost, "/admin/servers", strings.NewReader(`{"path":"/srv/widget"}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestServerActionRejectsUnknownAction(t *testing.T) {
	r := newTestRouter(newFakeSupervisor())

	req := httptest.NewRequest(http.MethodPost, "/admin/servers/demo/explode", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerActionStartStopRestart(t *testing.T) {
	r := newTestRouter(newFakeSupervisor())

	for _, action := range []string{"start", "stop", "restart"} {
		req := httptest.NewRequest(http.MethodPost, "/admin/servers/demo/"+action, nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, action)
	}
}

func TestRemoveServerDeregisters(t *testing.T) {
	fs := newFakeSupervisor()
	r := newTestRouter(fs)

	req := httptest.NewRequest(http.MethodDelete, "/admin/servers/demo", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	_, ok := fs.servers["demo"]
	require.False(t, ok)
}

func TestSystemStatsReturnsSnapshot(t *testing.T) {
	r := newTestRouter(newFakeSupervisor())

	req := httptest.NewRequest(http.MethodGet, "/admin/system", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var sys sysinfo.System
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sys))
	require.Equal(t, 4, sys.CPUCount)
}

func TestServerLogsTailsLines(t *testing.T) {
	r := newTestRouter(newFakeSupervisor())

	req := httptest.NewRequest(http.MethodGet, "/admin/servers/demo/logs?type=stdout&lines=10", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServerStatsNotFoundForUnknownProject(t *testing.T) {
	r := newTestRouter(newFakeSupervisor())

	req := httptest.NewRequest(http.MethodGet, "/admin/servers/missing/stats", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerHealthReturnsOKWhenHealthy(t *testing.T) {
	r := newTestRouter(newFakeSupervisor())

	req := httptest.NewRequest(http.MethodGet, "/admin/servers/demo/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, body["healthy"])
}

func TestServerHealthReturnsServiceUnavailableWhenUnhealthy(t *testing.T) {
	fs := newFakeSupervisor()
	fs.healthy = false
	r := newTestRouter(fs)

	req := httptest.NewRequest(http.MethodGet, "/admin/servers/demo/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServerHealthNotFoundForUnknownProject(t *testing.T) {
	r := newTestRouter(newFakeSupervisor())

	req := httptest.NewRequest(http.MethodGet, "/admin/servers/missing/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}
