package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleManifest = `
apiVersion: devsupervisor/v1
kind: ProjectRegistry
metadata:
  name: dev-fleet
spec:
  managedDir: /home/dev/.devsupervisor
  basePort: 9100
  headroom: 5
  adminPort: 8900
  projects:
    - name: widget
      path: /srv/projects/widget
    - name: gadget
      path: /srv/projects/gadget
      transport: server-sent-events
      autoRestart: false
`

func writeManifest(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "devsupervisor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaultsAndParsesProjects(t *testing.T) {
	m, err := Load(writeManifest(t, sampleManifest))
	require.NoError(t, err)

	require.Equal(t, "/home/dev/.devsupervisor", m.Spec.ManagedDir)
	require.Equal(t, 9100, m.Spec.BasePort)
	require.Equal(t, 5, m.Spec.Headroom)
	require.Equal(t, 8900, m.Spec.AdminPort)
	require.Len(t, m.Spec.Projects, 2)

	widget := m.Spec.Projects[0]
	require.Equal(t, "streamable", widget.Transport)
	require.Equal(t, "127.0.0.1", widget.Host)
	require.NotNil(t, widget.AutoRestart)
	require.True(t, *widget.AutoRestart)

	gadget := m.Spec.Projects[1]
	require.Equal(t, "server-sent-events", gadget.Transport)
	require.NotNil(t, gadget.AutoRestart)
	require.False(t, *gadget.AutoRestart)
}

func TestLoadRejectsRelativeProjectPath(t *testing.T) {
	_, err := Load(writeManifest(t, `
apiVersion: devsupervisor/v1
kind: ProjectRegistry
metadata: {name: bad}
spec:
  projects:
    - name: widget
      path: relative/path
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "absolute")
}

func TestLoadRejectsDuplicateProjectNames(t *testing.T) {
	_, err := Load(writeManifest(t, `
apiVersion: devsupervisor/v1
kind: ProjectRegistry
metadata: {name: bad}
spec:
  projects:
    - name: widget
      path: /srv/widget
    - name: widget
      path: /srv/widget2
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate project name")
}

func TestLoadRejectsDuplicateExplicitPorts(t *testing.T) {
	_, err := Load(writeManifest(t, `
apiVersion: devsupervisor/v1
kind: ProjectRegistry
metadata: {name: bad}
spec:
  projects:
    - name: widget
      path: /srv/widget
      port: 9100
    - name: gadget
      path: /srv/gadget
      port: 9100
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate explicit port")
}

func TestLoadRejectsPortWindowBeyondMaxPort(t *testing.T) {
	_, err := Load(writeManifest(t, `
apiVersion: devsupervisor/v1
kind: ProjectRegistry
metadata: {name: bad}
spec:
  basePort: 65530
  headroom: 10
  projects:
    - name: widget
      path: /srv/widget
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "exceeds")
}

func TestRegistrationsAssignsPortForUnpinnedProjects(t *testing.T) {
	m, err := Load(writeManifest(t, sampleManifest))
	require.NoError(t, err)

	assigned := map[string]int{}
	regs := m.Registrations(func(name string) int {
		port := 9200
		assigned[name] = port
		return port
	})

	require.Len(t, regs, 2)
	require.Equal(t, 9200, regs[0].Port)
	require.Equal(t, "widget", regs[0].ProjectName)
	require.True(t, regs[0].AutoRestart)
	require.False(t, regs[1].AutoRestart)
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
