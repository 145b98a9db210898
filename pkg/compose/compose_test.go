package compose

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveMountsDedupesCollidingBasenames(t *testing.T) {
	mounts := ResolveMounts([]string{
		"/srv/widget",
		"/other/widget",
		"/srv/gadget",
	})

	require.Len(t, mounts, 3)
	require.Equal(t, "widget", mounts[0].ContainerName)
	require.Equal(t, "widget_2", mounts[1].ContainerName)
	require.Equal(t, "gadget", mounts[2].ContainerName)
}

func TestRenderIncludesVolumesAndPortRange(t *testing.T) {
	out, err := Render([]string{"/srv/widget", "/srv/gadget"}, Options{
		AdminPort: 8900,
		BasePort:  9100,
		Headroom:  5,
	})
	require.NoError(t, err)

	require.Contains(t, out, "/srv/widget:/projects/widget")
	require.Contains(t, out, "/srv/gadget:/projects/gadget")
	require.Contains(t, out, `"8900:8900"`)
	require.Contains(t, out, `"9100-9106:9100-9106"`) // base + (2-1) + headroom(5) = 9106
}

func TestRenderOmitsImageBlockWhenUnset(t *testing.T) {
	out, err := Render([]string{"/srv/widget"}, Options{BasePort: 9100})
	require.NoError(t, err)
	require.Contains(t, out, "build:")
	require.NotContains(t, out, "image:")
}

func TestRenderUsesImageWhenProvided(t *testing.T) {
	out, err := Render([]string{"/srv/widget"}, Options{BasePort: 9100, Image: "ghcr.io/example/devsupervisor:latest"})
	require.NoError(t, err)
	require.Contains(t, out, "image: ghcr.io/example/devsupervisor:latest")
	require.NotContains(t, out, "build:")
}

func TestRenderOmitsAdminPortWhenNotPositive(t *testing.T) {
	out, err := Render([]string{"/srv/widget"}, Options{BasePort: 9100})
	require.NoError(t, err)
	require.NotContains(t, out, "DEVSUPERVISOR_ADMIN_PORT")
}

func TestRenderCapsPortRangeAt65535(t *testing.T) {
	out, err := Render([]string{"/srv/widget"}, Options{BasePort: 65530, Headroom: 100})
	require.NoError(t, err)
	require.Contains(t, out, `"65530-65535:65530-65535"`)
}

func TestWriteFileCreatesParentDirectories(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "nested", "docker-compose.yml")

	require.NoError(t, WriteFile([]string{"/srv/widget"}, Options{BasePort: 9100}, out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Contains(t, string(data), "devsupervisor:")
}
