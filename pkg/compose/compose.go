// Package compose renders a docker-compose.yml that runs devsupervisor
// as a single container bind-mounting every registered project. This
// is pure template expansion: one service, one bind mount per
// project, and the port range the supervisor itself allocates.
package compose

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"text/template"
)

// Mount is one host project path resolved to a container mount name.
type Mount struct {
	HostPath      string
	ContainerName string
}

// Options configures the generated compose file.
type Options struct {
	Image        string // if set, used instead of BuildContext/BuildTarget
	BuildContext string
	BuildTarget  string
	AdminPort    int
	BasePort     int
	Headroom     int
	Transport    string
	Host         string
	DataVolume   string
}

const containerProjectsDir = "/projects"

// ResolveMounts maps host project paths to unique container directory
// names, appending "_2", "_3", ... on basename collisions, matching
// the collision-handling rule used for on-disk project mounts.
func ResolveMounts(projectPaths []string) []Mount {
	used := make(map[string]int)
	mounts := make([]Mount, 0, len(projectPaths))

	for _, raw := range projectPaths {
		hostPath := filepath.Clean(raw)
		base := filepath.Base(hostPath)
		if base == "" || base == "." || base == string(filepath.Separator) {
			base = "project"
		}

		name := base
		if n, dup := used[base]; dup {
			used[base] = n + 1
			name = fmt.Sprintf("%s_%d", base, n+1)
		} else {
			used[base] = 1
		}
		mounts = append(mounts, Mount{HostPath: hostPath, ContainerName: name})
	}
	return mounts
}

func applyDefaults(o *Options) {
	if o.BuildContext == "" {
		o.BuildContext = "."
	}
	if o.BuildTarget == "" {
		o.BuildTarget = "production"
	}
	if o.BasePort == 0 {
		o.BasePort = 9100
	}
	if o.Headroom == 0 {
		o.Headroom = 5
	}
	if o.Transport == "" {
		o.Transport = "streamable"
	}
	if o.Host == "" {
		o.Host = "0.0.0.0"
	}
	if o.DataVolume == "" {
		o.DataVolume = "devsupervisor-data"
	}
}

type templateData struct {
	Options
	Mounts       []Mount
	MaxPort      int
	HasAdmin     bool
	ContainerDir string
}

const composeTemplate = `# Auto-generated by the devsupervisor compose generator.
# Edit the project registry and re-run to regenerate.
#
# Usage:
#   docker compose up -d
#   docker compose down

services:
  devsupervisor:
{{- if .Image }}
    image: {{ .Image }}
{{- else }}
    build:
      context: {{ .BuildContext }}
      target: {{ .BuildTarget }}
{{- end }}
    volumes:
      - {{ .DataVolume }}:/root/.devsupervisor
{{- range .Mounts }}
      - {{ .HostPath }}:{{ $.ContainerDir }}/{{ .ContainerName }}
{{- end }}
    environment:
      DEVSUPERVISOR_MULTI_SERVER: "1"
      DEVSUPERVISOR_PROJECTS_DIR: {{ .ContainerDir }}
      DEVSUPERVISOR_TRANSPORT: {{ .Transport }}
      DEVSUPERVISOR_BASE_PORT: "{{ .BasePort }}"
      DEVSUPERVISOR_HOST: {{ .Host }}
{{- if .HasAdmin }}
      DEVSUPERVISOR_ADMIN_PORT: "{{ .AdminPort }}"
{{- end }}
    ports:
{{- if .HasAdmin }}
      - "{{ .AdminPort }}:{{ .AdminPort }}"
{{- end }}
      - "{{ .BasePort }}-{{ .MaxPort }}:{{ .BasePort }}-{{ .MaxPort }}"

volumes:
  {{ .DataVolume }}:
`

var tmpl = template.Must(template.New("docker-compose").Parse(composeTemplate))

// Render builds a docker-compose.yml as a string for the given
// project paths and options. The generated port range is
// [BasePort, BasePort+len(mounts)-1+Headroom], capped at 65535.
func Render(projectPaths []string, opts Options) (string, error) {
	applyDefaults(&opts)
	mounts := ResolveMounts(projectPaths)

	maxPort := opts.BasePort + len(mounts) - 1 + opts.Headroom
	if maxPort > 65535 {
		maxPort = 65535
	}
	if maxPort < opts.BasePort {
		maxPort = opts.BasePort
	}

	data := templateData{
		Options:      opts,
		Mounts:       mounts,
		MaxPort:      maxPort,
		HasAdmin:     opts.AdminPort > 0,
		ContainerDir: containerProjectsDir,
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render docker-compose.yml: %w", err)
	}
	return buf.String(), nil
}

// WriteFile renders the compose file and writes it to outputPath,
// creating parent directories as needed.
func WriteFile(projectPaths []string, opts Options, outputPath string) error {
	content, err := Render(projectPaths, opts)
	if err != nil {
		return err
	}

	dir := path.Dir(filepath.ToSlash(outputPath))
	if dir != "" && dir != "." {
		if err := os.MkdirAll(filepath.FromSlash(dir), 0o755); err != nil {
			return fmt.Errorf("create compose output dir: %w", err)
		}
	}
	if err := os.WriteFile(outputPath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", outputPath, err)
	}
	return nil
}
