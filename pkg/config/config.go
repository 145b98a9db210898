// Package config loads the YAML project-registry manifest the
// supervisor boots from: the managed directory, port allocation
// window, and the set of projects to register on startup.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/projectforge/devsupervisor/pkg/workerproc"
)

const maxPort = 65535

// ResourceMetadata names one manifest, mirroring the envelope style
// used for every devsupervisor resource document.
type ResourceMetadata struct {
	Name string `yaml:"name"`
}

// ProjectSpec is one registered project entry in the manifest.
type ProjectSpec struct {
	Name        string   `yaml:"name"`
	Path        string   `yaml:"path"`
	Transport   string   `yaml:"transport,omitempty"`
	Host        string   `yaml:"host,omitempty"`
	Context     string   `yaml:"context,omitempty"`
	Modes       []string `yaml:"modes,omitempty"`
	LogLevel    string   `yaml:"logLevel,omitempty"`
	AutoRestart *bool    `yaml:"autoRestart,omitempty"`
	Port        int      `yaml:"port,omitempty"` // 0 means allocate automatically
	// StartOnBoot is parsed but not consulted: devsupervisord starts
	// every registered project at boot.
	StartOnBoot bool `yaml:"startOnBoot,omitempty"`
}

// RegistrySpec is the manifest's body.
type RegistrySpec struct {
	ManagedDir string        `yaml:"managedDir"`
	BasePort   int           `yaml:"basePort"`
	Headroom   int           `yaml:"headroom"`
	AdminPort  int           `yaml:"adminPort,omitempty"`
	Projects   []ProjectSpec `yaml:"projects"`
}

// Manifest is the full YAML document: an apiVersion/kind envelope
// around a RegistrySpec, the same shape every devsupervisor resource
// document uses.
type Manifest struct {
	APIVersion string           `yaml:"apiVersion"`
	Kind       string           `yaml:"kind"`
	Metadata   ResourceMetadata `yaml:"metadata"`
	Spec       RegistrySpec     `yaml:"spec"`
}

// Load reads and validates a manifest from path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}

	applyDefaults(&m)

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", path, err)
	}
	return &m, nil
}

func applyDefaults(m *Manifest) {
	if m.Kind == "" {
		m.Kind = "ProjectRegistry"
	}
	if m.APIVersion == "" {
		m.APIVersion = "devsupervisor/v1"
	}
	if m.Spec.ManagedDir == "" {
		home, _ := os.UserHomeDir()
		m.Spec.ManagedDir = filepath.Join(home, ".devsupervisor")
	}
	if m.Spec.BasePort == 0 {
		m.Spec.BasePort = 9100
	}
	if m.Spec.Headroom == 0 {
		m.Spec.Headroom = 5
	}
	for i := range m.Spec.Projects {
		p := &m.Spec.Projects[i]
		if p.Transport == "" {
			p.Transport = "streamable"
		}
		if p.Host == "" {
			p.Host = "127.0.0.1"
		}
		if p.AutoRestart == nil {
			t := true
			p.AutoRestart = &t
		}
	}
}

// Validate checks the manifest's structural invariants: the
// ProjectRegistry kind, a non-empty unique name and an absolute path
// per project, a port window that fits below 65535, and no duplicate
// explicit ports.
func (m *Manifest) Validate() error {
	if m.Kind != "ProjectRegistry" {
		return fmt.Errorf("unsupported kind %q", m.Kind)
	}

	window := m.Spec.BasePort + len(m.Spec.Projects) + m.Spec.Headroom
	if window > maxPort {
		return fmt.Errorf("port window [%d, %d) exceeds %d", m.Spec.BasePort, window, maxPort)
	}

	seenNames := make(map[string]struct{}, len(m.Spec.Projects))
	seenPorts := make(map[int]struct{}, len(m.Spec.Projects))
	for _, p := range m.Spec.Projects {
		if p.Name == "" {
			return fmt.Errorf("project with path %q is missing a name", p.Path)
		}
		if !filepath.IsAbs(p.Path) {
			return fmt.Errorf("project %q path must be absolute: %q", p.Name, p.Path)
		}
		if _, dup := seenNames[p.Name]; dup {
			return fmt.Errorf("duplicate project name %q", p.Name)
		}
		seenNames[p.Name] = struct{}{}

		if p.Port != 0 {
			if _, dup := seenPorts[p.Port]; dup {
				return fmt.Errorf("duplicate explicit port %d", p.Port)
			}
			seenPorts[p.Port] = struct{}{}
		}
	}
	return nil
}

// Registrations converts every project entry into a
// workerproc.Registration, using the given port for entries that did
// not pin one explicitly.
func (m *Manifest) Registrations(portFor func(name string) int) []workerproc.Registration {
	out := make([]workerproc.Registration, 0, len(m.Spec.Projects))
	for _, p := range m.Spec.Projects {
		port := p.Port
		if port == 0 {
			port = portFor(p.Name)
		}
		autoRestart := true
		if p.AutoRestart != nil {
			autoRestart = *p.AutoRestart
		}
		out = append(out, workerproc.Registration{
			ProjectName: p.Name,
			ProjectPath: p.Path,
			Port:        port,
			Transport:   p.Transport,
			Host:        p.Host,
			Context:     p.Context,
			Modes:       p.Modes,
			LogLevel:    p.LogLevel,
			AutoRestart: autoRestart,
		})
	}
	return out
}
