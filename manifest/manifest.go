// Package manifest parses and re-emits the foundry.toml pipeline manifest
// declared at a repository's root: unmarshal, apply defaults, validate.
package manifest

import (
	"bytes"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Manifest is the parsed contents of foundry.toml.
type Manifest struct {
	Build    Build             `toml:"build"`
	Stages   []Stage           `toml:"stages"`
	Deploy   *Deploy           `toml:"deploy,omitempty"`
	Env      map[string]string `toml:"env,omitempty"`
	Schedule *Schedule         `toml:"schedule,omitempty"`
}

// Build declares the base image or dockerfile the default stage (and any
// stage that doesn't set its own image) runs in.
type Build struct {
	Dockerfile string `toml:"dockerfile,omitempty"`
	Image      string `toml:"image,omitempty"`
	Command    string `toml:"command,omitempty"`
}

// Stage is one ordered step of the pipeline.
type Stage struct {
	Name    string `toml:"name"`
	Image   string `toml:"image,omitempty"`
	Command string `toml:"command"`
}

// Deploy declares that this pipeline manages a long-running service.
type Deploy struct {
	Name        string `toml:"name"`
	Domain      string `toml:"domain,omitempty"`
	Port        int    `toml:"port,omitempty"`
	ComposeFile string `toml:"compose_file,omitempty"`
}

// Schedule declares an optional cron-driven trigger for this repository.
type Schedule struct {
	Cron     string `toml:"cron"`
	Branch   string `toml:"branch"`
	Timezone string `toml:"timezone,omitempty"`
	Enabled  bool   `toml:"enabled"`
}

// Parse decodes raw TOML bytes into a Manifest, applies defaults, and
// validates the result.
func Parse(raw []byte) (*Manifest, error) {
	var m Manifest
	if _, err := toml.Decode(string(raw), &m); err != nil {
		return nil, fmt.Errorf("parsing foundry.toml: %w", err)
	}
	m.setDefaults()
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// ParseFile reads and parses the manifest at path, the workspace-relative
// convention the agent executor follows after cloning.
func ParseFile(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return Parse(raw)
}

// setDefaults synthesizes a single default stage from [build] when no
// [[stages]] are declared. In dockerfile mode (Build.Image empty) the
// synthesized stage's Image is left empty too: the executor fills it in
// with the image it builds from Build.Dockerfile before running any stage.
func (m *Manifest) setDefaults() {
	if len(m.Stages) == 0 && m.Build.Command != "" {
		m.Stages = []Stage{{
			Name:    "build",
			Image:   m.Build.Image,
			Command: m.Build.Command,
		}}
	}

	for i := range m.Stages {
		if m.Stages[i].Image == "" {
			m.Stages[i].Image = m.Build.Image
		}
	}

	if m.Schedule != nil && m.Schedule.Timezone == "" {
		m.Schedule.Timezone = "UTC"
	}
}

func (m *Manifest) validate() error {
	if m.Build.Dockerfile != "" && m.Build.Image != "" {
		return fmt.Errorf("foundry.toml [build] must declare exactly one of 'dockerfile' or 'image', not both")
	}
	if m.Build.Dockerfile == "" && m.Build.Image == "" {
		return fmt.Errorf("foundry.toml [build] must declare one of 'dockerfile' or 'image'")
	}
	if len(m.Stages) == 0 {
		return fmt.Errorf("foundry.toml declares no stages and no [build] command to synthesize one from")
	}

	seen := make(map[string]bool, len(m.Stages))
	for i, s := range m.Stages {
		if s.Name == "" {
			return fmt.Errorf("foundry.toml [[stages]] entry %d has no name", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("foundry.toml declares duplicate stage name %q", s.Name)
		}
		seen[s.Name] = true
		if s.Command == "" {
			return fmt.Errorf("foundry.toml stage %q has no command", s.Name)
		}
		if s.Image == "" && m.Build.Dockerfile == "" {
			return fmt.Errorf("foundry.toml stage %q has no image and [build] declares no default image", s.Name)
		}
	}

	if m.Deploy != nil {
		if m.Deploy.Name == "" {
			return fmt.Errorf("foundry.toml [deploy] requires 'name'")
		}
		if m.Deploy.ComposeFile == "" && m.Deploy.Port == 0 {
			return fmt.Errorf("foundry.toml [deploy] requires 'port' when 'compose_file' is not set")
		}
	}

	if m.Schedule != nil {
		if m.Schedule.Cron == "" {
			return fmt.Errorf("foundry.toml [schedule] requires 'cron'")
		}
		if m.Schedule.Branch == "" {
			return fmt.Errorf("foundry.toml [schedule] requires 'branch'")
		}
	}

	return nil
}

// Encode canonicalizes the manifest back into TOML, in field-declaration
// order, so Parse(Encode(Parse(x))) round-trips
func (m *Manifest) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("encoding foundry.toml: %w", err)
	}
	return buf.Bytes(), nil
}

// DefaultStageImage returns the pipeline-wide [build] image, which is empty
// in dockerfile mode. It does not look at any stage's own image.
func (m *Manifest) DefaultStageImage() string {
	return m.Build.Image
}
