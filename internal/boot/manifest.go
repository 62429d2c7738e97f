package boot

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"

	"github.com/GriffinCanCode/AgentOS/procman/internal/filesystem"
)

// Manifest is the list of programs to launch at startup.
type Manifest struct {
	Programs []Program `yaml:"programs" toml:"programs"`
}

// Program is one manifest entry.
type Program struct {
	Name       string   `yaml:"name" toml:"name"`
	Path       string   `yaml:"path" toml:"path"`
	Args       []string `yaml:"args" toml:"args"`
	Cwd        string   `yaml:"cwd" toml:"cwd"`
	PipeStdin  bool     `yaml:"pipe_stdin" toml:"pipe_stdin"`
	PipeStdout bool     `yaml:"pipe_stdout" toml:"pipe_stdout"`
	StdinFrom  string   `yaml:"stdin_from" toml:"stdin_from"`
	Start      bool     `yaml:"start" toml:"start"`
	Wait       bool     `yaml:"wait" toml:"wait"`
}

// Parse decodes a manifest. format is "yaml" or "toml".
func Parse(data []byte, format string) (*Manifest, error) {
	var m Manifest
	switch strings.ToLower(format) {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("YAML parse error: %w", err)
		}
	case "toml":
		if err := toml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("TOML parse error: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported manifest format %q", format)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Load reads and parses a manifest through fsys, picking the format from
// the file extension.
func Load(fsys filesystem.Filesystem, name string) (*Manifest, error) {
	data, err := filesystem.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Parse(data, strings.TrimPrefix(filepath.Ext(name), "."))
}

// Validate checks names are unique and stdin_from refers backwards.
func (m *Manifest) Validate() error {
	seen := make(map[string]bool, len(m.Programs))
	for i, p := range m.Programs {
		if p.Path == "" {
			return fmt.Errorf("program %d: path is required", i)
		}
		if p.StdinFrom != "" && !seen[p.StdinFrom] {
			return fmt.Errorf("program %d (%s): stdin_from %q does not name an earlier program", i, p.Path, p.StdinFrom)
		}
		if p.Name != "" {
			if seen[p.Name] {
				return fmt.Errorf("program %d: duplicate name %q", i, p.Name)
			}
			seen[p.Name] = true
		}
	}
	return nil
}
