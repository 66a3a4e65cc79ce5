// Package manifest handles ripley.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FileName is the manifest file looked for in a project directory.
const FileName = "ripley.toml"

// Manifest represents a ripley.toml project configuration.
type Manifest struct {
	Project Project  `toml:"project"`
	VM      VMConfig `toml:"vm"`
	Cache   Cache    `toml:"cache"`

	// Dir is the directory containing the ripley.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name  string `toml:"name"`
	Entry string `toml:"entry"` // script run when no path is given
}

// VMConfig carries the interpreter's debug and collector switches.
type VMConfig struct {
	TraceExecution bool `toml:"trace-execution"`
	PrintCode      bool `toml:"print-code"`
	GCStress       bool `toml:"gc-stress"`
	GCLog          bool `toml:"gc-log"`
}

// Cache configures the compiled-chunk cache.
type Cache struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"` // defaults to .ripley/cache.db under the manifest dir
}

// Load parses a ripley.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	return &m, nil
}

// FindAndLoad walks up from startDir to find a ripley.toml file, then
// loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// CachePath returns the configured cache database path, or the default
// .ripley/cache.db under the manifest directory.
func (m *Manifest) CachePath() string {
	if m.Cache.Path != "" {
		if filepath.IsAbs(m.Cache.Path) {
			return m.Cache.Path
		}
		return filepath.Join(m.Dir, m.Cache.Path)
	}
	return filepath.Join(m.Dir, ".ripley", "cache.db")
}

// EntryPath returns the absolute path of the configured entry script, or
// empty when none is set.
func (m *Manifest) EntryPath() string {
	if m.Project.Entry == "" {
		return ""
	}
	if filepath.IsAbs(m.Project.Entry) {
		return m.Project.Entry
	}
	return filepath.Join(m.Dir, m.Project.Entry)
}
