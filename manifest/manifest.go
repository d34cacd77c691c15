// Package manifest handles ifps.toml tool configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/ifps/script"
)

// FileName is the name of the configuration file.
const FileName = "ifps.toml"

// Manifest represents an ifps.toml configuration.
type Manifest struct {
	Script ScriptConfig `toml:"script"`
	Output OutputConfig `toml:"output"`

	// Dir is the directory containing the ifps.toml file (set at load time).
	Dir string `toml:"-"`
}

// ScriptConfig controls how scripts are read and rewritten.
type ScriptConfig struct {
	// TargetVersion is the file version resave writes. 0 keeps the version
	// of the input.
	TargetVersion int `toml:"target-version"`
	// SetStackTypeCutoff is the first file version that decodes 0x0A as an
	// unknown opcode.
	SetStackTypeCutoff int `toml:"setstacktype-cutoff"`
}

// OutputConfig configures where the CLI writes its results.
type OutputConfig struct {
	Dir       string `toml:"dir"`
	Extension string `toml:"extension"`
}

// Default returns the configuration used when no ifps.toml exists.
func Default() *Manifest {
	m := &Manifest{}
	m.applyDefaults()
	return m
}

func (m *Manifest) applyDefaults() {
	if m.Script.SetStackTypeCutoff == 0 {
		m.Script.SetStackTypeCutoff = script.DefaultSetStackTypeCutoff
	}
	if m.Output.Extension == "" {
		m.Output.Extension = ".txt"
	}
}

func (m *Manifest) validate() error {
	if v := m.Script.TargetVersion; v != 0 && (v < script.VersionLowest || v > script.VersionHighest) {
		return fmt.Errorf("target-version %d outside %d..%d", v, script.VersionLowest, script.VersionHighest)
	}
	if v := m.Script.SetStackTypeCutoff; v < script.VersionLowest || v > script.VersionHighest+1 {
		return fmt.Errorf("setstacktype-cutoff %d outside %d..%d", v, script.VersionLowest, script.VersionHighest+1)
	}
	return nil
}

// Load parses an ifps.toml file from the given directory.
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

	m.applyDefaults()
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find an ifps.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
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

// LoadOptions returns the script load options this manifest selects.
func (m *Manifest) LoadOptions() script.LoadOptions {
	return script.LoadOptions{SetStackTypeCutoff: m.Script.SetStackTypeCutoff}
}

// OutputPath returns where output derived from input should be written.
// A relative output dir is resolved against the manifest directory; with no
// output dir the result sits next to input.
func (m *Manifest) OutputPath(input, ext string) string {
	base := filepath.Base(input)
	name := base[:len(base)-len(filepath.Ext(base))] + ext
	switch {
	case m.Output.Dir == "":
		return filepath.Join(filepath.Dir(input), name)
	case filepath.IsAbs(m.Output.Dir) || m.Dir == "":
		return filepath.Join(m.Output.Dir, name)
	}
	return filepath.Join(m.Dir, m.Output.Dir, name)
}
