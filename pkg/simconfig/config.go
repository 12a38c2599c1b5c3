// Package simconfig loads the system configuration file that describes
// the resource pool size a simulation run should use.
package simconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SystemConfig is the system description read from the config file.
type SystemConfig struct {
	// Nodes is the number of resources the allocator should create (N).
	Nodes int `yaml:"nodes"`
	// PPN (processes per node) is carried for completeness but is never
	// read by the core — resources are modeled as anonymous single-slot
	// units, not multi-core nodes.
	PPN int `yaml:"ppn"`
}

// Error reports a malformed or incomplete system config.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("simconfig: %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Load reads and validates a system config file.
func Load(path string) (*SystemConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}

	var cfg SystemConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &Error{Path: path, Err: fmt.Errorf("parsing yaml: %w", err)}
	}

	if cfg.Nodes <= 0 {
		return nil, &Error{Path: path, Err: fmt.Errorf("nodes must be a positive integer, got %d", cfg.Nodes)}
	}

	return &cfg, nil
}
