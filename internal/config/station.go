// Package config loads the station configuration: storage paths, service
// addresses, engine tuning and the instrument inventory. Optional fields are
// pointers so a partial JSON file overrides only what it names; the Get*
// methods supply defaults for everything else.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/sweepstation/internal/instrument"
)

// DefaultConfigPath is the conventional station config location.
const DefaultConfigPath = "config/station.json"

// StationConfig is the root configuration.
type StationConfig struct {
	// Storage
	DataDir   *string `json:"data_dir,omitempty"`
	RunDBPath *string `json:"run_db_path,omitempty"`

	// Services
	ListenAddr   *string `json:"listen_addr,omitempty"`    // HTTP API
	LivePlotAddr *string `json:"live_plot_addr,omitempty"` // gRPC row stream

	// Engine tuning
	SafetyTolerance *float64 `json:"safety_tolerance,omitempty"`
	QueueSize       *int     `json:"queue_size,omitempty"`
	DefaultDelay    *string  `json:"default_delay,omitempty"` // duration string like "100ms"

	Instruments []InstrumentConfig `json:"instruments,omitempty"`
}

// InstrumentConfig declares one connected instrument and the parameters it
// exposes.
type InstrumentConfig struct {
	Name       string                 `json:"name"`
	Addr       string                 `json:"addr"`
	Port       instrument.PortOptions `json:"port"`
	Parameters []ParameterConfig      `json:"parameters,omitempty"`
}

// ParameterConfig declares one sweepable or measurable instrument parameter.
// Gain and Offset apply an affine correction between the user-facing value
// and the raw instrument value; zero Gain means no scaling.
type ParameterConfig struct {
	Name   string  `json:"name"`
	Label  string  `json:"label,omitempty"`
	Unit   string  `json:"unit,omitempty"`
	GetCmd string  `json:"get_cmd,omitempty"`
	SetCmd string  `json:"set_cmd,omitempty"`
	Gain   float64 `json:"gain,omitempty"`
	Offset float64 `json:"offset,omitempty"`
}

// Empty returns a StationConfig with all fields unset.
func Empty() *StationConfig {
	return &StationConfig{}
}

// Load reads and validates a station config from a JSON file. Fields omitted
// from the file keep their defaults, so partial configs are safe.
func Load(path string) (*StationConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *StationConfig) Validate() error {
	if c.SafetyTolerance != nil && *c.SafetyTolerance <= 0 {
		return fmt.Errorf("safety_tolerance must be positive, got %f", *c.SafetyTolerance)
	}
	if c.QueueSize != nil && *c.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", *c.QueueSize)
	}
	if c.DefaultDelay != nil && *c.DefaultDelay != "" {
		if _, err := time.ParseDuration(*c.DefaultDelay); err != nil {
			return fmt.Errorf("invalid default_delay %q: %w", *c.DefaultDelay, err)
		}
	}

	seen := make(map[string]bool)
	for i, inst := range c.Instruments {
		if inst.Name == "" {
			return fmt.Errorf("instrument %d has no name", i)
		}
		if seen[inst.Name] {
			return fmt.Errorf("duplicate instrument name %q", inst.Name)
		}
		seen[inst.Name] = true
		if inst.Addr == "" {
			return fmt.Errorf("instrument %q has no address", inst.Name)
		}
		if _, err := inst.Port.Normalize(); err != nil {
			return fmt.Errorf("instrument %q: %w", inst.Name, err)
		}
		pseen := make(map[string]bool)
		for j, p := range inst.Parameters {
			if p.Name == "" {
				return fmt.Errorf("instrument %q parameter %d has no name", inst.Name, j)
			}
			if pseen[p.Name] {
				return fmt.Errorf("instrument %q has duplicate parameter %q", inst.Name, p.Name)
			}
			pseen[p.Name] = true
			if p.GetCmd == "" && p.SetCmd == "" {
				return fmt.Errorf("parameter %q.%q has neither get_cmd nor set_cmd", inst.Name, p.Name)
			}
		}
	}
	return nil
}

// GetDataDir returns the dataset root directory.
func (c *StationConfig) GetDataDir() string {
	if c.DataDir == nil || *c.DataDir == "" {
		return "data"
	}
	return *c.DataDir
}

// GetRunDBPath returns the run index sqlite path.
func (c *StationConfig) GetRunDBPath() string {
	if c.RunDBPath == nil || *c.RunDBPath == "" {
		return "runs.db"
	}
	return *c.RunDBPath
}

// GetListenAddr returns the HTTP API listen address.
func (c *StationConfig) GetListenAddr() string {
	if c.ListenAddr == nil || *c.ListenAddr == "" {
		return "localhost:8080"
	}
	return *c.ListenAddr
}

// GetLivePlotAddr returns the live-plot gRPC listen address.
func (c *StationConfig) GetLivePlotAddr() string {
	if c.LivePlotAddr == nil || *c.LivePlotAddr == "" {
		return "localhost:50051"
	}
	return *c.LivePlotAddr
}

// GetSafetyTolerance returns the relative safety-check tolerance.
func (c *StationConfig) GetSafetyTolerance() float64 {
	if c.SafetyTolerance == nil {
		return 0.01
	}
	return *c.SafetyTolerance
}

// GetQueueSize returns the persistence queue depth.
func (c *StationConfig) GetQueueSize() int {
	if c.QueueSize == nil {
		return 64
	}
	return *c.QueueSize
}

// GetDefaultDelay parses and returns the default settle delay.
func (c *StationConfig) GetDefaultDelay() time.Duration {
	if c.DefaultDelay == nil || *c.DefaultDelay == "" {
		return 0
	}
	d, err := time.ParseDuration(*c.DefaultDelay)
	if err != nil {
		return 0
	}
	return d
}
