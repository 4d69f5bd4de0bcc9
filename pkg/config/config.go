// Package config provides configuration loading and management for
// vggt-slam. It handles loading configuration from YAML files,
// provides default values, and clamps parameters into their valid
// ranges.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Parameter ranges and defaults.
const (
	MinSubmapSize     = 4
	MaxSubmapSize     = 32
	DefaultSubmapSize = 16

	MinMaxLoops     = 0
	MaxMaxLoops     = 5
	DefaultMaxLoops = 1

	DefaultMinDisparity  = 50.0
	DefaultConfThreshold = 25.0
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// SLAM pipeline parameters
	Slam struct {
		// UseSim3 selects Sim(3) optimization instead of projective SL(4)
		UseSim3 bool `yaml:"useSim3"`

		// SubmapSize is the number of keyframes per submap, in [4,32]
		SubmapSize int `yaml:"submapSize"`

		// MaxLoops caps loop closures added per new submap, in [0,5]
		MaxLoops int `yaml:"maxLoops"`

		// MinDisparity is the optical-flow disparity a candidate needs
		// to become a keyframe, in [0,100]
		MinDisparity float64 `yaml:"minDisparity"`

		// ConfThreshold is the percentile of lowest-confidence points
		// dropped during fusion, in [0,100]
		ConfThreshold float64 `yaml:"confThreshold"`
	} `yaml:"slam"`

	// Output parameters
	Output struct {
		// ArtifactPath is where the fused cloud is written
		ArtifactPath string `yaml:"artifactPath"`

		// SavePreviews enables per-axis PNG projections of the cloud
		SavePreviews bool `yaml:"savePreviews"`

		// PreviewDir is the directory preview images are saved to
		PreviewDir string `yaml:"previewDir"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Slam.UseSim3 = false
	cfg.Slam.SubmapSize = DefaultSubmapSize
	cfg.Slam.MaxLoops = DefaultMaxLoops
	cfg.Slam.MinDisparity = DefaultMinDisparity
	cfg.Slam.ConfThreshold = DefaultConfThreshold

	cfg.Output.ArtifactPath = "scene.ply"
	cfg.Output.SavePreviews = false
	cfg.Output.PreviewDir = "previews"
	cfg.Output.Verbose = true

	return cfg
}

// Clamp forces every parameter into its documented range.
func (cfg *Config) Clamp() {
	if cfg.Slam.SubmapSize < MinSubmapSize {
		cfg.Slam.SubmapSize = MinSubmapSize
	}
	if cfg.Slam.SubmapSize > MaxSubmapSize {
		cfg.Slam.SubmapSize = MaxSubmapSize
	}
	if cfg.Slam.MaxLoops < MinMaxLoops {
		cfg.Slam.MaxLoops = MinMaxLoops
	}
	if cfg.Slam.MaxLoops > MaxMaxLoops {
		cfg.Slam.MaxLoops = MaxMaxLoops
	}
	if cfg.Slam.MinDisparity < 0 {
		cfg.Slam.MinDisparity = 0
	}
	if cfg.Slam.MinDisparity > 100 {
		cfg.Slam.MinDisparity = 100
	}
	if cfg.Slam.ConfThreshold < 0 {
		cfg.Slam.ConfThreshold = 0
	}
	if cfg.Slam.ConfThreshold > 100 {
		cfg.Slam.ConfThreshold = 100
	}
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	cfg.Clamp()
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
