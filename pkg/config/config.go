// Package config provides configuration loading and management for segstitch.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Tiling parameters
	Tiling struct {
		// TileSize is the full (overlap-inclusive) tile edge length in pixels
		TileSize int `yaml:"tileSize"`

		// Overlap is the overlap width between adjacent tiles in pixels,
		// strictly smaller than TileSize
		Overlap int `yaml:"overlap"`
	} `yaml:"tiling"`

	// Stitching parameters
	Stitching struct {
		// MinOverlapPixels is the minimum co-occurrence pixel count for two
		// tile-local labels to be matched across a seam
		MinOverlapPixels int `yaml:"minOverlapPixels"`

		// MinOverlapFraction additionally requires the co-occurrence to cover
		// this fraction of the smaller object's band area, in [0, 1]
		MinOverlapFraction float64 `yaml:"minOverlapFraction"`
	} `yaml:"stitching"`

	// Processing parameters
	Processing struct {
		// NumWorkers specifies how many tiles to segment concurrently
		NumWorkers int `yaml:"numWorkers"`

		// Normalize enables per-channel zero-mean unit-variance normalization
		Normalize bool `yaml:"normalize"`

		// TileTimeoutSeconds converts an overrunning per-tile segmentation
		// into a tile failure; zero disables the timeout
		TileTimeoutSeconds float64 `yaml:"tileTimeoutSeconds"`
	} `yaml:"processing"`

	// Segmenter parameters for the built-in threshold segmenter
	Segmenter struct {
		// HistogramBins is the resolution for Otsu threshold selection
		HistogramBins int `yaml:"histogramBins"`

		// MinObjectArea drops components smaller than this many pixels
		MinObjectArea int `yaml:"minObjectArea"`
	} `yaml:"segmenter"`

	// Output parameters
	Output struct {
		// Verbose controls the level of progress output
		Verbose bool `yaml:"verbose"`

		// Colorize enables writing a color visualization next to the label map
		Colorize bool `yaml:"colorize"`

		// Seed drives the label shuffle used for visualization
		Seed int64 `yaml:"seed"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default tiling parameters
	cfg.Tiling.TileSize = 512
	cfg.Tiling.Overlap = 64

	// Set default stitching parameters
	cfg.Stitching.MinOverlapPixels = 5
	cfg.Stitching.MinOverlapFraction = 0.5

	// Set default processing parameters
	cfg.Processing.NumWorkers = runtime.NumCPU() // Use all available cores by default
	cfg.Processing.Normalize = true
	cfg.Processing.TileTimeoutSeconds = 0

	// Set default segmenter parameters
	cfg.Segmenter.HistogramBins = 256
	cfg.Segmenter.MinObjectArea = 4

	// Set default output parameters
	cfg.Output.Verbose = true
	cfg.Output.Colorize = false
	cfg.Output.Seed = 1

	return cfg
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
