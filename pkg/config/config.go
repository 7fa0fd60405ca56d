// Package config provides configuration loading and management for platestack.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"platestack/internal/models"
	"platestack/pkg/acqmeta"
	"platestack/pkg/platelayout"
	"platestack/pkg/reconstruction"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumWorkers specifies how many stacks are reconstructed at once
		NumWorkers int `yaml:"numWorkers"`

		// DimensionOrder is the storage order of output stacks, outermost first
		DimensionOrder string `yaml:"dimensionOrder"`

		// SqueezeSingletons drops axes of size 1 from the declared shape
		SqueezeSingletons bool `yaml:"squeezeSingletons"`

		// SplitTimepoints writes one image per timepoint
		SplitTimepoints bool `yaml:"splitTimepoints"`

		// ZStepTolerance is the relative disagreement allowed between
		// relative and absolute z positions
		ZStepTolerance float64 `yaml:"zStepTolerance"`
	} `yaml:"processing"`

	// Input parameters
	Input struct {
		// Template describes source file names
		Template string `yaml:"template"`

		// MetadataFile is the vendor acquisition document (e.g. Index.idx.xml),
		// relative to the input directory unless absolute. Empty means none.
		MetadataFile string `yaml:"metadataFile"`
	} `yaml:"input"`

	// Output parameters
	Output struct {
		// Prefix is prepended to every stack file name
		Prefix string `yaml:"prefix"`

		// DescriptorFile is the layout descriptor name, relative to the
		// output directory unless absolute
		DescriptorFile string `yaml:"descriptorFile"`

		// SavePreviews writes a PNG preview per stack
		SavePreviews bool `yaml:"savePreviews"`

		// PreviewWidth is the width of each channel tile in pixels
		PreviewWidth int `yaml:"previewWidth"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`

	// Layout parameters
	Layout struct {
		// PlateWells overrides the well count from metadata when non-zero
		PlateWells int `yaml:"plateWells"`

		// WrapFraction and SpacerFraction tune the packing rule
		WrapFraction   float64 `yaml:"wrapFraction"`
		SpacerFraction float64 `yaml:"spacerFraction"`

		// DefaultPixelSize in micrometres sizes fields when the metadata has none
		DefaultPixelSize float64 `yaml:"defaultPixelSize"`
	} `yaml:"layout"`

	// Plates extends or replaces entries of the built-in geometry table
	Plates []models.PlateLayout `yaml:"plates"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default processing parameters
	cfg.Processing.NumWorkers = runtime.NumCPU() // Use all available cores by default
	cfg.Processing.DimensionOrder = reconstruction.DefaultDimensionOrder
	cfg.Processing.ZStepTolerance = acqmeta.DefaultZStepTolerance

	// Set default input parameters
	cfg.Input.Template = "r{row}c{col}f{field}p{z}-ch{channel}t{time}.tiff"

	// Set default output parameters
	cfg.Output.DescriptorFile = "layout.json"
	cfg.Output.PreviewWidth = 256
	cfg.Output.Verbose = true

	// Set default layout parameters
	cfg.Layout.WrapFraction = platelayout.DefaultWrapFraction
	cfg.Layout.SpacerFraction = platelayout.DefaultSpacerFraction
	cfg.Layout.DefaultPixelSize = platelayout.DefaultPixelSize

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

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail deep inside a run
func (c *Config) Validate() error {
	if err := reconstruction.ValidateAxes(c.Processing.DimensionOrder); err != nil {
		return err
	}
	if c.Processing.ZStepTolerance < 0 {
		return fmt.Errorf("zStepTolerance must not be negative")
	}
	if c.Layout.WrapFraction <= 0 || c.Layout.WrapFraction > 1 {
		return fmt.Errorf("wrapFraction must be in (0, 1], got %g", c.Layout.WrapFraction)
	}
	if c.Layout.SpacerFraction < 0 {
		return fmt.Errorf("spacerFraction must not be negative, got %g", c.Layout.SpacerFraction)
	}
	if c.Layout.DefaultPixelSize <= 0 {
		return fmt.Errorf("defaultPixelSize must be positive, got %g", c.Layout.DefaultPixelSize)
	}
	for i, p := range c.Plates {
		if p.WellCount() == 0 || p.PitchX <= 0 || p.PitchY <= 0 {
			return fmt.Errorf("plate %d (%q): wells and pitch must be positive", i, p.Name)
		}
		if p.UsableWidth <= 0 || p.UsableHeight <= 0 {
			return fmt.Errorf("plate %d (%q): usableWidth and usableHeight must be positive", i, p.Name)
		}
	}
	return nil
}

// PlateTable returns the built-in geometries merged with the configured plates
func (c *Config) PlateTable() platelayout.Table {
	return platelayout.DefaultTable().Merge(c.Plates)
}

// Params builds reconstruction parameters for one acquisition directory
func (c *Config) Params(inputDir, outputDir string) *reconstruction.Params {
	params := &reconstruction.Params{
		InputDir:          inputDir,
		Template:          c.Input.Template,
		OutputDir:         outputDir,
		OutputPrefix:      c.Output.Prefix,
		NumWorkers:        c.Processing.NumWorkers,
		DimensionOrder:    c.Processing.DimensionOrder,
		SqueezeSingletons: c.Processing.SqueezeSingletons,
		SplitTimepoints:   c.Processing.SplitTimepoints,
		ZStepTolerance:    c.Processing.ZStepTolerance,
		PlateTable:        c.PlateTable(),
		PlateWells:        c.Layout.PlateWells,
		WrapFraction:      c.Layout.WrapFraction,
		SpacerFraction:    c.Layout.SpacerFraction,
		PixelSize:         c.Layout.DefaultPixelSize,
		SavePreviews:      c.Output.SavePreviews,
		PreviewWidth:      c.Output.PreviewWidth,
	}
	if c.Input.MetadataFile != "" {
		params.MetadataFile = resolve(inputDir, c.Input.MetadataFile)
	}
	if c.Output.DescriptorFile != "" {
		params.DescriptorFile = resolve(outputDir, c.Output.DescriptorFile)
	}
	return params
}

func resolve(dir, name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, name)
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
