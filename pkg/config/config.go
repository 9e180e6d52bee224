// Package config provides configuration loading and management for hetzcorr.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"hetzcorr/internal/models"
	"hetzcorr/pkg/correction"
	"hetzcorr/pkg/engine"
	"hetzcorr/pkg/labels"
)

// Region holds the rational model coefficients of one labeled region.
// When Label is set the coefficients are bound to that pixel value,
// otherwise they apply to the region at the same position in the label set.
type Region struct {
	Label *uint16 `yaml:"label,omitempty"`
	A     float64 `yaml:"a"`
	B     float64 `yaml:"b"`
	C     float64 `yaml:"c"`
}

// Coefficients returns the triple of the region.
func (r Region) Coefficients() correction.Coefficients {
	return correction.Coefficients{A: r.A, B: r.B, C: r.C}
}

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumCores specifies how many CPU cores to use for parallel processing
		NumCores int `yaml:"numCores"`

		// FaultPolicy is "abort" or "mark" (write NaN and continue)
		FaultPolicy string `yaml:"faultPolicy"`

		// ProgressIntervalMs is the minimum delay between progress reports
		ProgressIntervalMs int `yaml:"progressIntervalMs"`
	} `yaml:"processing"`

	// Regions lists the (a, b, c) coefficients of every region
	Regions []Region `yaml:"regions"`

	// Calibration is attached to the loaded stack and copied to the output
	Calibration models.Calibration `yaml:"calibration"`

	// Output parameters
	Output struct {
		// SaveSlices exports the correction volume as image slices
		SaveSlices bool `yaml:"saveSlices"`

		// SliceFormat is "png" or "tiff"
		SliceFormat string `yaml:"sliceFormat"`

		// Compress writes the raw volume zstd-compressed
		Compress bool `yaml:"compress"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultRegions are the coefficients used when none are configured.
func DefaultRegions() []Region {
	return []Region{
		{A: -0.05977, B: 83.3, C: 78.73},
		{A: -0.05976, B: 41.65, C: 39.36},
	}
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.NumCores = runtime.NumCPU()
	cfg.Processing.FaultPolicy = string(engine.FaultAbort)
	cfg.Processing.ProgressIntervalMs = 500

	cfg.Regions = DefaultRegions()

	cfg.Calibration = models.Calibration{
		PixelWidth:  1,
		PixelHeight: 1,
		PixelDepth:  1,
		Unit:        "pixel",
	}

	cfg.Output.SaveSlices = false
	cfg.Output.SliceFormat = "png"
	cfg.Output.Compress = false
	cfg.Output.Verbose = false

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Regions replace the defaults rather than merging with them
	cfg.Regions = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	if len(cfg.Regions) == 0 {
		cfg.Regions = DefaultRegions()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

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

// Validate checks values that do not depend on the loaded stack.
func (c *Config) Validate() error {
	if _, err := engine.ParseFaultPolicy(c.Processing.FaultPolicy); err != nil {
		return &engine.ConfigurationError{Reason: "processing.faultPolicy", Err: err}
	}
	switch c.Output.SliceFormat {
	case "", "png", "tiff":
	default:
		return &engine.ConfigurationError{Reason: fmt.Sprintf("unknown output.sliceFormat %q", c.Output.SliceFormat)}
	}

	bound := 0
	seen := make(map[uint16]bool)
	for _, r := range c.Regions {
		if r.Label == nil {
			continue
		}
		bound++
		if seen[*r.Label] {
			return &engine.ConfigurationError{Reason: fmt.Sprintf("label %d has more than one region", *r.Label)}
		}
		seen[*r.Label] = true
	}
	if bound != 0 && bound != len(c.Regions) {
		return &engine.ConfigurationError{Reason: "regions must either all set a label or none"}
	}
	return nil
}

// FaultPolicy returns the parsed fault policy.
func (c *Config) FaultPolicy() engine.FaultPolicy {
	policy, err := engine.ParseFaultPolicy(c.Processing.FaultPolicy)
	if err != nil {
		return engine.FaultAbort
	}
	return policy
}

// ProgressInterval returns the progress throttle as a duration.
func (c *Config) ProgressInterval() time.Duration {
	return time.Duration(c.Processing.ProgressIntervalMs) * time.Millisecond
}

// CoefficientTable resolves the configured regions against a label set.
// Label-bound regions are matched by value and must cover every label;
// positional regions must match the label count exactly.
func (c *Config) CoefficientTable(set *labels.Set) (correction.Table, error) {
	if len(c.Regions) > 0 && c.Regions[0].Label != nil {
		byLabel := make(map[uint16]Region, len(c.Regions))
		for _, r := range c.Regions {
			if r.Label == nil {
				return nil, &engine.ConfigurationError{Reason: "regions must either all set a label or none"}
			}
			byLabel[*r.Label] = r
		}
		table := make(correction.Table, set.Len())
		for i := 0; i < set.Len(); i++ {
			r, ok := byLabel[set.Value(i)]
			if !ok {
				return nil, &engine.ConfigurationError{Reason: fmt.Sprintf("no coefficients for label %d", set.Value(i))}
			}
			table[i] = r.Coefficients()
		}
		return table, nil
	}

	if len(c.Regions) != set.Len() {
		return nil, &engine.ConfigurationError{
			Reason: fmt.Sprintf("%d regions configured for %d labels", len(c.Regions), set.Len()),
			Err:    correction.ErrLengthMismatch,
		}
	}
	table := make(correction.Table, len(c.Regions))
	for i, r := range c.Regions {
		table[i] = r.Coefficients()
	}
	return table, nil
}
