package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"hetzcorr/pkg/correction"
	"hetzcorr/pkg/engine"
	"hetzcorr/pkg/labels"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hetzcorr.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

// TestDefaultConfig verifies the default values
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Processing.NumCores < 1 {
		t.Errorf("Expected at least one core, got %d", cfg.Processing.NumCores)
	}
	if cfg.FaultPolicy() != engine.FaultAbort {
		t.Errorf("Expected abort policy by default, got %q", cfg.FaultPolicy())
	}
	if cfg.ProgressInterval() != 500*time.Millisecond {
		t.Errorf("Expected 500ms progress interval, got %v", cfg.ProgressInterval())
	}
	if len(cfg.Regions) != 2 || cfg.Regions[0].B != 83.3 || cfg.Regions[1].C != 39.36 {
		t.Errorf("Unexpected default regions: %+v", cfg.Regions)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}
}

// TestLoadConfigMissingFile verifies that a missing file gives the defaults
func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if len(cfg.Regions) != len(DefaultRegions()) {
		t.Errorf("Expected default regions, got %+v", cfg.Regions)
	}
}

// TestLoadConfig verifies parsing of every section
func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
processing:
  numCores: 3
  faultPolicy: mark
  progressIntervalMs: 50
regions:
  - label: 20
    a: 1
    b: 2
    c: 3
  - label: 10
    a: 4
    b: 5
    c: 6
calibration:
  pixelWidth: 0.2
  pixelHeight: 0.2
  pixelDepth: 1.5
  unit: micron
output:
  saveSlices: true
  sliceFormat: tiff
  compress: true
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Processing.NumCores != 3 || cfg.FaultPolicy() != engine.FaultMark {
		t.Errorf("Processing section not loaded: %+v", cfg.Processing)
	}
	if cfg.ProgressInterval() != 50*time.Millisecond {
		t.Errorf("Expected 50ms interval, got %v", cfg.ProgressInterval())
	}
	if cfg.Calibration.PixelDepth != 1.5 || cfg.Calibration.Unit != "micron" {
		t.Errorf("Calibration not loaded: %+v", cfg.Calibration)
	}
	if !cfg.Output.SaveSlices || cfg.Output.SliceFormat != "tiff" || !cfg.Output.Compress {
		t.Errorf("Output section not loaded: %+v", cfg.Output)
	}

	// Bound regions are matched by label value, not by position
	set, _ := labels.NewSet(10, 20)
	table, err := cfg.CoefficientTable(set)
	if err != nil {
		t.Fatalf("CoefficientTable failed: %v", err)
	}
	expected := correction.Table{{A: 4, B: 5, C: 6}, {A: 1, B: 2, C: 3}}
	for i := range expected {
		if table[i] != expected[i] {
			t.Errorf("Label %d: expected %+v, got %+v", set.Value(i), expected[i], table[i])
		}
	}

	// A label without coefficients is a configuration error
	missing, _ := labels.NewSet(10, 20, 30)
	var cfgErr *engine.ConfigurationError
	if _, err := cfg.CoefficientTable(missing); !errors.As(err, &cfgErr) {
		t.Errorf("Expected ConfigurationError for uncovered label, got %v", err)
	}
}

// TestCoefficientTablePositional verifies positional regions
func TestCoefficientTablePositional(t *testing.T) {
	cfg := DefaultConfig()

	set, _ := labels.NewSet(1, 2)
	table, err := cfg.CoefficientTable(set)
	if err != nil {
		t.Fatalf("CoefficientTable failed: %v", err)
	}
	if table[0].A != -0.05977 || table[1].A != -0.05976 {
		t.Errorf("Unexpected table: %+v", table)
	}

	three, _ := labels.NewSet(1, 2, 3)
	_, err = cfg.CoefficientTable(three)
	var cfgErr *engine.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Expected ConfigurationError, got %v", err)
	}
	if !errors.Is(err, correction.ErrLengthMismatch) {
		t.Errorf("Expected ErrLengthMismatch to be wrapped")
	}
}

// TestValidate verifies rejected configurations
func TestValidate(t *testing.T) {
	cases := map[string]string{
		"policy": `
processing:
  faultPolicy: ignore
`,
		"format": `
output:
  sliceFormat: bmp
`,
		"mixed": `
regions:
  - label: 1
    a: 1
    b: 1
    c: 1
  - a: 1
    b: 1
    c: 1
`,
		"duplicate": `
regions:
  - label: 1
    a: 1
    b: 1
    c: 1
  - label: 1
    a: 2
    b: 2
    c: 2
`,
	}

	for name, content := range cases {
		_, err := LoadConfig(writeConfig(t, content))
		var cfgErr *engine.ConfigurationError
		if !errors.As(err, &cfgErr) {
			t.Errorf("%s: expected ConfigurationError, got %v", name, err)
		}
	}

	if _, err := LoadConfig(writeConfig(t, "processing: [")); err == nil {
		t.Errorf("Expected parse error for malformed YAML")
	}
}

// TestSaveConfig verifies that a saved config loads back unchanged
func TestSaveConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "hetzcorr.yaml")

	if err := CreateDefaultConfigFile(path); err != nil {
		t.Fatalf("CreateDefaultConfigFile failed: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	def := DefaultConfig()
	if cfg.Processing != def.Processing || cfg.Calibration != def.Calibration || cfg.Output != def.Output {
		t.Errorf("Loaded config differs from defaults: %+v", cfg)
	}
	for i := range def.Regions {
		if cfg.Regions[i].Coefficients() != def.Regions[i].Coefficients() || cfg.Regions[i].Label != nil {
			t.Errorf("Region %d differs: %+v", i, cfg.Regions[i])
		}
	}
}
