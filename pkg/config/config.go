// Package config provides configuration loading and management for roitransfer.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"roitransfer/internal/models"
	"roitransfer/pkg/interpolation"
	"roitransfer/pkg/reconstruction"
	"roitransfer/pkg/sweep"
	"roitransfer/pkg/transform"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Interpolation parameters
	Interpolation struct {
		// MinNodeSpacing is the maximum distance in mm between nodes after
		// super-sampling
		MinNodeSpacing float64 `yaml:"minNodeSpacing"`

		// InterpolateAllNodes blends every aligned node pair instead of only
		// the original nodes of the longer contour
		InterpolateAllNodes bool `yaml:"interpolateAllNodes"`

		// GapFraction places the intermediate sweep contour within a gap
		GapFraction float64 `yaml:"gapFraction"`

		// RejectMultiContourSlices fails slices next to a multi-contour slice
		// instead of skipping past it
		RejectMultiContourSlices bool `yaml:"rejectMultiContourSlices"`

		// FillSourceGaps interpolates empty source slices before mapping
		FillSourceGaps bool `yaml:"fillSourceGaps"`
	} `yaml:"interpolation"`

	// Intersection parameters
	Intersection struct {
		// Policy is "strict" or "tolerant"
		Policy string `yaml:"policy"`

		// MaxDistToPts is the along-normal distance accepted by the tolerant
		// policy
		MaxDistToPts float64 `yaml:"maxDistToPts"`
	} `yaml:"intersection"`

	// Mapping parameters
	Mapping struct {
		// Mode is "sweep" or "direct"
		Mode string `yaml:"mode"`
	} `yaml:"mapping"`

	// Registration is the transform from source to target patient
	// coordinates. Matrix takes precedence over Rotation/Translation.
	Registration struct {
		// Matrix is a row-major 4x4 homogeneous matrix
		Matrix []float64 `yaml:"matrix,omitempty,flow"`

		// Rotation holds the rotation angles about x, y and z in degrees
		Rotation [3]float64 `yaml:"rotation,flow"`

		// Translation in mm
		Translation [3]float64 `yaml:"translation,flow"`
	} `yaml:"transform"`

	// Output parameters
	Output struct {
		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`

		// SaveLabelMaps writes a label map PNG per target slice
		SaveLabelMaps bool `yaml:"saveLabelMaps"`

		// LabelMapDir is the directory for label maps
		LabelMapDir string `yaml:"labelMapDir"`

		// SaveIntermediaryResults writes the interpolated source contours
		SaveIntermediaryResults bool `yaml:"saveIntermediaryResults"`

		// IntermediaryDir is the directory for intermediary results
		IntermediaryDir string `yaml:"intermediaryDir"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default interpolation parameters
	cfg.Interpolation.MinNodeSpacing = interpolation.DefaultMinNodeSpacing
	cfg.Interpolation.InterpolateAllNodes = true
	cfg.Interpolation.GapFraction = reconstruction.DefaultGapFraction
	cfg.Interpolation.RejectMultiContourSlices = false
	cfg.Interpolation.FillSourceGaps = true

	// Set default intersection parameters
	cfg.Intersection.Policy = "strict"
	cfg.Intersection.MaxDistToPts = 1.0

	cfg.Mapping.Mode = reconstruction.Sweep.String()

	// Set default output parameters
	cfg.Output.Verbose = true
	cfg.Output.SaveLabelMaps = false
	cfg.Output.LabelMapDir = "labelmaps"
	cfg.Output.SaveIntermediaryResults = false
	cfg.Output.IntermediaryDir = "intermediary_results"

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
		return nil, fmt.Errorf("invalid config file: %w", err)
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

// Validate checks the values that cannot be corrected at the call site
func (c *Config) Validate() error {
	if c.Interpolation.MinNodeSpacing <= 0 {
		return fmt.Errorf("minNodeSpacing must be positive, got %g", c.Interpolation.MinNodeSpacing)
	}
	if c.Interpolation.GapFraction <= 0 || c.Interpolation.GapFraction >= 1 {
		return fmt.Errorf("gapFraction must lie in (0, 1), got %g", c.Interpolation.GapFraction)
	}
	if _, err := c.IntersectionPolicy(); err != nil {
		return err
	}
	if _, err := reconstruction.ParseMode(c.Mapping.Mode); err != nil {
		return err
	}
	if n := len(c.Registration.Matrix); n != 0 && n != 16 {
		return fmt.Errorf("transform matrix needs 16 values, got %d", n)
	}
	return nil
}

// InterpolationOptions returns the interpolation options of the file
func (c *Config) InterpolationOptions() interpolation.Options {
	return interpolation.Options{
		MinNodeSpacing:           c.Interpolation.MinNodeSpacing,
		InterpolateAllNodes:      c.Interpolation.InterpolateAllNodes,
		RejectMultiContourSlices: c.Interpolation.RejectMultiContourSlices,
	}
}

// IntersectionPolicy returns the sweep intersection policy of the file
func (c *Config) IntersectionPolicy() (sweep.Policy, error) {
	switch c.Intersection.Policy {
	case "", "strict":
		return sweep.Strict(), nil
	case "tolerant":
		if c.Intersection.MaxDistToPts <= 0 {
			return sweep.Policy{}, errors.New("tolerant policy needs a positive maxDistToPts")
		}
		return sweep.Tolerant(c.Intersection.MaxDistToPts), nil
	default:
		return sweep.Policy{}, fmt.Errorf("unknown intersection policy %q", c.Intersection.Policy)
	}
}

// Transform returns the configured source to target transform
func (c *Config) Transform() (transform.Affine, error) {
	t := c.Registration
	if len(t.Matrix) > 0 {
		if len(t.Matrix) != 16 {
			return transform.Affine{}, fmt.Errorf("transform matrix needs 16 values, got %d", len(t.Matrix))
		}
		var m [16]float64
		copy(m[:], t.Matrix)
		return transform.NewAffine(m), nil
	}

	const deg = math.Pi / 180
	return transform.NewRigid(
		t.Rotation[0]*deg, t.Rotation[1]*deg, t.Rotation[2]*deg,
		models.Point3D{X: t.Translation[0], Y: t.Translation[1], Z: t.Translation[2]},
	), nil
}

// Params fills the configured fields of reconstruction parameters
func (c *Config) Params(params *reconstruction.Params) error {
	policy, err := c.IntersectionPolicy()
	if err != nil {
		return err
	}
	mode, err := reconstruction.ParseMode(c.Mapping.Mode)
	if err != nil {
		return err
	}
	t, err := c.Transform()
	if err != nil {
		return err
	}

	params.Options = c.InterpolationOptions()
	params.GapFraction = c.Interpolation.GapFraction
	params.FillSourceGaps = c.Interpolation.FillSourceGaps
	params.Policy = policy
	params.Mode = mode
	params.Transform = t
	params.SaveIntermediaryResults = c.Output.SaveIntermediaryResults
	params.IntermediaryDir = c.Output.IntermediaryDir
	return nil
}
