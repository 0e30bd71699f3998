package config

import (
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"roitransfer/internal/models"
	"roitransfer/pkg/interpolation"
	"roitransfer/pkg/reconstruction"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Interpolation.MinNodeSpacing != interpolation.DefaultMinNodeSpacing {
		t.Errorf("expected default spacing %g, got %g", interpolation.DefaultMinNodeSpacing, cfg.Interpolation.MinNodeSpacing)
	}
	if !cfg.Interpolation.InterpolateAllNodes {
		t.Error("expected interpolateAllNodes to default to true")
	}
	if cfg.Interpolation.GapFraction != reconstruction.DefaultGapFraction {
		t.Errorf("expected gap fraction %g, got %g", reconstruction.DefaultGapFraction, cfg.Interpolation.GapFraction)
	}
	if cfg.Intersection.Policy != "strict" {
		t.Errorf("expected strict policy, got %q", cfg.Intersection.Policy)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestLoadMissingConfig(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Mapping.Mode != "sweep" {
		t.Errorf("expected default mode, got %q", cfg.Mapping.Mode)
	}
}

func TestSaveAndLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Interpolation.MinNodeSpacing = 0.5
	cfg.Intersection.Policy = "tolerant"
	cfg.Intersection.MaxDistToPts = 0.25
	cfg.Mapping.Mode = "direct"
	cfg.Registration.Translation = [3]float64{1, 2, 3}

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.Interpolation.MinNodeSpacing != 0.5 {
		t.Errorf("expected spacing 0.5, got %g", loaded.Interpolation.MinNodeSpacing)
	}
	if loaded.Intersection.Policy != "tolerant" || loaded.Intersection.MaxDistToPts != 0.25 {
		t.Errorf("intersection section not preserved: %+v", loaded.Intersection)
	}
	if loaded.Mapping.Mode != "direct" {
		t.Errorf("expected direct mode, got %q", loaded.Mapping.Mode)
	}
	if loaded.Registration.Translation != [3]float64{1, 2, 3} {
		t.Errorf("expected translation preserved, got %v", loaded.Registration.Translation)
	}
}

func TestPartialConfigKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("interpolation:\n  minNodeSpacing: 0.2\n")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Interpolation.MinNodeSpacing != 0.2 {
		t.Errorf("expected spacing 0.2, got %g", cfg.Interpolation.MinNodeSpacing)
	}
	if cfg.Interpolation.GapFraction != reconstruction.DefaultGapFraction {
		t.Errorf("expected default gap fraction, got %g", cfg.Interpolation.GapFraction)
	}
}

func TestLoadInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"malformed", "interpolation: [\n"},
		{"negative spacing", "interpolation:\n  minNodeSpacing: -1\n"},
		{"gap fraction", "interpolation:\n  gapFraction: 1\n"},
		{"policy", "intersection:\n  policy: loose\n"},
		{"tolerant without distance", "intersection:\n  policy: tolerant\n  maxDistToPts: 0\n"},
		{"mode", "mapping:\n  mode: warp\n"},
		{"matrix", "transform:\n  matrix: [1, 0, 0]\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.data), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadConfig(path); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestCreateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := CreateDefaultConfigFile(path); err != nil {
		t.Fatalf("CreateDefaultConfigFile failed: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if !reflect.DeepEqual(cfg, DefaultConfig()) {
		t.Errorf("expected defaults after round trip, got %+v", cfg)
	}
}

func TestIntersectionPolicy(t *testing.T) {
	cfg := DefaultConfig()
	p, err := cfg.IntersectionPolicy()
	if err != nil {
		t.Fatal(err)
	}
	if p.Tolerant {
		t.Error("expected a strict policy")
	}

	cfg.Intersection.Policy = "tolerant"
	cfg.Intersection.MaxDistToPts = 0.5
	p, err = cfg.IntersectionPolicy()
	if err != nil {
		t.Fatal(err)
	}
	if !p.Tolerant || p.MaxDistToPts != 0.5 {
		t.Errorf("expected tolerant 0.5, got %+v", p)
	}
}

func TestTransformFromRotation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Registration.Rotation = [3]float64{0, 0, 90}
	cfg.Registration.Translation = [3]float64{0, 0, 5}

	tr, err := cfg.Transform()
	if err != nil {
		t.Fatal(err)
	}
	p, err := tr.TransformPoint(models.Point3D{X: 1})
	if err != nil {
		t.Fatal(err)
	}
	if !p.ApproxEqual(models.Point3D{X: 0, Y: 1, Z: 5}, 1e-9) {
		t.Errorf("expected (0, 1, 5), got %v", p)
	}
}

func TestTransformFromMatrix(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Registration.Rotation = [3]float64{45, 0, 0}
	cfg.Registration.Matrix = []float64{
		2, 0, 0, 1,
		0, 2, 0, 0,
		0, 0, 2, 0,
		0, 0, 0, 1,
	}

	tr, err := cfg.Transform()
	if err != nil {
		t.Fatal(err)
	}
	p, err := tr.TransformPoint(models.Point3D{X: 1, Y: 1, Z: 1})
	if err != nil {
		t.Fatal(err)
	}
	if !p.ApproxEqual(models.Point3D{X: 3, Y: 2, Z: 2}, 1e-12) {
		t.Errorf("expected matrix to take precedence, got %v", p)
	}
}

func TestParams(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Interpolation.MinNodeSpacing = 0.3
	cfg.Interpolation.GapFraction = 0.25
	cfg.Mapping.Mode = "direct"
	cfg.Output.SaveIntermediaryResults = true
	cfg.Output.IntermediaryDir = "out"

	var params reconstruction.Params
	if err := cfg.Params(&params); err != nil {
		t.Fatalf("Params failed: %v", err)
	}
	if params.Options.MinNodeSpacing != 0.3 {
		t.Errorf("expected spacing 0.3, got %g", params.Options.MinNodeSpacing)
	}
	if params.GapFraction != 0.25 {
		t.Errorf("expected gap fraction 0.25, got %g", params.GapFraction)
	}
	if params.Mode != reconstruction.Direct {
		t.Errorf("expected direct mode, got %v", params.Mode)
	}
	if !params.SaveIntermediaryResults || params.IntermediaryDir != "out" {
		t.Error("expected output settings to be copied")
	}
	if params.Transform == nil {
		t.Fatal("expected a transform")
	}
	p, err := params.Transform.TransformPoint(models.Point3D{X: 1, Y: 2, Z: 3})
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(p.X-1)+math.Abs(p.Y-2)+math.Abs(p.Z-3) > 1e-12 {
		t.Errorf("expected identity transform, got %v", p)
	}
}
