package adni

import (
	"math"
	"testing"

	"github.com/pkg/errors"

	flow "adnicnn/src"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config: %v", err)
	}
	if got := flow.SWAStartEpoch(cfg.Train.SWAStartFraction, cfg.Train.MaxEpochs); got != 160 {
		t.Errorf("SWA starts at epoch %d, want 160", got)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		target error
	}{
		{"ratio above one", func(c *Config) { c.Ratio = 1.5 }, ErrInvalidRatio},
		{"negative ratio", func(c *Config) { c.Ratio = -0.1 }, ErrInvalidRatio},
		{"NaN ratio", func(c *Config) { c.Ratio = math.NaN() }, ErrInvalidRatio},
		{"split var", func(c *Config) { c.SplitVar = 2 }, ErrInvalidSplitVar},
		{"negative fold", func(c *Config) { c.Fold = -1 }, nil},
		{"no runs", func(c *Config) { c.RunIndices = nil }, nil},
		{"negative run", func(c *Config) { c.RunIndices = []int{0, -2} }, nil},
		{"no image dirs", func(c *Config) { c.ImageDirs = nil }, nil},
		{"2D shape", func(c *Config) { c.InputShape = []int{182, 182} }, nil},
		{"zero batch", func(c *Config) { c.Train.BatchSize = 0 }, nil},
		{"precision 8", func(c *Config) { c.Train.Precision = 8 }, nil},
		{"SWA fraction", func(c *Config) { c.Train.SWAStartFraction = 1.2 }, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected an error")
			}
			if tt.target != nil && !errors.Is(err, tt.target) {
				t.Errorf("err = %v, want %v", err, tt.target)
			}
		})
	}

	cfg := DefaultConfig()
	cfg.Ratio = 0
	cfg.Train.Precision = 32
	if err := cfg.Validate(); err != nil {
		t.Errorf("ratio 0, precision 32: %v", err)
	}
}

func TestLogNames(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Fold = 2
	if got := cfg.LogName(); got != "tCNN_Sex-r0.50" {
		t.Errorf("LogName = %q", got)
	}
	cfg.SplitVar = SplitAgeGroup
	cfg.FakeDiffs = true
	cfg.Ratio = 0.3
	if got := cfg.LogName(); got != "tCNN_AgeGroup-r0.30_fake" {
		t.Errorf("LogName = %q", got)
	}
	if got := cfg.LogVersion(4); got != "test set 4, fold 2" {
		t.Errorf("LogVersion = %q", got)
	}
}
