package flow

import (
	"math"

	"github.com/pkg/errors"
)

// FitConfig holds all training-loop configuration - ALL fields required
type FitConfig struct {
	MaxEpochs int
	BatchSize int
	Shuffle   bool
}

// CompileConfig holds model compilation settings - ALL fields required
type CompileConfig struct {
	Optimizer    Optimizer
	Loss         Loss
	Metrics      []Metric
	GradientClip GradientClipConfig
}

// GradientClipConfig for gradient clipping
type GradientClipConfig struct {
	Mode     string // "norm", "value", or "none"
	MaxNorm  float64
	MaxValue float64
}

// NetworkConfig for network construction
type NetworkConfig struct {
	Seed int64
}

// ValidateFitConfig checks all required fields are set
func ValidateFitConfig(cfg FitConfig) error {
	if cfg.MaxEpochs <= 0 {
		return errors.Errorf("flow: MaxEpochs must be > 0, got %d", cfg.MaxEpochs)
	}
	if cfg.BatchSize <= 0 {
		return errors.Errorf("flow: BatchSize must be > 0, got %d", cfg.BatchSize)
	}
	return nil
}

// ValidateCompileConfig checks all required fields are set
func ValidateCompileConfig(cfg CompileConfig) error {
	if cfg.Optimizer == nil {
		return errors.New("flow: Optimizer is required")
	}
	if cfg.Loss == nil {
		return errors.New("flow: Loss is required")
	}
	switch cfg.GradientClip.Mode {
	case "none":
	case "norm":
		if !(cfg.GradientClip.MaxNorm > 0) || math.IsInf(cfg.GradientClip.MaxNorm, 0) {
			return errors.Errorf("flow: GradientClip.MaxNorm must be > 0, got %g", cfg.GradientClip.MaxNorm)
		}
	case "value":
		if !(cfg.GradientClip.MaxValue > 0) || math.IsInf(cfg.GradientClip.MaxValue, 0) {
			return errors.Errorf("flow: GradientClip.MaxValue must be > 0, got %g", cfg.GradientClip.MaxValue)
		}
	case "":
		return errors.New("flow: GradientClip.Mode is required - use 'none' if not needed")
	default:
		return errors.Errorf("flow: unknown GradientClip.Mode %q", cfg.GradientClip.Mode)
	}
	return nil
}
