package adni

import (
	"fmt"
	"io"
	"log"
	"math"

	"github.com/pkg/errors"
)

var (
	ErrInvalidRatio    = errors.New("adni: ratio must be a finite value in [0, 1]")
	ErrInvalidSplitVar = errors.New("adni: split var must be 0 (Sex) or 1 (AgeGroup)")
	ErrMissingVolume   = errors.New("adni: no volume file for subject")
)

// TrainConfig holds the fixed training recipe - ALL fields required
type TrainConfig struct {
	MaxEpochs         int
	BatchSize         int
	GradClipNorm      float64
	SWALR             float64
	SWAStartFraction  float64
	SWAAnnealEpochs   int
	EarlyStopPatience int
	LogEveryNSteps    int
	// Precision is 16 or 32. Storage is always float32; 16 is accepted
	// for command-line compatibility and run as 32.
	Precision int
}

// Config describes one experiment invocation: a list of runs sharing ratio,
// fold and split variable.
type Config struct {
	CNNType       string
	GPU           int
	Ratio         float64
	RunIndices    []int
	ExportPath    string
	Fold          int
	FakeDiffs     bool
	SplitVar      int
	FeatureCSVDir string
	SplitDir      string
	LogDir        string
	ChkptDir      string
	ImageDirs     []string
	// InputShape is the volume size [D, H, W] fed to the network.
	InputShape []int
	Seed       int64
	Train      TrainConfig
	Logger     *log.Logger
	// Verbose adds one log line per epoch.
	Verbose bool
}

// DefaultTrainConfig is the recipe the experiments were run with.
func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		MaxEpochs:         200,
		BatchSize:         6,
		GradClipNorm:      1.0,
		SWALR:             5e-4,
		SWAStartFraction:  0.8,
		SWAAnnealEpochs:   10,
		EarlyStopPatience: 60,
		LogEveryNSteps:    26,
		Precision:         16,
	}
}

// DefaultConfig mirrors the command-line defaults.
func DefaultConfig() Config {
	return Config{
		CNNType:    "CNN",
		GPU:        7,
		Ratio:      0.5,
		RunIndices: []int{0, 1, 2, 3, 4},
		SplitDir:   "./splits/",
		LogDir:     "./CNN-logs/",
		ChkptDir:   "./CNN-chkpts/",
		// ADNI3 volumes live in the ADNI1 directory.
		ImageDirs:  []string{"./normalized/ADNI1/", "./normalized/ADNI2/", "./normalized/ADNI1/"},
		InputShape: []int{182, 182, 182},
		Train:      DefaultTrainConfig(),
	}
}

// Validate checks the configuration before any run starts.
func (c *Config) Validate() error {
	if math.IsNaN(c.Ratio) || c.Ratio < 0 || c.Ratio > 1 {
		return errors.Wrapf(ErrInvalidRatio, "got %v", c.Ratio)
	}
	if c.SplitVar != SplitSex && c.SplitVar != SplitAgeGroup {
		return errors.Wrapf(ErrInvalidSplitVar, "got %d", c.SplitVar)
	}
	if c.Fold < 0 {
		return errors.Errorf("adni: fold must be >= 0, got %d", c.Fold)
	}
	if len(c.RunIndices) == 0 {
		return errors.New("adni: at least one run index is required")
	}
	for _, idx := range c.RunIndices {
		if idx < 0 {
			return errors.Errorf("adni: run index must be >= 0, got %d", idx)
		}
	}
	if len(c.ImageDirs) == 0 {
		return errors.New("adni: at least one image directory is required")
	}
	if len(c.InputShape) != 3 {
		return errors.Errorf("adni: input shape must be [D, H, W], got %v", c.InputShape)
	}
	for _, n := range c.InputShape {
		if n <= 0 {
			return errors.Errorf("adni: input shape must be positive, got %v", c.InputShape)
		}
	}
	return c.Train.Validate()
}

// Validate checks all required fields are set
func (t TrainConfig) Validate() error {
	if t.MaxEpochs <= 0 {
		return errors.Errorf("adni: max epochs must be > 0, got %d", t.MaxEpochs)
	}
	if t.BatchSize <= 0 {
		return errors.Errorf("adni: batch size must be > 0, got %d", t.BatchSize)
	}
	if !(t.GradClipNorm > 0) {
		return errors.Errorf("adni: gradient clip norm must be > 0, got %v", t.GradClipNorm)
	}
	if !(t.SWALR > 0) {
		return errors.Errorf("adni: SWA learning rate must be > 0, got %v", t.SWALR)
	}
	if t.SWAStartFraction < 0 || t.SWAStartFraction > 1 {
		return errors.Errorf("adni: SWA start fraction must be in [0, 1], got %v", t.SWAStartFraction)
	}
	if t.SWAAnnealEpochs < 0 || t.EarlyStopPatience < 0 || t.LogEveryNSteps < 0 {
		return errors.New("adni: SWA anneal epochs, patience and log interval must be >= 0")
	}
	if t.Precision != 16 && t.Precision != 32 {
		return errors.Errorf("adni: precision must be 16 or 32, got %d", t.Precision)
	}
	return nil
}

func (c *Config) logger() *log.Logger {
	if c.Logger == nil {
		return log.New(io.Discard, "", 0)
	}
	return c.Logger
}

// LogName is the per-configuration log directory name, e.g. "tCNN_Sex-r0.50".
func (c *Config) LogName() string {
	label, _ := SplitLabel(c.SplitVar)
	name := fmt.Sprintf("tCNN_%s-r%.2f", label, c.Ratio)
	if c.FakeDiffs {
		name += "_fake"
	}
	return name
}

// LogVersion names one run inside LogName.
func (c *Config) LogVersion(runIdx int) string {
	return fmt.Sprintf("test set %d, fold %d", runIdx, c.Fold)
}
