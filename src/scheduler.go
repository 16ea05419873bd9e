package flow

import "math"

// Scheduler adjusts learning rate at epoch boundaries.
type Scheduler interface {
	step(epoch int, currentLR float64) float64
	reset()
	name() string
}

// MetricScheduler adjusts learning rate from a monitored value.
type MetricScheduler interface {
	observe(value, currentLR float64) (newLR float64, reduced bool)
	reset()
	name() string
}

// ReduceLROnPlateauScheduler multiplies the learning rate by Factor once the
// monitored value has failed to improve for more than Patience epochs.
type ReduceLROnPlateauScheduler struct {
	Mode          string // "min" or "max"
	Factor        float64
	Patience      int
	Threshold     float64
	ThresholdMode string // "rel" or "abs"
	Cooldown      int
	MinLR         float64
	Eps           float64
	best          float64
	numBad        int
	cooldownLeft  int
}

type ReduceLROnPlateauConfig struct {
	Mode          string
	Factor        float64
	Patience      int
	Threshold     float64
	ThresholdMode string
	Cooldown      int
	MinLR         float64
	Eps           float64
}

func ReduceLROnPlateau(config ReduceLROnPlateauConfig) MetricScheduler {
	s := &ReduceLROnPlateauScheduler{
		Mode:          config.Mode,
		Factor:        config.Factor,
		Patience:      config.Patience,
		Threshold:     config.Threshold,
		ThresholdMode: config.ThresholdMode,
		Cooldown:      config.Cooldown,
		MinLR:         config.MinLR,
		Eps:           config.Eps,
	}
	s.reset()
	return s
}

func (s *ReduceLROnPlateauScheduler) reset() {
	s.best = math.Inf(1)
	if s.Mode == "max" {
		s.best = math.Inf(-1)
	}
	s.numBad = 0
	s.cooldownLeft = 0
}

func (s *ReduceLROnPlateauScheduler) isBetter(v float64) bool {
	switch {
	case s.Mode == "max" && s.ThresholdMode == "abs":
		return v > s.best+s.Threshold
	case s.Mode == "max":
		return v > s.best*(1+s.Threshold)
	case s.ThresholdMode == "abs":
		return v < s.best-s.Threshold
	default:
		return v < s.best*(1-s.Threshold)
	}
}

func (s *ReduceLROnPlateauScheduler) observe(value, currentLR float64) (float64, bool) {
	if s.isBetter(value) {
		s.best = value
		s.numBad = 0
	} else {
		s.numBad++
	}

	if s.cooldownLeft > 0 {
		s.cooldownLeft--
		s.numBad = 0
	}

	if s.numBad > s.Patience {
		s.numBad = 0
		newLR := math.Max(currentLR*s.Factor, s.MinLR)
		if currentLR-newLR > s.Eps {
			s.cooldownLeft = s.Cooldown
			return newLR, true
		}
	}
	return currentLR, false
}

func (s *ReduceLROnPlateauScheduler) name() string { return "reduce_lr_on_plateau" }

// SWAAnnealingScheduler moves the learning rate from its value at the start
// of averaging towards SWALR over AnnealEpochs, then holds it there.
type SWAAnnealingScheduler struct {
	SWALR        float64
	AnnealEpochs int
	Strategy     string // "cos" or "linear"
	startEpoch   int
	startLR      float64
}

type SWAAnnealingConfig struct {
	SWALR        float64
	AnnealEpochs int
	Strategy     string
}

func SWAAnnealing(config SWAAnnealingConfig) *SWAAnnealingScheduler {
	return &SWAAnnealingScheduler{
		SWALR:        config.SWALR,
		AnnealEpochs: config.AnnealEpochs,
		Strategy:     config.Strategy,
		startEpoch:   -1,
	}
}

func (s *SWAAnnealingScheduler) reset() { s.startEpoch = -1 }

func (s *SWAAnnealingScheduler) anneal(t float64) float64 {
	if s.Strategy == "linear" {
		return t
	}
	return (1 - math.Cos(math.Pi*t)) / 2
}

// step returns the rate for epoch; the first call fixes the starting point.
func (s *SWAAnnealingScheduler) step(epoch int, currentLR float64) float64 {
	if s.startEpoch < 0 {
		s.startEpoch = epoch
		s.startLR = currentLR
	}
	if s.AnnealEpochs <= 0 {
		return s.SWALR
	}
	t := float64(epoch-s.startEpoch+1) / float64(s.AnnealEpochs)
	t = math.Max(0, math.Min(1, t))
	alpha := s.anneal(t)
	return s.startLR*(1-alpha) + s.SWALR*alpha
}

func (s *SWAAnnealingScheduler) name() string { return "swa_annealing" }
