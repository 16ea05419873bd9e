package flow

import (
	"encoding/csv"
	"log"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
)

// fitState is the view of a running Fit shared with callbacks.
type fitState struct {
	net        *Network
	epoch      int
	globalStep int
	maxEpochs  int
	stopReason string
	// lrLocked is set once a callback owns the learning rate for the rest
	// of the run; metric-driven schedulers stand down after that.
	lrLocked  bool
	completed bool
}

// Callback is called during training at various points
type Callback interface {
	onTrainBegin(s *fitState, logs map[string]float64)
	onTrainEnd(s *fitState, logs map[string]float64)
	onEpochBegin(s *fitState, logs map[string]float64)
	onEpochEnd(s *fitState, logs map[string]float64) bool // return true to stop training
	onBatchBegin(s *fitState, batch int, logs map[string]float64)
	onBatchEnd(s *fitState, batch int, logs map[string]float64)
	name() string
}

// failer is implemented by callbacks that can fail outside the training
// math, such as file writers. Fit reports the first such error.
type failer interface {
	Err() error
}

// EarlyStoppingCallback stops training when metric stops improving
type EarlyStoppingCallback struct {
	Monitor      string
	MinDelta     float64
	Patience     int
	Mode         string // "min" or "max"
	CheckFinite  bool
	bestValue    float64
	wait         int
	stoppedEpoch int
}

type EarlyStoppingConfig struct {
	Monitor     string
	MinDelta    float64
	Patience    int
	Mode        string
	CheckFinite bool
}

func EarlyStopping(config EarlyStoppingConfig) *EarlyStoppingCallback {
	e := &EarlyStoppingCallback{
		Monitor:      config.Monitor,
		MinDelta:     config.MinDelta,
		Patience:     config.Patience,
		Mode:         config.Mode,
		CheckFinite:  config.CheckFinite,
		stoppedEpoch: -1,
	}
	e.resetBest()
	return e
}

func (e *EarlyStoppingCallback) resetBest() {
	e.wait = 0
	e.stoppedEpoch = -1
	if e.Mode == "max" {
		e.bestValue = math.Inf(-1)
	} else {
		e.bestValue = math.Inf(1)
	}
}

// StoppedEpoch is the epoch that triggered the stop, or -1.
func (e *EarlyStoppingCallback) StoppedEpoch() int { return e.stoppedEpoch }

// Best is the best monitored value seen so far.
func (e *EarlyStoppingCallback) Best() float64 { return e.bestValue }

func (e *EarlyStoppingCallback) onTrainBegin(s *fitState, logs map[string]float64) { e.resetBest() }
func (e *EarlyStoppingCallback) onTrainEnd(s *fitState, logs map[string]float64)   {}
func (e *EarlyStoppingCallback) onEpochBegin(s *fitState, logs map[string]float64) {}

func (e *EarlyStoppingCallback) onEpochEnd(s *fitState, logs map[string]float64) bool {
	current, ok := logs[e.Monitor]
	if !ok {
		return false
	}

	if e.CheckFinite && !isFinite(current) {
		e.stoppedEpoch = s.epoch
		s.stopReason = StopNonFinite
		return true
	}

	improved := false
	if e.Mode == "max" {
		improved = current-e.MinDelta > e.bestValue
	} else {
		improved = current+e.MinDelta < e.bestValue
	}

	if improved {
		e.bestValue = current
		e.wait = 0
		return false
	}
	e.wait++
	if e.wait >= e.Patience {
		e.stoppedEpoch = s.epoch
		s.stopReason = StopEarlyStopping
		return true
	}
	return false
}

func (e *EarlyStoppingCallback) onBatchBegin(s *fitState, batch int, logs map[string]float64) {}
func (e *EarlyStoppingCallback) onBatchEnd(s *fitState, batch int, logs map[string]float64)   {}
func (e *EarlyStoppingCallback) name() string                                                { return "early_stopping" }

// PlateauCallback feeds a monitored epoch value into a MetricScheduler and
// applies the resulting learning rate.
type PlateauCallback struct {
	Monitor   string
	Scheduler MetricScheduler
	// Reductions counts how often the rate was lowered.
	Reductions int
}

type PlateauConfig struct {
	Monitor   string
	Scheduler MetricScheduler
}

func LROnPlateau(config PlateauConfig) *PlateauCallback {
	return &PlateauCallback{Monitor: config.Monitor, Scheduler: config.Scheduler}
}

func (p *PlateauCallback) onTrainBegin(s *fitState, logs map[string]float64) {
	p.Scheduler.reset()
	p.Reductions = 0
}

func (p *PlateauCallback) onTrainEnd(s *fitState, logs map[string]float64)   {}
func (p *PlateauCallback) onEpochBegin(s *fitState, logs map[string]float64) {}

func (p *PlateauCallback) onEpochEnd(s *fitState, logs map[string]float64) bool {
	if s.lrLocked {
		return false
	}
	current, ok := logs[p.Monitor]
	if !ok {
		return false
	}
	// NaN never compares as better, so it counts as a bad epoch
	opt := s.net.optimizer
	if lr, reduced := p.Scheduler.observe(current, opt.learningRate()); reduced {
		opt.setLearningRate(lr)
		p.Reductions++
	}
	return false
}

func (p *PlateauCallback) onBatchBegin(s *fitState, batch int, logs map[string]float64) {}
func (p *PlateauCallback) onBatchEnd(s *fitState, batch int, logs map[string]float64)   {}
func (p *PlateauCallback) name() string                                                { return "lr_on_plateau" }

// SWACallback keeps an equal-weight running average of the parameters over
// the epochs from SWAEpochStart to the end of training, annealing the
// learning rate towards SWALR meanwhile. The average replaces the trained
// weights only when training runs to MaxEpochs.
type SWACallback struct {
	SWAEpochStart int
	annealer      Scheduler
	average       []*tensor
	nAveraged     int
	applied       bool
}

type SWAConfig struct {
	SWALR float64
	// SWAEpochStart is the first averaged epoch (0-based).
	SWAEpochStart  int
	AnnealEpochs   int
	AnnealStrategy string // "cos" or "linear"
}

// SWAStartEpoch converts a fractional start into an epoch index.
func SWAStartEpoch(fraction float64, maxEpochs int) int {
	return int(math.Floor(fraction * float64(maxEpochs)))
}

func StochasticWeightAveraging(config SWAConfig) *SWACallback {
	return &SWACallback{
		SWAEpochStart: config.SWAEpochStart,
		annealer: SWAAnnealing(SWAAnnealingConfig{
			SWALR:        config.SWALR,
			AnnealEpochs: config.AnnealEpochs,
			Strategy:     config.AnnealStrategy,
		}),
	}
}

// Averaged reports how many snapshots went into the average.
func (w *SWACallback) Averaged() int { return w.nAveraged }

// Applied reports whether the averaged weights were copied into the model.
func (w *SWACallback) Applied() bool { return w.applied }

func (w *SWACallback) onTrainBegin(s *fitState, logs map[string]float64) {
	w.average = nil
	w.nAveraged = 0
	w.applied = false
	w.annealer.reset()
}

func (w *SWACallback) onEpochBegin(s *fitState, logs map[string]float64) {
	if s.epoch < w.SWAEpochStart {
		return
	}
	s.lrLocked = true
	opt := s.net.optimizer
	opt.setLearningRate(w.annealer.step(s.epoch, opt.learningRate()))
}

func (w *SWACallback) onEpochEnd(s *fitState, logs map[string]float64) bool {
	if s.epoch < w.SWAEpochStart || s.epoch > s.maxEpochs-1 {
		return false
	}
	params := s.net.parameters()
	if w.average == nil {
		w.average = make([]*tensor, len(params))
		for i, p := range params {
			w.average[i] = p.clone()
		}
		w.nAveraged = 1
		return false
	}
	w.nAveraged++
	n := float64(w.nAveraged)
	for i, p := range params {
		avg := w.average[i].data
		for j, v := range p.data {
			a := float64(avg[j])
			avg[j] = float32(a + (float64(v)-a)/n)
		}
	}
	return false
}

func (w *SWACallback) onTrainEnd(s *fitState, logs map[string]float64) {
	if !s.completed || w.nAveraged == 0 {
		return
	}
	for i, p := range s.net.parameters() {
		copy(p.data, w.average[i].data)
	}
	w.applied = true
}

func (w *SWACallback) onBatchBegin(s *fitState, batch int, logs map[string]float64) {}
func (w *SWACallback) onBatchEnd(s *fitState, batch int, logs map[string]float64)   {}
func (w *SWACallback) name() string                                                { return "stochastic_weight_averaging" }

// MetricsLoggerCallback appends long-format rows (step, epoch, key, value)
// to a CSV file: the step loss every EveryNSteps optimizer steps and all
// epoch logs at each epoch end.
type MetricsLoggerCallback struct {
	Path        string
	EveryNSteps int
	file        *os.File
	w           *csv.Writer
	err         error
}

type MetricsLoggerConfig struct {
	Path        string
	EveryNSteps int
}

func MetricsLogger(config MetricsLoggerConfig) *MetricsLoggerCallback {
	return &MetricsLoggerCallback{Path: config.Path, EveryNSteps: config.EveryNSteps}
}

// Err returns the first I/O error hit while logging.
func (m *MetricsLoggerCallback) Err() error { return m.err }

func (m *MetricsLoggerCallback) write(s *fitState, key string, v float64) {
	if m.err != nil || m.w == nil {
		return
	}
	m.err = m.w.Write([]string{
		strconv.Itoa(s.globalStep),
		strconv.Itoa(s.epoch),
		key,
		strconv.FormatFloat(v, 'g', -1, 64),
	})
}

func (m *MetricsLoggerCallback) onTrainBegin(s *fitState, logs map[string]float64) {
	m.err = nil
	if err := os.MkdirAll(filepath.Dir(m.Path), 0o755); err != nil {
		m.err = errors.Wrap(err, "metrics logger")
		return
	}
	f, err := os.Create(m.Path)
	if err != nil {
		m.err = errors.Wrap(err, "metrics logger")
		return
	}
	m.file = f
	m.w = csv.NewWriter(f)
	m.err = m.w.Write([]string{"step", "epoch", "key", "value"})
}

func (m *MetricsLoggerCallback) onTrainEnd(s *fitState, logs map[string]float64) {
	if m.file == nil {
		return
	}
	m.w.Flush()
	if err := m.w.Error(); err != nil && m.err == nil {
		m.err = err
	}
	if err := m.file.Close(); err != nil && m.err == nil {
		m.err = err
	}
	m.file, m.w = nil, nil
}

func (m *MetricsLoggerCallback) onEpochBegin(s *fitState, logs map[string]float64) {}

func (m *MetricsLoggerCallback) onEpochEnd(s *fitState, logs map[string]float64) bool {
	for _, k := range sortedKeys(logs) {
		m.write(s, k, logs[k])
	}
	if m.w != nil {
		m.w.Flush()
	}
	return false
}

func (m *MetricsLoggerCallback) onBatchBegin(s *fitState, batch int, logs map[string]float64) {}

func (m *MetricsLoggerCallback) onBatchEnd(s *fitState, batch int, logs map[string]float64) {
	if m.EveryNSteps > 0 && s.globalStep%m.EveryNSteps == 0 {
		m.write(s, "loss/train_step", logs["loss/train_step"])
	}
}

func (m *MetricsLoggerCallback) name() string { return "metrics_logger" }

// PrintProgressCallback prints training progress
type PrintProgressCallback struct {
	PrintEvery int
	Logger     *log.Logger
}

type PrintProgressConfig struct {
	PrintEvery int
	Logger     *log.Logger // nil means log.Default()
}

func PrintProgress(config PrintProgressConfig) Callback {
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}
	every := config.PrintEvery
	if every <= 0 {
		every = 1
	}
	return &PrintProgressCallback{PrintEvery: every, Logger: logger}
}

func (p *PrintProgressCallback) onTrainBegin(s *fitState, logs map[string]float64) {
	p.Logger.Printf("training started: %d params, max %d epochs", s.net.ParamCount(), s.maxEpochs)
}

func (p *PrintProgressCallback) onTrainEnd(s *fitState, logs map[string]float64) {
	p.Logger.Printf("training complete: %s after %d steps", s.stopReason, s.globalStep)
}

func (p *PrintProgressCallback) onEpochBegin(s *fitState, logs map[string]float64) {}

func (p *PrintProgressCallback) onEpochEnd(s *fitState, logs map[string]float64) bool {
	if (s.epoch+1)%p.PrintEvery != 0 {
		return false
	}
	line := "epoch " + strconv.Itoa(s.epoch+1) + ":"
	for _, k := range sortedKeys(logs) {
		if k == "epoch" {
			continue
		}
		line += " " + k + "=" + strconv.FormatFloat(logs[k], 'f', 4, 64)
	}
	p.Logger.Print(line)
	return false
}

func (p *PrintProgressCallback) onBatchBegin(s *fitState, batch int, logs map[string]float64) {}
func (p *PrintProgressCallback) onBatchEnd(s *fitState, batch int, logs map[string]float64)   {}
func (p *PrintProgressCallback) name() string                                                { return "print_progress" }

// HistoryCallback records training history
type HistoryCallback struct {
	History map[string][]float64
}

func History() *HistoryCallback {
	return &HistoryCallback{
		History: make(map[string][]float64),
	}
}

func (h *HistoryCallback) onTrainBegin(s *fitState, logs map[string]float64) {
	h.History = make(map[string][]float64)
}

func (h *HistoryCallback) onTrainEnd(s *fitState, logs map[string]float64)   {}
func (h *HistoryCallback) onEpochBegin(s *fitState, logs map[string]float64) {}

func (h *HistoryCallback) onEpochEnd(s *fitState, logs map[string]float64) bool {
	for k, v := range logs {
		h.History[k] = append(h.History[k], v)
	}
	return false
}

func (h *HistoryCallback) onBatchBegin(s *fitState, batch int, logs map[string]float64) {}
func (h *HistoryCallback) onBatchEnd(s *fitState, batch int, logs map[string]float64)   {}
func (h *HistoryCallback) name() string                                                { return "history" }
