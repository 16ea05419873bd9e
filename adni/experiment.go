package adni

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	flow "adnicnn/src"
)

// MetricsFile is written inside {log_dir}/{log_name}/{log_version}/.
const MetricsFile = "metrics.csv"

// RunSpec is everything one training run needs to know about itself.
type RunSpec struct {
	RunIdx     int
	RunID      string
	Checkpoint string
	LogName    string
	LogVersion string
	MetricsLog string
	Splits     SplitCSVs
}

// RunResult summarizes a finished training run.
type RunResult struct {
	Epochs      int
	GlobalStep  int
	StopReason  string
	BestValLoss float64
	SWAApplied  bool
	Test        map[string]float64
}

// RunOutcome is reported for every requested run index.
type RunOutcome struct {
	Spec    RunSpec
	Skipped bool
	Result  *RunResult
}

// TrainFunc trains one run and writes its checkpoint.
type TrainFunc func(ctx context.Context, spec RunSpec) (*RunResult, error)

// Experiment iterates the configured run indices, skipping every run whose
// checkpoint already exists.
type Experiment struct {
	cfg   Config
	train TrainFunc
}

// NewExperiment validates cfg. A nil train uses the built-in trainer.
func NewExperiment(cfg Config, train TrainFunc) (*Experiment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Experiment{cfg: cfg, train: train}
	if e.train == nil {
		e.train = e.trainRun
	}
	return e, nil
}

// Spec builds the RunSpec for runIdx without touching the file system.
func (e *Experiment) Spec(runIdx int) (RunSpec, error) {
	splits, err := SplitFiles(e.cfg.SplitDir, e.cfg.SplitVar, runIdx, e.cfg.Ratio, e.cfg.Fold)
	if err != nil {
		return RunSpec{}, err
	}
	name := e.cfg.LogName()
	version := e.cfg.LogVersion(runIdx)
	return RunSpec{
		RunIdx:     runIdx,
		Checkpoint: CheckpointFile(e.cfg.ChkptDir, e.cfg.CNNType, e.cfg.SplitVar, e.cfg.Ratio, runIdx, e.cfg.Fold, e.cfg.FakeDiffs),
		LogName:    name,
		LogVersion: version,
		MetricsLog: filepath.Join(e.cfg.LogDir, name, version, MetricsFile),
		Splits:     splits,
	}, nil
}

// Run trains the runs in order and stops at the first failure. Runs that
// finished before the failure keep their checkpoints.
func (e *Experiment) Run(ctx context.Context) ([]RunOutcome, error) {
	logger := e.cfg.logger()
	logger.Printf("flow %s, cpu: %s, %d workers", flow.Version, flow.CPUSummary(), flow.Workers())
	if e.cfg.GPU >= 0 {
		logger.Printf("gpu %d requested; training runs on the CPU", e.cfg.GPU)
	}
	if e.cfg.Train.Precision == 16 {
		logger.Printf("warning: precision 16 requested; running in 32-bit")
	}

	outcomes := make([]RunOutcome, 0, len(e.cfg.RunIndices))
	for _, runIdx := range e.cfg.RunIndices {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}

		spec, err := e.Spec(runIdx)
		if err != nil {
			return outcomes, err
		}

		if _, err := os.Stat(spec.Checkpoint); err == nil {
			logger.Printf("run %d: checkpoint %s exists, skipping", runIdx, spec.Checkpoint)
			outcomes = append(outcomes, RunOutcome{Spec: spec, Skipped: true})
			continue
		} else if !os.IsNotExist(err) {
			return outcomes, errors.Wrapf(err, "adni: checking %s", spec.Checkpoint)
		}

		spec.RunID = uuid.NewString()
		logger.Printf("run %d (%s): %s / %s", runIdx, spec.RunID, spec.LogName, spec.LogVersion)

		res, err := e.train(ctx, spec)
		if err != nil {
			return outcomes, errors.Wrapf(err, "adni: run %d", runIdx)
		}
		logger.Printf("run %d: %d epochs, best loss/val %.4f, stopped by %s",
			runIdx, res.Epochs, res.BestValLoss, res.StopReason)
		outcomes = append(outcomes, RunOutcome{Spec: spec, Result: res})
	}
	return outcomes, nil
}

// trainRun is the default TrainFunc: data module, model, fit, test
// evaluation, checkpoint.
func (e *Experiment) trainRun(ctx context.Context, spec RunSpec) (*RunResult, error) {
	cfg := e.cfg
	tc := cfg.Train
	logger := cfg.logger()

	dm := NewDataModule(DataConfig{
		ImageDirs:     cfg.ImageDirs,
		Splits:        spec.Splits,
		Shape:         cfg.InputShape,
		IncreasedAug:  true,
		FakeDiff:      cfg.FakeDiffs,
		SplitVar:      cfg.SplitVar,
		ExportPath:    cfg.ExportPath,
		FeatureCSVDir: cfg.FeatureCSVDir,
		Seed:          cfg.Seed + int64(spec.RunIdx),
	})
	if err := dm.Setup(ctx); err != nil {
		return nil, err
	}
	logger.Printf("subjects: %d train, %d val", dm.Train.Len(), dm.Val.Len())

	net, err := NewModel(cfg.InputShape, cfg.Seed+int64(spec.RunIdx))
	if err != nil {
		return nil, err
	}
	opts := ConfigureOptimizers()
	err = net.Compile(flow.CompileConfig{
		Optimizer: opts.Optimizer,
		Loss:      flow.BCEWithLogits(flow.BCEWithLogitsConfig{Reduction: "mean"}),
		Metrics: []flow.Metric{
			flow.BinaryAccuracy(flow.BinaryAccuracyConfig{Threshold: 0}),
			flow.ROCAUC(),
		},
		GradientClip: flow.GradientClipConfig{Mode: "norm", MaxNorm: tc.GradClipNorm},
	})
	if err != nil {
		return nil, err
	}

	swa := flow.StochasticWeightAveraging(flow.SWAConfig{
		SWALR:          tc.SWALR,
		SWAEpochStart:  flow.SWAStartEpoch(tc.SWAStartFraction, tc.MaxEpochs),
		AnnealEpochs:   tc.SWAAnnealEpochs,
		AnnealStrategy: "cos",
	})
	history := flow.History()
	metrics := flow.MetricsLogger(flow.MetricsLoggerConfig{Path: spec.MetricsLog, EveryNSteps: tc.LogEveryNSteps})
	callbacks := []flow.Callback{
		swa,
		flow.LROnPlateau(flow.PlateauConfig{Monitor: opts.Monitor, Scheduler: opts.Plateau}),
		flow.EarlyStopping(flow.EarlyStoppingConfig{
			Monitor:     "loss/val",
			MinDelta:    0,
			Patience:    tc.EarlyStopPatience,
			Mode:        "min",
			CheckFinite: true,
		}),
		metrics,
		history,
	}
	if cfg.Verbose {
		callbacks = append(callbacks, flow.PrintProgress(flow.PrintProgressConfig{PrintEvery: 1, Logger: logger}))
	}

	fit, err := net.Fit(ctx, dm.Train, dm.Val, flow.FitConfig{
		MaxEpochs: tc.MaxEpochs,
		BatchSize: tc.BatchSize,
		Shuffle:   true,
	}, callbacks)
	if err != nil {
		return nil, err
	}

	res := &RunResult{
		Epochs:      fit.Epochs,
		GlobalStep:  fit.GlobalStep,
		StopReason:  fit.StopReason,
		BestValLoss: minFinite(history.History["loss/val"]),
		SWAApplied:  swa.Applied(),
	}

	final := make(map[string]float64, len(fit.Final))
	for k, v := range fit.Final {
		final[k] = v
	}
	if dm.Test != nil && dm.Test.Len() > 0 {
		test, err := net.Evaluate(ctx, dm.Test, tc.BatchSize)
		if err != nil {
			return nil, errors.Wrap(err, "adni: test evaluation")
		}
		res.Test = make(map[string]float64, len(test))
		for k, v := range test {
			res.Test[k] = v
			final[k+"/test"] = v
		}
		logger.Printf("test: loss %.4f, acc %.4f, auc %.4f", test["loss"], test["acc"], test["auc"])
	}

	err = net.SaveCheckpoint(spec.Checkpoint, flow.CheckpointMeta{
		Model:      ModelName,
		RunID:      spec.RunID,
		Epoch:      fit.Epochs - 1,
		GlobalStep: fit.GlobalStep,
		HParams:    e.hparams(spec),
		Metrics:    final,
	})
	if err != nil {
		return nil, err
	}
	logger.Printf("saved %s", spec.Checkpoint)
	return res, nil
}

func (e *Experiment) hparams(spec RunSpec) map[string]string {
	c := e.cfg
	label, _ := SplitLabel(c.SplitVar)
	shape := make([]string, len(c.InputShape))
	for i, n := range c.InputShape {
		shape[i] = strconv.Itoa(n)
	}
	return map[string]string{
		"cnn_type":    c.CNNType,
		"split_var":   label,
		"ratio":       strconv.FormatFloat(c.Ratio, 'f', 2, 64),
		"run":         strconv.Itoa(spec.RunIdx),
		"fold":        strconv.Itoa(c.Fold),
		"fake_diffs":  strconv.FormatBool(c.FakeDiffs),
		"input_shape": strings.Join(shape, "x"),
		"batch_size":  strconv.Itoa(c.Train.BatchSize),
		"max_epochs":  strconv.Itoa(c.Train.MaxEpochs),
		"precision":   strconv.Itoa(c.Train.Precision),
		"seed":        strconv.FormatInt(c.Seed, 10),
	}
}

func minFinite(vals []float64) float64 {
	best := math.Inf(1)
	for _, v := range vals {
		if !math.IsNaN(v) && v < best {
			best = v
		}
	}
	return best
}
