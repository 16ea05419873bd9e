package flow

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strings"
	"testing"
)

// separable returns n samples of [x0, x1] labelled by the sign of x0.
func separable(t *testing.T, n int, seed int64) *SliceSource {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	inputs := make([][]float32, n)
	labels := make([]float32, n)
	for i := range inputs {
		x0 := rng.Float32()*2 - 1
		inputs[i] = []float32{x0, rng.Float32()*2 - 1}
		if x0 > 0 {
			labels[i] = 1
		}
	}
	src, err := NewSliceSource([]int{2}, inputs, labels)
	if err != nil {
		t.Fatal(err)
	}
	return src
}

func logisticNet(t *testing.T, lr float64, init Initializer) *Network {
	t.Helper()
	net, err := NewNetwork(NetworkConfig{Seed: 1}).
		AddLayer(Dense(1).WithActivation(Linear()).
			WithInitializer(init).WithBiasInitializer(Zeros()).WithBias(true).Build()).
		Build([]int{2})
	if err != nil {
		t.Fatal(err)
	}
	err = net.Compile(CompileConfig{
		Optimizer:    SGD(SGDConfig{LR: lr}),
		Loss:         BCEWithLogits(BCEWithLogitsConfig{Reduction: "mean"}),
		Metrics:      []Metric{BinaryAccuracy(BinaryAccuracyConfig{Threshold: 0}), ROCAUC()},
		GradientClip: GradientClipConfig{Mode: "none"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return net
}

func TestFitReducesLoss(t *testing.T) {
	train := separable(t, 64, 1)
	val := separable(t, 32, 2)
	net := logisticNet(t, 0.5, Zeros())

	res, err := net.Fit(context.Background(), train, val,
		FitConfig{MaxEpochs: 20, BatchSize: 8, Shuffle: true}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.StopReason != StopMaxEpochs || res.Epochs != 20 {
		t.Fatalf("stop = %s after %d epochs", res.StopReason, res.Epochs)
	}
	if res.GlobalStep != 20*8 {
		t.Errorf("GlobalStep = %d, want 160", res.GlobalStep)
	}
	losses := res.History["loss/train"]
	if len(losses) != 20 {
		t.Fatalf("history has %d train losses", len(losses))
	}
	if losses[19] >= losses[0] {
		t.Errorf("train loss went %v -> %v", losses[0], losses[19])
	}
	if res.Final["acc/val"] < 0.85 {
		t.Errorf("val accuracy = %v", res.Final["acc/val"])
	}
	for _, k := range []string{"loss/val", "auc/val", "acc/train", "lr", "epoch"} {
		if _, ok := res.Final[k]; !ok {
			t.Errorf("final logs miss %q", k)
		}
	}
	if _, ok := res.Final["loss/train_step"]; ok {
		t.Error("step loss should not leak into epoch logs")
	}

	eval, err := net.Evaluate(context.Background(), val, 5)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(eval["loss"]-res.Final["loss/val"]) > 1e-9 {
		t.Errorf("Evaluate loss %v differs from last val loss %v", eval["loss"], res.Final["loss/val"])
	}

	preds, err := net.Predict(context.Background(), val, 7)
	if err != nil {
		t.Fatal(err)
	}
	if len(preds) != 32 || len(preds[0]) != 1 {
		t.Errorf("Predict returned %d rows of %d", len(preds), len(preds[0]))
	}
}

func TestFitCanceled(t *testing.T) {
	net := logisticNet(t, 0.1, Zeros())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := net.Fit(ctx, separable(t, 8, 1), nil, FitConfig{MaxEpochs: 3, BatchSize: 4}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if res.StopReason != StopCanceled || res.GlobalStep != 0 {
		t.Errorf("stop = %s at step %d", res.StopReason, res.GlobalStep)
	}
}

func TestFitRequiresCompile(t *testing.T) {
	net, err := NewNetwork(NetworkConfig{Seed: 1}).
		AddLayer(Dense(1).WithActivation(Linear()).WithInitializer(Zeros()).Build()).
		Build([]int{2})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := net.Fit(context.Background(), separable(t, 4, 1), nil, FitConfig{MaxEpochs: 1, BatchSize: 1}, nil); err != ErrNotCompiled {
		t.Errorf("err = %v, want ErrNotCompiled", err)
	}
}

func TestFitShapeMismatch(t *testing.T) {
	net := logisticNet(t, 0.1, Zeros())
	src, err := NewSliceSource([]int{3}, [][]float32{{1, 2, 3}}, []float32{1})
	if err != nil {
		t.Fatal(err)
	}
	_, err = net.Fit(context.Background(), src, nil, FitConfig{MaxEpochs: 1, BatchSize: 1}, nil)
	var fe *FlowError
	if !errors.As(err, &fe) || fe.ErrorType != "shape mismatch" {
		t.Fatalf("err = %v, want shape mismatch", err)
	}

	empty, _ := NewSliceSource([]int{2}, nil, nil)
	if _, err := net.Evaluate(context.Background(), empty, 1); err != ErrEmptySource {
		t.Errorf("err = %v, want ErrEmptySource", err)
	}
}

func TestFitNonFiniteLoss(t *testing.T) {
	net := logisticNet(t, 0.1, Constant(math.NaN()))
	_, err := net.Fit(context.Background(), separable(t, 4, 1), nil, FitConfig{MaxEpochs: 1, BatchSize: 2}, nil)
	var fe *FlowError
	if !errors.As(err, &fe) || fe.ErrorType != "non-finite loss" {
		t.Fatalf("err = %v, want non-finite loss", err)
	}
	if fe.Stats == nil || fe.Stats.NaNCount != 2 {
		t.Errorf("stats = %v", fe.Stats)
	}
}

func TestClipGradientsNorm(t *testing.T) {
	net := logisticNet(t, 0.1, Zeros())
	net.gradClip = GradientClipConfig{Mode: "norm", MaxNorm: 1}
	g := tensorOf(3, 4)
	if norm := net.clipGradients([]*tensor{g}); norm != 5 {
		t.Errorf("pre-clip norm = %v, want 5", norm)
	}
	if got := math.Sqrt(sqNorm(g)); math.Abs(got-1) > 1e-5 {
		t.Errorf("clipped norm = %v, want 1", got)
	}
}

func TestSummary(t *testing.T) {
	net := logisticNet(t, 0.1, Zeros())
	s := net.Summary()
	if !strings.Contains(s, "Total parameters: 3") {
		t.Errorf("summary:\n%s", s)
	}
	if net.ParamCount() != 3 {
		t.Errorf("ParamCount = %d", net.ParamCount())
	}
}
