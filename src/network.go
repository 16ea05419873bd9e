package flow

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"

	"github.com/pkg/errors"
)

// Network is the main neural network container
type Network struct {
	layers     []Layer
	optimizer  Optimizer
	loss       Loss
	metrics    []Metric
	gradClip   GradientClipConfig
	compiled   bool
	built      bool
	rng        *rand.Rand
	inputShape []int
}

// NetworkBuilder for fluent API
type NetworkBuilder struct {
	network *Network
}

// NewNetwork creates a new network builder
func NewNetwork(config NetworkConfig) *NetworkBuilder {
	return &NetworkBuilder{
		network: &Network{
			rng: rand.New(rand.NewSource(config.Seed)),
		},
	}
}

// AddLayer appends a layer to the stack
func (n *NetworkBuilder) AddLayer(layer Layer) *NetworkBuilder {
	n.network.layers = append(n.network.layers, layer)
	return n
}

// Build propagates inputShape (without batch axis) through every layer,
// allocating weights on the way.
func (n *NetworkBuilder) Build(inputShape []int) (*Network, error) {
	if len(n.network.layers) == 0 {
		return nil, errors.New("flow: network must have at least one layer")
	}
	if shapeSize(inputShape) == 0 {
		return nil, errors.Errorf("flow: invalid input shape %v", inputShape)
	}

	n.network.inputShape = append([]int(nil), inputShape...)

	current := n.network.inputShape
	for i, layer := range n.network.layers {
		if err := layer.build(current, n.network.rng); err != nil {
			return nil, layerError(err, i, layer, "build")
		}
		if out := layer.outputShape(); out != nil {
			current = out
		}
	}

	n.network.built = true
	return n.network, nil
}

// Compile configures optimizer, loss, and metrics
func (n *Network) Compile(config CompileConfig) error {
	if !n.built {
		return ErrNotBuilt
	}
	if err := ValidateCompileConfig(config); err != nil {
		return err
	}

	n.optimizer = config.Optimizer
	n.loss = config.Loss
	n.metrics = config.Metrics
	n.gradClip = config.GradientClip
	n.optimizer.init(n.parameters())
	n.compiled = true
	return nil
}

// InputShape is the per-sample shape the network was built for.
func (n *Network) InputShape() []int { return append([]int(nil), n.inputShape...) }

// OutputShape is the per-sample shape of the last layer.
func (n *Network) OutputShape() []int {
	for i := len(n.layers) - 1; i >= 0; i-- {
		if out := n.layers[i].outputShape(); out != nil {
			return out
		}
	}
	return n.InputShape()
}

// LearningRate reports the optimizer's current rate.
func (n *Network) LearningRate() float64 {
	if n.optimizer == nil {
		return 0
	}
	return n.optimizer.learningRate()
}

func (n *Network) parameters() []*tensor {
	var params []*tensor
	for _, l := range n.layers {
		params = append(params, l.parameters()...)
	}
	return params
}

func (n *Network) gradients() []*tensor {
	var grads []*tensor
	for _, l := range n.layers {
		grads = append(grads, l.gradients()...)
	}
	return grads
}

// ParamCount is the number of trainable scalars.
func (n *Network) ParamCount() int {
	total := 0
	for _, p := range n.parameters() {
		total += p.size()
	}
	return total
}

func (n *Network) forward(x *tensor, training bool) (*tensor, error) {
	out := x
	var err error
	for i, layer := range n.layers {
		out, err = layer.forward(out, training)
		if err != nil {
			return nil, layerError(err, i, layer, "forward")
		}
	}
	return out, nil
}

func (n *Network) backward(grad *tensor) error {
	var err error
	for i := len(n.layers) - 1; i >= 0; i-- {
		grad, err = n.layers[i].backward(grad)
		if err != nil {
			return layerError(err, i, n.layers[i], "backward")
		}
	}
	return nil
}

// clipGradients applies the configured clipping and returns the global
// L2 norm measured before clipping.
func (n *Network) clipGradients(grads []*tensor) float64 {
	var total float64
	for _, g := range grads {
		total += sqNorm(g)
	}
	total = math.Sqrt(total)

	switch n.gradClip.Mode {
	case "norm":
		if total > n.gradClip.MaxNorm {
			scale := n.gradClip.MaxNorm / (total + 1e-6)
			for _, g := range grads {
				mulScalar(g, scale)
			}
		}
	case "value":
		v := float32(n.gradClip.MaxValue)
		for _, g := range grads {
			clip(g, -v, v)
		}
	}
	return total
}

func (n *Network) checkSource(src DataSource) error {
	if src == nil || src.Len() == 0 {
		return ErrEmptySource
	}
	if !sameShape(src.SampleShape(), n.inputShape) {
		return &FlowError{
			Component:     "Network",
			ErrorType:     "shape mismatch",
			LayerIndex:    -1,
			Phase:         "input",
			InputShape:    src.SampleShape(),
			ExpectedShape: n.inputShape,
			Cause:         "data source sample shape differs from the network input",
		}
	}
	return nil
}

// FitResult holds training output
type FitResult struct {
	History    map[string][]float64
	Epochs     int
	GlobalStep int
	StopReason string
	Final      map[string]float64
}

// Stop reasons reported in FitResult.
const (
	StopMaxEpochs     = "max_epochs"
	StopEarlyStopping = "early_stopping"
	StopNonFinite     = "non_finite_monitor"
	StopCanceled      = "canceled"
)

// Fit trains on train, validating on val (may be nil) after every epoch.
//
// Epoch logs carry "loss/train", "<metric>/train", "loss/val",
// "<metric>/val", "lr" and "epoch". Batch logs carry "loss/train_step".
// Cancelling ctx stops between batches and returns ctx's error alongside
// the partial result.
func (n *Network) Fit(ctx context.Context, train, val DataSource, config FitConfig, callbacks []Callback) (*FitResult, error) {
	if !n.compiled {
		return nil, ErrNotCompiled
	}
	if err := ValidateFitConfig(config); err != nil {
		return nil, err
	}
	if err := n.checkSource(train); err != nil {
		return nil, errors.Wrap(err, "flow: train source")
	}
	if val != nil {
		if err := n.checkSource(val); err != nil {
			return nil, errors.Wrap(err, "flow: val source")
		}
	}

	state := &fitState{net: n, maxEpochs: config.MaxEpochs}
	result := &FitResult{History: make(map[string][]float64)}
	logs := make(map[string]float64)

	for _, cb := range callbacks {
		cb.onTrainBegin(state, logs)
	}

	params := n.parameters()
	grads := n.gradients()

	var runErr error
epochs:
	for epoch := 0; epoch < config.MaxEpochs; epoch++ {
		state.epoch = epoch
		for _, cb := range callbacks {
			cb.onEpochBegin(state, logs)
		}

		for _, m := range n.metrics {
			m.reset()
		}
		var epochLoss float64
		var seen int

		order := sampleOrder(train.Len(), config.Shuffle, n.rng)
		for batch, idx := range batchIndices(order, config.BatchSize) {
			if err := ctx.Err(); err != nil {
				state.stopReason = StopCanceled
				runErr = err
				break epochs
			}
			for _, cb := range callbacks {
				cb.onBatchBegin(state, batch, logs)
			}

			x, y, err := loadBatch(ctx, train, idx)
			if err != nil {
				runErr = errors.Wrapf(err, "flow: loading batch %d of epoch %d", batch, epoch)
				break epochs
			}

			out, err := n.forward(x, true)
			if err != nil {
				runErr = err
				break epochs
			}

			batchLoss := n.loss.compute(out, y)
			if !isFinite(batchLoss) {
				runErr = &FlowError{
					Component:  "Loss",
					ErrorType:  "non-finite loss",
					LayerIndex: -1,
					Phase:      "loss",
					Stats:      scanTensor(out),
					Cause:      fmt.Sprintf("%s returned %v at epoch %d step %d", n.loss.name(), batchLoss, epoch, state.globalStep),
				}
				break epochs
			}
			for _, m := range n.metrics {
				m.update(out, y)
			}

			gradOut := newTensor(out.shape...)
			n.loss.gradient(out, y, gradOut)
			if err := n.backward(gradOut); err != nil {
				runErr = err
				break epochs
			}

			logs["grad_norm"] = n.clipGradients(grads)
			n.optimizer.step(params, grads)

			epochLoss += batchLoss * float64(len(idx))
			seen += len(idx)
			state.globalStep++
			logs["loss/train_step"] = batchLoss

			for _, cb := range callbacks {
				cb.onBatchEnd(state, batch, logs)
			}
		}

		delete(logs, "loss/train_step")
		delete(logs, "grad_norm")
		logs["epoch"] = float64(epoch)
		logs["loss/train"] = epochLoss / float64(seen)
		for _, m := range n.metrics {
			logs[m.name()+"/train"] = m.result()
		}

		if val != nil {
			vlogs, err := n.Evaluate(ctx, val, config.BatchSize)
			if err != nil {
				runErr = errors.Wrapf(err, "flow: validation after epoch %d", epoch)
				break
			}
			for k, v := range vlogs {
				logs[k+"/val"] = v
			}
		}
		logs["lr"] = n.optimizer.learningRate()

		for k, v := range logs {
			result.History[k] = append(result.History[k], v)
		}
		result.Epochs = epoch + 1

		stop := false
		for _, cb := range callbacks {
			if cb.onEpochEnd(state, logs) {
				stop = true
			}
		}
		if stop {
			if state.stopReason == "" {
				state.stopReason = StopEarlyStopping
			}
			break
		}
	}

	if runErr == nil && state.stopReason == "" {
		state.stopReason = StopMaxEpochs
		state.completed = true
	}

	for _, cb := range callbacks {
		cb.onTrainEnd(state, logs)
	}
	if runErr == nil {
		for _, cb := range callbacks {
			if f, ok := cb.(failer); ok && f.Err() != nil {
				runErr = errors.Wrapf(f.Err(), "flow: callback %s", cb.name())
				break
			}
		}
	}

	result.GlobalStep = state.globalStep
	result.StopReason = state.stopReason
	result.Final = make(map[string]float64, len(logs))
	for k, v := range logs {
		result.Final[k] = v
	}
	return result, runErr
}

// Evaluate runs inference over src and returns "loss" plus one entry per
// compiled metric.
func (n *Network) Evaluate(ctx context.Context, src DataSource, batchSize int) (map[string]float64, error) {
	if !n.compiled {
		return nil, ErrNotCompiled
	}
	if batchSize <= 0 {
		return nil, errors.Errorf("flow: batch size must be > 0, got %d", batchSize)
	}
	if err := n.checkSource(src); err != nil {
		return nil, err
	}

	for _, m := range n.metrics {
		m.reset()
	}
	var total float64
	var seen int
	for _, idx := range batchIndices(sampleOrder(src.Len(), false, nil), batchSize) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		x, y, err := loadBatch(ctx, src, idx)
		if err != nil {
			return nil, err
		}
		out, err := n.forward(x, false)
		if err != nil {
			return nil, err
		}
		total += n.loss.compute(out, y) * float64(len(idx))
		seen += len(idx)
		for _, m := range n.metrics {
			m.update(out, y)
		}
	}

	results := map[string]float64{"loss": total / float64(seen)}
	for _, m := range n.metrics {
		results[m.name()] = m.result()
	}
	return results, nil
}

// Predict returns the raw network outputs for every sample in src, one row
// per sample.
func (n *Network) Predict(ctx context.Context, src DataSource, batchSize int) ([][]float32, error) {
	if !n.built {
		return nil, ErrNotBuilt
	}
	if batchSize <= 0 {
		return nil, errors.Errorf("flow: batch size must be > 0, got %d", batchSize)
	}
	if err := n.checkSource(src); err != nil {
		return nil, err
	}

	var rows [][]float32
	for _, idx := range batchIndices(sampleOrder(src.Len(), false, nil), batchSize) {
		x, _, err := loadBatch(ctx, src, idx)
		if err != nil {
			return nil, err
		}
		out, err := n.forward(x, false)
		if err != nil {
			return nil, err
		}
		cols := out.cols()
		for i := 0; i < out.rows(); i++ {
			row := make([]float32, cols)
			copy(row, out.data[i*cols:(i+1)*cols])
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// Summary renders the layer stack with output shapes and parameter counts.
func (n *Network) Summary() string {
	var b strings.Builder
	b.WriteString("Flow Network Summary\n")
	b.WriteString("====================\n")
	fmt.Fprintf(&b, "Input: %v\n", n.inputShape)

	total := 0
	for i, layer := range n.layers {
		count := 0
		for _, p := range layer.parameters() {
			count += p.size()
		}
		total += count
		fmt.Fprintf(&b, "Layer %d: %-8s out=%v - %d params\n", i+1, layer.name(), layer.outputShape(), count)
	}
	b.WriteString("====================\n")
	fmt.Fprintf(&b, "Total parameters: %d\n", total)
	return b.String()
}
