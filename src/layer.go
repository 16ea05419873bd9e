package flow

import (
	"math/rand"

	"github.com/pkg/errors"
)

// Layer is the base interface for all layers.
//
// Shapes handed to build and returned by outputShape exclude the batch axis.
// Gradients returned by backward are already scaled by the loss reduction;
// layers do not average over the batch again.
type Layer interface {
	forward(input *tensor, training bool) (*tensor, error)
	backward(gradOutput *tensor) (*tensor, error)
	parameters() []*tensor
	gradients() []*tensor
	build(inputShape []int, rng *rand.Rand) error
	outputShape() []int
	name() string
}

// DenseLayer - fully connected layer
type DenseLayer struct {
	units       int
	activation  Activation
	initializer Initializer
	biasInit    Initializer
	useBias     bool
	weights     *tensor // [in, units]
	bias        *tensor
	input       *tensor
	output      *tensor
	gradW       *tensor
	gradB       *tensor
	fanIn       int
	built       bool
}

// DenseBuilder for fluent API
type DenseBuilder struct {
	layer *DenseLayer
}

func Dense(units int) *DenseBuilder {
	return &DenseBuilder{
		layer: &DenseLayer{
			units: units,
		},
	}
}

func (b *DenseBuilder) WithActivation(act Activation) *DenseBuilder {
	b.layer.activation = act
	return b
}

func (b *DenseBuilder) WithInitializer(init Initializer) *DenseBuilder {
	b.layer.initializer = init
	return b
}

func (b *DenseBuilder) WithBiasInitializer(init Initializer) *DenseBuilder {
	b.layer.biasInit = init
	return b
}

func (b *DenseBuilder) WithBias(useBias bool) *DenseBuilder {
	b.layer.useBias = useBias
	return b
}

func (b *DenseBuilder) Build() Layer {
	return b.layer
}

func (d *DenseLayer) build(inputShape []int, rng *rand.Rand) error {
	if len(inputShape) != 1 {
		return errors.Errorf("Dense expects a flat input, got shape %v - add Flatten() first", inputShape)
	}
	if d.units <= 0 {
		return errors.Errorf("Dense units must be > 0, got %d", d.units)
	}
	if d.initializer == nil {
		return errors.New("Dense requires initializer - use WithInitializer()")
	}
	if d.activation == nil {
		return errors.New("Dense requires activation - use WithActivation()")
	}
	if d.useBias && d.biasInit == nil {
		return errors.New("Dense with bias requires bias initializer - use WithBiasInitializer()")
	}

	d.fanIn = inputShape[0]
	d.weights = newTensor(d.fanIn, d.units)
	d.initializer.initialize(d.weights, d.fanIn, d.units, rng)
	d.gradW = newTensor(d.fanIn, d.units)

	if d.useBias {
		d.bias = newTensor(d.units)
		d.biasInit.initialize(d.bias, d.fanIn, d.units, rng)
		d.gradB = newTensor(d.units)
	}

	d.built = true
	return nil
}

func (d *DenseLayer) forward(input *tensor, training bool) (*tensor, error) {
	if !d.built {
		return nil, ErrNotBuilt
	}
	if input.cols() != d.fanIn {
		return nil, &FlowError{
			Component:     "Dense",
			ErrorType:     "shape mismatch",
			Phase:         "forward",
			InputShape:    input.shape,
			ExpectedShape: []int{d.fanIn},
			Cause:         "input features do not match the built fan-in",
		}
	}

	batch := input.rows()
	d.input = input.view(batch, d.fanIn)
	d.output = newTensor(batch, d.units)

	matmul(d.input, d.weights, d.output)
	if d.useBias {
		addRowVec(d.output, d.bias)
	}
	d.activation.forward(d.output, d.output)

	return d.output, nil
}

func (d *DenseLayer) backward(gradOutput *tensor) (*tensor, error) {
	if d.input == nil {
		return nil, errors.New("Dense backward called before forward")
	}

	gradPre := newTensor(gradOutput.shape...)
	d.activation.backward(d.output, gradOutput, gradPre)

	// dW = X^T @ dY
	d.gradW.zero()
	matmulTransAAcc(d.input, gradPre, d.gradW)

	if d.useBias {
		d.gradB.zero()
		cols := d.units
		for i, g := range gradPre.data {
			d.gradB.data[i%cols] += g
		}
	}

	// dX = dY @ W^T
	gradInput := newTensor(d.input.shape...)
	matmulTransB(gradPre, d.weights, gradInput)

	return gradInput, nil
}

func (d *DenseLayer) parameters() []*tensor {
	if d.useBias {
		return []*tensor{d.weights, d.bias}
	}
	return []*tensor{d.weights}
}

func (d *DenseLayer) gradients() []*tensor {
	if d.useBias {
		return []*tensor{d.gradW, d.gradB}
	}
	return []*tensor{d.gradW}
}

func (d *DenseLayer) outputShape() []int {
	return []int{d.units}
}

func (d *DenseLayer) name() string { return "dense" }

// DropoutLayer - inverted dropout, identity at inference
type DropoutLayer struct {
	rate       float64
	seed       int64
	seeded     bool
	mask       []float32
	rng        *rand.Rand
	inputShape []int
	built      bool
}

type DropoutBuilder struct {
	layer *DropoutLayer
}

func Dropout(rate float64) *DropoutBuilder {
	return &DropoutBuilder{
		layer: &DropoutLayer{
			rate: rate,
		},
	}
}

// WithSeed gives the layer its own random stream instead of the network's.
func (b *DropoutBuilder) WithSeed(seed int64) *DropoutBuilder {
	b.layer.seed = seed
	b.layer.seeded = true
	return b
}

func (b *DropoutBuilder) Build() Layer {
	return b.layer
}

func (d *DropoutLayer) build(inputShape []int, rng *rand.Rand) error {
	if d.rate < 0 || d.rate >= 1 {
		return errors.Errorf("dropout rate must be in [0, 1), got %g", d.rate)
	}
	d.rng = rng
	if d.seeded {
		d.rng = rand.New(rand.NewSource(d.seed))
	}
	d.inputShape = inputShape
	d.built = true
	return nil
}

func (d *DropoutLayer) forward(input *tensor, training bool) (*tensor, error) {
	if !training || d.rate == 0 {
		d.mask = nil
		return input, nil
	}

	output := newTensor(input.shape...)
	if cap(d.mask) < len(input.data) {
		d.mask = make([]float32, len(input.data))
	}
	d.mask = d.mask[:len(input.data)]

	scale := float32(1.0 / (1.0 - d.rate))
	for i, v := range input.data {
		if d.rng.Float64() >= d.rate {
			d.mask[i] = scale
			output.data[i] = v * scale
		} else {
			d.mask[i] = 0
		}
	}
	return output, nil
}

func (d *DropoutLayer) backward(gradOutput *tensor) (*tensor, error) {
	if d.mask == nil {
		return gradOutput, nil
	}
	gradInput := newTensor(gradOutput.shape...)
	for i, g := range gradOutput.data {
		gradInput.data[i] = g * d.mask[i]
	}
	return gradInput, nil
}

func (d *DropoutLayer) parameters() []*tensor { return nil }
func (d *DropoutLayer) gradients() []*tensor  { return nil }
func (d *DropoutLayer) outputShape() []int    { return d.inputShape }
func (d *DropoutLayer) name() string          { return "dropout" }

// FlattenLayer - collapses everything but the batch axis
type FlattenLayer struct {
	inputShape []int
	flatSize   int
	built      bool
}

type FlattenBuilder struct {
	layer *FlattenLayer
}

func Flatten() *FlattenBuilder {
	return &FlattenBuilder{
		layer: &FlattenLayer{},
	}
}

func (b *FlattenBuilder) Build() Layer {
	return b.layer
}

func (f *FlattenLayer) build(inputShape []int, rng *rand.Rand) error {
	f.inputShape = inputShape
	f.flatSize = shapeSize(inputShape)
	if f.flatSize == 0 {
		return errors.Errorf("Flatten got an empty input shape %v", inputShape)
	}
	f.built = true
	return nil
}

func (f *FlattenLayer) forward(input *tensor, training bool) (*tensor, error) {
	return input.view(input.rows(), f.flatSize), nil
}

func (f *FlattenLayer) backward(gradOutput *tensor) (*tensor, error) {
	shape := append([]int{gradOutput.rows()}, f.inputShape...)
	return gradOutput.view(shape...), nil
}

func (f *FlattenLayer) parameters() []*tensor { return nil }
func (f *FlattenLayer) gradients() []*tensor  { return nil }
func (f *FlattenLayer) outputShape() []int    { return []int{f.flatSize} }
func (f *FlattenLayer) name() string          { return "flatten" }
