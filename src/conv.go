package flow

import (
	"math/rand"

	"github.com/pkg/errors"
)

// Conv3DLayer - volumetric convolution over [D, H, W, C] inputs with zero
// padding, followed by a fused activation.
type Conv3DLayer struct {
	filters     int
	kernel      [3]int
	stride      [3]int
	padding     [3]int
	activation  Activation
	initializer Initializer
	biasInit    Initializer
	useBias     bool
	weights     *tensor // [kD, kH, kW, inC, filters]
	bias        *tensor
	gradW       *tensor
	gradB       *tensor
	input       *tensor
	output      *tensor
	inputShape  []int // [D, H, W, C]
	outShape    [3]int
	built       bool
}

type Conv3DBuilder struct {
	layer *Conv3DLayer
}

// Conv3D creates a cubic-kernel convolution with stride 1 and no padding.
func Conv3D(filters, kernelSize int) *Conv3DBuilder {
	return &Conv3DBuilder{
		layer: &Conv3DLayer{
			filters: filters,
			kernel:  [3]int{kernelSize, kernelSize, kernelSize},
			stride:  [3]int{1, 1, 1},
		},
	}
}

func (b *Conv3DBuilder) WithKernel(kD, kH, kW int) *Conv3DBuilder {
	b.layer.kernel = [3]int{kD, kH, kW}
	return b
}

func (b *Conv3DBuilder) WithStride(s int) *Conv3DBuilder {
	b.layer.stride = [3]int{s, s, s}
	return b
}

func (b *Conv3DBuilder) WithPadding(p int) *Conv3DBuilder {
	b.layer.padding = [3]int{p, p, p}
	return b
}

func (b *Conv3DBuilder) WithActivation(act Activation) *Conv3DBuilder {
	b.layer.activation = act
	return b
}

func (b *Conv3DBuilder) WithInitializer(init Initializer) *Conv3DBuilder {
	b.layer.initializer = init
	return b
}

func (b *Conv3DBuilder) WithBiasInitializer(init Initializer) *Conv3DBuilder {
	b.layer.biasInit = init
	return b
}

func (b *Conv3DBuilder) WithBias(useBias bool) *Conv3DBuilder {
	b.layer.useBias = useBias
	return b
}

func (b *Conv3DBuilder) Build() Layer {
	return b.layer
}

// convOutSize is floor((in + 2p - k) / s) + 1.
func convOutSize(in, k, s, p int) int {
	span := in + 2*p - k
	if span < 0 {
		return 0
	}
	return span/s + 1
}

func (c *Conv3DLayer) build(inputShape []int, rng *rand.Rand) error {
	if len(inputShape) != 4 {
		return errors.Errorf("Conv3D requires input shape [D, H, W, C], got %v", inputShape)
	}
	if c.filters <= 0 {
		return errors.Errorf("Conv3D filters must be > 0, got %d", c.filters)
	}
	for i := 0; i < 3; i++ {
		if c.kernel[i] <= 0 || c.stride[i] <= 0 || c.padding[i] < 0 {
			return errors.Errorf("Conv3D invalid kernel %v / stride %v / padding %v", c.kernel, c.stride, c.padding)
		}
	}
	if c.initializer == nil {
		return errors.New("Conv3D requires initializer")
	}
	if c.activation == nil {
		return errors.New("Conv3D requires activation")
	}
	if c.useBias && c.biasInit == nil {
		return errors.New("Conv3D with bias requires bias initializer")
	}

	for i := 0; i < 3; i++ {
		c.outShape[i] = convOutSize(inputShape[i], c.kernel[i], c.stride[i], c.padding[i])
		if c.outShape[i] == 0 {
			return &FlowError{
				Component:  "Conv3D",
				ErrorType:  "input too small",
				LayerIndex: -1,
				Phase:      "build",
				InputShape: inputShape,
				Cause:      "kernel does not fit inside the padded input",
			}
		}
	}

	c.inputShape = inputShape
	inC := inputShape[3]
	kVol := c.kernel[0] * c.kernel[1] * c.kernel[2]

	c.weights = newTensor(c.kernel[0], c.kernel[1], c.kernel[2], inC, c.filters)
	fanIn := kVol * inC
	fanOut := kVol * c.filters
	c.initializer.initialize(c.weights, fanIn, fanOut, rng)
	c.gradW = newTensor(c.weights.shape...)

	if c.useBias {
		c.bias = newTensor(c.filters)
		c.biasInit.initialize(c.bias, fanIn, fanOut, rng)
		c.gradB = newTensor(c.filters)
	}

	c.built = true
	return nil
}

func (c *Conv3DLayer) forward(input *tensor, training bool) (*tensor, error) {
	if !c.built {
		return nil, ErrNotBuilt
	}
	if len(input.shape) != 5 || !sameShape(input.shape[1:], c.inputShape) {
		return nil, &FlowError{
			Component:     "Conv3D",
			ErrorType:     "shape mismatch",
			Phase:         "forward",
			InputShape:    input.shape,
			ExpectedShape: append([]int{-1}, c.inputShape...),
			Cause:         "input volume does not match the built shape",
		}
	}

	batch := input.shape[0]
	inD, inH, inW, inC := c.inputShape[0], c.inputShape[1], c.inputShape[2], c.inputShape[3]
	outD, outH, outW := c.outShape[0], c.outShape[1], c.outShape[2]
	F := c.filters
	kD, kH, kW := c.kernel[0], c.kernel[1], c.kernel[2]
	sD, sH, sW := c.stride[0], c.stride[1], c.stride[2]
	pD, pH, pW := c.padding[0], c.padding[1], c.padding[2]

	c.input = input
	c.output = newTensor(batch, outD, outH, outW, F)

	nw := Workers()
	scratch := make([][]float64, nw)
	for i := range scratch {
		scratch[i] = make([]float64, F)
	}

	// one job per (sample, output depth slice); writes are disjoint
	parallelFor(batch*outD, nw, func(worker, job int) {
		b, od := job/outD, job%outD
		acc := scratch[worker]
		for oh := 0; oh < outH; oh++ {
			for ow := 0; ow < outW; ow++ {
				for f := range acc {
					acc[f] = 0
				}
				for kd := 0; kd < kD; kd++ {
					id := od*sD + kd - pD
					if id < 0 || id >= inD {
						continue
					}
					for kh := 0; kh < kH; kh++ {
						ih := oh*sH + kh - pH
						if ih < 0 || ih >= inH {
							continue
						}
						for kw := 0; kw < kW; kw++ {
							iw := ow*sW + kw - pW
							if iw < 0 || iw >= inW {
								continue
							}
							inBase := (((b*inD+id)*inH+ih)*inW + iw) * inC
							wBase := ((kd*kH+kh)*kW + kw) * inC * F
							for ic := 0; ic < inC; ic++ {
								x := float64(input.data[inBase+ic])
								if x == 0 {
									continue
								}
								wRow := c.weights.data[wBase+ic*F : wBase+(ic+1)*F]
								for f, w := range wRow {
									acc[f] += x * float64(w)
								}
							}
						}
					}
				}
				outBase := (((b*outD+od)*outH+oh)*outW + ow) * F
				for f, v := range acc {
					if c.useBias {
						v += float64(c.bias.data[f])
					}
					c.output.data[outBase+f] = float32(v)
				}
			}
		}
	})

	c.activation.forward(c.output, c.output)
	return c.output, nil
}

func (c *Conv3DLayer) backward(gradOutput *tensor) (*tensor, error) {
	if c.input == nil {
		return nil, errors.New("Conv3D backward called before forward")
	}

	batch := c.input.shape[0]
	inD, inH, inW, inC := c.inputShape[0], c.inputShape[1], c.inputShape[2], c.inputShape[3]
	outD, outH, outW := c.outShape[0], c.outShape[1], c.outShape[2]
	F := c.filters
	kD, kH, kW := c.kernel[0], c.kernel[1], c.kernel[2]
	sD, sH, sW := c.stride[0], c.stride[1], c.stride[2]
	pD, pH, pW := c.padding[0], c.padding[1], c.padding[2]

	gradPre := newTensor(gradOutput.shape...)
	c.activation.backward(c.output, gradOutput, gradPre)

	if c.useBias {
		c.gradB.zero()
		sums := make([]float64, F)
		for i, g := range gradPre.data {
			sums[i%F] += float64(g)
		}
		for f, s := range sums {
			c.gradB.data[f] = float32(s)
		}
	}

	nw := Workers()

	// weight gradient: per-worker partial sums, reduced below
	partials := make([][]float64, nw)
	parallelFor(batch*outD, nw, func(worker, job int) {
		if partials[worker] == nil {
			partials[worker] = make([]float64, len(c.weights.data))
		}
		acc := partials[worker]
		b, od := job/outD, job%outD
		for oh := 0; oh < outH; oh++ {
			for ow := 0; ow < outW; ow++ {
				gBase := (((b*outD+od)*outH+oh)*outW + ow) * F
				g := gradPre.data[gBase : gBase+F]
				for kd := 0; kd < kD; kd++ {
					id := od*sD + kd - pD
					if id < 0 || id >= inD {
						continue
					}
					for kh := 0; kh < kH; kh++ {
						ih := oh*sH + kh - pH
						if ih < 0 || ih >= inH {
							continue
						}
						for kw := 0; kw < kW; kw++ {
							iw := ow*sW + kw - pW
							if iw < 0 || iw >= inW {
								continue
							}
							inBase := (((b*inD+id)*inH+ih)*inW + iw) * inC
							wBase := ((kd*kH+kh)*kW + kw) * inC * F
							for ic := 0; ic < inC; ic++ {
								x := float64(c.input.data[inBase+ic])
								if x == 0 {
									continue
								}
								row := acc[wBase+ic*F : wBase+(ic+1)*F]
								for f, gv := range g {
									row[f] += x * float64(gv)
								}
							}
						}
					}
				}
			}
		}
	})
	for i := range c.gradW.data {
		var s float64
		for _, p := range partials {
			if p != nil {
				s += p[i]
			}
		}
		c.gradW.data[i] = float32(s)
	}

	// input gradient: gather form, one job per (sample, input depth slice)
	gradInput := newTensor(c.input.shape...)
	parallelFor(batch*inD, nw, func(worker, job int) {
		b, id := job/inD, job%inD
		for ih := 0; ih < inH; ih++ {
			for iw := 0; iw < inW; iw++ {
				inBase := (((b*inD+id)*inH+ih)*inW + iw) * inC
				dst := gradInput.data[inBase : inBase+inC]
				for kd := 0; kd < kD; kd++ {
					od, ok := convSource(id, kd, sD, pD, outD)
					if !ok {
						continue
					}
					for kh := 0; kh < kH; kh++ {
						oh, ok := convSource(ih, kh, sH, pH, outH)
						if !ok {
							continue
						}
						for kw := 0; kw < kW; kw++ {
							ow, ok := convSource(iw, kw, sW, pW, outW)
							if !ok {
								continue
							}
							gBase := (((b*outD+od)*outH+oh)*outW + ow) * F
							g := gradPre.data[gBase : gBase+F]
							wBase := ((kd*kH+kh)*kW + kw) * inC * F
							for ic := range dst {
								wRow := c.weights.data[wBase+ic*F : wBase+(ic+1)*F]
								var s float64
								for f, gv := range g {
									s += float64(wRow[f]) * float64(gv)
								}
								dst[ic] += float32(s)
							}
						}
					}
				}
			}
		}
	})

	return gradInput, nil
}

// convSource inverts i = o*s + k - p, reporting whether an output index o
// in [0, outN) reads input i through kernel tap k.
func convSource(i, k, s, p, outN int) (int, bool) {
	num := i + p - k
	if num < 0 || num%s != 0 {
		return 0, false
	}
	o := num / s
	return o, o < outN
}

func (c *Conv3DLayer) parameters() []*tensor {
	if c.useBias {
		return []*tensor{c.weights, c.bias}
	}
	return []*tensor{c.weights}
}

func (c *Conv3DLayer) gradients() []*tensor {
	if c.useBias {
		return []*tensor{c.gradW, c.gradB}
	}
	return []*tensor{c.gradW}
}

func (c *Conv3DLayer) outputShape() []int {
	return []int{c.outShape[0], c.outShape[1], c.outShape[2], c.filters}
}

func (c *Conv3DLayer) name() string { return "conv3d" }
