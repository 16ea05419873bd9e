package flow

import (
	"math"
	"math/rand"
	"testing"
)

func TestConvOutSize(t *testing.T) {
	tests := []struct {
		in, k, s, p, want int
	}{
		{182, 5, 1, 0, 178},
		{178, 5, 2, 0, 87},
		{17, 3, 2, 0, 8},
		{4, 3, 2, 1, 2},
		{2, 3, 1, 0, 0},
	}
	for _, tt := range tests {
		if got := convOutSize(tt.in, tt.k, tt.s, tt.p); got != tt.want {
			t.Errorf("convOutSize(%d, k=%d, s=%d, p=%d) = %d, want %d", tt.in, tt.k, tt.s, tt.p, got, tt.want)
		}
	}
}

func TestConv3DOutputShape(t *testing.T) {
	l := Conv3D(4, 3).WithStride(2).WithActivation(ReLU()).
		WithInitializer(TorchDefault()).WithBiasInitializer(FanInUniform()).WithBias(true).Build()
	if err := l.build([]int{9, 9, 9, 2}, rand.New(rand.NewSource(1))); err != nil {
		t.Fatal(err)
	}
	if got, want := l.outputShape(), []int{4, 4, 4, 4}; !sameShape(got, want) {
		t.Fatalf("outputShape = %v, want %v", got, want)
	}

	x := newTensor(3, 9, 9, 9, 2)
	x.fillRandNorm(0, 1, rand.New(rand.NewSource(2)))
	out, err := l.forward(x, true)
	if err != nil {
		t.Fatal(err)
	}
	if want := []int{3, 4, 4, 4, 4}; !sameShape(out.shape, want) {
		t.Fatalf("forward shape = %v, want %v", out.shape, want)
	}
	for i, v := range out.data {
		if v < 0 {
			t.Fatalf("ReLU output %d is negative: %v", i, v)
		}
	}
}

func TestConv3DBuildTooSmall(t *testing.T) {
	l := Conv3D(1, 5).WithActivation(Linear()).WithInitializer(Zeros()).Build()
	err := l.build([]int{4, 8, 8, 1}, rand.New(rand.NewSource(1)))
	fe, ok := err.(*FlowError)
	if !ok {
		t.Fatalf("err = %v, want *FlowError", err)
	}
	if fe.ErrorType != "input too small" {
		t.Errorf("ErrorType = %q", fe.ErrorType)
	}
}

func TestConv3DForwardSums(t *testing.T) {
	l := Conv3D(1, 2).WithActivation(Linear()).
		WithInitializer(Constant(1)).WithBiasInitializer(Constant(0.5)).WithBias(true).Build()
	if err := l.build([]int{3, 3, 3, 1}, rand.New(rand.NewSource(1))); err != nil {
		t.Fatal(err)
	}
	x := newTensor(1, 3, 3, 3, 1)
	x.fill(1)
	out, err := l.forward(x, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(out.data) != 8 {
		t.Fatalf("got %d outputs, want 8", len(out.data))
	}
	for i, v := range out.data {
		if v != 8.5 {
			t.Errorf("out[%d] = %v, want 8.5", i, v)
		}
	}
}

// conv outputs are linear in weights and inputs, so central differences of
// sum(out*r) are exact up to float32 rounding.
func TestConv3DGradients(t *testing.T) {
	prev := Workers()
	SetWorkers(3)
	defer SetWorkers(prev)

	rng := rand.New(rand.NewSource(7))
	l := Conv3D(3, 3).WithStride(2).WithPadding(1).WithActivation(Linear()).
		WithInitializer(HeNormal(1)).WithBiasInitializer(FanInUniform()).WithBias(true).Build()
	c := l.(*Conv3DLayer)
	if err := c.build([]int{5, 4, 6, 2}, rng); err != nil {
		t.Fatal(err)
	}

	x := newTensor(2, 5, 4, 6, 2)
	x.fillRandNorm(0, 1, rng)
	out, err := c.forward(x, true)
	if err != nil {
		t.Fatal(err)
	}
	r := newTensor(out.shape...)
	r.fillRandNorm(0, 1, rng)

	objective := func() float64 {
		o, err := c.forward(x, true)
		if err != nil {
			t.Fatal(err)
		}
		var s float64
		for i, v := range o.data {
			s += float64(v) * float64(r.data[i])
		}
		return s
	}

	if _, err := c.forward(x, true); err != nil {
		t.Fatal(err)
	}
	gradIn, err := c.backward(r)
	if err != nil {
		t.Fatal(err)
	}
	gradW := c.gradW.clone()
	gradB := c.gradB.clone()

	const eps = 5e-2
	const tol = 2e-3
	numeric := func(p *float32) float64 {
		orig := *p
		*p = orig + eps
		plus := objective()
		*p = orig - eps
		minus := objective()
		*p = orig
		return (plus - minus) / (2 * eps)
	}

	for _, i := range []int{0, 5, 17, 40, len(c.weights.data) - 1} {
		if got, want := float64(gradW.data[i]), numeric(&c.weights.data[i]); math.Abs(got-want) > tol {
			t.Errorf("dW[%d] = %v, numeric %v", i, got, want)
		}
	}
	for i := range c.bias.data {
		if got, want := float64(gradB.data[i]), numeric(&c.bias.data[i]); math.Abs(got-want) > tol {
			t.Errorf("dB[%d] = %v, numeric %v", i, got, want)
		}
	}
	for _, i := range []int{0, 1, 33, 101, len(x.data) - 1} {
		if got, want := float64(gradIn.data[i]), numeric(&x.data[i]); math.Abs(got-want) > tol {
			t.Errorf("dX[%d] = %v, numeric %v", i, got, want)
		}
	}
}

func TestConvSource(t *testing.T) {
	// stride 2, padding 1: input 3 is read by output 1 through tap 2 and
	// by output 2 through tap 0
	if o, ok := convSource(3, 2, 2, 1, 4); !ok || o != 1 {
		t.Errorf("convSource(3, 2) = %d, %v", o, ok)
	}
	if o, ok := convSource(3, 0, 2, 1, 4); !ok || o != 2 {
		t.Errorf("convSource(3, 0) = %d, %v", o, ok)
	}
	if _, ok := convSource(3, 1, 2, 1, 4); ok {
		t.Error("convSource(3, 1) should not map onto the stride grid")
	}
	if _, ok := convSource(7, 0, 2, 1, 4); ok {
		t.Error("convSource(7, 0) should be past the last output")
	}
}
