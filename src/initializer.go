package flow

import (
	"math"
	"math/rand"
)

// Initializer sets up initial weights for layers
type Initializer interface {
	initialize(t *tensor, fanIn, fanOut int, rng *rand.Rand)
	name() string
}

// KaimingUniformInit draws from U(-b, b) with
// b = gain * sqrt(6 / ((1 + a^2) * fanIn)).
// With A = sqrt(5) and Gain = 1 this is the default for torch Linear/Conv
// weights, i.e. b = 1/sqrt(fanIn).
type KaimingUniformInit struct {
	A    float64
	Gain float64
}

func KaimingUniform(a, gain float64) Initializer {
	return &KaimingUniformInit{A: a, Gain: gain}
}

// TorchDefault is KaimingUniform(sqrt(5), 1).
func TorchDefault() Initializer {
	return KaimingUniform(math.Sqrt(5), 1)
}

func (k *KaimingUniformInit) initialize(t *tensor, fanIn, fanOut int, rng *rand.Rand) {
	bound := k.Gain * math.Sqrt(6.0/((1+k.A*k.A)*float64(fanIn)))
	t.fillRandUniform(-bound, bound, rng)
}

func (k *KaimingUniformInit) name() string { return "kaiming_uniform" }

// FanInUniformInit draws from U(-1/sqrt(fanIn), 1/sqrt(fanIn)); the torch
// default for biases.
type FanInUniformInit struct{}

func FanInUniform() Initializer { return &FanInUniformInit{} }

func (f *FanInUniformInit) initialize(t *tensor, fanIn, fanOut int, rng *rand.Rand) {
	bound := 1.0 / math.Sqrt(float64(fanIn))
	t.fillRandUniform(-bound, bound, rng)
}

func (f *FanInUniformInit) name() string { return "fan_in_uniform" }

// HeNormalInit - He/Kaiming normal initialization
type HeNormalInit struct {
	Gain float64
}

func HeNormal(gain float64) Initializer {
	return &HeNormalInit{Gain: gain}
}

func (h *HeNormalInit) initialize(t *tensor, fanIn, fanOut int, rng *rand.Rand) {
	std := h.Gain * math.Sqrt(2.0/float64(fanIn))
	t.fillRandNorm(0, std, rng)
}

func (h *HeNormalInit) name() string { return "he_normal" }

// ZerosInit - initialize with zeros
type ZerosInit struct{}

func Zeros() Initializer { return &ZerosInit{} }

func (z *ZerosInit) initialize(t *tensor, fanIn, fanOut int, rng *rand.Rand) {
	t.zero()
}

func (z *ZerosInit) name() string { return "zeros" }

// ConstantInit - initialize with constant value
type ConstantInit struct {
	Value float64
}

func Constant(value float64) Initializer {
	return &ConstantInit{Value: value}
}

func (c *ConstantInit) initialize(t *tensor, fanIn, fanOut int, rng *rand.Rand) {
	t.fill(float32(c.Value))
}

func (c *ConstantInit) name() string { return "constant" }
