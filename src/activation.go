package flow

import "math"

// Activation represents an activation function.
//
// Derivatives are expressed in terms of the activation's output so layers
// only keep their post-activation tensor around; forward may run in place
// (x == out).
type Activation interface {
	forward(x *tensor, out *tensor)
	backward(out *tensor, gradOut *tensor, gradIn *tensor)
	name() string
}

// ReLUActivation - Rectified Linear Unit
type ReLUActivation struct{}

func ReLU() Activation { return &ReLUActivation{} }

func (r *ReLUActivation) forward(x *tensor, out *tensor) {
	for i, v := range x.data {
		if v > 0 {
			out.data[i] = v
		} else {
			out.data[i] = 0
		}
	}
}

func (r *ReLUActivation) backward(out *tensor, gradOut *tensor, gradIn *tensor) {
	for i, v := range out.data {
		if v > 0 {
			gradIn.data[i] = gradOut.data[i]
		} else {
			gradIn.data[i] = 0
		}
	}
}

func (r *ReLUActivation) name() string { return "relu" }

// SigmoidActivation
type SigmoidActivation struct{}

func Sigmoid() Activation { return &SigmoidActivation{} }

func (s *SigmoidActivation) forward(x *tensor, out *tensor) {
	for i, v := range x.data {
		out.data[i] = float32(sigmoid(float64(v)))
	}
}

func (s *SigmoidActivation) backward(out *tensor, gradOut *tensor, gradIn *tensor) {
	for i, y := range out.data {
		gradIn.data[i] = gradOut.data[i] * y * (1 - y)
	}
}

func (s *SigmoidActivation) name() string { return "sigmoid" }

// LinearActivation - identity, used for logit heads
type LinearActivation struct{}

func Linear() Activation { return &LinearActivation{} }

func (l *LinearActivation) forward(x *tensor, out *tensor) {
	copy(out.data, x.data)
}

func (l *LinearActivation) backward(out *tensor, gradOut *tensor, gradIn *tensor) {
	copy(gradIn.data, gradOut.data)
}

func (l *LinearActivation) name() string { return "linear" }

// sigmoid in the numerically stable split form.
func sigmoid(v float64) float64 {
	if v >= 0 {
		return 1.0 / (1.0 + math.Exp(-v))
	}
	e := math.Exp(v)
	return e / (1.0 + e)
}
