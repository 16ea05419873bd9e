package flow

import "math"

// Optimizer updates network parameters. The learning rate is mutable so
// plateau and SWA policies can drive it between epochs.
type Optimizer interface {
	init(params []*tensor)
	step(params []*tensor, grads []*tensor)
	learningRate() float64
	setLearningRate(lr float64)
	name() string
}

// AdamOptimizer - Adaptive Moment Estimation (L2-coupled weight decay)
type AdamOptimizer struct {
	LR          float64
	Beta1       float64
	Beta2       float64
	Epsilon     float64
	WeightDecay float64
	AMSGrad     bool
	m           [][]float64
	v           [][]float64
	vMax        [][]float64
	t           int
	initialized bool
}

type AdamConfig struct {
	LR          float64
	Beta1       float64
	Beta2       float64
	Epsilon     float64
	WeightDecay float64
	AMSGrad     bool
}

func Adam(config AdamConfig) Optimizer {
	return &AdamOptimizer{
		LR:          config.LR,
		Beta1:       config.Beta1,
		Beta2:       config.Beta2,
		Epsilon:     config.Epsilon,
		WeightDecay: config.WeightDecay,
		AMSGrad:     config.AMSGrad,
	}
}

func (a *AdamOptimizer) init(params []*tensor) {
	a.m = make([][]float64, len(params))
	a.v = make([][]float64, len(params))
	if a.AMSGrad {
		a.vMax = make([][]float64, len(params))
	}
	for i, p := range params {
		a.m[i] = make([]float64, len(p.data))
		a.v[i] = make([]float64, len(p.data))
		if a.AMSGrad {
			a.vMax[i] = make([]float64, len(p.data))
		}
	}
	a.t = 0
	a.initialized = true
}

func (a *AdamOptimizer) step(params []*tensor, grads []*tensor) {
	if !a.initialized {
		a.init(params)
	}
	a.t++
	bc1 := 1 - math.Pow(a.Beta1, float64(a.t))
	bc2 := 1 - math.Pow(a.Beta2, float64(a.t))

	for i, p := range params {
		g := grads[i]
		m := a.m[i]
		v := a.v[i]

		for j, pv := range p.data {
			grad := float64(g.data[j])
			if a.WeightDecay != 0 {
				grad += a.WeightDecay * float64(pv)
			}
			m[j] = a.Beta1*m[j] + (1-a.Beta1)*grad
			v[j] = a.Beta2*v[j] + (1-a.Beta2)*grad*grad

			vHat := v[j] / bc2
			if a.AMSGrad {
				if vHat > a.vMax[i][j] {
					a.vMax[i][j] = vHat
				}
				vHat = a.vMax[i][j]
			}

			p.data[j] = float32(float64(pv) - a.LR*(m[j]/bc1)/(math.Sqrt(vHat)+a.Epsilon))
		}
	}
}

func (a *AdamOptimizer) learningRate() float64     { return a.LR }
func (a *AdamOptimizer) setLearningRate(lr float64) { a.LR = lr }
func (a *AdamOptimizer) name() string               { return "adam" }

// SGDOptimizer - Stochastic Gradient Descent with optional momentum
type SGDOptimizer struct {
	LR          float64
	Momentum    float64
	WeightDecay float64
	velocities  [][]float64
	initialized bool
}

type SGDConfig struct {
	LR          float64
	Momentum    float64
	WeightDecay float64
}

func SGD(config SGDConfig) Optimizer {
	return &SGDOptimizer{
		LR:          config.LR,
		Momentum:    config.Momentum,
		WeightDecay: config.WeightDecay,
	}
}

func (s *SGDOptimizer) init(params []*tensor) {
	s.velocities = make([][]float64, len(params))
	for i, p := range params {
		s.velocities[i] = make([]float64, len(p.data))
	}
	s.initialized = true
}

func (s *SGDOptimizer) step(params []*tensor, grads []*tensor) {
	if !s.initialized {
		s.init(params)
	}
	for i, p := range params {
		g := grads[i]
		v := s.velocities[i]
		for j, pv := range p.data {
			grad := float64(g.data[j])
			if s.WeightDecay != 0 {
				grad += s.WeightDecay * float64(pv)
			}
			if s.Momentum != 0 {
				v[j] = s.Momentum*v[j] + grad
				grad = v[j]
			}
			p.data[j] = float32(float64(pv) - s.LR*grad)
		}
	}
}

func (s *SGDOptimizer) learningRate() float64     { return s.LR }
func (s *SGDOptimizer) setLearningRate(lr float64) { s.LR = lr }
func (s *SGDOptimizer) name() string               { return "sgd" }
