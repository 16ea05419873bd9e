package flow

import "math"

// Loss computes loss and gradients. Gradients include the reduction scale,
// so a "mean" loss already divides by the element count.
type Loss interface {
	compute(pred, target *tensor) float64
	gradient(pred, target *tensor, gradOut *tensor)
	name() string
}

// BCEWithLogitsLoss - binary cross-entropy on raw logits.
//
// l = max(z, 0) - z*y + log(1 + exp(-|z|)), optionally weighting positives.
type BCEWithLogitsLoss struct {
	Reduction string // "mean" or "sum"
	PosWeight float64
}

type BCEWithLogitsConfig struct {
	Reduction string
	PosWeight float64 // 0 means 1
}

func BCEWithLogits(config BCEWithLogitsConfig) Loss {
	pw := config.PosWeight
	if pw == 0 {
		pw = 1
	}
	return &BCEWithLogitsLoss{Reduction: config.Reduction, PosWeight: pw}
}

func (b *BCEWithLogitsLoss) compute(pred, target *tensor) float64 {
	var sum float64
	for i, zf := range pred.data {
		z := float64(zf)
		y := float64(target.data[i])
		// log(1 + exp(-z)) and log(1 + exp(z)) in stable form
		softNeg := math.Max(-z, 0) + math.Log1p(math.Exp(-math.Abs(z)))
		softPos := math.Max(z, 0) + math.Log1p(math.Exp(-math.Abs(z)))
		sum += b.PosWeight*y*softNeg + (1-y)*softPos
	}
	if b.Reduction == "mean" && len(pred.data) > 0 {
		return sum / float64(len(pred.data))
	}
	return sum
}

func (b *BCEWithLogitsLoss) gradient(pred, target *tensor, gradOut *tensor) {
	scale := 1.0
	if b.Reduction == "mean" && len(pred.data) > 0 {
		scale = 1.0 / float64(len(pred.data))
	}
	for i, zf := range pred.data {
		p := sigmoid(float64(zf))
		y := float64(target.data[i])
		// d/dz [w*y*softplus(-z) + (1-y)*softplus(z)]
		g := -b.PosWeight*y*(1-p) + (1-y)*p
		gradOut.data[i] = float32(scale * g)
	}
}

func (b *BCEWithLogitsLoss) name() string { return "bce_with_logits" }

// MSELoss - Mean Squared Error
type MSELoss struct {
	Reduction string // "mean" or "sum"
}

type MSEConfig struct {
	Reduction string
}

func MSE(config MSEConfig) Loss {
	return &MSELoss{Reduction: config.Reduction}
}

func (m *MSELoss) compute(pred, target *tensor) float64 {
	var sum float64
	for i := range pred.data {
		diff := float64(pred.data[i] - target.data[i])
		sum += diff * diff
	}
	if m.Reduction == "mean" && len(pred.data) > 0 {
		return sum / float64(len(pred.data))
	}
	return sum
}

func (m *MSELoss) gradient(pred, target *tensor, gradOut *tensor) {
	scale := 2.0
	if m.Reduction == "mean" && len(pred.data) > 0 {
		scale = 2.0 / float64(len(pred.data))
	}
	for i := range pred.data {
		gradOut.data[i] = float32(scale * float64(pred.data[i]-target.data[i]))
	}
}

func (m *MSELoss) name() string { return "mse" }
