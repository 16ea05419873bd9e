package adni

import (
	"github.com/pkg/errors"

	flow "adnicnn/src"
)

// ModelName identifies the architecture in logs and checkpoints.
const ModelName = "Tiny-ADNI-CNN2"

// convStages are the (kernel, stride) pairs of the feature extractor.
var convStages = [][2]int{
	{5, 1}, {5, 2},
	{3, 1}, {3, 2},
	{3, 1}, {3, 2},
	{3, 1}, {3, 2},
}

const (
	convFilters = 16
	hiddenUnits = 32
	dropoutRate = 0.5
)

// NewModel builds the volumetric classifier for single-channel volumes of
// shape [D, H, W]: eight valid-padded Conv3D+ReLU stages, then dropout, a
// 32-unit hidden layer and a single-logit head.
func NewModel(shape []int, seed int64) (*flow.Network, error) {
	if len(shape) != 3 {
		return nil, errors.Errorf("adni: model input must be [D, H, W], got %v", shape)
	}

	b := flow.NewNetwork(flow.NetworkConfig{Seed: seed})
	for _, st := range convStages {
		b.AddLayer(flow.Conv3D(convFilters, st[0]).
			WithStride(st[1]).
			WithPadding(0).
			WithActivation(flow.ReLU()).
			WithInitializer(flow.TorchDefault()).
			WithBiasInitializer(flow.FanInUniform()).
			WithBias(true).
			Build())
	}
	b.AddLayer(flow.Flatten().Build()).
		AddLayer(flow.Dropout(dropoutRate).Build()).
		AddLayer(flow.Dense(hiddenUnits).
			WithActivation(flow.ReLU()).
			WithInitializer(flow.TorchDefault()).
			WithBiasInitializer(flow.FanInUniform()).
			WithBias(true).
			Build()).
		AddLayer(flow.Dropout(dropoutRate).Build()).
		AddLayer(flow.Dense(1).
			WithActivation(flow.Linear()).
			WithInitializer(flow.TorchDefault()).
			WithBiasInitializer(flow.FanInUniform()).
			WithBias(true).
			Build())

	net, err := b.Build([]int{shape[0], shape[1], shape[2], 1})
	if err != nil {
		return nil, errors.Wrapf(err, "adni: building %s for %v", ModelName, shape)
	}
	return net, nil
}

// FeatureWidth is the flattened size after the conv stages for a [D, H, W]
// input, 8192 for 182^3 volumes.
func FeatureWidth(shape []int) int {
	width := convFilters
	for _, n := range shape {
		for _, st := range convStages {
			n = (n-st[0])/st[1] + 1
		}
		width *= n
	}
	return width
}

// Optimizers is the optimizer plus the plateau policy driving its rate.
type Optimizers struct {
	Optimizer flow.Optimizer
	Plateau   flow.MetricScheduler
	Monitor   string
}

// ConfigureOptimizers returns Adam at 1e-4 with a plateau halving of the
// rate after 10 epochs without relative improvement of the validation loss.
func ConfigureOptimizers() Optimizers {
	return Optimizers{
		Optimizer: flow.Adam(flow.AdamConfig{
			LR:          1e-4,
			Beta1:       0.9,
			Beta2:       0.999,
			Epsilon:     1e-8,
			WeightDecay: 0,
			AMSGrad:     false,
		}),
		Plateau: flow.ReduceLROnPlateau(flow.ReduceLROnPlateauConfig{
			Mode:          "min",
			Factor:        0.5,
			Patience:      10,
			Threshold:     1e-4,
			ThresholdMode: "rel",
			Cooldown:      0,
			MinLR:         0,
			Eps:           1e-8,
		}),
		Monitor: "loss/val",
	}
}
