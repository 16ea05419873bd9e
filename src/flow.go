// Package flow is a small CPU training engine for volumetric classifiers.
//
// Flow provides a power-user focused API with explicit configuration
// and no hidden defaults. Every hyperparameter must be specified.
//
// Basic usage:
//
//	net, err := flow.NewNetwork(flow.NetworkConfig{Seed: 42}).
//		AddLayer(flow.Conv3D(16, 3).
//			WithStride(2).
//			WithActivation(flow.ReLU()).
//			WithInitializer(flow.TorchDefault()).
//			WithBiasInitializer(flow.FanInUniform()).
//			WithBias(true).
//			Build()).
//		AddLayer(flow.Flatten().Build()).
//		AddLayer(flow.Dense(1).
//			WithActivation(flow.Linear()).
//			WithInitializer(flow.TorchDefault()).
//			WithBiasInitializer(flow.FanInUniform()).
//			WithBias(true).
//			Build()).
//		Build([]int{32, 32, 32, 1})
//
//	err = net.Compile(flow.CompileConfig{
//		Optimizer: flow.Adam(flow.AdamConfig{
//			LR:          1e-4,
//			Beta1:       0.9,
//			Beta2:       0.999,
//			Epsilon:     1e-8,
//			WeightDecay: 0.0,
//			AMSGrad:     false,
//		}),
//		Loss:    flow.BCEWithLogits(flow.BCEWithLogitsConfig{Reduction: "mean"}),
//		Metrics: []flow.Metric{flow.BinaryAccuracy(flow.BinaryAccuracyConfig{Threshold: 0}), flow.ROCAUC()},
//		GradientClip: flow.GradientClipConfig{
//			Mode:    "norm",
//			MaxNorm: 1.0,
//		},
//	})
//
//	result, err := net.Fit(ctx, trainSource, valSource, flow.FitConfig{
//		MaxEpochs: 100,
//		BatchSize: 6,
//		Shuffle:   true,
//	}, []flow.Callback{
//		flow.EarlyStopping(flow.EarlyStoppingConfig{Monitor: "loss/val", Patience: 60, Mode: "min"}),
//		flow.PrintProgress(flow.PrintProgressConfig{PrintEvery: 10}),
//	})
//
// Tensors are float32, channels-last (batch, depth, height, width,
// channels); reductions accumulate in float64.
package flow

// Version of the Flow library
const Version = "2.0.0"
