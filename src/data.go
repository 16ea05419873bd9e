package flow

import (
	"context"

	"github.com/pkg/errors"
)

// DataSource feeds samples to Fit and Evaluate. Sample order is owned by the
// caller: Load receives the indices of one batch.
type DataSource interface {
	Len() int
	SampleShape() []int
	// Load writes len(indices) samples into x (row-major, one
	// SampleShape block per sample) and their binary labels into y.
	Load(ctx context.Context, indices []int, x []float32, y []float32) error
}

// SliceSource is an in-memory DataSource.
type SliceSource struct {
	shape  []int
	inputs [][]float32
	labels []float32
}

// NewSliceSource checks that every sample has the size implied by shape.
func NewSliceSource(shape []int, inputs [][]float32, labels []float32) (*SliceSource, error) {
	if len(inputs) != len(labels) {
		return nil, errors.Errorf("flow: %d inputs but %d labels", len(inputs), len(labels))
	}
	size := shapeSize(shape)
	for i, x := range inputs {
		if len(x) != size {
			return nil, errors.Errorf("flow: sample %d has %d values, shape %v needs %d", i, len(x), shape, size)
		}
	}
	return &SliceSource{shape: shape, inputs: inputs, labels: labels}, nil
}

func (s *SliceSource) Len() int           { return len(s.inputs) }
func (s *SliceSource) SampleShape() []int { return s.shape }

func (s *SliceSource) Load(ctx context.Context, indices []int, x []float32, y []float32) error {
	size := shapeSize(s.shape)
	for i, idx := range indices {
		if idx < 0 || idx >= len(s.inputs) {
			return errors.Errorf("flow: sample index %d out of range [0, %d)", idx, len(s.inputs))
		}
		copy(x[i*size:(i+1)*size], s.inputs[idx])
		y[i] = s.labels[idx]
	}
	return nil
}

// loadBatch pulls one batch from src into freshly allocated tensors.
func loadBatch(ctx context.Context, src DataSource, indices []int) (*tensor, *tensor, error) {
	shape := append([]int{len(indices)}, src.SampleShape()...)
	x := newTensor(shape...)
	y := newTensor(len(indices), 1)
	if err := src.Load(ctx, indices, x.data, y.data); err != nil {
		return nil, nil, err
	}
	return x, y, nil
}

// batchIndices splits order into consecutive batches of at most size.
func batchIndices(order []int, size int) [][]int {
	var out [][]int
	for start := 0; start < len(order); start += size {
		end := start + size
		if end > len(order) {
			end = len(order)
		}
		out = append(out, order[start:end])
	}
	return out
}
