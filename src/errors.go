package flow

import (
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"
)

// Sentinel errors returned by Network methods.
var (
	ErrNotBuilt    = errors.New("flow: network or layer not built")
	ErrNotCompiled = errors.New("flow: network must be compiled first")
	ErrEmptySource = errors.New("flow: data source has no samples")
)

// FlowError reports an engine fault with enough location context to find
// the offending layer.
type FlowError struct {
	Component     string // "Conv3D", "Dense", "Loss", ...
	ErrorType     string // "shape mismatch", "NaN detected"
	LayerIndex    int    // 0-indexed position, -1 when not tied to a layer
	Phase         string // "build", "forward", "backward", "loss", "step"
	InputShape    []int
	ExpectedShape []int
	Stats         *TensorStats
	Cause         string
}

// Error implements the error interface
func (e *FlowError) Error() string {
	var b strings.Builder

	fmt.Fprintf(&b, "flow: %s %s", e.Component, e.ErrorType)
	if e.LayerIndex >= 0 {
		fmt.Fprintf(&b, " at layer %d", e.LayerIndex)
	}
	if e.Phase != "" {
		fmt.Fprintf(&b, " (%s)", e.Phase)
	}
	if e.InputShape != nil {
		fmt.Fprintf(&b, "\n  input:    %v", e.InputShape)
	}
	if e.ExpectedShape != nil {
		fmt.Fprintf(&b, "\n  expected: %v", e.ExpectedShape)
	}
	if e.Stats != nil {
		fmt.Fprintf(&b, "\n  values:   %s", e.Stats)
	}
	fmt.Fprintf(&b, "\n  cause:    %s", e.Cause)

	return b.String()
}

// TensorStats summarizes a buffer for error reports.
type TensorStats struct {
	Size     int
	NaNCount int
	InfCount int
	Min, Max float64
}

func (s *TensorStats) String() string {
	if s.NaNCount > 0 || s.InfCount > 0 {
		return fmt.Sprintf("size=%d corrupt: %d NaN, %d Inf", s.Size, s.NaNCount, s.InfCount)
	}
	return fmt.Sprintf("size=%d range=[%.4g, %.4g]", s.Size, s.Min, s.Max)
}

func scanTensor(t *tensor) *TensorStats {
	s := &TensorStats{Size: len(t.data), Min: math.Inf(1), Max: math.Inf(-1)}
	for _, v := range t.data {
		f := float64(v)
		switch {
		case math.IsNaN(f):
			s.NaNCount++
		case math.IsInf(f, 0):
			s.InfCount++
		default:
			s.Min = math.Min(s.Min, f)
			s.Max = math.Max(s.Max, f)
		}
	}
	if math.IsInf(s.Min, 1) {
		s.Min, s.Max = 0, 0
	}
	return s
}

// layerError tags err with the layer that produced it, keeping FlowError
// values intact so callers can still type-assert them.
func layerError(err error, index int, l Layer, phase string) error {
	var fe *FlowError
	if errors.As(err, &fe) {
		fe.LayerIndex = index
		if fe.Phase == "" {
			fe.Phase = phase
		}
		return fe
	}
	return errors.Wrapf(err, "flow: layer %d (%s) %s", index, l.name(), phase)
}
