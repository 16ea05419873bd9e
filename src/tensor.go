package flow

import (
	"math"
	"math/rand"
)

// tensor is the engine's dense buffer. Layout is row-major with the batch
// axis first and channels last: [N, D, H, W, C] for volumes, [N, F] after
// Flatten. Storage is float32; reductions accumulate in float64.
type tensor struct {
	data  []float32
	shape []int
}

func newTensor(shape ...int) *tensor {
	s := make([]int, len(shape))
	copy(s, shape)
	return &tensor{
		data:  make([]float32, shapeSize(s)),
		shape: s,
	}
}

// view returns a tensor sharing data with t under a different shape.
func (t *tensor) view(shape ...int) *tensor {
	s := make([]int, len(shape))
	copy(s, shape)
	return &tensor{data: t.data, shape: s}
}

func shapeSize(shape []int) int {
	size := 1
	for _, s := range shape {
		if s <= 0 {
			return 0
		}
		size *= s
	}
	return size
}

func (t *tensor) size() int {
	return len(t.data)
}

// rows is the leading (batch) dimension.
func (t *tensor) rows() int {
	if len(t.shape) == 0 {
		return 0
	}
	return t.shape[0]
}

// cols is the per-sample element count.
func (t *tensor) cols() int {
	if t.rows() == 0 {
		return 0
	}
	return len(t.data) / t.rows()
}

func (t *tensor) fill(value float32) {
	for i := range t.data {
		t.data[i] = value
	}
}

func (t *tensor) zero() {
	t.fill(0)
}

func (t *tensor) fillRandNorm(mean, std float64, rng *rand.Rand) {
	for i := range t.data {
		t.data[i] = float32(rng.NormFloat64()*std + mean)
	}
}

func (t *tensor) fillRandUniform(low, high float64, rng *rand.Rand) {
	for i := range t.data {
		t.data[i] = float32(rng.Float64()*(high-low) + low)
	}
}

func (t *tensor) clone() *tensor {
	nt := newTensor(t.shape...)
	copy(nt.data, t.data)
	return nt
}

// out[m,n] = a[m,k] @ b[k,n]
func matmul(a, b, out *tensor) {
	m, k, n := a.shape[0], a.shape[1], b.shape[1]
	for i := 0; i < m; i++ {
		row := out.data[i*n : (i+1)*n]
		for j := range row {
			row[j] = 0
		}
		for l := 0; l < k; l++ {
			av := a.data[i*k+l]
			if av == 0 {
				continue
			}
			brow := b.data[l*n : (l+1)*n]
			for j, bv := range brow {
				row[j] += av * bv
			}
		}
	}
}

// out[k,n] += a[m,k]^T @ b[m,n]
func matmulTransAAcc(a, b, out *tensor) {
	m, k, n := a.shape[0], a.shape[1], b.shape[1]
	for i := 0; i < m; i++ {
		brow := b.data[i*n : (i+1)*n]
		for l := 0; l < k; l++ {
			av := a.data[i*k+l]
			if av == 0 {
				continue
			}
			orow := out.data[l*n : (l+1)*n]
			for j, bv := range brow {
				orow[j] += av * bv
			}
		}
	}
}

// out[m,k] = a[m,n] @ b[k,n]^T
func matmulTransB(a, b, out *tensor) {
	m, n, k := a.shape[0], a.shape[1], b.shape[0]
	for i := 0; i < m; i++ {
		arow := a.data[i*n : (i+1)*n]
		for l := 0; l < k; l++ {
			brow := b.data[l*n : (l+1)*n]
			var sum float64
			for j, av := range arow {
				sum += float64(av) * float64(brow[j])
			}
			out.data[i*k+l] = float32(sum)
		}
	}
}

func addRowVec(a *tensor, b *tensor) {
	n := len(b.data)
	for i := range a.data {
		a.data[i] += b.data[i%n]
	}
}

func mulScalar(a *tensor, s float64) {
	for i := range a.data {
		a.data[i] = float32(float64(a.data[i]) * s)
	}
}

func clip(a *tensor, min, max float32) {
	for i, v := range a.data {
		if v < min {
			a.data[i] = min
		} else if v > max {
			a.data[i] = max
		}
	}
}

func sqNorm(a *tensor) float64 {
	var sum float64
	for _, v := range a.data {
		sum += float64(v) * float64(v)
	}
	return sum
}

func hasNonFinite(a *tensor) bool {
	for _, v := range a.data {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return true
		}
	}
	return false
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
