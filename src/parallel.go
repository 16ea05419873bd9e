package flow

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/klauspost/cpuid/v2"
)

var workers atomic.Int32

func init() {
	n := cpuid.CPU.LogicalCores
	if n <= 0 {
		n = runtime.NumCPU()
	}
	workers.Store(int32(n))
}

// Workers reports how many goroutines the conv kernels fan out to.
func Workers() int {
	return int(workers.Load())
}

// SetWorkers overrides the worker count. Values below 1 are clamped to 1.
func SetWorkers(n int) {
	if n < 1 {
		n = 1
	}
	workers.Store(int32(n))
}

// CPUSummary describes the host CPU for run logs.
func CPUSummary() string {
	return fmt.Sprintf("%s (%d logical cores, avx2=%t fma3=%t avx512f=%t)",
		cpuid.CPU.BrandName, cpuid.CPU.LogicalCores,
		cpuid.CPU.Supports(cpuid.AVX2), cpuid.CPU.Supports(cpuid.FMA3),
		cpuid.CPU.Supports(cpuid.AVX512F))
}

// parallelFor runs body for every i in [0, length) on at most limit
// goroutines. Each goroutine has a stable worker id in [0, limit) so callers
// can keep per-worker scratch space. Indices are handed out through an
// atomic counter.
func parallelFor(length, limit int, body func(worker, i int)) {
	if length <= 0 {
		return
	}
	if limit <= 0 {
		limit = 1
	}
	if limit > length {
		limit = length
	}
	if limit == 1 {
		for i := 0; i < length; i++ {
			body(0, i)
		}
		return
	}

	var next int64 = -1
	var wg sync.WaitGroup
	wg.Add(limit)
	for w := 0; w < limit; w++ {
		go func(worker int) {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&next, 1))
				if i >= length {
					return
				}
				body(worker, i)
			}
		}(w)
	}
	wg.Wait()
}
