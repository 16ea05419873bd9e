package flow

import (
	"sync/atomic"
	"testing"
)

func TestParallelForCoversEveryIndex(t *testing.T) {
	for _, limit := range []int{0, 1, 4, 2000} {
		hits := make([]int32, 1000)
		var badWorker atomic.Bool
		effective := limit
		if effective < 1 {
			effective = 1
		}
		parallelFor(len(hits), limit, func(worker, i int) {
			if worker < 0 || worker >= effective {
				badWorker.Store(true)
			}
			atomic.AddInt32(&hits[i], 1)
		})
		if badWorker.Load() {
			t.Errorf("limit %d: worker id out of range", limit)
		}
		for i, h := range hits {
			if h != 1 {
				t.Fatalf("limit %d: index %d visited %d times", limit, i, h)
			}
		}
	}
}

func TestSetWorkersClamps(t *testing.T) {
	prev := Workers()
	defer SetWorkers(prev)
	SetWorkers(-3)
	if Workers() != 1 {
		t.Errorf("Workers() = %d after SetWorkers(-3)", Workers())
	}
}
