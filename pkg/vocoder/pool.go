package vocoder

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// forEachFrame calls fn for every index in [0, n) on up to workers
// goroutines (GOMAXPROCS when workers is 0). newState runs once per
// goroutine and provides its scratch space. fn must only write to memory
// owned by index i or by its state.
func forEachFrame[S any](n, workers int, newState func() S, fn func(s S, i int)) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	workers = min(workers, n)
	if workers <= 1 {
		s := newState()
		for i := range n {
			fn(s, i)
		}
		return
	}

	var next atomic.Int64
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := newState()
			for {
				i := int(next.Add(1) - 1)
				if i >= n {
					return
				}
				fn(s, i)
			}
		}()
	}
	wg.Wait()
}
