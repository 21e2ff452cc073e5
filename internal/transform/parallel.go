package transform

import (
	"runtime"
	"sync"
)

// minChunk is the smallest number of elements handed to one goroutine.
const minChunk = 8192

// parallelFor calls f(i) for every i in [0, n). Large ranges are split into
// contiguous chunks run on separate goroutines; f must only write state owned
// by index i.
func parallelFor(n int, f func(i int)) {
	workers := runtime.GOMAXPROCS(0)
	if workers < 2 || n < 2*minChunk {
		for i := range n {
			f(i)
		}
		return
	}

	var wg sync.WaitGroup
	chunk := max((n+workers-1)/workers, minChunk)
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		wg.Go(func() {
			for i := start; i < end; i++ {
				f(i)
			}
		})
	}
	wg.Wait()
}
