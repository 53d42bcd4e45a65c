// Package parallel implements the data-parallel worker pool the safe
// engine uses to rerandomize blocks and to search for group parameters.
// The dispatch shape (a shared wait group, a worker count defaulting to
// the number of CPUs, and a cancellable shutdown channel) follows the
// pattern cloudflared's ingress package uses to start origin services
// (cloudflare-cloudflared/ingress/ingress.go: StartOrigins(wg, log,
// shutdownC, errC)); the chunking and per-worker RNG reseeding are
// specific to this module's own concurrency needs.
package parallel

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
)

// DefaultChunkSize is the number of items dispatched to a worker at a
// time.
const DefaultChunkSize = 16

// AtomicAddInt64 adds delta to *addr and returns the new value. Exported
// so sibling packages (elgamal's group-parameter search) can share a
// single counter across worker goroutines without importing sync/atomic
// themselves at every call site.
func AtomicAddInt64(addr *int64, delta int64) int64 {
	return atomic.AddInt64(addr, delta)
}

// Fanout starts n (or runtime.NumCPU() if n <= 0) copies of work, each
// receiving its own worker index and a stop channel it should poll (or
// select on) to know when to give up early. Closing the returned channel
// requests that every worker stop; Fanout does not wait for them to exit.
func Fanout(n int, work func(workerID int, stop <-chan struct{})) chan struct{} {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	stop := make(chan struct{})
	for i := 0; i < n; i++ {
		go func(id int) {
			work(id, stop)
		}(i)
	}
	return stop
}

// Initializer is run once per worker goroutine before it processes any
// chunk. The safe engine uses it to reseed the worker's random source, so
// that no two workers ever share a random stream.
type Initializer func(workerID int)

// Map applies fn to every item in items, distributing work across nworkers
// goroutines (runtime.NumCPU() if nworkers <= 0) in chunks of chunkSize
// (DefaultChunkSize if <= 0). Results are written back into the same
// index they were read from, so item i in corresponds to result i out.
// If init is non-nil it runs once per worker before that worker's first
// chunk. If progress is non-nil it is called after each completed item
// with the number of items completed so far across all workers. The
// first error returned by fn aborts dispatch of further chunks and is
// returned to the caller once in-flight chunks finish; items that never
// started are left as their zero value in the result slice.
func Map[T any, R any](ctx context.Context, items []T, fn func(T) (R, error), nworkers, chunkSize int, init Initializer, progress func(done int)) ([]R, error) {
	if nworkers <= 0 {
		nworkers = runtime.NumCPU()
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	results := make([]R, len(items))
	type chunk struct {
		start, end int
	}
	chunks := make(chan chunk, (len(items)+chunkSize-1)/chunkSize+1)
	for start := 0; start < len(items); start += chunkSize {
		end := start + chunkSize
		if end > len(items) {
			end = len(items)
		}
		chunks <- chunk{start, end}
	}
	close(chunks)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		firstErr  error
		completed int
	)
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for w := 0; w < nworkers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			if init != nil {
				init(workerID)
			}
			for c := range chunks {
				select {
				case <-cctx.Done():
					return
				default:
				}
				for i := c.start; i < c.end; i++ {
					r, err := fn(items[i])
					if err != nil {
						mu.Lock()
						if firstErr == nil {
							firstErr = err
							cancel()
						}
						mu.Unlock()
						return
					}
					results[i] = r
					if progress != nil {
						mu.Lock()
						completed++
						n := completed
						mu.Unlock()
						progress(n)
					}
				}
			}
		}(w)
	}
	wg.Wait()

	if firstErr != nil {
		return results, firstErr
	}
	return results, nil
}
