// Package parallel provides the parallel-for primitive shared by tensor batch
// operations and the convolution engine.
package parallel

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/FlavioCFOliveira/goconv/internal/envconfig"
)

// Workers normalizes a requested worker count.
// Values <= 0 select envconfig.NumThreads.
func Workers(n int) int {
	if n > 0 {
		return n
	}
	if envconfig.NumThreads > 0 {
		return envconfig.NumThreads
	}
	return 1
}

// For splits [0, n) into contiguous chunks and calls fn once per chunk, with at
// most workers chunks running at the same time. Chunks never overlap, so fn may
// write to any index in [lo, hi) without synchronization.
//
// For returns after every started chunk has finished. It returns the first
// error reported by fn, or the context error if ctx was cancelled before all
// chunks were started.
func For(ctx context.Context, n, workers int, fn func(lo, hi int) error) error {
	if n <= 0 {
		return nil
	}

	workers = min(Workers(workers), n)
	if workers == 1 {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fn(0, n)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	chunkSize := (n + workers - 1) / workers
	for start := 0; start < n; start += chunkSize {
		lo, hi := start, min(start+chunkSize, n)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(lo, hi)
		})
	}

	return g.Wait()
}
