package concurrent

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// maxFanOutConcurrency bounds how many coroutine waits a single WaitAll
// call runs at once, so a script awaiting thousands of coroutines can't
// pile up an unbounded number of blocked OS threads.
const maxFanOutConcurrency = 64

// WaitAll blocks until every coroutine in cos has finished, grounded on
// the teacher's own EvalOptions.Concurrency/EvalMany design (see
// evaluator.go's doc comment: "the evaluator supports concurrent
// evaluation of independent expressions") generalized from "evaluate N
// independent expressions" to "await N independent coroutines" per
// SPEC_FULL.md §4.7. The waits run concurrently, bounded by a
// semaphore.Weighted, and the first error cancels the rest via
// errgroup.WithContext's shared context — first-error propagation,
// exactly as an errgroup-based EvalMany would short-circuit on the
// first failing expression.
func WaitAll(ctx context.Context, cos []*Coroutine) error {
	sem := semaphore.NewWeighted(maxFanOutConcurrency)
	g, gctx := errgroup.WithContext(ctx)
	for _, co := range cos {
		co := co
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			select {
			case <-co.done:
				return co.Wait()
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	return g.Wait()
}
