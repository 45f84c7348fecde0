// ABOUTME: This file implements the bounded fan-out used for the concurrent fetch phase of a cycle
// ABOUTME: Results come back positionally aligned with the inputs so downstream dedupe stays ordered
package orchestrator

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// fanOutResult carries one worker's output together with its error. Slots
// line up with the input slice, so callers walk inputs and results in
// lockstep.
type fanOutResult[T any] struct {
	Value T
	Err   error
}

// fanOut applies fn to every input with at most limit workers in flight and
// returns the results in input order. Individual failures land in their slot;
// they never stop the other workers. Once the context is cancelled, inputs
// whose worker has not started yet get ctx.Err() instead of running.
func fanOut[In, Out any](ctx context.Context, limit int, inputs []In, fn func(context.Context, In) (Out, error)) []fanOutResult[Out] {
	if len(inputs) == 0 {
		return nil
	}
	if limit <= 0 {
		limit = 1
	}
	if limit > len(inputs) {
		limit = len(inputs)
	}

	results := make([]fanOutResult[Out], len(inputs))

	var g errgroup.Group
	g.SetLimit(limit)
	for i, input := range inputs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			out, err := fn(ctx, input)
			results[i] = fanOutResult[Out]{Value: out, Err: err}
			return nil
		})
	}
	// Workers report through their slot, never through the group.
	_ = g.Wait()
	return results
}
