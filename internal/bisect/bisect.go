// Package bisect isolates which of several concurrently-applied changes
// broke a validation gate, using binary search instead of one-at-a-time
// re-validation.
package bisect

import (
	"context"
	"fmt"
)

// Change is one discrete, independently-revertible modification applied
// during a fix pass, tagged with its producing worker.
type Change interface {
	// ID identifies the change.
	ID() string
	// Producer identifies the worker that produced the change.
	Producer() string
	// Apply puts the change in effect.
	Apply(ctx context.Context) error
	// Revert removes the change.
	Revert(ctx context.Context) error
}

// Gate is the boolean validation check consumed by the resolver.
type Gate interface {
	Check(ctx context.Context) (bool, error)
}

// Result partitions the change set after isolation.
type Result struct {
	Passing []Change
	Failing []Change
	// ValidationRuns counts gate invocations, bounded by ⌈log2(n)⌉+1.
	ValidationRuns int
}

// Isolate binary-searches a change set whose combined application failed the
// gate. All changes must currently be applied; on return only the passing
// changes remain applied and the failing change is reverted.
//
// The search assumes a single offending change, the overwhelmingly common
// case for independent fixes. With n changes it needs at most ⌈log2(n)⌉+1
// validation runs.
func Isolate(ctx context.Context, changes []Change, gate Gate) (*Result, error) {
	if len(changes) == 0 {
		return nil, fmt.Errorf("no changes to bisect")
	}

	res := &Result{}

	if len(changes) == 1 {
		// The gate already failed with exactly this change applied.
		if err := changes[0].Revert(ctx); err != nil {
			return nil, fmt.Errorf("reverting %s: %w", changes[0].ID(), err)
		}
		res.Failing = changes
		return res, nil
	}

	// Start from a clean slate: revert everything, then re-apply halves
	// in isolation.
	for i := len(changes) - 1; i >= 0; i-- {
		if err := changes[i].Revert(ctx); err != nil {
			return nil, fmt.Errorf("reverting %s: %w", changes[i].ID(), err)
		}
	}

	suspects := changes
	var passing []Change

	for len(suspects) > 1 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		half := suspects[:len(suspects)/2]
		rest := suspects[len(suspects)/2:]

		ok, err := checkWith(ctx, half, gate)
		if err != nil {
			return nil, err
		}
		res.ValidationRuns++

		if ok {
			// First half is clean; the offender hides in the rest.
			passing = append(passing, half...)
			suspects = rest
		} else {
			// Under the single-offender assumption the untested rest is
			// clean; the final confirmation run catches a second offender.
			passing = append(passing, rest...)
			suspects = half
		}
	}

	// Everything not under suspicion is retained.
	res.Failing = suspects
	res.Passing = passing

	// One final validation confirms the retained set is clean.
	ok, err := checkWith(ctx, res.Passing, gate)
	if err != nil {
		return nil, err
	}
	res.ValidationRuns++
	if !ok {
		// More than one offender; callers fall back to keeping nothing.
		for i := len(res.Passing) - 1; i >= 0; i-- {
			if err := res.Passing[i].Revert(ctx); err != nil {
				return nil, fmt.Errorf("reverting %s: %w", res.Passing[i].ID(), err)
			}
		}
		res.Failing = changes
		res.Passing = nil
		return res, nil
	}

	// Leave the passing set applied.
	for _, c := range res.Passing {
		if err := c.Apply(ctx); err != nil {
			return nil, fmt.Errorf("re-applying %s: %w", c.ID(), err)
		}
	}
	return res, nil
}

// checkWith applies only the given subset, runs the gate, and reverts the
// subset again.
func checkWith(ctx context.Context, subset []Change, gate Gate) (bool, error) {
	for _, c := range subset {
		if err := c.Apply(ctx); err != nil {
			return false, fmt.Errorf("applying %s: %w", c.ID(), err)
		}
	}
	ok, gateErr := gate.Check(ctx)
	for i := len(subset) - 1; i >= 0; i-- {
		if err := subset[i].Revert(ctx); err != nil {
			return false, fmt.Errorf("reverting %s: %w", subset[i].ID(), err)
		}
	}
	if gateErr != nil {
		return false, fmt.Errorf("validation gate: %w", gateErr)
	}
	return ok, nil
}
