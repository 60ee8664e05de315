package elo

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// FitPartitions fits batches that share no competitor concurrently.
// Disjointness is the caller's claim; it is checked before any partition is
// fitted and a shared competitor fails the whole call with
// ErrOverlappingPartitions. Ledgers are returned in partition order.
// Observers passed in opts are shared by all partitions and must be safe for
// concurrent use.
func FitPartitions(ctx context.Context, config Config, parts []Input, opts ...Option) ([]*Ledger, error) {
	engines := make([]*Engine, len(parts))
	owner := make(map[string]int)
	for i, in := range parts {
		e, err := NewEngine(config, in, opts...)
		if err != nil {
			return nil, fmt.Errorf("partition %d: %w", i, err)
		}
		for _, c := range e.batch.Competitors {
			if j, ok := owner[c]; ok {
				return nil, fmt.Errorf("%w: %q is in partitions %d and %d", ErrOverlappingPartitions, c, j, i)
			}
			owner[c] = i
		}
		engines[i] = e
	}

	ledgers := make([]*Ledger, len(engines))
	g, ctx := errgroup.WithContext(ctx)
	for i, e := range engines {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			ledgers[i] = e.Fit()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ledgers, nil
}
