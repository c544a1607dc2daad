package resolve

import (
	"context"
	"sync"

	"lenderscan/internal/domain"
)

// DefaultWorkers bounds concurrent in-flight receipt fetches. Kept small
// to respect upstream rate limits.
const DefaultWorkers = 8

// ResolveAll resolves candidates on a bounded worker pool and returns the
// deltas in candidate order with unresolvable entries dropped. Resolution
// is parallel; callers still aggregate the returned deltas sequentially.
func (r *Resolver) ResolveAll(ctx context.Context, candidates []domain.CandidateTransaction, workers int) ([]domain.SignedDelta, error) {
	if workers < 1 {
		workers = DefaultWorkers
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	results := make([]*domain.SignedDelta, len(candidates))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				delta, err := r.Resolve(ctx, candidates[i])
				if err != nil {
					// Context cancellation; remaining slots stay nil.
					return
				}
				results[i] = delta
			}
		}()
	}

	for i := range candidates {
		select {
		case jobs <- i:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return nil, ctx.Err()
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	deltas := make([]domain.SignedDelta, 0, len(candidates))
	for _, d := range results {
		if d != nil {
			deltas = append(deltas, *d)
		}
	}
	return deltas, nil
}
