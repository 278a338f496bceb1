package shared

import (
	"context"

	"go.uber.org/multierr"
	"golang.org/x/sync/semaphore"
)

// PMap applies fn to each item with at most concurrency in flight at once,
// preserving input order in the returned results, the way capi.Client.all
// fans a batch operation out across a bounded worker pool (spec.md section
// 5). Non-fatal per-item errors are aggregated with multierr rather than
// stopping the whole run, unless stopOnError is set, in which case the
// first error cancels the remaining work and is returned alone.
func PMap[T, R any](ctx context.Context, items []T, concurrency int, stopOnError bool, fn func(context.Context, T) (R, error)) ([]R, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	results := make([]R, len(items))
	errs := make([]error, len(items))

	sem := semaphore.NewWeighted(int64(concurrency))
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{}, len(items))
	for i, item := range items {
		if err := sem.Acquire(ctx, 1); err != nil {
			errs[i] = err
			done <- struct{}{}
			continue
		}
		go func(i int, item T) {
			defer sem.Release(1)
			defer func() { done <- struct{}{} }()
			r, err := fn(ctx, item)
			results[i] = r
			if err != nil {
				errs[i] = err
				if stopOnError {
					cancel()
				}
			}
		}(i, item)
	}
	for range items {
		<-done
	}

	var combined error
	for _, err := range errs {
		if err != nil {
			combined = multierr.Append(combined, err)
			if stopOnError {
				return results, err
			}
		}
	}
	return results, combined
}
