package resolver

import (
	"context"

	"github.com/sourcegraph/conc/pool"
)

// Prefetch resolves urls into bucket with at most PrefetchConcurrency calls in
// flight. handles[i] corresponds to urls[i] and is nil when that URL failed;
// the returned error joins every failure.
func (r *Resolver) Prefetch(ctx context.Context, bucket string, urls []string) ([]*Handle, error) {
	const op = "prefetch"
	if len(urls) == 0 {
		return nil, invalidArgument(op, bucket, "", "at least one url is required")
	}

	handles := make([]*Handle, len(urls))
	p := pool.New().WithMaxGoroutines(r.prefetchConcurrency).WithContext(ctx)
	for i, url := range urls {
		p.Go(func(ctx context.Context) error {
			handle, err := r.Resolve(ctx, url, bucket, false)
			if err != nil {
				return err
			}
			handles[i] = handle
			return nil
		})
	}

	err := p.Wait()
	return handles, err
}
