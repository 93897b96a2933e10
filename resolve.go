package holocron

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Resolve fetches the entity a relationship URL points to. An empty url is
// an absent relationship: Resolve returns nil without any network call.
func Resolve[T any](ctx context.Context, c *Client, url string) (*T, error) {
	if url == "" {
		return nil, nil
	}
	return decode[T](ctx, c, url)
}

// ResolveMany resolves urls concurrently. The result has one element per
// input URL in input order; empty URLs yield nil elements. The first failure
// fails the whole call.
func ResolveMany[T any](ctx context.Context, c *Client, urls []string) ([]*T, error) {
	out := make([]*T, len(urls))
	if len(urls) == 0 {
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, u := range urls {
		if u == "" {
			continue
		}
		g.Go(func() error {
			v, err := decode[T](gctx, c, u)
			if err != nil {
				return err
			}
			out[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
