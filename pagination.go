package holocron

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/holocron-labs/holocron/swapi"
)

// ErrPaginationCycle is returned when a listing's next link points back to a
// page that was already fetched.
var ErrPaginationCycle = errors.New("pagination cycle")

// FetchAllPages collects every result of a paginated listing, starting at
// endpoint and following next links until the last page. Results keep page
// order. Any page failure aborts the walk and no partial result is returned.
func FetchAllPages[T any](ctx context.Context, c *Client, endpoint string) ([]T, error) {
	next := swapi.Canonicalize(c.cfg.BaseURL, endpoint)
	seen := make(map[string]struct{})
	all := make([]T, 0)

	for next != "" {
		if _, ok := seen[next]; ok {
			return nil, fmt.Errorf("%w: %s", ErrPaginationCycle, next)
		}
		seen[next] = struct{}{}

		page, err := decode[swapi.Page[T]](ctx, c, next)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Results...)

		next = page.NextURL()
		if next != "" {
			next = swapi.Canonicalize(c.cfg.BaseURL, next)
		}
	}
	return all, nil
}

// Search returns every entity of resource whose searchable fields match
// query, using the API's ?search= filter across all result pages.
func Search[T any](ctx context.Context, c *Client, resource swapi.Resource, query string) ([]T, error) {
	return FetchAllPages[T](ctx, c, resource.Endpoint()+"?search="+url.QueryEscape(query))
}
