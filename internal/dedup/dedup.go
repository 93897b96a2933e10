// Package dedup collapses concurrent fetches of the same resource into a
// single underlying operation. It wraps golang.org/x/sync/singleflight with
// a typed API, context-aware waiting and waiter accounting.
package dedup

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/holocron-labs/holocron/internal/metrics"
)

// Group deduplicates in-flight calls by key. The zero value is not usable;
// create one with New.
type Group[T any] struct {
	sf singleflight.Group

	mu      sync.Mutex
	waiters map[string]int
}

// New creates an empty Group.
func New[T any]() *Group[T] {
	return &Group[T]{waiters: make(map[string]int)}
}

// Do runs fn for key unless a call for key is already in flight, in which
// case the caller joins it and receives the identical value or error.
// shared reports whether the result was delivered to more than one caller.
//
// fn runs detached from the caller's cancellation so that one caller giving
// up does not fail the call for the others; a caller whose ctx ends stops
// waiting and gets ctx.Err(). The key is released as soon as fn returns,
// whether it succeeded or failed.
func (g *Group[T]) Do(ctx context.Context, key string, fn func(context.Context) (T, error)) (v T, shared bool, err error) {
	detached := context.WithoutCancel(ctx)

	g.mu.Lock()
	g.waiters[key]++
	joined := g.waiters[key] > 1
	ch := g.sf.DoChan(key, func() (result interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("dedup: call for %q panicked: %v", key, r)
			}
		}()
		return fn(detached)
	})
	g.mu.Unlock()

	if joined {
		metrics.DedupShared.Inc()
	}
	defer g.leave(key)

	select {
	case res := <-ch:
		if res.Err != nil {
			return v, res.Shared, res.Err
		}
		v, _ = res.Val.(T)
		return v, res.Shared, nil
	case <-ctx.Done():
		return v, joined, ctx.Err()
	}
}

// Waiters returns the number of callers currently waiting on key.
func (g *Group[T]) Waiters(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.waiters[key]
}

// Pending returns the number of keys with at least one waiting caller.
func (g *Group[T]) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.waiters)
}

func (g *Group[T]) leave(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.waiters[key] <= 1 {
		delete(g.waiters, key)
		return
	}
	g.waiters[key]--
}
