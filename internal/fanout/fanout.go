// Package fanout resolves a set of keys by issuing one lookup per key,
// all at once, and gathering the answers into a map.
//
// The backing stores answer single-partition reads quickly and punish wide
// IN queries, so reads that need many rows go through FetchMany instead of
// one multi-key query.
//
// RESULT CONTRACT:
//   - An empty key set returns an empty map and calls lookup zero times.
//   - Duplicate keys are looked up once.
//   - A key whose lookup reports found=false is absent from the map.
//   - Any lookup error fails the whole call. The first error wins and the
//     remaining lookups see a cancelled context.
//
// The map has no order. Callers that render lists re-project through their
// own ordered key slice.
package fanout

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/sakif/threadboard/internal/apperror"
)

// Lookup resolves a single key.
type Lookup[K comparable, V any] func(ctx context.Context, key K) (value V, found bool, err error)

// FetchMany runs lookup for every distinct key concurrently.
func FetchMany[K comparable, V any](ctx context.Context, keys []K, lookup Lookup[K, V]) (map[K]V, error) {
	result := make(map[K]V, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	var (
		mu   sync.Mutex
		seen = make(map[K]struct{}, len(keys))
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, key := range keys {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		key := key

		g.Go(func() error {
			v, found, err := lookup(gctx, key)
			if err != nil {
				return err
			}
			if !found {
				return nil
			}
			mu.Lock()
			result[key] = v
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

// Optional adapts a getter that signals absence with apperror.ErrNotFound
// into a Lookup. Every other error passes through.
func Optional[K comparable, V any](get func(ctx context.Context, key K) (V, error)) Lookup[K, V] {
	return func(ctx context.Context, key K) (V, bool, error) {
		v, err := get(ctx, key)
		if err != nil {
			var zero V
			if apperror.IsNotFound(err) {
				return zero, false, nil
			}
			return zero, false, err
		}
		return v, true, nil
	}
}

// Values returns the values of m for keys, in key order, skipping keys
// missing from m.
func Values[K comparable, V any](m map[K]V, keys []K) []V {
	out := make([]V, 0, len(keys))
	for _, k := range keys {
		if v, ok := m[k]; ok {
			out = append(out, v)
		}
	}
	return out
}
