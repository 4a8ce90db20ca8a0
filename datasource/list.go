package datasource

import (
	"context"

	"github.com/briangreenhill/adminpanel/listfetch"
)

// ListOption configures a list view
type ListOption[P any, V any] func(*listView[P, V])

type listView[P any, V any] struct {
	key      func(P) string
	onCommit func(listfetch.Result[P, V])
}

// ListKey derives the cache key of a list load from its params. It only
// matters when the Source was built WithListTTL; without a key function
// list loads are never cached.
func ListKey[P any, V any](fn func(P) string) ListOption[P, V] {
	return func(l *listView[P, V]) { l.key = fn }
}

// ListCommit sets the callback receiving committed list results
func ListCommit[P any, V any](fn func(listfetch.Result[P, V])) ListOption[P, V] {
	return func(l *listView[P, V]) { l.onCommit = fn }
}

// NewListView builds the fetcher owned by one list view. Each Load on it
// supersedes the previous one. Lists bypass the cache unless the Source
// has a list TTL and a ListKey is given.
func NewListView[P any, V any](src *Source[V], fetch func(ctx context.Context, params P) (V, error), opts ...ListOption[P, V]) *listfetch.Fetcher[P, V] {
	var lv listView[P, V]
	for _, o := range opts {
		o(&lv)
	}

	load := fetch
	if src.listCache != nil && lv.key != nil {
		load = func(ctx context.Context, params P) (V, error) {
			return src.read(ctx, src.listCache, lv.key(params), func(fctx context.Context) (V, error) {
				return fetch(fctx, params)
			})
		}
	}

	fopts := []listfetch.Option[P, V]{listfetch.WithLogger[P, V](src.log)}
	if lv.onCommit != nil {
		fopts = append(fopts, listfetch.OnCommit(lv.onCommit))
	}
	return listfetch.New(load, fopts...)
}
