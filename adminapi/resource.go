package adminapi

import (
	"context"
	"net/http"
	"path"

	"github.com/briangreenhill/adminpanel/datasource"
	"github.com/briangreenhill/adminpanel/listfetch"
	"github.com/briangreenhill/adminpanel/resources"
)

// Resource reads and writes one registered collection. Writes invalidate
// the collection and every dependent the registry names.
type Resource struct {
	c        *Client
	res      resources.Resource
	prefixes []string
}

func (r *Resource) Name() string { return r.res.Name }

// Info returns the registry entry
func (r *Resource) Info() resources.Resource { return r.res }

// Prefixes returns the cache prefixes a write invalidates
func (r *Resource) Prefixes() []string { return r.prefixes }

func (r *Resource) item(id string) string {
	return path.Join(r.res.Path, id)
}

func (r *Resource) Get(ctx context.Context, id string, out any) error {
	return r.c.Get(ctx, r.item(id), nil, out)
}

func (r *Resource) GetFresh(ctx context.Context, id string, out any) error {
	return r.c.GetFresh(ctx, r.item(id), nil, out)
}

func (r *Resource) List(ctx context.Context, params ListParams) (Page, error) {
	return r.c.List(ctx, r.res.Path, params)
}

// ListView returns a superseding list fetcher for the collection
func (r *Resource) ListView(opts ...datasource.ListOption[ListParams, Page]) *listfetch.Fetcher[ListParams, Page] {
	return r.c.NewListView(r.res.Path, opts...)
}

func (r *Resource) Create(ctx context.Context, body, out any) error {
	return r.c.Write(ctx, http.MethodPost, r.res.Path, body, out, r.prefixes...)
}

func (r *Resource) Update(ctx context.Context, id string, body, out any) error {
	return r.c.Write(ctx, http.MethodPut, r.item(id), body, out, r.prefixes...)
}

func (r *Resource) Patch(ctx context.Context, id string, body, out any) error {
	return r.c.Write(ctx, http.MethodPatch, r.item(id), body, out, r.prefixes...)
}

func (r *Resource) Delete(ctx context.Context, id string) error {
	return r.c.Write(ctx, http.MethodDelete, r.item(id), nil, nil, r.prefixes...)
}
