// Package resources describes the admin API collections and which cached
// reads a write to each of them makes stale.
package resources

import (
	"net/http"
	"sort"
	"sync"

	"github.com/briangreenhill/adminpanel/cache"
)

// Resource is one REST collection of the admin API
type Resource struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Description string `json:"description"`
	// Invalidates names the other resources whose cached reads go stale
	// when this one is written. The resource itself is always included.
	Invalidates []string `json:"invalidates,omitempty"`
}

// Registry manages the known resources
type Registry struct {
	mu        sync.RWMutex
	resources map[string]Resource
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		resources: make(map[string]Resource),
	}
}

// Register adds or replaces a resource
func (r *Registry) Register(res Resource) {
	res.Path = cache.CleanPath(res.Path)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.resources[res.Name] = res
}

// Get retrieves a resource by name
func (r *Registry) Get(name string) (Resource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, exists := r.resources[name]
	return res, exists
}

// List returns all registered resource names in order
func (r *Registry) List() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.resources))
	for name := range r.resources {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

// All returns every registered resource ordered by name
func (r *Registry) All() []Resource {
	names := r.List()
	out := make([]Resource, 0, len(names))
	for _, n := range names {
		if res, ok := r.Get(n); ok {
			out = append(out, res)
		}
	}
	return out
}

// Prefixes returns the cache key prefixes a successful write to name must
// invalidate: the resource's own collection and those of its dependents.
// Dependents that are not registered are skipped.
func (r *Registry) Prefixes(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res, ok := r.resources[name]
	if !ok {
		return nil
	}

	seen := map[string]bool{}
	var out []string
	add := func(p string) {
		prefix := cache.Prefix(http.MethodGet, p)
		if !seen[prefix] {
			seen[prefix] = true
			out = append(out, prefix)
		}
	}

	add(res.Path)
	for _, dep := range res.Invalidates {
		if d, ok := r.resources[dep]; ok {
			add(d.Path)
		}
	}
	return out
}

// Default returns a registry with the admin panel's collections
func Default() *Registry {
	r := NewRegistry()
	for _, res := range []Resource{
		{
			Name:        "categories",
			Path:        "/categories",
			Description: "Product categories",
			Invalidates: []string{"products", "tenant-categories"},
		},
		{
			Name:        "certificate-requests",
			Path:        "/certificate-requests",
			Description: "Certificate requests raised by entities",
		},
		{
			Name:        "entities",
			Path:        "/entities",
			Description: "Legal entities and their addresses",
			Invalidates: []string{"certificate-requests"},
		},
		{
			Name:        "jobs",
			Path:        "/jobs",
			Description: "Workspace jobs",
		},
		{
			Name:        "plans",
			Path:        "/plans",
			Description: "Subscription plans",
		},
		{
			Name:        "products",
			Path:        "/products",
			Description: "Products and their media",
			Invalidates: []string{"plans"},
		},
		{
			Name:        "tenant-categories",
			Path:        "/tenant-categories",
			Description: "Per-tenant category assignments",
			Invalidates: []string{"categories"},
		},
	} {
		r.Register(res)
	}
	return r
}
