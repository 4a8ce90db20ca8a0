package cache

import (
	"net/http"
	"net/url"
	"path"
	"strings"
)

// Key identifies one logical request. Two requests that differ only in
// query parameter order produce the same String.
type Key struct {
	Method string
	Path   string
	Query  url.Values
}

// NewKey builds a GET key for path and query
func NewKey(p string, query url.Values) Key {
	return Key{Method: http.MethodGet, Path: p, Query: query}
}

// Values returns the normalised query: empty values are dropped. Requests
// must be sent with these values so the key matches what goes on the wire.
func (k Key) Values() url.Values {
	q := url.Values{}
	for name, values := range k.Query {
		for _, v := range values {
			if v == "" {
				continue
			}
			q.Add(name, v)
		}
	}
	return q
}

// String renders the key as "METHOD /clean/path?a=1&b=2"
func (k Key) String() string {
	s := Prefix(k.Method, k.Path)
	// Encode sorts by parameter name
	if enc := k.Values().Encode(); enc != "" {
		s += "?" + enc
	}
	return s
}

// Prefix returns the key prefix covering every request for a collection
// path, e.g. Prefix("get", "/api/products/") == "GET /api/products".
func Prefix(method, p string) string {
	m := strings.ToUpper(strings.TrimSpace(method))
	if m == "" {
		m = http.MethodGet
	}
	return m + " " + CleanPath(p)
}

// CleanPath normalises a request path: leading slash, no trailing slash,
// no duplicate separators or dot segments.
func CleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// KeyFor builds a GET key from a path and a flat parameter map
func KeyFor(p string, params map[string]string) string {
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	return NewKey(p, q).String()
}
