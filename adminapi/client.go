// Package adminapi is the REST client for the admin API. Every read goes
// through a datasource.Source, so detail reads are cached and coalesced,
// and every write invalidates the reads it makes stale.
package adminapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/briangreenhill/adminpanel/cache"
	"github.com/briangreenhill/adminpanel/datasource"
	"github.com/briangreenhill/adminpanel/listfetch"
	"github.com/briangreenhill/adminpanel/resources"
)

const DefaultUserAgent = "adminpanel/1.0"

type Client struct {
	http      *http.Client
	baseURL   *url.URL
	apiKey    string
	userAgent string
	log       zerolog.Logger

	src     *datasource.Source[json.RawMessage]
	pages   *datasource.Source[Page]
	listTTL time.Duration
	reg     *resources.Registry
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithAPIKey sends key in the X-API-Key header of every request
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithDataSource shares a Source between clients; by default each client
// gets its own
func WithDataSource(src *datasource.Source[json.RawMessage]) Option {
	return func(c *Client) { c.src = src }
}

// WithListCache caches list pages for ttl. Lists are uncached by default
// because they change too often.
func WithListCache(ttl time.Duration) Option {
	return func(c *Client) { c.listTTL = ttl }
}

func WithRegistry(reg *resources.Registry) Option {
	return func(c *Client) { c.reg = reg }
}

func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("baseURL required")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse baseURL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("baseURL %q must be absolute", baseURL)
	}

	c := &Client{
		http:      http.DefaultClient,
		baseURL:   u,
		userAgent: DefaultUserAgent,
		log:       zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.src == nil {
		c.src = datasource.New[json.RawMessage](datasource.WithLogger(c.log))
	}
	c.pages = datasource.New[Page](datasource.WithListTTL(c.listTTL), datasource.WithLogger(c.log))
	if c.reg == nil {
		c.reg = resources.Default()
	}
	return c, nil
}

// Source returns the data source behind the client
func (c *Client) Source() *datasource.Source[json.RawMessage] { return c.src }

// Pages returns the data source holding list pages
func (c *Client) Pages() *datasource.Source[Page] { return c.pages }

// Registry returns the resources the client knows about
func (c *Client) Registry() *resources.Registry { return c.reg }

func (c *Client) newReq(ctx context.Context, method, p string, q url.Values, body any) (*http.Request, error) {
	u := *c.baseURL
	u.Path = path.Join(u.Path, p)
	u.RawQuery = q.Encode()

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s body: %w", method, p, err)
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), r)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// do performs one request and returns the unwrapped payload plus any
// pagination meta
func (c *Client) do(ctx context.Context, method, p string, q url.Values, body any) (json.RawMessage, *Meta, error) {
	req, err := c.newReq(ctx, method, p, q, body)
	if err != nil {
		return nil, nil, err
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, &TransportError{Method: method, Path: p, Err: err}
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, &TransportError{Method: method, Path: p, Err: err}
	}
	c.log.Debug().
		Str("method", method).
		Str("path", p).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("admin api request")

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	trimmed := bytes.TrimSpace(b)

	switch {
	case ok && len(trimmed) == 0:
		return json.RawMessage("null"), nil, nil
	case !ok:
		apiErr := &APIError{
			Method:     method,
			Path:       p,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Message:    strings.TrimSpace(string(b)),
		}
		var env envelope
		if bytes.HasPrefix(trimmed, []byte("{")) && json.Unmarshal(trimmed, &env) == nil && (env.Message != "" || env.Errors != nil) {
			apiErr.Message = env.Message
			apiErr.Fields = env.Errors
		}
		return nil, nil, apiErr
	case !json.Valid(trimmed):
		return nil, nil, fmt.Errorf("%s %s: %w", method, p, ErrMalformedPayload)
	}

	return unwrap(method, p, resp, trimmed)
}

func unwrap(method, p string, resp *http.Response, body []byte) (json.RawMessage, *Meta, error) {
	if body[0] != '{' {
		return json.RawMessage(body), nil, nil
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		// valid JSON object that does not fit the envelope types
		return json.RawMessage(body), nil, nil
	}
	if env.Success == nil && env.Data == nil {
		return json.RawMessage(body), nil, nil
	}
	if env.Success != nil && !*env.Success {
		return nil, nil, &APIError{
			Method:     method,
			Path:       p,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Message:    env.Message,
			Fields:     env.Errors,
		}
	}
	if env.Data == nil {
		return json.RawMessage("null"), env.Meta, nil
	}
	return env.Data, env.Meta, nil
}

func decodeInto(method, p string, data json.RawMessage, out any) error {
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, p, err)
	}
	return nil
}

// Get reads p through the cache. Concurrent identical reads share one
// request; only successful payloads are cached.
func (c *Client) Get(ctx context.Context, p string, q url.Values, out any) error {
	key := cache.NewKey(p, q)
	q = key.Values()
	data, err := c.src.Read(ctx, key.String(), func(ctx context.Context) (json.RawMessage, error) {
		data, _, err := c.do(ctx, http.MethodGet, p, q, nil)
		return data, err
	})
	if err != nil {
		return err
	}
	return decodeInto(http.MethodGet, p, data, out)
}

// GetFresh reads p from the API, bypassing the cache
func (c *Client) GetFresh(ctx context.Context, p string, q url.Values, out any) error {
	key := cache.NewKey(p, q)
	q = key.Values()
	data, err := c.src.ReadFresh(ctx, key.String(), func(ctx context.Context) (json.RawMessage, error) {
		data, _, err := c.do(ctx, http.MethodGet, p, q, nil)
		return data, err
	})
	if err != nil {
		return err
	}
	return decodeInto(http.MethodGet, p, data, out)
}

// List loads one page of p. Lists are not cached here; list views wrap
// this in a datasource list view.
func (c *Client) List(ctx context.Context, p string, params ListParams) (Page, error) {
	data, meta, err := c.do(ctx, http.MethodGet, p, params.Values(), nil)
	if err != nil {
		return Page{}, err
	}
	page, err := decodePage(data, meta, params)
	if err != nil {
		return Page{}, fmt.Errorf("decode GET %s page: %w", p, err)
	}
	return page, nil
}

// Write sends a mutating request and, only if it succeeds, invalidates
// the cached reads and list pages under each prefix
func (c *Client) Write(ctx context.Context, method, p string, body, out any, invalidate ...string) error {
	data, err := c.src.Write(ctx, func(ctx context.Context) (json.RawMessage, error) {
		data, _, err := c.do(ctx, method, p, nil, body)
		return data, err
	}, invalidate...)
	if err != nil {
		return err
	}
	c.pages.Invalidate(invalidate...)
	return decodeInto(method, p, data, out)
}

// Invalidate drops cached reads and list pages under the prefixes
func (c *Client) Invalidate(prefixes ...string) int {
	return c.src.Invalidate(prefixes...) + c.pages.Invalidate(prefixes...)
}

// NewListView returns a fetcher for one list view of p. A newer load on
// it supersedes the older one, whose result is dropped.
func (c *Client) NewListView(p string, opts ...datasource.ListOption[ListParams, Page]) *listfetch.Fetcher[ListParams, Page] {
	opts = append([]datasource.ListOption[ListParams, Page]{
		datasource.ListKey[ListParams, Page](func(params ListParams) string { return params.Key(p) }),
	}, opts...)
	return datasource.NewListView(c.pages, func(ctx context.Context, params ListParams) (Page, error) {
		return c.List(ctx, p, params)
	}, opts...)
}

// Resource returns an accessor for a registered resource
func (c *Client) Resource(name string) (*Resource, error) {
	res, ok := c.reg.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownResource, name)
	}
	return &Resource{c: c, res: res, prefixes: c.reg.Prefixes(name)}, nil
}
