package adminapi

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/briangreenhill/adminpanel/cache"
)

// envelope is the admin API's response wrapper. Bodies without any of
// these fields are used as-is.
type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Errors  map[string]any  `json:"errors"`
	Meta    *Meta           `json:"meta"`
}

// Meta carries pagination details next to a list payload
type Meta struct {
	Page     int `json:"page"`
	PerPage  int `json:"per_page"`
	Total    int `json:"total"`
	LastPage int `json:"last_page"`
}

// ListParams are the filters, sort and paging of a list view
type ListParams struct {
	Page    int
	PerPage int
	Sort    string
	Search  string
	Filters map[string]string
}

// reserved query names that are not filters
var reserved = map[string]bool{"page": true, "per_page": true, "sort": true, "q": true}

// ParseListParams reads list params from a query string. Unknown names
// become filters.
func ParseListParams(q url.Values) ListParams {
	p := ListParams{
		Sort:   q.Get("sort"),
		Search: q.Get("q"),
	}
	p.Page, _ = strconv.Atoi(q.Get("page"))
	p.PerPage, _ = strconv.Atoi(q.Get("per_page"))
	for k, v := range q {
		if reserved[k] || len(v) == 0 || v[0] == "" {
			continue
		}
		if p.Filters == nil {
			p.Filters = make(map[string]string)
		}
		p.Filters[k] = v[0]
	}
	return p
}

// Values encodes the params as a query string
func (p ListParams) Values() url.Values {
	v := url.Values{}
	if p.Page > 0 {
		v.Set("page", strconv.Itoa(p.Page))
	}
	if p.PerPage > 0 {
		v.Set("per_page", strconv.Itoa(p.PerPage))
	}
	if p.Sort != "" {
		v.Set("sort", p.Sort)
	}
	if p.Search != "" {
		v.Set("q", p.Search)
	}
	for k, val := range p.Filters {
		if val != "" && !reserved[k] {
			v.Set(k, val)
		}
	}
	return v
}

// Key returns the cache key of a list load of path with these params
func (p ListParams) Key(path string) string {
	return cache.NewKey(path, p.Values()).String()
}

func (p ListParams) String() string {
	return p.Values().Encode()
}

// Page is one page of a list
type Page struct {
	Items   []json.RawMessage `json:"items"`
	Page    int               `json:"page"`
	PerPage int               `json:"per_page"`
	Total   int               `json:"total"`
}

// listBody covers the shapes a list payload comes in: a bare array, or an
// object holding the items next to its paging fields
type listBody struct {
	Items       []json.RawMessage `json:"items"`
	Data        []json.RawMessage `json:"data"`
	Page        int               `json:"page"`
	CurrentPage int               `json:"current_page"`
	PerPage     int               `json:"per_page"`
	Total       int               `json:"total"`
}

func decodePage(data json.RawMessage, meta *Meta, params ListParams) (Page, error) {
	p := Page{Page: params.Page, PerPage: params.PerPage}

	trimmed := strings.TrimSpace(string(data))
	switch {
	case trimmed == "" || trimmed == "null":
	case trimmed[0] == '[':
		if err := json.Unmarshal(data, &p.Items); err != nil {
			return Page{}, err
		}
		p.Total = len(p.Items)
	default:
		var lb listBody
		if err := json.Unmarshal(data, &lb); err != nil {
			return Page{}, err
		}
		p.Items = lb.Items
		if p.Items == nil {
			p.Items = lb.Data
		}
		p.Total = lb.Total
		if p.Total == 0 {
			p.Total = len(p.Items)
		}
		if lb.Page > 0 {
			p.Page = lb.Page
		} else if lb.CurrentPage > 0 {
			p.Page = lb.CurrentPage
		}
		if lb.PerPage > 0 {
			p.PerPage = lb.PerPage
		}
	}

	if meta != nil {
		if meta.Page > 0 {
			p.Page = meta.Page
		}
		if meta.PerPage > 0 {
			p.PerPage = meta.PerPage
		}
		if meta.Total > 0 {
			p.Total = meta.Total
		}
	}
	if p.Items == nil {
		p.Items = []json.RawMessage{}
	}
	return p, nil
}
