package routes

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	scs "github.com/alexedwards/scs/v2"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/briangreenhill/adminpanel/adminapi"
	"github.com/briangreenhill/adminpanel/cache"
	"github.com/briangreenhill/adminpanel/datasource"
	appmw "github.com/briangreenhill/adminpanel/internal/http/middleware"
	"github.com/briangreenhill/adminpanel/listfetch"
)

type listView = listfetch.Fetcher[adminapi.ListParams, adminapi.Page]

type Server struct {
	Router *chi.Mux
	Sess   *scs.SessionManager
	API    *adminapi.Client
	Log    zerolog.Logger

	// list fetchers keyed by viewer|resource, dropped after ViewIdle
	viewsMu sync.Mutex
	views   *cache.TTL[*listView]
}

type ServerOptions struct {
	Sess     *scs.SessionManager
	API      *adminapi.Client
	Log      zerolog.Logger
	ViewIdle time.Duration
	// Debug mounts the cache inspection endpoints for viewers
	Debug    bool
}

func New(opts ServerOptions) *Server {
	r := chi.NewRouter()
	r.Use(hlog.NewHandler(opts.Log))
	r.Use(hlog.RequestIDHandler("req_id", "X-Request-Id"))
	r.Use(chimw.RealIP)
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, d time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", d).
			Msg("request")
	}))
	r.Use(chimw.Recoverer)

	s := &Server{
		Router: r,
		Sess:   opts.Sess,
		API:    opts.API,
		Log:    opts.Log,
		views:  cache.NewTTL[*listView](cache.WithTTL(opts.ViewIdle)),
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("ok")); err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("write health check response")
		}
	})

	r.Group(func(pr chi.Router) {
		pr.Use(appmw.Viewer(s.Sess))
		pr.Use(appmw.RequireViewer)

		pr.Get("/api/resources", s.handleResources)
		pr.Get("/api/{resource}", s.handleList)
		pr.Post("/api/{resource}", s.handleCreate)
		pr.Get("/api/{resource}/{id}", s.handleGet)
		pr.Put("/api/{resource}/{id}", s.handleUpdate)
		pr.Patch("/api/{resource}/{id}", s.handlePatch)
		pr.Delete("/api/{resource}/{id}", s.handleDelete)

		if opts.Debug {
			pr.Get("/debug/cache", s.handleCacheStats)
			pr.Post("/debug/cache/invalidate", s.handleInvalidate)
		}
	})

	return s
}

// Handler returns the router wrapped with session loading
func (s *Server) Handler() http.Handler {
	return s.Sess.LoadAndSave(s.Router)
}

// Sweep drops expired cache entries and idle list views
func (s *Server) Sweep() int {
	n := s.API.Source().Purge() + s.API.Pages().Purge()
	n += s.views.PurgeExpired()
	return n
}

// viewFor returns the viewer's fetcher for a resource, creating it on
// first use. Every access restarts its idle timer.
func (s *Server) viewFor(viewer string, res *adminapi.Resource) *listView {
	key := viewer + "|" + res.Name()

	s.viewsMu.Lock()
	defer s.viewsMu.Unlock()

	lv, ok := s.views.Get(key)
	if !ok {
		lv = res.ListView()
	}
	s.views.Set(key, lv)
	return lv
}

type response struct {
	Success bool           `json:"success"`
	Data    any            `json:"data,omitempty"`
	Message string         `json:"message,omitempty"`
	Errors  map[string]any `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response{Success: status < 400, Data: data}); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("encode response")
	}
}

// writeError maps client errors onto gateway statuses
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	body := response{Message: err.Error()}

	var apiErr *adminapi.APIError
	var te *adminapi.TransportError
	switch {
	case errors.Is(err, adminapi.ErrUnknownResource):
		status = http.StatusNotFound
	case errors.Is(err, listfetch.ErrSuperseded):
		// a newer list request from this viewer replaced this one
		status = http.StatusConflict
	case errors.As(err, &apiErr):
		status = apiErr.StatusCode
		if status < 400 {
			status = http.StatusUnprocessableEntity
		}
		body.Message = apiErr.Message
		body.Errors = apiErr.Fields
	case errors.As(err, &te), errors.Is(err, adminapi.ErrMalformedPayload):
		status = http.StatusBadGateway
	}

	l := hlog.FromRequest(r)
	if status >= 500 {
		l.Error().Err(err).Int("status", status).Msg("request failed")
	} else {
		l.Debug().Err(err).Int("status", status).Msg("request rejected")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) resource(w http.ResponseWriter, r *http.Request) (*adminapi.Resource, bool) {
	res, err := s.API.Resource(chi.URLParam(r, "resource"))
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return res, true
}

func readBody(w http.ResponseWriter, r *http.Request) (json.RawMessage, bool) {
	b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		http.Error(w, "could not read body", http.StatusBadRequest)
		return nil, false
	}
	if len(b) == 0 || !json.Valid(b) {
		http.Error(w, "body must be JSON", http.StatusBadRequest)
		return nil, false
	}
	return json.RawMessage(b), true
}

func (s *Server) handleResources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.API.Registry().All())
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	res, ok := s.resource(w, r)
	if !ok {
		return
	}
	lv := s.viewFor(appmw.ViewerID(r.Context()), res)

	page, err := lv.Do(r.Context(), adminapi.ParseListParams(r.URL.Query()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, page)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	res, ok := s.resource(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	var out json.RawMessage
	var err error
	if r.URL.Query().Get("fresh") == "1" {
		err = res.GetFresh(r.Context(), id, &out)
	} else {
		err = res.Get(r.Context(), id, &out)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, out)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	res, ok := s.resource(w, r)
	if !ok {
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	var out json.RawMessage
	if err := res.Create(r.Context(), body, &out); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, out)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	s.handleWrite(w, r, (*adminapi.Resource).Update)
}

func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request) {
	s.handleWrite(w, r, (*adminapi.Resource).Patch)
}

type writeFunc func(res *adminapi.Resource, ctx context.Context, id string, body, out any) error

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request, write writeFunc) {
	res, ok := s.resource(w, r)
	if !ok {
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	var out json.RawMessage
	if err := write(res, r.Context(), chi.URLParam(r, "id"), body, &out); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, out)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	res, ok := s.resource(w, r)
	if !ok {
		return
	}
	if err := res.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type cacheStats struct {
	Reads   datasource.Stats `json:"reads"`
	Pages   datasource.Stats `json:"pages"`
	HitRate float64          `json:"hit_rate"`
	Keys    []string         `json:"keys"`
	Views   int              `json:"list_views"`
	At      time.Time        `json:"at"`
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	reads := s.API.Source().Stats()
	writeJSON(w, r, http.StatusOK, cacheStats{
		Reads:   reads,
		Pages:   s.API.Pages().Stats(),
		HitRate: reads.HitRate(),
		Keys:    s.API.Source().Keys(),
		Views:   s.views.Len(),
		At:      time.Now().UTC(),
	})
}

type invalidateRequest struct {
	Resource string   `json:"resource"`
	Prefixes []string `json:"prefixes"`
}

// handleInvalidate drops cached reads by resource or by explicit prefixes
func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		http.Error(w, "body must be JSON", http.StatusBadRequest)
		return
	}

	prefixes := req.Prefixes
	if req.Resource != "" {
		res, err := s.API.Resource(req.Resource)
		if err != nil {
			writeError(w, r, err)
			return
		}
		prefixes = append(prefixes, res.Prefixes()...)
	}
	if len(prefixes) == 0 {
		http.Error(w, "resource or prefixes required", http.StatusBadRequest)
		return
	}

	n := s.API.Invalidate(prefixes...)
	hlog.FromRequest(r).Info().Strs("prefixes", prefixes).Int("removed", n).Msg("cache invalidated")
	writeJSON(w, r, http.StatusOK, map[string]int{"removed": n})
}
