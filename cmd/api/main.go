// cmd/api/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	scs "github.com/alexedwards/scs/v2"
	"github.com/rs/zerolog"

	"github.com/briangreenhill/adminpanel/adminapi"
	"github.com/briangreenhill/adminpanel/datasource"
	"github.com/briangreenhill/adminpanel/internal/config"
	"github.com/briangreenhill/adminpanel/internal/http/routes"
)

func main() {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config error")
	}
	lvl, _ := cfg.Level()
	logger = logger.Level(lvl)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Admin API client
	api, err := adminapi.New(cfg.API.BaseURL,
		adminapi.WithHTTPClient(cfg.HTTPClient(ctx)),
		adminapi.WithAPIKey(cfg.API.APIKey),
		adminapi.WithListCache(cfg.Cache.ListTTL),
		adminapi.WithLogger(logger.With().Str("component", "adminapi").Logger()),
		adminapi.WithDataSource(newSource(cfg, logger)),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("admin api client")
	}

	// Sessions
	sess := scs.New()
	sess.Lifetime = 12 * time.Hour
	sess.IdleTimeout = cfg.Cache.ViewIdle
	sess.Cookie.HttpOnly = true
	sess.Cookie.SameSite = http.SameSiteLaxMode
	sess.Cookie.Secure = false

	// Router / server
	s := routes.New(routes.ServerOptions{
		Sess:     sess,
		API:      api,
		Log:      logger,
		ViewIdle: cfg.Cache.ViewIdle,
		Debug:    cfg.Debug,
	})

	go sweep(ctx, s, logger)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: s.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown")
		}
	}()

	logger.Info().Str("port", cfg.Port).Str("api", cfg.API.BaseURL).Bool("oauth", cfg.HasOAuth()).Msg("starting gateway")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server error")
	}
}

// sweep periodically drops expired cache entries and idle list views
func sweep(ctx context.Context, s *routes.Server, logger zerolog.Logger) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := s.Sweep(); n > 0 {
				logger.Debug().Int("removed", n).Msg("swept expired entries")
			}
		}
	}
}

func newSource(cfg *config.Config, logger zerolog.Logger) *datasource.Source[json.RawMessage] {
	return datasource.New[json.RawMessage](
		datasource.WithTTL(cfg.Cache.TTL),
		datasource.WithLogger(logger.With().Str("component", "cache").Logger()),
	)
}
