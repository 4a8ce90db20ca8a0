// Package config handles application configuration from environment variables
package config

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2/clientcredentials"
)

// Config holds all application configuration
type Config struct {
	API   APIConfig
	Cache CacheConfig

	Port     string `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	// Debug exposes the cache inspection endpoints
	Debug    bool   `env:"ADMINPANEL_DEBUG" envDefault:"false"`
}

// APIConfig describes how to reach the admin API
type APIConfig struct {
	BaseURL string        `env:"ADMINPANEL_BASE_URL,required"`
	APIKey  string        `env:"ADMINPANEL_API_KEY"`
	Timeout time.Duration `env:"ADMINPANEL_HTTP_TIMEOUT" envDefault:"20s"`

	// OAuth2 client credentials, all three or none
	ClientID     string   `env:"ADMINPANEL_CLIENT_ID"`
	ClientSecret string   `env:"ADMINPANEL_CLIENT_SECRET"`
	TokenURL     string   `env:"ADMINPANEL_TOKEN_URL"`
	Scopes       []string `env:"ADMINPANEL_SCOPES" envSeparator:","`
}

// CacheConfig holds cache lifetimes
type CacheConfig struct {
	TTL     time.Duration `env:"ADMINPANEL_CACHE_TTL" envDefault:"5m"`
	ListTTL time.Duration `env:"ADMINPANEL_LIST_CACHE_TTL" envDefault:"0s"`
	// ViewIdle is how long an idle viewer's list fetchers are kept
	ViewIdle time.Duration `env:"ADMINPANEL_VIEW_IDLE" envDefault:"30m"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFrom reads configuration from the given variables instead of the
// process environment
func LoadFrom(vars map[string]string) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: vars}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// HasOAuth returns true if client credentials are configured
func (c *Config) HasOAuth() bool {
	return c.API.ClientID != "" && c.API.ClientSecret != "" && c.API.TokenURL != ""
}

// Validate checks the loaded values make sense together
func (c *Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("ADMINPANEL_BASE_URL must be an absolute URL, got %q", c.API.BaseURL)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("ADMINPANEL_CACHE_TTL must be positive, got %s", c.Cache.TTL)
	}
	if c.Cache.ListTTL < 0 {
		return fmt.Errorf("ADMINPANEL_LIST_CACHE_TTL must not be negative, got %s", c.Cache.ListTTL)
	}
	if c.Cache.ViewIdle <= 0 {
		return fmt.Errorf("ADMINPANEL_VIEW_IDLE must be positive, got %s", c.Cache.ViewIdle)
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("ADMINPANEL_HTTP_TIMEOUT must be positive, got %s", c.API.Timeout)
	}

	set := 0
	for _, v := range []string{c.API.ClientID, c.API.ClientSecret, c.API.TokenURL} {
		if v != "" {
			set++
		}
	}
	if set != 0 && set != 3 {
		return errors.New("ADMINPANEL_CLIENT_ID, ADMINPANEL_CLIENT_SECRET and ADMINPANEL_TOKEN_URL must be set together")
	}

	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LOG_LEVEL
func (c *Config) Level() (zerolog.Level, error) {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	return lvl, nil
}

// HTTPClient returns the client used to call the admin API. With client
// credentials configured it fetches and refreshes tokens itself.
func (c *Config) HTTPClient(ctx context.Context) *http.Client {
	if !c.HasOAuth() {
		return &http.Client{Timeout: c.API.Timeout}
	}

	cc := clientcredentials.Config{
		ClientID:     c.API.ClientID,
		ClientSecret: c.API.ClientSecret,
		TokenURL:     c.API.TokenURL,
		Scopes:       c.API.Scopes,
	}
	hc := cc.Client(ctx)
	hc.Timeout = c.API.Timeout
	return hc
}
