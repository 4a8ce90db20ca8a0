package config

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLoad(t *testing.T) {
	// Save original env vars
	original := map[string]string{
		"ADMINPANEL_BASE_URL":  os.Getenv("ADMINPANEL_BASE_URL"),
		"ADMINPANEL_API_KEY":   os.Getenv("ADMINPANEL_API_KEY"),
		"ADMINPANEL_CACHE_TTL": os.Getenv("ADMINPANEL_CACHE_TTL"),
		"PORT":                 os.Getenv("PORT"),
	}

	// Clean up after test
	defer func() {
		for key, value := range original {
			if value == "" {
				_ = os.Unsetenv(key)
			} else {
				_ = os.Setenv(key, value)
			}
		}
	}()

	_ = os.Setenv("ADMINPANEL_BASE_URL", "https://admin.example.com/api")
	_ = os.Setenv("ADMINPANEL_API_KEY", "test_key")
	_ = os.Setenv("ADMINPANEL_CACHE_TTL", "90s")
	_ = os.Unsetenv("PORT")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.API.BaseURL != "https://admin.example.com/api" {
		t.Errorf("Expected BaseURL 'https://admin.example.com/api', got '%s'", cfg.API.BaseURL)
	}

	if cfg.API.APIKey != "test_key" {
		t.Errorf("Expected APIKey 'test_key', got '%s'", cfg.API.APIKey)
	}

	if cfg.Cache.TTL != 90*time.Second {
		t.Errorf("Expected TTL 90s, got %s", cfg.Cache.TTL)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected default Port '8080', got '%s'", cfg.Port)
	}
}

func TestLoadFromDefaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{"ADMINPANEL_BASE_URL": "http://localhost:9000"})
	if err != nil {
		t.Fatalf("LoadFrom() failed: %v", err)
	}

	if cfg.Cache.TTL != 5*time.Minute {
		t.Errorf("Expected default TTL 5m, got %s", cfg.Cache.TTL)
	}
	if cfg.Cache.ListTTL != 0 {
		t.Errorf("Expected lists uncached by default, got %s", cfg.Cache.ListTTL)
	}
	if cfg.Cache.ViewIdle != 30*time.Minute {
		t.Errorf("Expected default ViewIdle 30m, got %s", cfg.Cache.ViewIdle)
	}
	if cfg.API.Timeout != 20*time.Second {
		t.Errorf("Expected default Timeout 20s, got %s", cfg.API.Timeout)
	}
	if lvl, _ := cfg.Level(); lvl != zerolog.InfoLevel {
		t.Errorf("Expected info level, got %s", lvl)
	}
	if cfg.HasOAuth() {
		t.Error("Should not have OAuth configured")
	}
	if cfg.Debug {
		t.Error("Debug endpoints should be off by default")
	}
}

func TestLoadFromErrors(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
		want string
	}{
		{"missing base url", map[string]string{}, "ADMINPANEL_BASE_URL"},
		{"relative base url", map[string]string{"ADMINPANEL_BASE_URL": "/api"}, "absolute URL"},
		{"bad duration", map[string]string{"ADMINPANEL_BASE_URL": "http://x", "ADMINPANEL_CACHE_TTL": "soon"}, "TTL"},
		{"zero ttl", map[string]string{"ADMINPANEL_BASE_URL": "http://x", "ADMINPANEL_CACHE_TTL": "0s"}, "must be positive"},
		{"negative list ttl", map[string]string{"ADMINPANEL_BASE_URL": "http://x", "ADMINPANEL_LIST_CACHE_TTL": "-1s"}, "must not be negative"},
		{"partial oauth", map[string]string{"ADMINPANEL_BASE_URL": "http://x", "ADMINPANEL_CLIENT_ID": "id"}, "must be set together"},
		{"bad log level", map[string]string{"ADMINPANEL_BASE_URL": "http://x", "LOG_LEVEL": "loud"}, "LOG_LEVEL"},
	}

	for _, tt := range tests {
		_, err := LoadFrom(tt.vars)
		if err == nil {
			t.Errorf("%s: expected error", tt.name)
			continue
		}
		if !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%s: expected error containing %q, got %v", tt.name, tt.want, err)
		}
	}
}

func TestHTTPClientWithoutOAuth(t *testing.T) {
	cfg := &Config{API: APIConfig{Timeout: 3 * time.Second}}
	hc := cfg.HTTPClient(context.Background())
	if hc.Timeout != 3*time.Second {
		t.Errorf("Expected timeout 3s, got %s", hc.Timeout)
	}
}

func TestHTTPClientWithOAuth(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-123","token_type":"bearer","expires_in":3600}`))
	}))
	defer tokenSrv.Close()

	var gotAuth string
	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer apiSrv.Close()

	cfg := &Config{API: APIConfig{
		BaseURL:      apiSrv.URL,
		Timeout:      5 * time.Second,
		ClientID:     "panel",
		ClientSecret: "s3cret",
		TokenURL:     tokenSrv.URL,
	}}
	if !cfg.HasOAuth() {
		t.Fatal("Should have OAuth configured")
	}

	resp, err := cfg.HTTPClient(context.Background()).Get(apiSrv.URL)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	_ = resp.Body.Close()

	if gotAuth != "Bearer tok-123" {
		t.Errorf("Expected 'Bearer tok-123', got '%s'", gotAuth)
	}
}
