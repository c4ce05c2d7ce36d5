package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadJSONConfig(t *testing.T) {
	t.Setenv("NEWS_API_KEY", "")
	path := writeConfig(t, "config.json", `{
		"NEWS_API_KEY": "secret",
		"news_api_url": "https://example.com/v2/everything",
		"refresh_threshold_minutes": 30
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIKey != "secret" {
		t.Errorf("expected api key from file, got %q", cfg.APIKey)
	}
	if cfg.BaseURL != "https://example.com/v2/everything" {
		t.Errorf("unexpected base url %q", cfg.BaseURL)
	}
	if cfg.RefreshThreshold != 30*time.Minute {
		t.Errorf("expected 30m threshold, got %v", cfg.RefreshThreshold)
	}
	if cfg.StoreDriver != DriverSQLite {
		t.Errorf("expected default sqlite driver, got %q", cfg.StoreDriver)
	}
	if cfg.RequestTimeout != 30*time.Second {
		t.Errorf("expected default 30s timeout, got %v", cfg.RequestTimeout)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "config.yaml", "NEWS_API_KEY: from-file\nrefresh_threshold_minutes: 5\n")
	t.Setenv("NEWS_API_KEY", "from-env")
	t.Setenv("REFRESH_THRESHOLD_MINUTES", "45")
	t.Setenv("STORE_DRIVER", "MONGO")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIKey != "from-env" {
		t.Errorf("expected env api key, got %q", cfg.APIKey)
	}
	if cfg.RefreshThreshold != 45*time.Minute {
		t.Errorf("expected 45m threshold, got %v", cfg.RefreshThreshold)
	}
	if cfg.StoreDriver != DriverMongo {
		t.Errorf("expected mongo driver, got %q", cfg.StoreDriver)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"missing key", `{"news_api_url": "https://example.com"}`, "NEWS_API_KEY"},
		{"bad scheme", `{"NEWS_API_KEY": "k", "news_api_url": "ftp://example.com"}`, "scheme"},
		{"bad driver", `{"NEWS_API_KEY": "k", "store_driver": "redis"}`, "unknown driver"},
		{"negative threshold", `{"NEWS_API_KEY": "k", "refresh_threshold_minutes": -1}`, "negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("NEWS_API_KEY", "")
			t.Setenv("STORE_DRIVER", "")
			path := writeConfig(t, "config.json", tt.body)
			_, err := Load(path)
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestFractionalThreshold(t *testing.T) {
	t.Setenv("NEWS_API_KEY", "")
	path := writeConfig(t, "config.yaml", "NEWS_API_KEY: k\nrefresh_threshold_minutes: 1.5\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RefreshThreshold != 90*time.Second {
		t.Errorf("expected 90s threshold, got %v", cfg.RefreshThreshold)
	}

	t.Setenv("REFRESH_THRESHOLD_MINUTES", "0.25")
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RefreshThreshold != 15*time.Second {
		t.Errorf("expected 15s threshold from env, got %v", cfg.RefreshThreshold)
	}
}
