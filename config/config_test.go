package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeTempConfig writes content to a config file inside a temp dir and
// returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeTempConfig(t, `app:
  name: "TestApp"
  version: "1.0"
country_code: at
cache:
  dir: /tmp/ff-cache
  ttl: 12h
rate_limit:
  requests_per_minute: 30
providers:
  rates:
    max_forward_fill_days: 10
    ttl: 6h
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.App.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.App.Name)
	}
	if cfg.CountryCode != "AT" {
		t.Errorf("country code not normalised: %s", cfg.CountryCode)
	}
	if cfg.RateLimit.RequestsPerMinute != 30 {
		t.Errorf("unexpected rpm: %d", cfg.RateLimit.RequestsPerMinute)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("default retry attempts lost: %d", cfg.Retry.MaxAttempts)
	}
	if cfg.HolidayTTL() != 12*time.Hour {
		t.Errorf("holiday ttl should inherit cache ttl, got %s", cfg.HolidayTTL())
	}
	if cfg.RatesTTL() != 6*time.Hour {
		t.Errorf("rates ttl override ignored, got %s", cfg.RatesTTL())
	}
	if cfg.Providers.Rates.MaxForwardFillDays != 10 {
		t.Errorf("unexpected forward fill bound: %d", cfg.Providers.Rates.MaxForwardFillDays)
	}
}

func TestLoadConfigDefaultsWhenDefaultFileMissing(t *testing.T) {
	t.Setenv("APP_ENV", "")
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	t.Setenv("CALENDARIFIC_API_KEY", "")
	t.Setenv("FRED_API_KEY", "")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.CountryCode != "DE" || cfg.Cache.TTL != 24*time.Hour || cfg.RateLimit.RequestsPerMinute != 60 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Providers.Holiday.CalendarificAPIKey != "" || cfg.Providers.Rates.FredAPIKey != "" {
		t.Fatalf("api keys must default to empty")
	}
}

func TestLoadConfigExplicitMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yml")); err == nil {
		t.Fatalf("expected error for missing explicit config file")
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("CALENDARIFIC_API_KEY", " cal-key ")
	t.Setenv("FRED_API_KEY", "fred-key")
	t.Setenv("FEATUREFLOW_COUNTRY", "ch")

	cfg, err := LoadConfig(writeTempConfig(t, "app:\n  name: ff\n"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Providers.Holiday.CalendarificAPIKey != "cal-key" {
		t.Errorf("calendarific key not applied: %q", cfg.Providers.Holiday.CalendarificAPIKey)
	}
	if cfg.Providers.Rates.FredAPIKey != "fred-key" {
		t.Errorf("fred key not applied: %q", cfg.Providers.Rates.FredAPIKey)
	}
	if cfg.CountryCode != "CH" {
		t.Errorf("country override not applied: %q", cfg.CountryCode)
	}
}

func TestValidateConfigRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"country", func(c *Config) { c.CountryCode = "DEU" }},
		{"backend", func(c *Config) { c.Cache.Backend = "memcached" }},
		{"ttl", func(c *Config) { c.Cache.TTL = 0 }},
		{"rpm", func(c *Config) { c.RateLimit.RequestsPerMinute = 0 }},
		{"mode", func(c *Config) { c.RateLimit.Mode = "burst" }},
		{"attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }},
		{"url", func(c *Config) { c.Providers.Holiday.NagerURL = "date.nager.at" }},
		{"format", func(c *Config) { c.Data.Formats = []string{"xlsx"} }},
		{"forward fill zero", func(c *Config) { c.Providers.Rates.MaxForwardFillDays = 0 }},
		{"forward fill negative", func(c *Config) { c.Providers.Rates.MaxForwardFillDays = -1 }},
		{"redis prefix", func(c *Config) {
			c.Cache.Backend = CacheBackendRedis
			c.Cache.Redis.Prefix = ""
		}},
		{"s3 bucket", func(c *Config) {
			c.Storage.S3 = S3Config{Enabled: true, Region: "eu-central-1", AccessKeyID: "a", SecretAccessKey: "b", Bucket: "Bad_Bucket"}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := validateConfig(&cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLoadConfigRejectsZeroForwardFill(t *testing.T) {
	_, err := LoadConfig(writeTempConfig(t, "app:\n  name: ff\nproviders:\n  rates:\n    max_forward_fill_days: 0\n"))
	if err == nil || !strings.Contains(err.Error(), "max_forward_fill_days") {
		t.Fatalf("expected forward fill validation error, got %v", err)
	}
}

func TestIsValidS3Bucket(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"feature-snapshots", true},
		{"a.b.c", true},
		{"ab", false},
		{"-leading", false},
		{"double..dot", false},
		{"UPPER", false},
	}

	for _, tt := range tests {
		if got := isValidS3Bucket(tt.name); got != tt.valid {
			t.Errorf("isValidS3Bucket(%q) = %v, want %v", tt.name, got, tt.valid)
		}
	}
}

func TestAppEnvironmentAliases(t *testing.T) {
	t.Setenv("APP_ENV", "Prod")
	if env := AppEnvironment(); env != EnvironmentProduction {
		t.Fatalf("unexpected environment: %s", env)
	}
	if !IsProductionLike(AppEnvironment()) {
		t.Fatalf("production should be production-like")
	}
	t.Setenv("APP_ENV", "")
	if IsProductionLike(AppEnvironment()) {
		t.Fatalf("development should not be production-like")
	}
}
