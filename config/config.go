package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath = "config/config.yml"

	CacheBackendFile  = "file"
	CacheBackendRedis = "redis"

	RateLimitModeWindow   = "window"
	RateLimitModeInterval = "interval"

	FormatCSV     = "csv"
	FormatParquet = "parquet"
)

type Config struct {
	App         AppConfig       `yaml:"app"`
	CountryCode string          `yaml:"country_code"`
	Cache       CacheConfig     `yaml:"cache"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
	Retry       RetryConfig     `yaml:"retry"`
	HTTP        HTTPConfig      `yaml:"http"`
	Providers   ProvidersConfig `yaml:"providers"`
	Data        DataConfig      `yaml:"data"`
	Storage     StorageConfig   `yaml:"storage"`
	Metrics     MetricsConfig   `yaml:"metrics"`
	Logging     LoggingConfig   `yaml:"logging"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type CacheConfig struct {
	Backend string        `yaml:"backend"`
	Dir     string        `yaml:"dir"`
	TTL     time.Duration `yaml:"ttl"`
	Redis   RedisConfig   `yaml:"redis"`
}

type RedisConfig struct {
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	Prefix      string        `yaml:"prefix"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

type RateLimitConfig struct {
	RequestsPerMinute int    `yaml:"requests_per_minute"`
	Mode              string `yaml:"mode"`
}

type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	Jitter            bool          `yaml:"jitter"`
}

type HTTPConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
}

type ProvidersConfig struct {
	Cooldown time.Duration `yaml:"cooldown"`
	Holiday  HolidayConfig `yaml:"holiday"`
	Rates    RatesConfig   `yaml:"rates"`
}

type HolidayConfig struct {
	NagerURL           string        `yaml:"nager_url"`
	CalendarificURL    string        `yaml:"calendarific_url"`
	CalendarificAPIKey string        `yaml:"calendarific_api_key"`
	IncludeRegional    bool          `yaml:"include_regional"`
	TTL                time.Duration `yaml:"ttl"`
}

type RatesConfig struct {
	BundesbankURL      string        `yaml:"bundesbank_url"`
	FredURL            string        `yaml:"fred_url"`
	FredAPIKey         string        `yaml:"fred_api_key"`
	MaxForwardFillDays int           `yaml:"max_forward_fill_days"`
	TTL                time.Duration `yaml:"ttl"`
}

type DataConfig struct {
	Dir            string   `yaml:"dir"`
	Formats        []string `yaml:"formats"`
	AllowOverwrite bool     `yaml:"allow_overwrite"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type MetricsConfig struct {
	PrometheusTextfile string           `yaml:"prometheus_textfile"`
	CloudWatch         CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{
		App:         AppConfig{Name: "featureflow", Version: "1.0.0"},
		CountryCode: "DE",
		Cache: CacheConfig{
			Backend: CacheBackendFile,
			Dir:     "./cache",
			TTL:     24 * time.Hour,
			Redis: RedisConfig{
				Addr:        "localhost:6379",
				Prefix:      "featureflow:",
				DialTimeout: 5 * time.Second,
			},
		},
		RateLimit: RateLimitConfig{RequestsPerMinute: 60, Mode: RateLimitModeWindow},
		Retry: RetryConfig{
			MaxAttempts:       3,
			BaseDelay:         500 * time.Millisecond,
			MaxDelay:          10 * time.Second,
			BackoffMultiplier: 2,
		},
		HTTP: HTTPConfig{Timeout: 15 * time.Second, UserAgent: "featureflow/1.0"},
		Providers: ProvidersConfig{
			Cooldown: 5 * time.Minute,
			Holiday: HolidayConfig{
				NagerURL:        "https://date.nager.at/api/v3",
				CalendarificURL: "https://calendarific.com/api/v2",
			},
			Rates: RatesConfig{
				BundesbankURL:      "https://api.statistiken.bundesbank.de/rest/data",
				FredURL:            "https://api.stlouisfed.org/fred",
				MaxForwardFillDays: 62,
			},
		},
		Data:    DataConfig{Dir: "./data", Formats: []string{FormatCSV}, AllowOverwrite: true},
		Metrics: MetricsConfig{CloudWatch: CloudWatchConfig{Namespace: "FeatureFlow"}},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

// LoadConfig reads path over DefaultConfig, applies environment overrides and
// validates the result. An empty path, or the default path when it does not
// exist, yields the defaults.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	path = resolveEnvSpecificPath(path, DefaultConfigPath, map[string]string{
		environmentProduction: "config/config.production.yml",
		environmentStaging:    "config/config.staging.yml",
	})

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		case errors.Is(err, os.ErrNotExist) && isDefaultPath(path):
		default:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	applyEnvOverrides(&config)

	config.CountryCode = strings.ToUpper(strings.TrimSpace(config.CountryCode))
	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func isDefaultPath(path string) bool {
	switch path {
	case DefaultConfigPath, "config/config.production.yml", "config/config.staging.yml":
		return true
	}
	return false
}

func applyEnvOverrides(config *Config) {
	if v := os.Getenv("FEATUREFLOW_COUNTRY"); v != "" {
		config.CountryCode = v
	}
	if v := os.Getenv("FEATUREFLOW_CACHE_DIR"); v != "" {
		config.Cache.Dir = strings.TrimSpace(v)
	}
	if v := os.Getenv("FEATUREFLOW_DATA_DIR"); v != "" {
		config.Data.Dir = strings.TrimSpace(v)
	}
	if v := os.Getenv("CALENDARIFIC_API_KEY"); v != "" {
		config.Providers.Holiday.CalendarificAPIKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("FRED_API_KEY"); v != "" {
		config.Providers.Rates.FredAPIKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		config.Cache.Redis.Addr = strings.TrimSpace(v)
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		config.Cache.Redis.Password = v
	}

	// Override S3 settings from environment variables if available
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
}

var countryCodeRegexp = regexp.MustCompile(`^[A-Z]{2}$`)

func validateConfig(cfg *Config) error {
	if cfg.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}

	if !countryCodeRegexp.MatchString(cfg.CountryCode) {
		return fmt.Errorf("country_code '%s' must be an ISO 3166-1 alpha-2 code", cfg.CountryCode)
	}

	switch cfg.Cache.Backend {
	case CacheBackendFile:
		if cfg.Cache.Dir == "" {
			return fmt.Errorf("cache.dir is required for the file backend")
		}
	case CacheBackendRedis:
		if cfg.Cache.Redis.Addr == "" {
			return fmt.Errorf("cache.redis.addr is required for the redis backend")
		}
		if cfg.Cache.Redis.Prefix == "" {
			return fmt.Errorf("cache.redis.prefix must not be empty; cache clear deletes every key under it")
		}
	default:
		return fmt.Errorf("cache.backend '%s' is not supported", cfg.Cache.Backend)
	}
	if cfg.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be greater than 0")
	}

	if cfg.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("rate_limit.requests_per_minute must be greater than 0")
	}
	switch cfg.RateLimit.Mode {
	case RateLimitModeWindow, RateLimitModeInterval:
	default:
		return fmt.Errorf("rate_limit.mode '%s' is not supported", cfg.RateLimit.Mode)
	}

	if cfg.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be greater than 0")
	}
	if cfg.Retry.BaseDelay < 0 || cfg.Retry.MaxDelay < 0 {
		return fmt.Errorf("retry delays must not be negative")
	}
	if cfg.Retry.BackoffMultiplier < 1 {
		return fmt.Errorf("retry.backoff_multiplier must be at least 1")
	}

	if cfg.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be greater than 0")
	}

	for name, raw := range map[string]string{
		"providers.holiday.nager_url":        cfg.Providers.Holiday.NagerURL,
		"providers.holiday.calendarific_url": cfg.Providers.Holiday.CalendarificURL,
		"providers.rates.bundesbank_url":     cfg.Providers.Rates.BundesbankURL,
		"providers.rates.fred_url":           cfg.Providers.Rates.FredURL,
	} {
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s '%s' is not an absolute URL", name, raw)
		}
	}
	if cfg.Providers.Rates.MaxForwardFillDays <= 0 {
		return fmt.Errorf("providers.rates.max_forward_fill_days must be greater than 0")
	}

	if cfg.Data.Dir == "" {
		return fmt.Errorf("data.dir is required")
	}
	for _, format := range cfg.Data.Formats {
		if format != FormatCSV && format != FormatParquet {
			return fmt.Errorf("data.formats contains unsupported format '%s'", format)
		}
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if cfg.Storage.S3.AccessKeyID == "" || cfg.Storage.S3.SecretAccessKey == "" {
			return fmt.Errorf("storage.s3.access_key_id and storage.s3.secret_access_key are required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	return nil
}

// HolidayTTL is the cache lifetime for holiday responses.
func (c *Config) HolidayTTL() time.Duration {
	if c.Providers.Holiday.TTL > 0 {
		return c.Providers.Holiday.TTL
	}
	return c.Cache.TTL
}

// RatesTTL is the cache lifetime for interest-rate responses.
func (c *Config) RatesTTL() time.Duration {
	if c.Providers.Rates.TTL > 0 {
		return c.Providers.Rates.TTL
	}
	return c.Cache.TTL
}

// HasFormat reports whether snapshots should also be written as format.
func (c *Config) HasFormat(format string) bool {
	for _, f := range c.Data.Formats {
		if f == format {
			return true
		}
	}
	return false
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
