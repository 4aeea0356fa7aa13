// Package app wires configuration into the running feature pipeline.
package app

import (
	"context"
	"fmt"
	"net/http"

	"featureflow/cache"
	"featureflow/client"
	"featureflow/config"
	"featureflow/internal/metrics"
	"featureflow/logger"
	"featureflow/orchestrator"
	"featureflow/provider/holiday"
	"featureflow/provider/rates"
	"featureflow/ratelimit"
	"featureflow/retry"
	"featureflow/snapshot"
	"featureflow/writer"
)

const (
	clientNager        = "nager"
	clientCalendarific = "calendarific"
	clientBundesbank   = "bundesbank"
	clientFred         = "fred"
)

// Container holds the services built from one Config.
type Container struct {
	Config       *config.Config
	Log          *logger.Log
	Store        cache.Store
	Clients      map[string]*client.Base
	Holidays     *holiday.Client
	Rates        *rates.Client
	Orchestrator *orchestrator.Orchestrator
	Snapshots    *snapshot.Manager
	Prometheus   *metrics.PrometheusSink
}

// Build constructs the dependency graph. Close must be called when done.
func Build(ctx context.Context, cfg *config.Config, log *logger.Log) (*Container, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	entry := log.WithEnv("APP_ENV", "LOG_LEVEL").WithComponent("app")

	sink := metrics.NewPrometheusSink()
	sink.Attach()
	if cfg.Metrics.CloudWatch.Enabled {
		metrics.InitCloudWatch(ctx, cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace)
	}

	c := &Container{
		Config:     cfg,
		Log:        log,
		Clients:    make(map[string]*client.Base),
		Prometheus: sink,
	}

	store, err := newStore(ctx, cfg, log)
	if err != nil {
		sink.Detach()
		return nil, err
	}
	c.Store = store

	httpClient := &http.Client{Timeout: cfg.HTTP.Timeout}
	for _, name := range []string{clientNager, clientCalendarific, clientBundesbank, clientFred} {
		// One limiter per client instance.
		limiter, err := ratelimit.New(cfg.RateLimit.Mode, cfg.RateLimit.RequestsPerMinute, name, log)
		if err != nil {
			c.Close(ctx)
			return nil, err
		}
		base, err := client.New(client.Options{
			Name:       name,
			Store:      store,
			Limiter:    limiter,
			Retry:      retryConfig(cfg.Retry),
			HTTPClient: httpClient,
			UserAgent:  cfg.HTTP.UserAgent,
			Log:        log,
		})
		if err != nil {
			c.Close(ctx)
			return nil, err
		}
		c.Clients[name] = base
	}

	c.Holidays, err = holiday.New(holiday.Options{
		Country:            cfg.CountryCode,
		NagerURL:           cfg.Providers.Holiday.NagerURL,
		CalendarificURL:    cfg.Providers.Holiday.CalendarificURL,
		CalendarificAPIKey: cfg.Providers.Holiday.CalendarificAPIKey,
		IncludeRegional:    cfg.Providers.Holiday.IncludeRegional,
		TTL:                cfg.HolidayTTL(),
		Cooldown:           cfg.Providers.Cooldown,
		Nager:              c.Clients[clientNager],
		Calendarific:       c.Clients[clientCalendarific],
		Log:                log,
	})
	if err != nil {
		c.Close(ctx)
		return nil, err
	}

	c.Rates = rates.New(rates.Options{
		BundesbankURL:      cfg.Providers.Rates.BundesbankURL,
		FredURL:            cfg.Providers.Rates.FredURL,
		FredAPIKey:         cfg.Providers.Rates.FredAPIKey,
		MaxForwardFillDays: cfg.Providers.Rates.MaxForwardFillDays,
		TTL:                cfg.RatesTTL(),
		Cooldown:           cfg.Providers.Cooldown,
		Bundesbank:         c.Clients[clientBundesbank],
		Fred:               c.Clients[clientFred],
		Log:                log,
	})

	c.Orchestrator, err = orchestrator.New(log, c.Holidays, c.Rates)
	if err != nil {
		c.Close(ctx)
		return nil, err
	}

	snapOpts := snapshot.Options{
		DataDir:            cfg.Data.Dir,
		Parquet:            cfg.HasFormat(config.FormatParquet),
		ParquetCompression: "snappy",
		AllowOverwrite:     allowOverwrite(cfg),
		Log:                log,
	}
	if cfg.Storage.S3.Enabled {
		uploader, err := writer.NewS3Uploader(ctx, cfg.Storage.S3, cfg.App.Version, log)
		if err != nil {
			c.Close(ctx)
			return nil, fmt.Errorf("create s3 uploader: %w", err)
		}
		snapOpts.Uploader = uploader
	}
	c.Snapshots, err = snapshot.NewManager(snapOpts)
	if err != nil {
		c.Close(ctx)
		return nil, err
	}

	entry.WithFields(logger.Fields{
		"country":           cfg.CountryCode,
		"cache_backend":     cfg.Cache.Backend,
		"environment":       config.AppEnvironment(),
		"families":          c.Orchestrator.Families(),
		"holiday_providers": c.Holidays.Providers(),
		"rates_providers":   c.Rates.Providers(),
	}).Info("container built")
	return c, nil
}

func newStore(ctx context.Context, cfg *config.Config, log *logger.Log) (cache.Store, error) {
	switch cfg.Cache.Backend {
	case config.CacheBackendRedis:
		return cache.NewRedisStore(ctx, cache.RedisConfig{
			Addr:        cfg.Cache.Redis.Addr,
			Password:    cfg.Cache.Redis.Password,
			DB:          cfg.Cache.Redis.DB,
			Prefix:      cfg.Cache.Redis.Prefix,
			DialTimeout: cfg.Cache.Redis.DialTimeout,
		}, log)
	default:
		return cache.NewFileStore(cfg.Cache.Dir, log)
	}
}

func retryConfig(rc config.RetryConfig) retry.Config {
	return retry.Config{
		MaxAttempts:  rc.MaxAttempts,
		InitialDelay: rc.BaseDelay,
		MaxDelay:     rc.MaxDelay,
		Multiplier:   rc.BackoffMultiplier,
		AddJitter:    rc.Jitter,
	}
}

// allowOverwrite refuses overwrites in production-like environments unless
// data.allow_overwrite is set explicitly.
func allowOverwrite(cfg *config.Config) bool {
	if config.IsProductionLike(config.AppEnvironment()) {
		return cfg.Data.AllowOverwrite
	}
	return true
}

// Close flushes metric sinks and releases the cache store.
func (c *Container) Close(ctx context.Context) {
	entry := c.Log.WithComponent("app")
	if path := c.Config.Metrics.PrometheusTextfile; path != "" {
		if err := c.Prometheus.WriteTextfile(path); err != nil {
			entry.WithError(err).Warn("failed to write prometheus textfile")
		}
	}
	metrics.FlushCloudWatch(ctx)
	c.Prometheus.Detach()
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			entry.WithError(err).Warn("failed to close cache store")
		}
	}
}
