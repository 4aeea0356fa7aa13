// Package client provides the base every provider builds on: a cache lookup
// in front of a rate-limited, retried remote call.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"featureflow/cache"
	"featureflow/errs"
	"featureflow/internal/metrics"
	"featureflow/logger"
	"featureflow/ratelimit"
	"featureflow/retry"
)

const maxBodyBytes = 8 << 20

// Options configures a Base client.
type Options struct {
	Name       string
	Store      cache.Store
	Limiter    ratelimit.Limiter
	Retry      retry.Config
	HTTPClient *http.Client
	UserAgent  string
	Log        *logger.Log
}

// Base composes the cache store, rate limiter and retry policy for one
// provider.
type Base struct {
	name      string
	store     cache.Store
	limiter   ratelimit.Limiter
	retry     retry.Config
	http      *http.Client
	userAgent string
	log       *logger.Log
}

func New(opts Options) (*Base, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("client name is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("%s: cache store is required", opts.Name)
	}
	if opts.Limiter == nil {
		return nil, fmt.Errorf("%s: rate limiter is required", opts.Name)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if opts.Log == nil {
		opts.Log = logger.GetLogger()
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.DefaultConfig()
	}
	opts.Retry.Name = opts.Name

	b := &Base{
		name:      opts.Name,
		store:     opts.Store,
		limiter:   opts.Limiter,
		retry:     opts.Retry,
		http:      opts.HTTPClient,
		userAgent: opts.UserAgent,
		log:       opts.Log,
	}
	b.retry.OnRetry = b.onRetry
	return b, nil
}

func (b *Base) Name() string {
	return b.name
}

func (b *Base) onRetry(attempt int, err error, delay time.Duration) {
	b.log.WithComponent("client").WithError(err).WithFields(logger.Fields{
		"provider": b.name,
		"attempt":  attempt,
		"delay_ms": delay.Milliseconds(),
	}).Warn("transient failure; retrying")
	metrics.Count(b.log, "client", "remote_retry", logger.Fields{"provider": b.name})
}

// Fetch returns the cached payload for key or runs op to produce it. Each
// attempt of op takes a rate-limiter slot. A successful payload is cached for
// ttl; failures are returned as *errs.RemoteFetchError.
func (b *Base) Fetch(ctx context.Context, key string, ttl time.Duration, op func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if payload, ok := b.store.Get(ctx, key); ok {
		b.log.WithComponent("client").WithFields(logger.Fields{"provider": b.name, "key": key}).Debug("cache hit")
		return payload, nil
	}

	payload, err := retry.DoWithResult(ctx, b.retry, func(ctx context.Context) ([]byte, error) {
		if err := b.limiter.Acquire(ctx); err != nil {
			return nil, err
		}
		metrics.Count(b.log, "client", "remote_request", logger.Fields{"provider": b.name})
		return op(ctx)
	})
	if err != nil {
		return nil, err
	}

	if err := b.store.Put(ctx, key, payload, ttl); err != nil {
		b.log.WithComponent("client").WithError(err).WithFields(logger.Fields{"provider": b.name, "key": key}).Warn("failed to cache response")
	}
	return payload, nil
}

// FetchJSON is Fetch for values that round-trip through JSON. A cached
// payload that no longer decodes into T is fetched again.
func FetchJSON[T any](ctx context.Context, b *Base, key string, ttl time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	encode := func(ctx context.Context) ([]byte, error) {
		value, err := op(ctx)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(value)
		if err != nil {
			return nil, errs.WrapInvalid(err, b.name, "encode", "cannot encode response")
		}
		return data, nil
	}

	payload, err := b.Fetch(ctx, key, ttl, encode)
	if err != nil {
		return zero, err
	}

	var value T
	if err := json.Unmarshal(payload, &value); err == nil {
		return value, nil
	}

	b.log.WithComponent("client").WithFields(logger.Fields{
		"provider": b.name,
		"key":      key,
		"warning":  errs.ErrCacheCorrupted.Error(),
	}).Warn("cached payload does not decode; refetching")

	payload, err = retry.DoWithResult(ctx, b.retry, func(ctx context.Context) ([]byte, error) {
		if err := b.limiter.Acquire(ctx); err != nil {
			return nil, err
		}
		return encode(ctx)
	})
	if err != nil {
		return zero, err
	}
	if err := json.Unmarshal(payload, &value); err != nil {
		return zero, errs.WrapInvalid(err, b.name, "decode", "cannot decode fresh response")
	}
	if err := b.store.Put(ctx, key, payload, ttl); err != nil {
		b.log.WithComponent("client").WithError(err).WithField("key", key).Warn("failed to cache response")
	}
	return value, nil
}

// GetBody performs a GET and classifies failures: transport errors, 408, 429
// and 5xx are transient; other non-2xx statuses are invalid.
func (b *Base) GetBody(ctx context.Context, rawURL string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errs.WrapInvalid(err, b.name, "get", "build request")
	}
	for k, values := range header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	if b.userAgent != "" {
		req.Header.Set("User-Agent", b.userAgent)
	}

	start := time.Now()
	resp, err := b.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// *url.Error prints the full request URL, credentials included.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			urlErr.URL = RedactURL(urlErr.URL)
		}
		return nil, errs.WrapTransient(err, b.name, "get", "request "+RedactURL(rawURL))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, errs.WrapTransient(err, b.name, "get", "read body")
	}

	b.log.WithComponent("client").WithFields(logger.Fields{
		"provider":    b.name,
		"url":         RedactURL(rawURL),
		"status":      resp.StatusCode,
		"bytes":       len(body),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("remote response")

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}

	statusErr := fmt.Errorf("status %d: %s", resp.StatusCode, snippet(body))
	switch {
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return nil, errs.WrapTransient(statusErr, b.name, "get", "")
	default:
		return nil, errs.WrapInvalid(statusErr, b.name, "get", "")
	}
}

// GetJSON performs GetBody and decodes the body into out. Undecodable bodies
// are invalid, not transient.
func (b *Base) GetJSON(ctx context.Context, rawURL string, header http.Header, out interface{}) error {
	if header == nil {
		header = http.Header{}
	}
	if header.Get("Accept") == "" {
		header.Set("Accept", "application/json")
	}
	body, err := b.GetBody(ctx, rawURL, header)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errs.WrapInvalid(err, b.name, "decode", "malformed JSON response")
	}
	return nil
}

func (b *Base) CacheStats(ctx context.Context) (cache.Stats, error) {
	return b.store.Stats(ctx)
}

func (b *Base) ClearCache(ctx context.Context) error {
	return b.store.Clear(ctx)
}

// RedactURL hides query values whose name mentions a key or token.
func RedactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	changed := false
	for name := range q {
		lower := strings.ToLower(name)
		if strings.Contains(lower, "key") || strings.Contains(lower, "token") {
			q.Set(name, "REDACTED")
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
