// Package ratelimit throttles outbound provider requests. Limiters are
// cooperative and process-local; each client owns its own instance.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"featureflow/internal/metrics"
	"featureflow/logger"
)

const (
	ModeWindow   = "window"
	ModeInterval = "interval"
)

// Limiter blocks until a request slot is free. It only fails when ctx ends.
type Limiter interface {
	Acquire(ctx context.Context) error
}

var (
	timeNow = time.Now
	sleep   = sleepContext
)

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// New builds the limiter for mode with a requests-per-minute budget.
func New(mode string, requestsPerMinute int, name string, log *logger.Log) (Limiter, error) {
	if requestsPerMinute <= 0 {
		return nil, fmt.Errorf("requests per minute must be greater than 0")
	}
	switch mode {
	case ModeWindow, "":
		return NewWindow(requestsPerMinute, name, log), nil
	case ModeInterval:
		return NewInterval(requestsPerMinute, name, log), nil
	default:
		return nil, fmt.Errorf("unknown rate limit mode %q", mode)
	}
}

// WindowLimiter admits at most max requests per fixed 60-second window.
// Once the cap is hit the caller sleeps out the rest of the window.
type WindowLimiter struct {
	mu          sync.Mutex
	name        string
	max         int
	window      time.Duration
	windowStart time.Time
	count       int
	log         *logger.Log
}

func NewWindow(requestsPerMinute int, name string, log *logger.Log) *WindowLimiter {
	if log == nil {
		log = logger.GetLogger()
	}
	return &WindowLimiter{
		name:   name,
		max:    requestsPerMinute,
		window: time.Minute,
		log:    log,
	}
}

func (l *WindowLimiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := timeNow()
	if l.windowStart.IsZero() || now.Sub(l.windowStart) >= l.window {
		l.windowStart = now
		l.count = 0
	}

	if l.count >= l.max {
		wait := l.window - now.Sub(l.windowStart)
		l.log.WithComponent("ratelimit").WithFields(logger.Fields{
			"limiter": l.name,
			"wait_ms": wait.Milliseconds(),
			"max_rpm": l.max,
		}).Info("request budget exhausted; waiting for window reset")
		metrics.EmitMetric(l.log, "ratelimit", "limiter_wait_ms", wait, metrics.TypeGauge, logger.Fields{"provider": l.name, "unit": "ms"})

		if err := sleep(ctx, wait); err != nil {
			return err
		}
		l.windowStart = timeNow()
		l.count = 0
	}

	l.count++
	return nil
}

// IntervalLimiter spaces requests evenly, one every minute/rpm.
type IntervalLimiter struct {
	name    string
	limiter *rate.Limiter
	log     *logger.Log
}

func NewInterval(requestsPerMinute int, name string, log *logger.Log) *IntervalLimiter {
	if log == nil {
		log = logger.GetLogger()
	}
	return &IntervalLimiter{
		name:    name,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1),
		log:     log,
	}
}

func (l *IntervalLimiter) Acquire(ctx context.Context) error {
	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s limiter: %w", l.name, err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.EmitMetric(l.log, "ratelimit", "limiter_wait_ms", waited, metrics.TypeGauge, logger.Fields{"provider": l.name, "unit": "ms"})
	}
	return nil
}
