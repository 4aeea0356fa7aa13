// Package provider walks ordered provider chains: a primary remote source, an
// optional key-gated secondary, then a static table that always answers.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"featureflow/errs"
	"featureflow/internal/metrics"
	"featureflow/logger"
)

// Tier orders providers within a chain.
type Tier int

const (
	TierPrimary Tier = iota
	TierSecondary
	TierFallback
)

func (t Tier) String() string {
	switch t {
	case TierPrimary:
		return "primary"
	case TierSecondary:
		return "secondary"
	case TierFallback:
		return "fallback"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// ParseTier accepts primary, secondary or fallback.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "primary":
		return TierPrimary, nil
	case "secondary":
		return TierSecondary, nil
	case "fallback", "static":
		return TierFallback, nil
	default:
		return 0, fmt.Errorf("%w: unknown provider tier %q", errs.ErrInvalidInput, s)
	}
}

// Provider answers queries of type Q with values of type V.
type Provider[Q, V any] interface {
	Name() string
	Tier() Tier
	// Enabled is false when the provider lacks a required credential.
	Enabled() bool
	FetchFor(ctx context.Context, q Q) (V, error)
}

// Static is the fallback tier. Its function must be total.
type Static[Q, V any] struct {
	name string
	fn   func(Q) V
}

func NewStatic[Q, V any](name string, fn func(Q) V) Static[Q, V] {
	return Static[Q, V]{name: name, fn: fn}
}

func (s Static[Q, V]) Name() string  { return s.name }
func (s Static[Q, V]) Tier() Tier    { return TierFallback }
func (s Static[Q, V]) Enabled() bool { return true }

func (s Static[Q, V]) FetchFor(_ context.Context, q Q) (V, error) {
	return s.fn(q), nil
}

// Value answers q without a context.
func (s Static[Q, V]) Value(q Q) V {
	return s.fn(q)
}

// Result is a resolved value and the provider that supplied it.
type Result[V any] struct {
	Value  V
	Source string
	Tier   Tier
}

// Degraded reports whether the value came from the static fallback.
func (r Result[V]) Degraded() bool {
	return r.Tier == TierFallback
}

// Chain resolves a query against its providers in tier order and stops at the
// first success. A remote provider that exhausts its retries is skipped for
// the cooldown period.
type Chain[Q, V any] struct {
	family   string
	remotes  []Provider[Q, V]
	fallback Static[Q, V]
	cooldown time.Duration
	log      *logger.Log

	mu        sync.Mutex
	coolUntil map[string]time.Time
}

var timeNow = time.Now

func NewChain[Q, V any](family string, log *logger.Log, cooldown time.Duration, fallback Static[Q, V], remotes ...Provider[Q, V]) *Chain[Q, V] {
	if log == nil {
		log = logger.GetLogger()
	}
	ordered := make([]Provider[Q, V], 0, len(remotes))
	for _, p := range remotes {
		if p != nil && p.Tier() != TierFallback {
			ordered = append(ordered, p)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Tier() < ordered[j].Tier() })

	return &Chain[Q, V]{
		family:    family,
		remotes:   ordered,
		fallback:  fallback,
		cooldown:  cooldown,
		log:       log,
		coolUntil: make(map[string]time.Time),
	}
}

func (c *Chain[Q, V]) Family() string {
	return c.family
}

// Providers lists provider names in traversal order, fallback last.
func (c *Chain[Q, V]) Providers() []string {
	names := make([]string, 0, len(c.remotes)+1)
	for _, p := range c.remotes {
		names = append(names, p.Name())
	}
	return append(names, c.fallback.Name())
}

// Resolve never fails because of a provider; the only error is ctx ending.
func (c *Chain[Q, V]) Resolve(ctx context.Context, q Q) (Result[V], error) {
	entry := c.log.WithComponent("provider").WithField("family", c.family)

	for _, p := range c.remotes {
		if !p.Enabled() {
			entry.WithField("provider", p.Name()).Debug("provider disabled; skipping")
			continue
		}
		if c.coolingDown(p.Name()) {
			entry.WithField("provider", p.Name()).Debug("provider cooling down; skipping")
			continue
		}

		value, err := p.FetchFor(ctx, q)
		if err == nil {
			return Result[V]{Value: value, Source: p.Name(), Tier: p.Tier()}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result[V]{}, ctxErr
		}

		var rfe *errs.RemoteFetchError
		if errors.As(err, &rfe) && rfe.Transient {
			c.startCooldown(p.Name())
		}
		entry.WithError(err).WithFields(logger.Fields{
			"provider": p.Name(),
			"tier":     p.Tier().String(),
		}).Warn("provider failed; trying next tier")
		metrics.Count(c.log, "provider", "provider_failure", logger.Fields{"provider": p.Name(), "family": c.family})
	}

	if err := ctx.Err(); err != nil {
		return Result[V]{}, err
	}

	entry.WithField("provider", c.fallback.Name()).Warn("serving static fallback data")
	metrics.Count(c.log, "provider", "provider_fallback", logger.Fields{"provider": c.fallback.Name(), "family": c.family})
	return Result[V]{Value: c.fallback.Value(q), Source: c.fallback.Name(), Tier: TierFallback}, nil
}

// ResolveTier queries exactly one tier. Forcing a tier that is missing or
// lacks its credential is a configuration error; remote failures are
// returned instead of falling back.
func (c *Chain[Q, V]) ResolveTier(ctx context.Context, q Q, tier Tier) (Result[V], error) {
	if tier == TierFallback {
		return Result[V]{Value: c.fallback.Value(q), Source: c.fallback.Name(), Tier: TierFallback}, nil
	}
	for _, p := range c.remotes {
		if p.Tier() != tier {
			continue
		}
		if !p.Enabled() {
			return Result[V]{}, errs.Configuration("provider", "%s tier %s (%s) is disabled: missing credential", c.family, tier, p.Name())
		}
		value, err := p.FetchFor(ctx, q)
		if err != nil {
			return Result[V]{}, fmt.Errorf("%s %s: %w", c.family, p.Name(), err)
		}
		return Result[V]{Value: value, Source: p.Name(), Tier: tier}, nil
	}
	return Result[V]{}, errs.Configuration("provider", "%s has no %s tier configured", c.family, tier)
}

func (c *Chain[Q, V]) coolingDown(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.coolUntil[name]
	if !ok {
		return false
	}
	if timeNow().Before(until) {
		return true
	}
	delete(c.coolUntil, name)
	return false
}

func (c *Chain[Q, V]) startCooldown(name string) {
	if c.cooldown <= 0 {
		return
	}
	c.mu.Lock()
	c.coolUntil[name] = timeNow().Add(c.cooldown)
	c.mu.Unlock()
}
