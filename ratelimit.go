// Package ratelimitcore is a generic, embeddable rate-limiting engine:
// namespaced limits with conditions and qualifying variables, counted
// against pluggable storage backends.
//
// By default the rate limiter keeps its counters in memory:
//
//	limiter, err := ratelimitcore.New()
//
// To use a different backend, pass an Option:
//
//	limiter, err := ratelimitcore.New(ratelimitcore.WithBackend(myStorage))
package ratelimitcore

import (
	"fmt"
	"time"

	"github.com/nsavage/ratelimitcore/backends"
	"github.com/nsavage/ratelimitcore/backends/memory"
	"github.com/nsavage/ratelimitcore/counter"
	"github.com/nsavage/ratelimitcore/limit"
	"github.com/nsavage/ratelimitcore/registry"
)

// RateLimiter is the engine facade (§4.G, component G): it translates a
// (namespace, values, delta) triple into the counter set the active limits
// define, then dispatches to the configured storage backend.
type RateLimiter struct {
	config   Config
	registry *registry.Registry
}

// New builds a RateLimiter. With no options it stores counters in memory
// using memory.DefaultCacheSize.
func New(opts ...Option) (*RateLimiter, error) {
	config := Config{}
	for _, opt := range opts {
		if err := opt(&config); err != nil {
			return nil, fmt.Errorf("ratelimitcore: applying option: %w", err)
		}
	}
	if config.Storage == nil {
		config.Storage = memory.New(memory.DefaultCacheSize)
	}

	return &RateLimiter{
		config:   config,
		registry: registry.New(config.Storage),
	}, nil
}

// AddLimit registers l, creating its counter storage. Reports whether l was
// newly added.
func (r *RateLimiter) AddLimit(l *limit.Limit) (bool, error) {
	return r.registry.AddLimit(l)
}

// UpdateLimit replaces an existing limit matched by Key with update if its
// MaxValue or Name differ. Never resets counters.
func (r *RateLimiter) UpdateLimit(update *limit.Limit) bool {
	return r.registry.UpdateLimit(update)
}

// DeleteLimit removes l and its counter storage.
func (r *RateLimiter) DeleteLimit(l *limit.Limit) error {
	return r.registry.DeleteLimit(l)
}

// DeleteLimits removes every limit (and counter storage) in namespace.
func (r *RateLimiter) DeleteLimits(namespace string) error {
	if err := validateNamespace(namespace); err != nil {
		return err
	}
	return r.registry.DeleteLimits(namespace)
}

// GetLimits returns a snapshot of the limits currently registered under
// namespace.
func (r *RateLimiter) GetLimits(namespace string) []*limit.Limit {
	return r.registry.GetLimits(namespace)
}

// GetNamespaces returns a snapshot of every namespace holding at least one
// limit.
func (r *RateLimiter) GetNamespaces() []string {
	return r.registry.GetNamespaces()
}

// GetCounters returns a live snapshot of every non-expired counter for
// namespace's limits.
func (r *RateLimiter) GetCounters(namespace string) ([]counter.Counter, error) {
	limits := r.registry.GetLimits(namespace)
	return r.config.Storage.GetCounters(limits)
}

// Clear empties every limit and every counter.
func (r *RateLimiter) Clear() error {
	return r.registry.Clear()
}

// countersThatApply builds one Counter per limit in namespace whose
// conditions and qualifying variables are satisfied by values (§4.G).
func (r *RateLimiter) countersThatApply(namespace string, values map[string]string) []*counter.Counter {
	limits := r.registry.GetLimits(namespace)
	out := make([]*counter.Counter, 0, len(limits))
	for _, l := range limits {
		if !l.Applies(values) {
			continue
		}
		window := time.Duration(l.Seconds()) * time.Second
		c := counter.New(l, window, values)
		out = append(out, &c)
	}
	return out
}

// IsRateLimited reports whether delta would push any applicable counter
// over its limit. Never mutates.
func (r *RateLimiter) IsRateLimited(namespace string, values map[string]string, delta uint64) (bool, error) {
	if err := validateNamespace(namespace); err != nil {
		return false, err
	}
	for _, c := range r.countersThatApply(namespace, values) {
		within, err := r.config.Storage.IsWithinLimits(c, delta)
		if err != nil {
			return false, err
		}
		if !within {
			return true, nil
		}
	}
	return false, nil
}

// UpdateCounters unconditionally applies delta to every applicable counter.
// This bypasses the limit check — callers that need atomicity between the
// check and the update should use CheckRateLimitedAndUpdate instead.
func (r *RateLimiter) UpdateCounters(namespace string, values map[string]string, delta uint64) error {
	if err := validateNamespace(namespace); err != nil {
		return err
	}
	for _, c := range r.countersThatApply(namespace, values) {
		if err := r.config.Storage.UpdateCounter(c, delta); err != nil {
			return err
		}
	}
	return nil
}

// CheckRateLimitedAndUpdate runs the all-or-nothing decision protocol
// (§4.E): every applicable counter increments by delta, or none do.
// loadCounters is passed to the backend, which then evaluates every counter
// instead of stopping at the first one over its limit; the counters are
// built inside this call and are not returned to the caller.
func (r *RateLimiter) CheckRateLimitedAndUpdate(namespace string, values map[string]string, delta uint64, loadCounters bool) (backends.Authorization, error) {
	if err := validateNamespace(namespace); err != nil {
		return backends.Authorization{}, err
	}
	counters := r.countersThatApply(namespace, values)
	return r.config.Storage.CheckAndUpdate(counters, delta, loadCounters)
}
