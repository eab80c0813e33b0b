// Package health periodically probes a storage backend's liveness so a
// composite backend can decide when to fail over and when to recover.
package health

import (
	"sync/atomic"
	"time"

	"github.com/nsavage/ratelimitcore/backends"
)

// Config holds checker timing.
type Config struct {
	Interval time.Duration // probe frequency; <= 0 disables background checking
	Timeout  time.Duration // unused by the in-process Pinger probe, kept for parity with I/O-bound backends
}

// DefaultConfig returns sensible probe timing.
func DefaultConfig() Config {
	return Config{
		Interval: 10 * time.Second,
		Timeout:  2 * time.Second,
	}
}

// Option configures a Checker.
type Option func(*Config)

// WithInterval sets the probe interval.
func WithInterval(interval time.Duration) Option {
	return func(c *Config) { c.Interval = interval }
}

// WithTimeout sets the probe timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) { c.Timeout = timeout }
}

// Checker periodically calls Ping on a backend that implements
// backends.Pinger and exposes the latest result via Healthy. A backend that
// doesn't implement Pinger is always reported healthy — there is nothing to
// probe.
type Checker struct {
	target   backends.Pinger
	config   Config
	stopChan chan struct{}
	healthy  atomic.Bool
	onChange func(healthy bool)
}

// New builds a Checker for storage. If storage doesn't implement
// backends.Pinger, Start is a no-op and Healthy always reports true.
func New(storage backends.CounterStorage, onChange func(healthy bool), opts ...Option) *Checker {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	c := &Checker{
		config:   config,
		stopChan: make(chan struct{}),
		onChange: onChange,
	}
	c.healthy.Store(true)
	if pinger, ok := storage.(backends.Pinger); ok {
		c.target = pinger
	}
	return c
}

// Start begins background probing. A no-op if the checker has no Pinger
// target or Interval <= 0.
func (c *Checker) Start() {
	if c.target == nil || c.config.Interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(c.config.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.probe()
			case <-c.stopChan:
				return
			}
		}
	}()
}

// Stop ends background probing. Safe to call more than once.
func (c *Checker) Stop() {
	select {
	case <-c.stopChan:
	default:
		close(c.stopChan)
	}
}

// Healthy reports the outcome of the most recent probe (true before the
// first probe runs, and always true for a backend with no Pinger).
func (c *Checker) Healthy() bool {
	return c.healthy.Load()
}

func (c *Checker) probe() {
	wasHealthy := c.healthy.Load()
	isHealthy := c.target.Ping() == nil
	c.healthy.Store(isHealthy)
	if isHealthy != wasHealthy && c.onChange != nil {
		c.onChange(isHealthy)
	}
}
