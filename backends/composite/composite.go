// Package composite implements a CounterStorage that fails over from a
// primary backend to a secondary one when the primary trips its circuit
// breaker, and recovers once a background health check reports the primary
// is reachable again.
package composite

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nsavage/ratelimitcore/backends"
	"github.com/nsavage/ratelimitcore/backends/health"
	"github.com/nsavage/ratelimitcore/counter"
	"github.com/nsavage/ratelimitcore/limit"
)

type breakerState int32

const (
	stateClosed breakerState = iota
	stateHalfOpen
	stateOpen
)

// BreakerConfig tunes when the circuit opens and how long it stays open
// before allowing a trial request through to the primary backend again.
type BreakerConfig struct {
	FailureThreshold int32         // consecutive failures before tripping
	RecoveryTimeout  time.Duration // time to wait before a half-open trial
}

// breaker is a 3-state circuit breaker (closed/half-open/open) guarding the
// primary CounterStorage. Unlike a generic RPC breaker it trips on a named
// rate-limiter operation (IsWithinLimits, UpdateCounter, CheckAndUpdate,
// GetCounters) and remembers which one last tripped it, so a caller
// inspecting Store.LastFailoverOp can tell whether the primary is failing
// limit decisions, writes, or both.
type breaker struct {
	config       BreakerConfig
	state        int32 // atomic, breakerState
	failureCount int32 // atomic
	openedAt     int64 // atomic, UnixNano

	mu        sync.Mutex
	trippedOp string // CounterStorage method name that last tripped the breaker
}

func newBreaker(config BreakerConfig) *breaker {
	return &breaker{config: config, state: int32(stateClosed)}
}

// shouldTrip records a failure from op (nil err is a no-op) and reports
// whether it just pushed the breaker over its threshold and open.
func (b *breaker) shouldTrip(op string, err error) bool {
	if err == nil {
		return false
	}
	newCount := atomic.AddInt32(&b.failureCount, 1)
	if newCount >= b.config.FailureThreshold {
		b.open(op)
		return true
	}
	return false
}

// isOpen reports whether the secondary backend should serve the call
// instead of the primary. An open breaker past its recovery timeout
// transitions to half-open; while half-open, calls go to the primary until
// a success closes the breaker or a failure opens it again.
func (b *breaker) isOpen() bool {
	switch breakerState(atomic.LoadInt32(&b.state)) {
	case stateOpen:
		openedAtNano := atomic.LoadInt64(&b.openedAt)
		if time.Since(time.Unix(0, openedAtNano)) >= b.config.RecoveryTimeout {
			if atomic.CompareAndSwapInt32(&b.state, int32(stateOpen), int32(stateHalfOpen)) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func (b *breaker) open(op string) {
	atomic.StoreInt32(&b.state, int32(stateOpen))
	atomic.StoreInt64(&b.openedAt, time.Now().UnixNano())
	b.mu.Lock()
	b.trippedOp = op
	b.mu.Unlock()
}

func (b *breaker) close() {
	atomic.StoreInt32(&b.state, int32(stateClosed))
	atomic.StoreInt32(&b.failureCount, 0)
}

func (b *breaker) getState() breakerState {
	return breakerState(atomic.LoadInt32(&b.state))
}

func (b *breaker) getFailureCount() int32 {
	return atomic.LoadInt32(&b.failureCount)
}

// trippedBy returns the CounterStorage operation that last tripped the
// breaker open, or "" if it never has.
func (b *breaker) trippedBy() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.trippedOp
}

// Config holds the composite backend's dependencies and tuning.
type Config struct {
	Primary        backends.CounterStorage
	Secondary      backends.CounterStorage
	CircuitBreaker BreakerConfig
	HealthChecker  health.Config
}

// Store routes the hot-path decision operations (IsWithinLimits,
// UpdateCounter, CheckAndUpdate, GetCounters) to Primary unless its circuit
// breaker is open, in which case Secondary serves them. AddCounter,
// DeleteCounters, and Clear are structural operations and are sent to the
// primary and then the secondary so either one can serve the full limit
// set; an error from the primary is returned without calling the secondary.
type Store struct {
	config    Config
	primary   backends.CounterStorage
	secondary backends.CounterStorage
	breaker   *breaker
	checker   *health.Checker
}

// New builds a Store. Both Primary and Secondary are required.
func New(config Config) (*Store, error) {
	if config.Primary == nil {
		return nil, fmt.Errorf("composite: primary backend is required")
	}
	if config.Secondary == nil {
		return nil, fmt.Errorf("composite: secondary backend is required")
	}
	if config.CircuitBreaker.FailureThreshold <= 0 {
		config.CircuitBreaker.FailureThreshold = 5
	}
	if config.CircuitBreaker.RecoveryTimeout <= 0 {
		config.CircuitBreaker.RecoveryTimeout = 30 * time.Second
	}
	if config.HealthChecker.Interval <= 0 {
		config.HealthChecker.Interval = 10 * time.Second
	}
	if config.HealthChecker.Timeout <= 0 {
		config.HealthChecker.Timeout = 2 * time.Second
	}

	s := &Store{
		config:    config,
		primary:   config.Primary,
		secondary: config.Secondary,
		breaker:   newBreaker(config.CircuitBreaker),
	}
	s.checker = health.New(s.primary, s.onPrimaryHealthChange,
		health.WithInterval(config.HealthChecker.Interval),
		health.WithTimeout(config.HealthChecker.Timeout))
	s.checker.Start()
	return s, nil
}

func (s *Store) onPrimaryHealthChange(healthy bool) {
	if healthy && s.breaker.getState() == stateOpen {
		s.breaker.close()
	}
}

// afterPrimaryCall records the outcome of a primary call made for op. A
// success closes a half-open breaker and clears the failure count of a
// closed one, so only consecutive failures trip it.
func (s *Store) afterPrimaryCall(op string, err error) {
	if s.breaker.shouldTrip(op, err) {
		return
	}
	if err == nil {
		switch s.breaker.getState() {
		case stateHalfOpen:
			s.breaker.close()
		case stateClosed:
			atomic.StoreInt32(&s.breaker.failureCount, 0)
		}
	}
}

// IsWithinLimits routes to the primary unless its breaker is open.
func (s *Store) IsWithinLimits(c *counter.Counter, delta uint64) (bool, error) {
	if s.breaker.isOpen() {
		return s.secondary.IsWithinLimits(c, delta)
	}
	ok, err := s.primary.IsWithinLimits(c, delta)
	s.afterPrimaryCall("IsWithinLimits", err)
	if err != nil && s.breaker.getState() == stateOpen {
		return s.secondary.IsWithinLimits(c, delta)
	}
	return ok, err
}

// AddCounter registers l's window on both backends.
func (s *Store) AddCounter(l *limit.Limit) error {
	if err := s.primary.AddCounter(l); err != nil {
		return err
	}
	return s.secondary.AddCounter(l)
}

// UpdateCounter routes to the primary unless its breaker is open.
func (s *Store) UpdateCounter(c *counter.Counter, delta uint64) error {
	if s.breaker.isOpen() {
		return s.secondary.UpdateCounter(c, delta)
	}
	err := s.primary.UpdateCounter(c, delta)
	s.afterPrimaryCall("UpdateCounter", err)
	if err != nil && s.breaker.getState() == stateOpen {
		return s.secondary.UpdateCounter(c, delta)
	}
	return err
}

// CheckAndUpdate routes to the primary unless its breaker is open.
func (s *Store) CheckAndUpdate(counters []*counter.Counter, delta uint64, loadCounters bool) (backends.Authorization, error) {
	if s.breaker.isOpen() {
		return s.secondary.CheckAndUpdate(counters, delta, loadCounters)
	}
	auth, err := s.primary.CheckAndUpdate(counters, delta, loadCounters)
	s.afterPrimaryCall("CheckAndUpdate", err)
	if err != nil && s.breaker.getState() == stateOpen {
		return s.secondary.CheckAndUpdate(counters, delta, loadCounters)
	}
	return auth, err
}

// GetCounters routes to the primary unless its breaker is open.
func (s *Store) GetCounters(limits []*limit.Limit) ([]counter.Counter, error) {
	if s.breaker.isOpen() {
		return s.secondary.GetCounters(limits)
	}
	counters, err := s.primary.GetCounters(limits)
	s.afterPrimaryCall("GetCounters", err)
	if err != nil && s.breaker.getState() == stateOpen {
		return s.secondary.GetCounters(limits)
	}
	return counters, err
}

// DeleteCounters removes counter storage for limits from both backends.
func (s *Store) DeleteCounters(limits []*limit.Limit) error {
	if err := s.primary.DeleteCounters(limits); err != nil {
		return err
	}
	return s.secondary.DeleteCounters(limits)
}

// Clear empties both backends.
func (s *Store) Clear() error {
	if err := s.primary.Clear(); err != nil {
		return err
	}
	return s.secondary.Clear()
}

// Close stops the background health checker.
func (s *Store) Close() {
	s.checker.Stop()
}

// GetCircuitBreakerState reports the breaker's current state, for
// monitoring.
func (s *Store) GetCircuitBreakerState() string {
	switch s.breaker.getState() {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// LastFailoverOp returns the CounterStorage operation that last tripped the
// breaker open (e.g. "CheckAndUpdate"), or "" if it never has. Useful for
// logging why traffic is currently landing on the secondary backend.
func (s *Store) LastFailoverOp() string {
	return s.breaker.trippedBy()
}

var _ backends.CounterStorage = (*Store)(nil)
