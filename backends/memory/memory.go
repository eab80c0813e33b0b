// Package memory implements the always-resident in-memory CounterStorage
// (§4.E): simple counters live behind an RWMutex-guarded map, qualified
// counters behind a bounded, lazily-populated LRU cache. It is the default
// backend and the one every other backend's behavior is checked against.
package memory

import (
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/nsavage/ratelimitcore/backends"
	"github.com/nsavage/ratelimitcore/counter"
	"github.com/nsavage/ratelimitcore/limit"
)

// DefaultCacheSize is the qualified-counter cache capacity used when New is
// given a non-positive size.
const DefaultCacheSize = 10_000

// qualifiedKey identifies one (limit, bindings) pair in the qualified cache.
// bindings is the sorted "name=val|..." rendering of the binding map so two
// counters with the same variables in different map iteration orders hash
// identically.
type qualifiedKey struct {
	limitKey string
	bindings string
}

func bindingsKey(bindings map[string]string) string {
	names := make([]string, 0, len(bindings))
	for k := range bindings {
		names = append(names, k)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(bindings[name])
		b.WriteByte('|')
	}
	return b.String()
}

type qualifiedEntry struct {
	bindings map[string]string
	values   *counter.ValueSet
}

// Store is the in-memory CounterStorage. The zero value is not usable; use
// New.
type Store struct {
	mu       sync.RWMutex
	counters map[string]*counter.ValueSet // keyed by limit.Key(), simple (unqualified) limits only

	windowsMu sync.RWMutex
	windows   map[string][]time.Duration // limit.Key() -> registered windows, consulted when a qualified cache entry is created

	qualified *lru.Cache[qualifiedKey, *qualifiedEntry]
	group     singleflight.Group
}

// New builds a Store whose qualified-counter cache evicts least-recently-used
// entries once it holds cacheSize distinct (limit, bindings) pairs. A
// non-positive cacheSize is replaced by DefaultCacheSize.
func New(cacheSize int) *Store {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	c, err := lru.New[qualifiedKey, *qualifiedEntry](cacheSize)
	if err != nil {
		// only New's own size validation can fail here, already guarded above
		panic(err)
	}
	return &Store{
		counters: make(map[string]*counter.ValueSet),
		windows:  make(map[string][]time.Duration),
		qualified: c,
	}
}

func withinLimits(value, delta, max uint64) bool {
	return value+delta <= max
}

// AddCounter registers l's window with the store (§4.E). Simple limits get
// an eager storage slot; qualified limits are indexed by window so a cache
// miss on first use can build the right CounterValueSet shape.
func (s *Store) AddCounter(l *limit.Limit) error {
	window := time.Duration(l.Seconds()) * time.Second

	if !l.Qualified() {
		s.mu.Lock()
		defer s.mu.Unlock()
		vs, ok := s.counters[l.Key()]
		if !ok {
			vs = counter.NewValueSet(nil)
			s.counters[l.Key()] = vs
		}
		vs.AddWindow(window)
		return nil
	}

	s.windowsMu.Lock()
	defer s.windowsMu.Unlock()
	ws := s.windows[l.Key()]
	for _, w := range ws {
		if w == window {
			return nil
		}
	}
	ws = append(ws, window)
	sort.Slice(ws, func(i, j int) bool { return ws[i] < ws[j] })
	s.windows[l.Key()] = ws
	return nil
}

func (s *Store) windowsFor(limitKey string) []time.Duration {
	s.windowsMu.RLock()
	defer s.windowsMu.RUnlock()
	return append([]time.Duration(nil), s.windows[limitKey]...)
}

// loadQualified returns the cache entry for qk, building and inserting one
// from the registered window index on a miss. Concurrent misses for the same
// key collapse onto a single builder via singleflight.
func (s *Store) loadQualified(qk qualifiedKey, bindings map[string]string) (*qualifiedEntry, error) {
	if e, ok := s.qualified.Get(qk); ok {
		return e, nil
	}
	v, err, _ := s.group.Do(qk.limitKey+"\x00"+qk.bindings, func() (any, error) {
		if e, ok := s.qualified.Get(qk); ok {
			return e, nil
		}
		e := &qualifiedEntry{
			bindings: bindings,
			values:   counter.NewValueSet(s.windowsFor(qk.limitKey)),
		}
		s.qualified.Add(qk, e)
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*qualifiedEntry), nil
}

// IsWithinLimits reports whether c could absorb delta without exceeding its
// maximum. Never mutates, never creates a qualified cache entry on a miss.
func (s *Store) IsWithinLimits(c *counter.Counter, delta uint64) (bool, error) {
	now := time.Now()
	var value uint64

	if c.Qualified() {
		qk := qualifiedKey{limitKey: c.Key(), bindings: bindingsKey(c.Bindings())}
		if e, ok := s.qualified.Get(qk); ok {
			value = e.values.Value(c.Window(), now)
		}
	} else {
		s.mu.RLock()
		vs := s.counters[c.Key()]
		s.mu.RUnlock()
		if vs != nil {
			value = vs.Value(c.Window(), now)
		}
	}
	return withinLimits(value, delta, c.MaxValue()), nil
}

// UpdateCounter unconditionally applies delta to c's window, creating a
// qualified cache entry on first use.
func (s *Store) UpdateCounter(c *counter.Counter, delta uint64) error {
	now := time.Now()

	if c.Qualified() {
		qk := qualifiedKey{limitKey: c.Key(), bindings: bindingsKey(c.Bindings())}
		e, err := s.loadQualified(qk, c.Bindings())
		if err != nil {
			return err
		}
		if _, err := e.values.Update(c.Window(), delta, now); err != nil {
			panic("ratelimitcore: no slot registered for this window, AddCounter was never called for it")
		}
		return nil
	}

	s.mu.RLock()
	vs := s.counters[c.Key()]
	s.mu.RUnlock()
	if vs == nil {
		panic("ratelimitcore: counter " + c.Key() + " was never registered via AddCounter")
	}
	if _, err := vs.Update(c.Window(), delta, now); err != nil {
		panic("ratelimitcore: no slot registered for this window, AddCounter was never called for it")
	}
	return nil
}

type pendingUpdate struct {
	value  *counter.AtomicExpiringValue
	window time.Duration
}

// CheckAndUpdate runs the dry-run/commit decision protocol (§4.E): every
// counter's current value is read and, when loadCounters is true, its
// Remaining is populated, before any write happens. If any counter would
// exceed its maximum the batch is refused and nothing is written; otherwise
// every counter's window is incremented by delta.
func (s *Store) CheckAndUpdate(counters []*counter.Counter, delta uint64, loadCounters bool) (backends.Authorization, error) {
	now := time.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var pending []pendingUpdate
	var firstLimited *backends.Authorization

	evaluate := func(c *counter.Counter, value uint64) (bool, error) {
		ok := withinLimits(value, delta, c.MaxValue())
		if loadCounters {
			if ok {
				c.SetRemaining(c.MaxValue() - (value + delta))
			} else {
				c.SetRemaining(0)
			}
			if !ok && firstLimited == nil {
				auth := backends.Limiting(c.Limit().Name())
				firstLimited = &auth
			}
		}
		if !ok && !loadCounters {
			return false, nil
		}
		return true, nil
	}

	for _, c := range counters {
		if c.Qualified() {
			continue
		}
		vs := s.counters[c.Key()]
		if vs == nil {
			panic("ratelimitcore: counter " + c.Key() + " was never registered via AddCounter")
		}
		value := vs.Value(c.Window(), now)
		cont, err := evaluate(c, value)
		if err != nil {
			return backends.Authorization{}, err
		}
		if !cont {
			return backends.Limiting(c.Limit().Name()), nil
		}
		pending = append(pending, pendingUpdate{vs.ExpiringValueOf(c.Window()), c.Window()})
	}

	for _, c := range counters {
		if !c.Qualified() {
			continue
		}
		qk := qualifiedKey{limitKey: c.Key(), bindings: bindingsKey(c.Bindings())}
		e, err := s.loadQualified(qk, c.Bindings())
		if err != nil {
			return backends.Authorization{}, err
		}
		value := e.values.Value(c.Window(), now)
		cont, err := evaluate(c, value)
		if err != nil {
			return backends.Authorization{}, err
		}
		if !cont {
			return backends.Limiting(c.Limit().Name()), nil
		}
		pending = append(pending, pendingUpdate{e.values.ExpiringValueOf(c.Window()), c.Window()})
	}

	if firstLimited != nil {
		return *firstLimited, nil
	}

	for _, p := range pending {
		p.value.Update(delta, p.window, now)
	}
	return backends.Ok, nil
}

// GetCounters returns a live snapshot of every non-expired counter belonging
// to limits.
func (s *Store) GetCounters(limits []*limit.Limit) ([]counter.Counter, error) {
	now := time.Now()
	var res []counter.Counter

	s.mu.RLock()
	for _, l := range limits {
		if l.Qualified() {
			continue
		}
		vs := s.counters[l.Key()]
		if vs == nil {
			continue
		}
		for _, c := range vs.ToCounters(l, nil, now) {
			if c.ExpiresIn() > 0 {
				res = append(res, c)
			}
		}
	}
	s.mu.RUnlock()

	for _, qk := range s.qualified.Keys() {
		e, ok := s.qualified.Peek(qk)
		if !ok {
			continue
		}
		for _, l := range limits {
			if !l.AppliesToKey(qk.limitKey) {
				continue
			}
			for _, c := range e.values.ToCounters(l, e.bindings, now) {
				if c.ExpiresIn() > 0 {
					res = append(res, c)
				}
			}
		}
	}
	return res, nil
}

// DeleteCounters removes all counter storage for limits, whether they ever
// had any traffic recorded or not.
func (s *Store) DeleteCounters(limits []*limit.Limit) error {
	for _, l := range limits {
		if !l.Qualified() {
			s.mu.Lock()
			delete(s.counters, l.Key())
			s.mu.Unlock()
			continue
		}

		s.windowsMu.Lock()
		delete(s.windows, l.Key())
		s.windowsMu.Unlock()

		for _, qk := range s.qualified.Keys() {
			if qk.limitKey == l.Key() {
				s.qualified.Remove(qk)
			}
		}
	}
	return nil
}

// Clear empties the entire store.
func (s *Store) Clear() error {
	s.mu.Lock()
	s.counters = make(map[string]*counter.ValueSet)
	s.mu.Unlock()

	s.windowsMu.Lock()
	s.windows = make(map[string][]time.Duration)
	s.windowsMu.Unlock()

	s.qualified.Purge()
	return nil
}

var _ backends.CounterStorage = (*Store)(nil)
