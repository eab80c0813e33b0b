package counter

import (
	"fmt"
	"sort"
	"time"

	"github.com/nsavage/ratelimitcore/limit"
)

// ValueSet is an ordered, duplicate-free collection of AtomicExpiringValue,
// one per distinct window length registered against a limit key (§4.B). It
// only ever grows.
type ValueSet struct {
	windows []time.Duration
	values  []*AtomicExpiringValue
}

// NewValueSet builds a ValueSet already holding one fresh slot per window,
// used to seed a qualified counter's cache entry from the limit's
// registered window index.
func NewValueSet(windows []time.Duration) *ValueSet {
	vs := &ValueSet{
		windows: append([]time.Duration(nil), windows...),
	}
	vs.values = make([]*AtomicExpiringValue, len(vs.windows))
	for i := range vs.values {
		vs.values[i] = &AtomicExpiringValue{}
	}
	return vs
}

func (vs *ValueSet) indexOf(window time.Duration) int {
	// windows is small (almost always one entry) and sorted ascending;
	// linear scan beats a binary search's overhead here.
	for i, w := range vs.windows {
		if w == window {
			return i
		}
		if w > window {
			break
		}
	}
	return -1
}

// AddWindow idempotently inserts window, preserving ascending order and
// uniqueness by seconds. Existing entries' values are left untouched.
func (vs *ValueSet) AddWindow(window time.Duration) {
	if vs.indexOf(window) >= 0 {
		return
	}
	vs.windows = append(vs.windows, window)
	vs.values = append(vs.values, &AtomicExpiringValue{})
	sort.Sort(bySeconds{vs.windows, vs.values})
}

type bySeconds struct {
	windows []time.Duration
	values  []*AtomicExpiringValue
}

func (s bySeconds) Len() int      { return len(s.windows) }
func (s bySeconds) Swap(i, j int) {
	s.windows[i], s.windows[j] = s.windows[j], s.windows[i]
	s.values[i], s.values[j] = s.values[j], s.values[i]
}
func (s bySeconds) Less(i, j int) bool { return s.windows[i] < s.windows[j] }

// Value returns the current count for window, or 0 if unregistered/expired.
func (vs *ValueSet) Value(window time.Duration, now time.Time) uint64 {
	i := vs.indexOf(window)
	if i < 0 {
		return 0
	}
	return vs.values[i].ValueAt(now)
}

// ExpiringValueOf returns the underlying AtomicExpiringValue for window, or
// nil if the window isn't registered.
func (vs *ValueSet) ExpiringValueOf(window time.Duration) *AtomicExpiringValue {
	i := vs.indexOf(window)
	if i < 0 {
		return nil
	}
	return vs.values[i]
}

// Update applies delta to window's value, failing if the window was never
// registered via AddWindow/NewValueSet.
func (vs *ValueSet) Update(window time.Duration, delta uint64, now time.Time) (uint64, error) {
	v := vs.ExpiringValueOf(window)
	if v == nil {
		return 0, fmt.Errorf("counter: window %s is not registered for this limit", window)
	}
	return v.Update(delta, window, now), nil
}

// Windows returns the registered window lengths in ascending order.
func (vs *ValueSet) Windows() []time.Duration {
	return append([]time.Duration(nil), vs.windows...)
}

// ToCounters yields one Counter per registered window, carrying
// remaining = max - value and expiresIn = ttl (§4.B).
func (vs *ValueSet) ToCounters(l *limit.Limit, bindings map[string]string, now time.Time) []Counter {
	out := make([]Counter, 0, len(vs.windows))
	for i, w := range vs.windows {
		c := New(l, w, bindings)
		v := vs.values[i].ValueAt(now)
		max := l.MaxValue()
		remaining := uint64(0)
		if max > v {
			remaining = max - v
		}
		c.SetRemaining(remaining)
		c.SetExpiresIn(vs.values[i].TTL(now))
		out = append(out, c)
	}
	return out
}
