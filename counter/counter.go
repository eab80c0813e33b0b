package counter

import (
	"time"

	"github.com/nsavage/ratelimitcore/limit"
)

// Counter is a derived (limit, bindings) pair with a time-windowed
// accumulator (§3). For a simple limit, bindings is empty. The Remaining
// and ExpiresIn fields are populated by the decision protocol and by
// GetCounters; they carry no identity (two counters are the same counter
// regardless of their current Remaining/ExpiresIn).
type Counter struct {
	limit      *limit.Limit
	window     time.Duration
	bindings   map[string]string
	remaining  uint64
	expiresIn  time.Duration
	hasResult  bool
}

// New projects values onto limit's declared variables and builds the bare
// Counter for a single window, to query or update that window. A
// ValueSet's ToCounters builds one Counter per registered window instead.
func New(l *limit.Limit, window time.Duration, values map[string]string) Counter {
	bindings := make(map[string]string, len(l.Variables()))
	for _, v := range l.Variables() {
		if val, ok := values[v]; ok {
			bindings[v] = val
		}
	}
	return Counter{limit: l, window: window, bindings: bindings}
}

func (c *Counter) Limit() *limit.Limit { return c.limit }
func (c *Counter) Window() time.Duration { return c.window }
func (c *Counter) MaxValue() uint64     { return c.limit.MaxValue() }
func (c *Counter) Bindings() map[string]string {
	out := make(map[string]string, len(c.bindings))
	for k, v := range c.bindings {
		out[k] = v
	}
	return out
}
func (c *Counter) Qualified() bool { return len(c.bindings) > 0 }

func (c *Counter) SetRemaining(v uint64)            { c.remaining = v; c.hasResult = true }
func (c *Counter) Remaining() uint64                { return c.remaining }
func (c *Counter) SetExpiresIn(d time.Duration)      { c.expiresIn = d; c.hasResult = true }
func (c *Counter) ExpiresIn() time.Duration          { return c.expiresIn }
func (c *Counter) HasResult() bool                   { return c.hasResult }

// Key is the canonical identity of the limit this counter belongs to
// (§3 "Limit key").
func (c *Counter) Key() string { return c.limit.Key() }
